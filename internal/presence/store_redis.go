package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// Redis hash field names for presence keys.
	fieldName      = "name"
	fieldLanguages = "languages"
	fieldStatus    = "status"
	fieldLastSeen  = "last_seen"

	interpreterSetKey = "presence:interpreters"
)

func presenceKey(id string) string {
	return fmt.Sprintf("presence:interpreter:%s", id)
}

// RedisStore shares interpreter presence across instances through Redis.
// One hash per interpreter plus a set of known ids for listing.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedisStore creates a presence store from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisStore{rdb: goredis.NewClient(opts)}, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Upsert(ctx context.Context, p domain.InterpreterPresence) error {
	languagesJSON, err := json.Marshal(p.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, presenceKey(p.ID), map[string]any{
		fieldName:      p.Name,
		fieldLanguages: string(languagesJSON),
		fieldStatus:    string(p.Status),
		fieldLastSeen:  strconv.FormatInt(p.LastSeen.UnixMilli(), 10),
	})
	pipe.SAdd(ctx, interpreterSetKey, p.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.InterpreterPresence, error) {
	fields, err := s.rdb.HGetAll(ctx, presenceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPresenceNotFound
	}
	return decodePresence(id, fields)
}

func (s *RedisStore) List(ctx context.Context) ([]domain.InterpreterPresence, error) {
	ids, err := s.rdb.SMembers(ctx, interpreterSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list interpreters: %w", err)
	}

	out := make([]domain.InterpreterPresence, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrPresenceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, id string, status domain.InterpreterStatus) error {
	n, err := s.rdb.Exists(ctx, presenceKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check presence: %w", err)
	}
	if n == 0 {
		return domain.ErrPresenceNotFound
	}
	return s.rdb.HSet(ctx, presenceKey(id), fieldStatus, string(status)).Err()
}

func (s *RedisStore) Touch(ctx context.Context, id string, seen time.Time) error {
	n, err := s.rdb.Exists(ctx, presenceKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check presence: %w", err)
	}
	if n == 0 {
		return domain.ErrPresenceNotFound
	}
	return s.rdb.HSet(ctx, presenceKey(id), fieldLastSeen, strconv.FormatInt(seen.UnixMilli(), 10)).Err()
}

func decodePresence(id string, fields map[string]string) (*domain.InterpreterPresence, error) {
	var languages []string
	if raw := fields[fieldLanguages]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &languages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
		}
	}

	millis, err := strconv.ParseInt(fields[fieldLastSeen], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}

	return &domain.InterpreterPresence{
		ID:        id,
		Name:      fields[fieldName],
		Languages: languages,
		Status:    domain.InterpreterStatus(fields[fieldStatus]),
		LastSeen:  time.UnixMilli(millis),
	}, nil
}
