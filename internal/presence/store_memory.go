package presence

import (
	"context"
	"sync"
	"time"

	"github.com/machioali/LanguageHelp-sub000/internal/domain"
)

// MemoryStore is the in-process presence store. Default for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.InterpreterPresence
}

// NewMemoryStore creates an empty in-memory presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.InterpreterPresence)}
}

func (s *MemoryStore) Upsert(_ context.Context, p domain.InterpreterPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Languages = append([]string(nil), p.Languages...)
	s.entries[p.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.InterpreterPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrPresenceNotFound
	}
	cp := p
	cp.Languages = append([]string(nil), p.Languages...)
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.InterpreterPresence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InterpreterPresence, 0, len(s.entries))
	for _, p := range s.entries {
		cp := p
		cp.Languages = append([]string(nil), p.Languages...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status domain.InterpreterStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	if !ok {
		return domain.ErrPresenceNotFound
	}
	p.Status = status
	s.entries[id] = p
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	if !ok {
		return domain.ErrPresenceNotFound
	}
	p.LastSeen = seen
	s.entries[id] = p
	return nil
}
