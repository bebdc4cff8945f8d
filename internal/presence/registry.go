package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
)

// BusyChecker reports whether an interpreter is currently bound to a session
// in a state that forbids self-service status changes (active or grace wait).
// Implemented by the lifecycle manager.
type BusyChecker interface {
	InSession(interpreterID string) bool
}

// Registry tracks interpreter presence. All mutations go through the registry
// lock; connection-handling code never touches the store directly.
type Registry struct {
	mu    sync.Mutex
	store domain.PresenceStore
	clock clockwork.Clock
	busy  BusyChecker

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	sweepWg  sync.WaitGroup
}

// NewRegistry creates a registry and starts its heartbeat sweep loop.
// The busy checker is attached later via SetBusyChecker since the lifecycle
// manager is constructed after the registry.
func NewRegistry(store domain.PresenceStore, clock clockwork.Clock, heartbeatInterval, heartbeatTimeout time.Duration) *Registry {
	r := &Registry{
		store:             store,
		clock:             clock,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		stopCh:            make(chan struct{}),
	}

	r.sweepWg.Add(1)
	go r.sweepLoop()
	return r
}

// SetBusyChecker attaches the lifecycle manager. Must be called before
// traffic arrives.
func (r *Registry) SetBusyChecker(busy BusyChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = busy
}

// Stop terminates the sweep loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.sweepWg.Wait()
}

// Register creates or updates an interpreter's presence. Re-registering
// refreshes languages and status rather than duplicating the entry.
func (r *Registry) Register(ctx context.Context, id, name string, languages []string, status domain.InterpreterStatus) error {
	if id == "" {
		return errors.ValidationError("interpreterId is required")
	}
	if len(languages) == 0 {
		return errors.ValidationError("at least one language is required")
	}
	if !domain.ValidStatus(status) {
		return errors.ValidationError("unknown availability status").WithContext("status", string(status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := domain.InterpreterPresence{
		ID:        id,
		Name:      name,
		Languages: languages,
		Status:    status,
		LastSeen:  r.clock.Now(),
	}
	if err := r.store.Upsert(ctx, p); err != nil {
		return errors.InternalError("failed to store presence", err)
	}

	slog.Info("Interpreter registered", "interpreter_id", id, "status", string(status), "languages", languages)
	return nil
}

// Heartbeat refreshes an interpreter's liveness. An interpreter that was
// swept offline comes back available on its next heartbeat.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return errors.NotFoundError("interpreter not registered").WithContext("interpreter_id", id)
	}

	if err := r.store.Touch(ctx, id, r.clock.Now()); err != nil {
		return errors.InternalError("failed to refresh presence", err)
	}
	if p.Status == domain.StatusOffline {
		if err := r.store.SetStatus(ctx, id, domain.StatusAvailable); err != nil {
			return errors.InternalError("failed to refresh presence", err)
		}
	}
	return nil
}

// UpdateStatus changes an interpreter's availability. Rejected while the
// interpreter is bound to a live session, unless the target status is busy -
// nobody self-marks available mid-call.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status domain.InterpreterStatus) error {
	if !domain.ValidStatus(status) {
		return errors.ValidationError("unknown availability status").WithContext("status", string(status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, id); err != nil {
		return errors.NotFoundError("interpreter not registered").WithContext("interpreter_id", id)
	}

	if r.busy != nil && r.busy.InSession(id) && status != domain.StatusBusy {
		return errors.ConflictError("cannot change availability during an active session").
			WithContext("interpreter_id", id)
	}

	if err := r.store.SetStatus(ctx, id, status); err != nil {
		return errors.InternalError("failed to update status", err)
	}
	if err := r.store.Touch(ctx, id, r.clock.Now()); err != nil {
		return errors.InternalError("failed to update status", err)
	}

	slog.Info("Interpreter status updated", "interpreter_id", id, "status", string(status))
	return nil
}

// Get returns a single presence record.
func (r *Registry) Get(ctx context.Context, id string) (*domain.InterpreterPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, errors.NotFoundError("interpreter not registered").WithContext("interpreter_id", id)
	}
	return p, nil
}

// QueryEligible returns available interpreters supporting the language,
// idle-longest first, ties broken by id for determinism. Interpreters bound
// to a live session never appear, whatever their stored status says.
func (r *Registry) QueryEligible(ctx context.Context, language string, sessionType domain.SessionType) ([]domain.InterpreterPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.List(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to list presence", err)
	}

	eligible := make([]domain.InterpreterPresence, 0, len(all))
	for _, p := range all {
		if p.Status != domain.StatusAvailable {
			continue
		}
		if !p.Supports(language) {
			continue
		}
		if r.busy != nil && r.busy.InSession(p.ID) {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].LastSeen.Equal(eligible[j].LastSeen) {
			return eligible[i].LastSeen.Before(eligible[j].LastSeen)
		}
		return eligible[i].ID < eligible[j].ID
	})

	return eligible, nil
}

// MarkBusy flags an interpreter as in-call. Called by the dispatcher when an
// accept wins arbitration.
func (r *Registry) MarkBusy(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.SetStatus(ctx, id, domain.StatusBusy)
}

// MarkAvailable returns an interpreter to the eligible pool after a session
// ends. Only a busy interpreter flips back; break/offline are left alone.
func (r *Registry) MarkAvailable(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil // went away mid-session, nothing to restore
	}
	if p.Status != domain.StatusBusy {
		return nil
	}
	return r.store.SetStatus(ctx, id, domain.StatusAvailable)
}

// MarkDisconnected flips an interpreter offline when its socket drops outside
// a session. History is retained.
func (r *Registry) MarkDisconnected(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, id); err != nil {
		return
	}
	if err := r.store.SetStatus(ctx, id, domain.StatusOffline); err != nil {
		slog.Warn("Failed to mark interpreter offline", "interpreter_id", id, "error", err)
	}
}

func (r *Registry) sweepLoop() {
	defer r.sweepWg.Done()

	ticker := r.clock.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

// sweep flips interpreters offline after heartbeatTimeout without a renewal.
// Entries are kept so history survives; they just leave eligibility.
func (r *Registry) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), r.heartbeatInterval)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.List(ctx)
	if err != nil {
		slog.Warn("Heartbeat sweep failed to list presence", "error", err)
		return
	}

	cutoff := r.clock.Now().Add(-r.heartbeatTimeout)
	counts := map[domain.InterpreterStatus]float64{}

	for _, p := range all {
		if p.Status != domain.StatusOffline && p.LastSeen.Before(cutoff) {
			if err := r.store.SetStatus(ctx, p.ID, domain.StatusOffline); err != nil {
				slog.Warn("Failed to expire interpreter", "interpreter_id", p.ID, "error", err)
				continue
			}
			metrics.HeartbeatExpirationsTotal.Inc()
			slog.Info("Interpreter heartbeat expired", "interpreter_id", p.ID)
			p.Status = domain.StatusOffline
		}
		counts[p.Status]++
	}

	for _, status := range []domain.InterpreterStatus{domain.StatusAvailable, domain.StatusBusy, domain.StatusBreak, domain.StatusOffline} {
		metrics.InterpretersOnline.WithLabelValues(string(status)).Set(counts[status])
	}
}
