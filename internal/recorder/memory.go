package recorder

import (
	"context"
	"sync"

	"github.com/machioali/LanguageHelp-sub000/internal/domain"
)

// MemoryRecorder keeps finalize events in memory. Used by tests and by
// deployments without a database.
type MemoryRecorder struct {
	mu        sync.Mutex
	completed []domain.CompletedSession
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) RecordCompletedSession(_ context.Context, rec domain.CompletedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, rec)
	return nil
}

// Completed returns a copy of everything recorded so far.
func (r *MemoryRecorder) Completed() []domain.CompletedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CompletedSession(nil), r.completed...)
}
