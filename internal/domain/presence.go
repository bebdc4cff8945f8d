package domain

import (
	"context"
	"time"
)

// InterpreterStatus is the global availability state of an interpreter.
type InterpreterStatus string

const (
	StatusAvailable InterpreterStatus = "available"
	StatusBusy      InterpreterStatus = "busy"
	StatusBreak     InterpreterStatus = "break"
	StatusOffline   InterpreterStatus = "offline"
)

// ValidStatus reports whether s is one of the known interpreter statuses.
func ValidStatus(s InterpreterStatus) bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusBreak, StatusOffline:
		return true
	}
	return false
}

// InterpreterPresence is one interpreter's live availability record.
// Entries are never deleted on heartbeat timeout - they flip to offline so
// history survives a flaky connection.
type InterpreterPresence struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Languages []string          `json:"languages"`
	Status    InterpreterStatus `json:"status"`
	LastSeen  time.Time         `json:"last_seen"`
}

// Supports reports whether the interpreter covers the given language.
func (p *InterpreterPresence) Supports(language string) bool {
	for _, l := range p.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// PresenceStore is the persistence contract for interpreter presence records.
// Implementations: in-memory (single instance) and Redis (shared across instances).
type PresenceStore interface {
	Upsert(ctx context.Context, p InterpreterPresence) error
	Get(ctx context.Context, id string) (*InterpreterPresence, error)
	List(ctx context.Context) ([]InterpreterPresence, error)
	SetStatus(ctx context.Context, id string, status InterpreterStatus) error
	Touch(ctx context.Context, id string, seen time.Time) error
}
