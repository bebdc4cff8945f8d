package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a session a participant is on.
type Role string

const (
	RoleClient      Role = "client"
	RoleInterpreter Role = "interpreter"
)

// Counterpart returns the other role of a two-party session.
func (r Role) Counterpart() Role {
	if r == RoleClient {
		return RoleInterpreter
	}
	return RoleClient
}

// SessionState is the lifecycle state of a session. States advance
// monotonically except for the bounded active/grace reconnect cycle.
type SessionState string

const (
	SessionMatched      SessionState = "matched"
	SessionEstablishing SessionState = "establishing"
	SessionActive       SessionState = "active"
	SessionGraceWait    SessionState = "grace_wait"
	SessionEnded        SessionState = "ended"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionEnded
}

// Session is a paired client/interpreter call. Created atomically when a
// CallRequest is accepted; destroyed on the ended transition.
type Session struct {
	ID              uuid.UUID    `json:"id"`
	RequestID       uuid.UUID    `json:"request_id"`
	ClientID        string       `json:"client_id"`
	ClientName      string       `json:"client_name"`
	InterpreterID   string       `json:"interpreter_id"`
	InterpreterName string       `json:"interpreter_name"`
	Language        string       `json:"language"`
	SessionType     SessionType  `json:"session_type"`
	State           SessionState `json:"state"`
	StartedAt       time.Time    `json:"started_at"`
	GraceDeadline   *time.Time   `json:"grace_deadline,omitempty"`
	ReconnectCycles int          `json:"reconnect_cycles"`
}

// End reasons attached to session-ended notifications and finalize events.
const (
	EndReasonPeerEnded      = "peer-ended"
	EndReasonTimeout        = "timeout"
	EndReasonReconnectLimit = "reconnect-limit"
)

// CompletedSession is the finalize event handed to the persistence
// collaborator, exactly once per session.
type CompletedSession struct {
	SessionID       uuid.UUID   `json:"session_id"`
	ClientID        string      `json:"client_id"`
	InterpreterID   string      `json:"interpreter_id"`
	Language        string      `json:"language"`
	SessionType     SessionType `json:"session_type"`
	DurationSeconds int64       `json:"duration_seconds"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
}

// SessionRecorder is the persistence collaborator contract. The core never
// persists anything else about a session.
type SessionRecorder interface {
	RecordCompletedSession(ctx context.Context, rec CompletedSession) error
}
