package domain

import (
	"time"

	"github.com/google/uuid"
)

// Urgency is the client-declared priority of a call request.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ValidUrgency reports whether u is a known urgency level.
func ValidUrgency(u Urgency) bool {
	return u == UrgencyLow || u == UrgencyNormal || u == UrgencyHigh
}

// SessionType distinguishes video remote interpretation from over-the-phone.
type SessionType string

const (
	SessionTypeVRI SessionType = "VRI"
	SessionTypeOPI SessionType = "OPI"
)

// ValidSessionType reports whether st is a known session type.
func ValidSessionType(st SessionType) bool {
	return st == SessionTypeVRI || st == SessionTypeOPI
}

// RequestState is the lifecycle state of a call request. A request leaves
// pending exactly once and is immutable afterwards.
type RequestState string

const (
	RequestPending   RequestState = "pending"
	RequestAccepted  RequestState = "accepted"
	RequestCancelled RequestState = "cancelled"
	RequestExpired   RequestState = "expired"
)

// CallRequest is a client's ask for a live interpreter.
type CallRequest struct {
	ID          uuid.UUID    `json:"id"`
	ClientID    string       `json:"client_id"`
	ClientName  string       `json:"client_name"`
	Language    string       `json:"language"`
	Urgency     Urgency      `json:"urgency"`
	SessionType SessionType  `json:"session_type"`
	CreatedAt   time.Time    `json:"created_at"`
	State       RequestState `json:"state"`
}
