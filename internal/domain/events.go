package domain

import "github.com/google/uuid"

// Outbound event names pushed to connected participants.
const (
	EventIncomingCall            = "incoming-call"
	EventRequestSubmitted        = "request-submitted"
	EventRequestCancelled        = "request-cancelled"
	EventRequestExpired          = "request-expired"
	EventInterpreterAccepted     = "interpreter-accepted"
	EventCallAccepted            = "call-accepted"
	EventWaitingForParticipant   = "waiting-for-participant"
	EventParticipantDisconnected = "participant-disconnected"
	EventSessionResumed          = "session-resumed"
	EventSessionEnded            = "session-ended"
)

// IncomingCall is broadcast to every eligible interpreter when a request is
// submitted. Any recipient may accept; the dispatcher arbitrates.
type IncomingCall struct {
	RequestID   uuid.UUID   `json:"requestId"`
	ClientName  string      `json:"clientName"`
	Language    string      `json:"language"`
	Urgency     Urgency     `json:"urgency"`
	SessionType SessionType `json:"sessionType"`
}

// RequestSubmitted acknowledges a client's request.
type RequestSubmitted struct {
	RequestID uuid.UUID `json:"requestId"`
}

// RequestDismissed dismisses an interpreter's incoming-call UI, or confirms a
// client-initiated cancel.
type RequestDismissed struct {
	RequestID uuid.UUID `json:"requestId"`
}

// RequestTimedOut tells the client nobody took the call in time.
type RequestTimedOut struct {
	RequestID uuid.UUID `json:"requestId"`
	Message   string    `json:"message"`
}

// InterpreterAccepted tells the client who took the call.
type InterpreterAccepted struct {
	SessionID       uuid.UUID `json:"sessionId"`
	InterpreterID   string    `json:"interpreterId"`
	InterpreterName string    `json:"interpreterName"`
	Language        string    `json:"language"`
}

// CallAccepted confirms the winning interpreter's accept with the session it
// created.
type CallAccepted struct {
	SessionID  uuid.UUID `json:"sessionId"`
	ClientID   string    `json:"clientId"`
	ClientName string    `json:"clientName"`
	Language   string    `json:"language"`
}

// WaitingForParticipant tells the still-connected side who went missing.
type WaitingForParticipant struct {
	SessionID          uuid.UUID `json:"sessionId"`
	MissingParticipant string    `json:"missingParticipant"`
	Message            string    `json:"message"`
}

// ParticipantDisconnected carries the reconnection deadline for the missing side.
type ParticipantDisconnected struct {
	SessionID             uuid.UUID `json:"sessionId"`
	DisconnectedUser      string    `json:"disconnectedUser"`
	ReconnectionTimeoutMs int64     `json:"reconnectionTimeoutMs"`
}

// SessionResumed is sent to both sides when a grace-period rejoin succeeds.
type SessionResumed struct {
	SessionID uuid.UUID `json:"sessionId"`
	Message   string    `json:"message"`
}

// SessionClosed is the terminal notification for a session.
type SessionClosed struct {
	SessionID uuid.UUID `json:"sessionId"`
	Reason    string    `json:"reason"`
}

// Notifier pushes an event to a participant's live connection, if any.
// Implemented by the websocket connection hub; delivery is best effort.
type Notifier interface {
	NotifyClient(clientID string, event string, payload any)
	NotifyInterpreter(interpreterID string, event string, payload any)
}
