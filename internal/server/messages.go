package server

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
)

// inboundEnvelope is the frame shape both UIs send. SessionID rides on the
// envelope for signaling frames; everything else lives in the payload.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	SessionID uuid.UUID       `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types from the client-facing UI.
const (
	msgRequestInterpreter = "request-interpreter"
	msgCancelRequest      = "cancel-request"
	msgWebRTCOffer        = "webrtc-offer"
	msgWebRTCAnswer       = "webrtc-answer"
	msgWebRTCICECandidate = "webrtc-ice-candidate"
	msgChat               = "chat-message"
	msgConferenceJoined   = "conference-joined"
	msgEndSession         = "end-session"
)

// Inbound frame types from the interpreter-facing UI.
const (
	msgRegisterInterpreter = "register-interpreter"
	msgUpdateAvailability  = "update-availability"
	msgHeartbeat           = "heartbeat"
	msgAcceptCall          = "accept-call"
	msgDeclineCall         = "decline-call"
)

type requestInterpreterPayload struct {
	ClientName  string             `json:"clientName"`
	Language    string             `json:"language"`
	Urgency     domain.Urgency     `json:"urgency"`
	SessionType domain.SessionType `json:"sessionType"`
}

type registerInterpreterPayload struct {
	Name      string                   `json:"name"`
	Languages []string                 `json:"languages"`
	Status    domain.InterpreterStatus `json:"status"`
}

type updateAvailabilityPayload struct {
	Status domain.InterpreterStatus `json:"status"`
}

type acceptCallPayload struct {
	RequestID uuid.UUID `json:"requestId"`
}

type declineCallPayload struct {
	RequestID uuid.UUID `json:"requestId"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// signalKindFor maps inbound signaling frame types to relay kinds.
func signalKindFor(msgType string) (domain.SignalKind, bool) {
	switch msgType {
	case msgWebRTCOffer:
		return domain.SignalOffer, true
	case msgWebRTCAnswer:
		return domain.SignalAnswer, true
	case msgWebRTCICECandidate:
		return domain.SignalICECandidate, true
	case msgChat:
		return domain.SignalChat, true
	default:
		return "", false
	}
}
