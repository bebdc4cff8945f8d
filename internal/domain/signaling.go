package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SignalKind is the type of a relayed signaling message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalChat         SignalKind = "chat"
	SignalControl      SignalKind = "control"
)

// Queueable reports whether a message of this kind may be buffered for an
// absent counterpart. Stale WebRTC handshake traffic is useless, so only
// chat survives a gap.
func (k SignalKind) Queueable() bool {
	return k == SignalChat
}

// SignalingMessage is an opaque payload relayed between the two bound
// connections of a session. Ephemeral - never persisted.
type SignalingMessage struct {
	Kind       SignalKind      `json:"kind"`
	SessionID  uuid.UUID       `json:"session_id"`
	SenderRole Role            `json:"sender_role"`
	Payload    json.RawMessage `json:"payload"`
}
