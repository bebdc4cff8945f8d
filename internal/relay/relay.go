package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	chatBacklogSize = 32
	commandBuffer   = 256

	// Chat flood control per connection. Signaling is never rate limited;
	// ICE negotiation is bursty by nature.
	chatRatePerSecond = 5
	chatBurst         = 10
)

// Sink is one participant's outbound channel. Send must not block; it
// reports false when the connection's buffer is full. ID distinguishes
// physical connections so a duplicate bind of the same socket stays
// idempotent while a second socket gets a conflict.
type Sink interface {
	Send(data []byte) bool
	ID() string
}

// Events is the lifecycle manager surface the relay reports into.
type Events interface {
	AuthorizeJoin(sessionID uuid.UUID, role domain.Role) error
	ParticipantJoined(sessionID uuid.UUID, role domain.Role)
	ParticipantLeft(sessionID uuid.UUID, role domain.Role, reason string)
}

// wireEnvelope is the frame forwarded to the counterpart connection.
type wireEnvelope struct {
	Type      string          `json:"type"`
	SessionID uuid.UUID       `json:"sessionId"`
	From      domain.Role     `json:"from"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wireType maps a signal kind to the frame type the UIs listen for.
func wireType(kind domain.SignalKind) string {
	switch kind {
	case domain.SignalOffer:
		return "webrtc-offer"
	case domain.SignalAnswer:
		return "webrtc-answer"
	case domain.SignalICECandidate:
		return "webrtc-ice-candidate"
	case domain.SignalChat:
		return "chat-message"
	default:
		return "control"
	}
}

// --- Command types ---

type relayCmd interface{ relayCmd() }

type cmdJoin struct {
	sessionID uuid.UUID
	role      domain.Role
	sink      Sink
	errCh     chan error
}

func (cmdJoin) relayCmd() {}

type cmdRelay struct {
	msg   domain.SignalingMessage
	errCh chan error
}

func (cmdRelay) relayCmd() {}

type cmdLeave struct {
	sessionID uuid.UUID
	role      domain.Role
	reason    string
}

func (cmdLeave) relayCmd() {}

type cmdForget struct {
	sessionID uuid.UUID
}

func (cmdForget) relayCmd() {}

type cmdStop struct{}

func (cmdStop) relayCmd() {}

// --- Relay ---

type slot struct {
	sink           Sink
	connected      bool
	disconnectedAt time.Time
	chatLimiter    *rate.Limiter
}

type binding struct {
	slots   map[domain.Role]*slot
	backlog map[domain.Role][][]byte // queued frames per destination role
}

// Relay forwards signaling frames between the two bound connections of a
// session.
type Relay struct {
	cmdCh     chan relayCmd
	bindings  map[uuid.UUID]*binding
	lifecycle Events
	clock     clockwork.Clock
}

// NewRelay creates a relay and starts its command loop.
func NewRelay(lifecycle Events, clock clockwork.Clock) *Relay {
	r := &Relay{
		cmdCh:     make(chan relayCmd, commandBuffer),
		bindings:  make(map[uuid.UUID]*binding),
		lifecycle: lifecycle,
		clock:     clock,
	}
	go r.run()
	return r
}

func (r *Relay) run() {
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case cmdJoin:
			c.errCh <- r.handleJoin(c)
		case cmdRelay:
			c.errCh <- r.handleRelay(c.msg)
		case cmdLeave:
			r.handleLeave(c)
		case cmdForget:
			delete(r.bindings, c.sessionID)
		case cmdStop:
			return
		}
	}
}

func (r *Relay) handleJoin(c cmdJoin) error {
	if err := r.lifecycle.AuthorizeJoin(c.sessionID, c.role); err != nil {
		return err
	}

	b, ok := r.bindings[c.sessionID]
	if !ok {
		b = &binding{
			slots:   make(map[domain.Role]*slot),
			backlog: make(map[domain.Role][][]byte),
		}
		r.bindings[c.sessionID] = b
	}

	if existing, ok := b.slots[c.role]; ok && existing.connected {
		if existing.sink.ID() == c.sink.ID() {
			return nil // same physical connection, idempotent
		}
		return errors.ConflictError("role already bound to a live connection").
			WithContext("session_id", c.sessionID.String()).
			WithContext("role", string(c.role))
	}

	b.slots[c.role] = &slot{
		sink:        c.sink,
		connected:   true,
		chatLimiter: rate.NewLimiter(rate.Limit(chatRatePerSecond), chatBurst),
	}

	r.flushBacklog(c.sessionID, b, c.role)
	slog.Info("Relay slot bound", "session_id", c.sessionID.String(), "role", string(c.role))

	r.lifecycle.ParticipantJoined(c.sessionID, c.role)
	return nil
}

func (r *Relay) handleRelay(msg domain.SignalingMessage) error {
	b, ok := r.bindings[msg.SessionID]
	if !ok {
		return errors.NotFoundError("session not found").WithContext("session_id", msg.SessionID.String())
	}

	from, ok := b.slots[msg.SenderRole]
	if !ok || !from.connected {
		return errors.ConflictError("sender is not bound to this session").
			WithContext("session_id", msg.SessionID.String())
	}

	if msg.Kind == domain.SignalChat && !from.chatLimiter.Allow() {
		metrics.SignalsDroppedTotal.WithLabelValues(string(msg.Kind), "rate_limited").Inc()
		return errors.ValidationError("chat rate limit exceeded")
	}

	data, err := json.Marshal(wireEnvelope{
		Type:      wireType(msg.Kind),
		SessionID: msg.SessionID,
		From:      msg.SenderRole,
		Payload:   msg.Payload,
	})
	if err != nil {
		return errors.InternalError("failed to encode signaling frame", err)
	}

	dest := msg.SenderRole.Counterpart()
	target, ok := b.slots[dest]
	if !ok || !target.connected {
		if msg.Kind.Queueable() {
			r.enqueueBacklog(b, dest, data, msg.Kind)
			return nil
		}
		metrics.SignalsDroppedTotal.WithLabelValues(string(msg.Kind), "absent").Inc()
		return nil // stale handshake traffic is dropped, not an error
	}

	if !target.sink.Send(data) {
		metrics.SignalsDroppedTotal.WithLabelValues(string(msg.Kind), "backpressure").Inc()
		return errors.TransportError("counterpart connection is saturated", nil).
			WithContext("session_id", msg.SessionID.String())
	}

	metrics.SignalsRelayedTotal.WithLabelValues(string(msg.Kind)).Inc()
	return nil
}

func (r *Relay) enqueueBacklog(b *binding, dest domain.Role, data []byte, kind domain.SignalKind) {
	queue := b.backlog[dest]
	if len(queue) >= chatBacklogSize {
		queue = queue[1:] // oldest first out
		metrics.SignalsDroppedTotal.WithLabelValues(string(kind), "backlog").Inc()
	}
	b.backlog[dest] = append(queue, data)
}

func (r *Relay) flushBacklog(sessionID uuid.UUID, b *binding, role domain.Role) {
	queue := b.backlog[role]
	if len(queue) == 0 {
		return
	}
	delete(b.backlog, role)

	target := b.slots[role]
	for _, data := range queue {
		if !target.sink.Send(data) {
			break
		}
		metrics.ChatBacklogFlushedTotal.Inc()
	}
	slog.Info("Flushed chat backlog", "session_id", sessionID.String(),
		"role", string(role), "messages", len(queue))
}

func (r *Relay) handleLeave(c cmdLeave) {
	b, ok := r.bindings[c.sessionID]
	if !ok {
		return
	}
	s, ok := b.slots[c.role]
	if !ok || !s.connected {
		return
	}

	s.connected = false
	s.disconnectedAt = r.clock.Now()
	slog.Info("Relay slot disconnected", "session_id", c.sessionID.String(),
		"role", string(c.role), "reason", c.reason)

	// Grace-or-end is the lifecycle manager's call, never the relay's.
	r.lifecycle.ParticipantLeft(c.sessionID, c.role, c.reason)
}

// --- Public API ---

// Join binds a connection to a role slot.
func (r *Relay) Join(sessionID uuid.UUID, role domain.Role, sink Sink) error {
	errCh := make(chan error, 1)
	r.cmdCh <- cmdJoin{sessionID: sessionID, role: role, sink: sink, errCh: errCh}
	return <-errCh
}

// Relay forwards a signaling message to the counterpart role.
func (r *Relay) Relay(msg domain.SignalingMessage) error {
	errCh := make(chan error, 1)
	r.cmdCh <- cmdRelay{msg: msg, errCh: errCh}
	return <-errCh
}

// Leave marks a role's connection disconnected. The session itself survives;
// the lifecycle manager decides between grace wait and teardown.
func (r *Relay) Leave(sessionID uuid.UUID, role domain.Role, reason string) {
	r.cmdCh <- cmdLeave{sessionID: sessionID, role: role, reason: reason}
}

// Forget drops a session's slots and backlog. Called by the lifecycle
// manager on terminal transitions; must not block even when invoked from a
// callback running on the relay's own goroutine.
func (r *Relay) Forget(sessionID uuid.UUID) {
	cmd := cmdForget{sessionID: sessionID}
	select {
	case r.cmdCh <- cmd:
	default:
		go func() { r.cmdCh <- cmd }()
	}
}

// Stop terminates the command loop.
func (r *Relay) Stop() {
	r.cmdCh <- cmdStop{}
}
