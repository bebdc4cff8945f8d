package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
)

// outboundEnvelope is the frame shape for server-originated events.
type outboundEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ConnHub tracks the live websocket per participant and routes outbound
// events to it. Implements domain.Notifier. A participant has at most one
// live socket per role; a newer socket replaces the older one.
type ConnHub struct {
	mu           sync.Mutex
	clients      map[string]*connWriter
	interpreters map[string]*connWriter
}

// NewConnHub creates an empty connection hub.
func NewConnHub() *ConnHub {
	return &ConnHub{
		clients:      make(map[string]*connWriter),
		interpreters: make(map[string]*connWriter),
	}
}

func (h *ConnHub) table(role domain.Role) map[string]*connWriter {
	if role == domain.RoleClient {
		return h.clients
	}
	return h.interpreters
}

// Register binds a participant's socket. An existing socket for the same
// participant is closed first - the newest connection wins.
func (h *ConnHub) Register(role domain.Role, participantID string, cw *connWriter) {
	h.mu.Lock()
	table := h.table(role)
	old := table[participantID]
	table[participantID] = cw
	metrics.WebSocketConnections.WithLabelValues(string(role)).Set(float64(len(table)))
	h.mu.Unlock()

	if old != nil {
		old.stopGraceful("replaced by a newer connection")
	}
}

// Unregister removes a participant's socket, but only if it is still the one
// being unregistered - a reconnect may already have replaced it.
func (h *ConnHub) Unregister(role domain.Role, participantID string, cw *connWriter) {
	h.mu.Lock()
	table := h.table(role)
	if current, ok := table[participantID]; ok && current.ID() == cw.ID() {
		delete(table, participantID)
	}
	metrics.WebSocketConnections.WithLabelValues(string(role)).Set(float64(len(table)))
	h.mu.Unlock()
}

// Sink returns the live writer for a participant, if any.
func (h *ConnHub) Sink(role domain.Role, participantID string) (*connWriter, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cw, ok := h.table(role)[participantID]
	return cw, ok
}

// NotifyClient implements domain.Notifier.
func (h *ConnHub) NotifyClient(clientID string, event string, payload any) {
	h.notify(domain.RoleClient, clientID, event, payload)
}

// NotifyInterpreter implements domain.Notifier.
func (h *ConnHub) NotifyInterpreter(interpreterID string, event string, payload any) {
	h.notify(domain.RoleInterpreter, interpreterID, event, payload)
}

func (h *ConnHub) notify(role domain.Role, participantID string, event string, payload any) {
	cw, ok := h.Sink(role, participantID)
	if !ok {
		return // participant has no live socket; delivery is best effort
	}

	data, err := json.Marshal(outboundEnvelope{Type: event, Payload: payload})
	if err != nil {
		slog.Error("Failed to marshal outbound event", "event", event, "error", err)
		return
	}
	if !cw.Send(data) {
		slog.Warn("Dropped outbound event for slow connection",
			"event", event, "role", string(role), "participant_id", participantID)
	}
}

// Stop closes every tracked connection.
func (h *ConnHub) Stop() {
	h.mu.Lock()
	writers := make([]*connWriter, 0, len(h.clients)+len(h.interpreters))
	for _, cw := range h.clients {
		writers = append(writers, cw)
	}
	for _, cw := range h.interpreters {
		writers = append(writers, cw)
	}
	h.clients = make(map[string]*connWriter)
	h.interpreters = make(map[string]*connWriter)
	h.mu.Unlock()

	for _, cw := range writers {
		cw.stopGraceful("server shutting down")
	}
}
