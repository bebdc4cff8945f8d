package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
)

const recordTimeout = 10 * time.Second

// SessionBinder is the relay's unbind hook. The manager tells it to forget a
// session once the session is terminal.
type SessionBinder interface {
	Forget(sessionID uuid.UUID)
}

// AvailabilityMarker returns an interpreter to the eligible pool.
// Implemented by the presence registry.
type AvailabilityMarker interface {
	MarkAvailable(ctx context.Context, interpreterID string) error
}

// sessionRecord is the manager's private view of one session.
type sessionRecord struct {
	s         domain.Session
	joined    map[domain.Role]bool
	connected map[domain.Role]bool
	ready     map[domain.Role]bool

	graceTimer  clockwork.Timer
	graceGen    int
	missingRole domain.Role

	finalized bool
}

// Manager owns the session table and drives every state transition.
type Manager struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*sessionRecord
	byInterpreter map[string]uuid.UUID
	byClient      map[string]uuid.UUID

	clock        clockwork.Clock
	notifier     domain.Notifier
	recorder     domain.SessionRecorder
	availability AvailabilityMarker
	binder       SessionBinder

	gracePeriod        time.Duration
	maxReconnectCycles int
}

// NewManager creates a session lifecycle manager.
func NewManager(clock clockwork.Clock, notifier domain.Notifier, recorder domain.SessionRecorder, availability AvailabilityMarker, gracePeriod time.Duration, maxReconnectCycles int) *Manager {
	return &Manager{
		sessions:           make(map[uuid.UUID]*sessionRecord),
		byInterpreter:      make(map[string]uuid.UUID),
		byClient:           make(map[string]uuid.UUID),
		clock:              clock,
		notifier:           notifier,
		recorder:           recorder,
		availability:       availability,
		gracePeriod:        gracePeriod,
		maxReconnectCycles: maxReconnectCycles,
	}
}

// SetBinder attaches the relay. Must be called before traffic arrives; the
// relay is constructed after the manager.
func (m *Manager) SetBinder(binder SessionBinder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binder = binder
}

// Create builds a session from an accepted request. The session starts in
// the matched state; the clock starts ticking immediately, so time spent
// establishing and in grace wait counts toward the recorded duration.
func (m *Manager) Create(req *domain.CallRequest, interpreterID, interpreterName string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byInterpreter[interpreterID]; ok {
		return nil, errors.ConflictError("interpreter already in a session").
			WithContext("session_id", existing.String())
	}

	sess := domain.Session{
		ID:              uuid.New(),
		RequestID:       req.ID,
		ClientID:        req.ClientID,
		ClientName:      req.ClientName,
		InterpreterID:   interpreterID,
		InterpreterName: interpreterName,
		Language:        req.Language,
		SessionType:     req.SessionType,
		State:           domain.SessionMatched,
		StartedAt:       m.clock.Now(),
	}

	m.sessions[sess.ID] = &sessionRecord{
		s:         sess,
		joined:    make(map[domain.Role]bool),
		connected: make(map[domain.Role]bool),
		ready:     make(map[domain.Role]bool),
	}
	m.byInterpreter[interpreterID] = sess.ID
	m.byClient[req.ClientID] = sess.ID

	metrics.ActiveSessions.Inc()
	slog.Info("Session created", "session_id", sess.ID.String(), "request_id", req.ID.String(),
		"client_id", req.ClientID, "interpreter_id", interpreterID, "language", req.Language)

	return &sess, nil
}

// AuthorizeJoin gates relay binds. A join for an unknown or ended session is
// rejected as not found - there is nothing left to rejoin.
func (m *Manager) AuthorizeJoin(sessionID uuid.UUID, _ domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || rec.s.State.Terminal() {
		return errors.NotFoundError("session not found").WithContext("session_id", sessionID.String())
	}
	return nil
}

// ParticipantJoined records a successful relay bind. First joins advance
// matched -> establishing; a rejoin of the missing role resumes a session
// parked in grace wait.
func (m *Manager) ParticipantJoined(sessionID uuid.UUID, role domain.Role) {
	m.mu.Lock()
	after := m.participantJoinedLocked(sessionID, role)
	m.mu.Unlock()
	runAll(after)
}

func (m *Manager) participantJoinedLocked(sessionID uuid.UUID, role domain.Role) []func() {
	rec, ok := m.sessions[sessionID]
	if !ok || rec.s.State.Terminal() {
		return nil
	}

	rec.joined[role] = true
	rec.connected[role] = true

	switch rec.s.State {
	case domain.SessionMatched:
		if rec.joined[domain.RoleClient] && rec.joined[domain.RoleInterpreter] {
			rec.s.State = domain.SessionEstablishing
			slog.Info("Session establishing", "session_id", sessionID.String())
		}
		return nil

	case domain.SessionGraceWait:
		if role != rec.missingRole {
			return nil
		}
		return m.resumeLocked(rec)

	default:
		return nil
	}
}

// resumeLocked handles a grace-period rejoin of the missing role.
func (m *Manager) resumeLocked(rec *sessionRecord) []func() {
	rec.s.ReconnectCycles++
	if rec.s.ReconnectCycles > m.maxReconnectCycles {
		slog.Warn("Reconnect cycle limit exceeded, ending session",
			"session_id", rec.s.ID.String(), "cycles", rec.s.ReconnectCycles)
		return m.endLocked(rec, domain.EndReasonReconnectLimit, bothRoles())
	}

	m.cancelGraceLocked(rec)

	// The other side may have dropped while we waited. Park again for them.
	other := rec.missingRole.Counterpart()
	if !rec.connected[other] {
		return m.enterGraceLocked(rec, other)
	}

	rec.s.State = domain.SessionActive
	rec.s.GraceDeadline = nil
	metrics.SessionsResumedTotal.Inc()
	slog.Info("Session resumed", "session_id", rec.s.ID.String(), "cycles", rec.s.ReconnectCycles)

	resumed := domain.SessionResumed{
		SessionID: rec.s.ID,
		Message:   "Both participants reconnected. Session resumed.",
	}
	s := rec.s
	return []func(){func() {
		m.notifier.NotifyClient(s.ClientID, domain.EventSessionResumed, resumed)
		m.notifier.NotifyInterpreter(s.InterpreterID, domain.EventSessionResumed, resumed)
	}}
}

// ConfirmReady records a conference-joined acknowledgment - actual media
// readiness, not merely a relay bind. Both acks move the session to active.
func (m *Manager) ConfirmReady(sessionID uuid.UUID, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok || rec.s.State != domain.SessionEstablishing {
		return
	}

	rec.ready[role] = true
	if rec.ready[domain.RoleClient] && rec.ready[domain.RoleInterpreter] {
		rec.s.State = domain.SessionActive
		slog.Info("Session active", "session_id", sessionID.String())
	}
}

// ParticipantLeft parks the session in grace wait instead of ending it.
// Duplicate leaves for the same role are no-ops.
func (m *Manager) ParticipantLeft(sessionID uuid.UUID, role domain.Role, reason string) {
	m.mu.Lock()
	after := m.participantLeftLocked(sessionID, role, reason)
	m.mu.Unlock()
	runAll(after)
}

func (m *Manager) participantLeftLocked(sessionID uuid.UUID, role domain.Role, reason string) []func() {
	rec, ok := m.sessions[sessionID]
	if !ok || rec.s.State.Terminal() {
		return nil
	}

	rec.connected[role] = false

	switch rec.s.State {
	case domain.SessionMatched, domain.SessionEstablishing, domain.SessionActive:
		slog.Info("Participant disconnected", "session_id", sessionID.String(),
			"role", string(role), "reason", reason)
		return m.enterGraceLocked(rec, role)

	case domain.SessionGraceWait:
		// Second role dropping while already parked. The original grace
		// timer keeps running; either side may still come back.
		return nil

	default:
		return nil
	}
}

// enterGraceLocked arms the grace timer for a missing role and notifies the
// still-connected side.
func (m *Manager) enterGraceLocked(rec *sessionRecord, missing domain.Role) []func() {
	rec.s.State = domain.SessionGraceWait
	rec.missingRole = missing

	deadline := m.clock.Now().Add(m.gracePeriod)
	rec.s.GraceDeadline = &deadline

	rec.graceGen++
	gen := rec.graceGen
	sessionID := rec.s.ID
	rec.graceTimer = m.clock.AfterFunc(m.gracePeriod, func() {
		m.graceExpired(sessionID, gen)
	})

	s := rec.s
	timeoutMs := m.gracePeriod.Milliseconds()
	missingName := s.ClientName
	if missing == domain.RoleInterpreter {
		missingName = s.InterpreterName
	}

	waiting := domain.WaitingForParticipant{
		SessionID:          s.ID,
		MissingParticipant: string(missing),
		Message:            fmt.Sprintf("%s disconnected. Waiting %ds for reconnection.", missingName, timeoutMs/1000),
	}
	disconnected := domain.ParticipantDisconnected{
		SessionID:             s.ID,
		DisconnectedUser:      string(missing),
		ReconnectionTimeoutMs: timeoutMs,
	}

	notifyRemaining := func() {
		if missing == domain.RoleInterpreter {
			m.notifier.NotifyClient(s.ClientID, domain.EventParticipantDisconnected, disconnected)
			m.notifier.NotifyClient(s.ClientID, domain.EventWaitingForParticipant, waiting)
		} else {
			m.notifier.NotifyInterpreter(s.InterpreterID, domain.EventParticipantDisconnected, disconnected)
			m.notifier.NotifyInterpreter(s.InterpreterID, domain.EventWaitingForParticipant, waiting)
		}
	}
	return []func(){notifyRemaining}
}

// graceExpired is the grace timer callback. The generation guard makes a
// timer that raced a resume or an explicit end fire at most once, harmlessly.
func (m *Manager) graceExpired(sessionID uuid.UUID, gen int) {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.s.State != domain.SessionGraceWait || rec.graceGen != gen {
		m.mu.Unlock()
		return
	}

	metrics.GraceTimeoutsTotal.Inc()
	slog.Info("Grace window expired", "session_id", sessionID.String(),
		"missing_role", string(rec.missingRole))

	after := m.endLocked(rec, domain.EndReasonTimeout, connectedRoles(rec))
	m.mu.Unlock()
	runAll(after)
}

// End is the explicit end-session entry point. Idempotent: repeat calls for
// an already-ended session are no-ops.
func (m *Manager) End(sessionID uuid.UUID, by domain.Role, reason string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return errors.NotFoundError("session not found").WithContext("session_id", sessionID.String())
	}
	if rec.s.State.Terminal() {
		m.mu.Unlock()
		return nil
	}

	notifyRoles := []domain.Role{by.Counterpart()}
	after := m.endLocked(rec, reason, notifyRoles)
	m.mu.Unlock()
	runAll(after)
	return nil
}

// endLocked executes the terminal transition: cancel timers, release the
// participant indexes, emit one finalize event, restore interpreter
// availability, and unbind the relay. Every end path funnels through here so
// no failure path skips cleanup.
func (m *Manager) endLocked(rec *sessionRecord, reason string, notifyRoles []domain.Role) []func() {
	m.cancelGraceLocked(rec)

	rec.s.State = domain.SessionEnded
	rec.s.GraceDeadline = nil
	endTime := m.clock.Now()

	delete(m.byInterpreter, rec.s.InterpreterID)
	delete(m.byClient, rec.s.ClientID)

	metrics.ActiveSessions.Dec()
	metrics.SessionsEndedTotal.WithLabelValues(reason).Inc()
	slog.Info("Session ended", "session_id", rec.s.ID.String(), "reason", reason)

	s := rec.s
	var after []func()

	ended := domain.SessionClosed{SessionID: s.ID, Reason: reason}
	for _, role := range notifyRoles {
		role := role
		after = append(after, func() {
			if role == domain.RoleClient {
				m.notifier.NotifyClient(s.ClientID, domain.EventSessionEnded, ended)
			} else {
				m.notifier.NotifyInterpreter(s.InterpreterID, domain.EventSessionEnded, ended)
			}
		})
	}

	if !rec.finalized {
		rec.finalized = true
		completed := domain.CompletedSession{
			SessionID:       s.ID,
			ClientID:        s.ClientID,
			InterpreterID:   s.InterpreterID,
			Language:        s.Language,
			SessionType:     s.SessionType,
			DurationSeconds: int64(endTime.Sub(s.StartedAt).Seconds()),
			StartTime:       s.StartedAt,
			EndTime:         endTime,
		}
		after = append(after, func() { m.finalize(completed) })
	}

	after = append(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := m.availability.MarkAvailable(ctx, s.InterpreterID); err != nil {
			slog.Warn("Failed to restore interpreter availability",
				"interpreter_id", s.InterpreterID, "error", err)
		}
		if m.binder != nil {
			m.binder.Forget(s.ID)
		}
	})

	return after
}

// finalize hands the completed session to the persistence collaborator.
// Recorder failures are logged and counted, never propagated into teardown.
func (m *Manager) finalize(completed domain.CompletedSession) {
	metrics.FinalizeEventsTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := m.recorder.RecordCompletedSession(ctx, completed); err != nil {
		metrics.RecorderFailuresTotal.Inc()
		slog.Error("Failed to record completed session",
			"session_id", completed.SessionID.String(), "error", err)
	}
}

func (m *Manager) cancelGraceLocked(rec *sessionRecord) {
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
		rec.graceTimer = nil
	}
	rec.graceGen++
}

// InSession reports whether an interpreter is bound to a non-terminal
// session. Implements the registry's busy check.
func (m *Manager) InSession(interpreterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byInterpreter[interpreterID]
	return ok
}

// SessionFor returns the live session a participant is bound to, if any.
// The server uses it to re-bind reconnecting sockets.
func (m *Manager) SessionFor(participantID string, role domain.Role) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id uuid.UUID
	var ok bool
	if role == domain.RoleClient {
		id, ok = m.byClient[participantID]
	} else {
		id, ok = m.byInterpreter[participantID]
	}
	return id, ok
}

// Snapshot returns a copy of the session's current state.
func (m *Manager) Snapshot(sessionID uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFoundError("session not found").WithContext("session_id", sessionID.String())
	}
	s := rec.s
	return &s, nil
}

// Stop cancels all pending grace timers. Sessions are left as-is; this is
// process shutdown, not a lifecycle transition.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.sessions {
		m.cancelGraceLocked(rec)
	}
}

// TODO: prune ended session records after a retention window; they are kept
// so that repeat end-session calls stay idempotent.

func runAll(fns []func()) {
	for _, f := range fns {
		f()
	}
}

func bothRoles() []domain.Role {
	return []domain.Role{domain.RoleClient, domain.RoleInterpreter}
}

func connectedRoles(rec *sessionRecord) []domain.Role {
	var roles []domain.Role
	for _, role := range bothRoles() {
		if rec.connected[role] {
			roles = append(roles, role)
		}
	}
	return roles
}
