package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/metrics"
)

// Eligibles is the presence registry surface the dispatcher needs.
type Eligibles interface {
	QueryEligible(ctx context.Context, language string, sessionType domain.SessionType) ([]domain.InterpreterPresence, error)
	Get(ctx context.Context, id string) (*domain.InterpreterPresence, error)
	MarkBusy(ctx context.Context, id string) error
}

// Sessions is the lifecycle manager surface the dispatcher needs.
type Sessions interface {
	Create(req *domain.CallRequest, interpreterID, interpreterName string) (*domain.Session, error)
	End(sessionID uuid.UUID, by domain.Role, reason string) error
}

// requestRecord tracks one request from submission to its terminal state.
// Terminal records are retained so late accepts get a conflict, not a 404.
type requestRecord struct {
	req        domain.CallRequest
	candidates map[string]struct{}
	expiry     clockwork.Timer
	sessionID  uuid.UUID
}

// Dispatcher arbitrates call requests. All mutations on a request happen
// under the dispatcher lock, so accept races resolve to exactly one winner.
type Dispatcher struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*requestRecord
	pending  map[string]uuid.UUID // clientID -> pending request
	accepted map[string]uuid.UUID // clientID -> session from the last accept

	registry Eligibles
	sessions Sessions
	notifier domain.Notifier
	clock    clockwork.Clock
	expiry   time.Duration
}

// NewDispatcher creates a matching dispatcher.
func NewDispatcher(registry Eligibles, sessions Sessions, notifier domain.Notifier, clock clockwork.Clock, expiry time.Duration) *Dispatcher {
	return &Dispatcher{
		requests: make(map[uuid.UUID]*requestRecord),
		pending:  make(map[string]uuid.UUID),
		accepted: make(map[string]uuid.UUID),
		registry: registry,
		sessions: sessions,
		notifier: notifier,
		clock:    clock,
		expiry:   expiry,
	}
}

// Submit creates a call request and notifies all eligible interpreters.
// An empty candidate set is reported immediately - the client never waits
// out the expiry timer for a language nobody covers.
func (d *Dispatcher) Submit(ctx context.Context, clientID, clientName, language string, sessionType domain.SessionType, urgency domain.Urgency) (*domain.CallRequest, error) {
	if clientID == "" {
		return nil, errors.ValidationError("clientId is required")
	}
	if language == "" {
		return nil, errors.ValidationError("language is required")
	}
	if !domain.ValidSessionType(sessionType) {
		return nil, errors.ValidationError("sessionType must be VRI or OPI").WithContext("session_type", string(sessionType))
	}
	if urgency == "" {
		urgency = domain.UrgencyNormal
	}
	if !domain.ValidUrgency(urgency) {
		return nil, errors.ValidationError("unknown urgency").WithContext("urgency", string(urgency))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[clientID]; ok {
		return nil, errors.ConflictError("client already has a pending request").
			WithContext("request_id", existing.String())
	}

	eligible, err := d.registry.QueryEligible(ctx, language, sessionType)
	if err != nil {
		return nil, err
	}
	metrics.EligibleInterpreters.Observe(float64(len(eligible)))

	if len(eligible) == 0 {
		metrics.CallRequestsTotal.WithLabelValues("unmatched").Inc()
		return nil, errors.NotFoundError("no interpreters available").
			WithContext("language", language)
	}

	req := domain.CallRequest{
		ID:          uuid.New(),
		ClientID:    clientID,
		ClientName:  clientName,
		Language:    language,
		Urgency:     urgency,
		SessionType: sessionType,
		CreatedAt:   d.clock.Now(),
		State:       domain.RequestPending,
	}

	rec := &requestRecord{
		req:        req,
		candidates: make(map[string]struct{}, len(eligible)),
	}
	for _, p := range eligible {
		rec.candidates[p.ID] = struct{}{}
	}

	requestID := req.ID
	rec.expiry = d.clock.AfterFunc(d.expiry, func() {
		d.expire(requestID)
	})

	d.requests[req.ID] = rec
	d.pending[clientID] = req.ID

	call := domain.IncomingCall{
		RequestID:   req.ID,
		ClientName:  clientName,
		Language:    language,
		Urgency:     urgency,
		SessionType: sessionType,
	}
	for _, p := range eligible {
		d.notifier.NotifyInterpreter(p.ID, domain.EventIncomingCall, call)
	}

	slog.Info("Call request submitted", "request_id", req.ID.String(), "client_id", clientID,
		"language", language, "candidates", len(eligible))

	return &req, nil
}

// Accept resolves the arbitration race. Exactly one caller flips the request
// pending -> accepted; everyone else - earlier decliners, later accepters,
// concurrent accepters - receives a conflict.
func (d *Dispatcher) Accept(ctx context.Context, interpreterID string, requestID uuid.UUID) (*domain.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.requests[requestID]
	if !ok {
		return nil, errors.NotFoundError("request not found").WithContext("request_id", requestID.String())
	}

	if rec.req.State != domain.RequestPending {
		metrics.AcceptConflictsTotal.Inc()
		return nil, errors.ConflictError("request no longer available").
			WithContext("request_id", requestID.String())
	}
	if _, notified := rec.candidates[interpreterID]; !notified {
		metrics.AcceptConflictsTotal.Inc()
		return nil, errors.ConflictError("request no longer available").
			WithContext("request_id", requestID.String())
	}

	interpreter, err := d.registry.Get(ctx, interpreterID)
	if err != nil {
		return nil, err
	}

	sess, err := d.sessions.Create(&rec.req, interpreter.ID, interpreter.Name)
	if err != nil {
		return nil, err
	}

	// The CAS: from here on every other path sees a non-pending request.
	rec.req.State = domain.RequestAccepted
	rec.sessionID = sess.ID
	d.stopExpiryLocked(rec)
	delete(d.pending, rec.req.ClientID)
	d.accepted[rec.req.ClientID] = sess.ID

	if err := d.registry.MarkBusy(ctx, interpreterID); err != nil {
		slog.Warn("Failed to mark interpreter busy", "interpreter_id", interpreterID, "error", err)
	}

	// Dismiss every other notified interpreter's incoming-call UI.
	cancelled := domain.RequestDismissed{RequestID: requestID}
	for id := range rec.candidates {
		if id != interpreterID {
			d.notifier.NotifyInterpreter(id, domain.EventRequestCancelled, cancelled)
		}
	}

	d.notifier.NotifyClient(rec.req.ClientID, domain.EventInterpreterAccepted, domain.InterpreterAccepted{
		SessionID:       sess.ID,
		InterpreterID:   interpreter.ID,
		InterpreterName: interpreter.Name,
		Language:        rec.req.Language,
	})

	metrics.CallRequestsTotal.WithLabelValues("accepted").Inc()
	slog.Info("Call request accepted", "request_id", requestID.String(),
		"interpreter_id", interpreterID, "session_id", sess.ID.String())

	return sess, nil
}

// Decline removes an interpreter from the candidate set. When the last
// candidate declines, the request expires immediately - the client should
// not wait out a timer nobody can beat.
func (d *Dispatcher) Decline(interpreterID string, requestID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.requests[requestID]
	if !ok {
		return errors.NotFoundError("request not found").WithContext("request_id", requestID.String())
	}
	if rec.req.State != domain.RequestPending {
		return nil // resolved while the decline was in flight, nothing to do
	}

	delete(rec.candidates, interpreterID)
	slog.Info("Call request declined", "request_id", requestID.String(),
		"interpreter_id", interpreterID, "remaining", len(rec.candidates))

	if len(rec.candidates) == 0 {
		d.expireLocked(rec, "all interpreters declined")
	}
	return nil
}

// Cancel withdraws a client's pending request. A cancel racing a just-won
// accept converts into an end-session on the new session - never silently
// dropped.
func (d *Dispatcher) Cancel(clientID string) error {
	d.mu.Lock()

	if requestID, ok := d.pending[clientID]; ok {
		rec := d.requests[requestID]
		rec.req.State = domain.RequestCancelled
		d.stopExpiryLocked(rec)
		delete(d.pending, clientID)

		cancelled := domain.RequestDismissed{RequestID: requestID}
		for id := range rec.candidates {
			d.notifier.NotifyInterpreter(id, domain.EventRequestCancelled, cancelled)
		}
		d.notifier.NotifyClient(clientID, domain.EventRequestCancelled, cancelled)

		metrics.CallRequestsTotal.WithLabelValues("cancelled").Inc()
		slog.Info("Call request cancelled", "request_id", requestID.String(), "client_id", clientID)
		d.mu.Unlock()
		return nil
	}

	sessionID, ok := d.accepted[clientID]
	d.mu.Unlock()

	if !ok {
		return errors.NotFoundError("no pending request for client").WithContext("client_id", clientID)
	}

	// Accept won the race: reinterpret the cancel as ending the session.
	slog.Info("Cancel raced an accept, ending session instead",
		"client_id", clientID, "session_id", sessionID.String())
	return d.sessions.End(sessionID, domain.RoleClient, domain.EndReasonPeerEnded)
}

// Request returns a copy of a request's current state.
func (d *Dispatcher) Request(requestID uuid.UUID) (*domain.CallRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.requests[requestID]
	if !ok {
		return nil, errors.NotFoundError("request not found").WithContext("request_id", requestID.String())
	}
	req := rec.req
	return &req, nil
}

// expire is the expiry timer callback.
func (d *Dispatcher) expire(requestID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.requests[requestID]
	if !ok || rec.req.State != domain.RequestPending {
		return
	}
	d.expireLocked(rec, "request expired before an interpreter accepted")
}

func (d *Dispatcher) expireLocked(rec *requestRecord, message string) {
	rec.req.State = domain.RequestExpired
	d.stopExpiryLocked(rec)
	delete(d.pending, rec.req.ClientID)

	cancelled := domain.RequestDismissed{RequestID: rec.req.ID}
	for id := range rec.candidates {
		d.notifier.NotifyInterpreter(id, domain.EventRequestCancelled, cancelled)
	}
	d.notifier.NotifyClient(rec.req.ClientID, domain.EventRequestExpired, domain.RequestTimedOut{
		RequestID: rec.req.ID,
		Message:   message,
	})

	metrics.CallRequestsTotal.WithLabelValues("expired").Inc()
	slog.Info("Call request expired", "request_id", rec.req.ID.String(), "client_id", rec.req.ClientID)
}

func (d *Dispatcher) stopExpiryLocked(rec *requestRecord) {
	if rec.expiry != nil {
		rec.expiry.Stop()
		rec.expiry = nil
	}
}

// Stop cancels all pending expiry timers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.requests {
		d.stopExpiryLocked(rec)
	}
}
