package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type fakeRegistry struct {
	mu       sync.Mutex
	eligible []domain.InterpreterPresence
	busy     []string
}

func (f *fakeRegistry) QueryEligible(_ context.Context, language string, _ domain.SessionType) ([]domain.InterpreterPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.InterpreterPresence
	for _, p := range f.eligible {
		if p.Supports(language) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Get(_ context.Context, id string) (*domain.InterpreterPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.eligible {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, errors.NotFoundError("interpreter not registered")
}

func (f *fakeRegistry) MarkBusy(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = append(f.busy, id)
	return nil
}

func (f *fakeRegistry) busyIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.busy...)
}

type endCall struct {
	sessionID uuid.UUID
	by        domain.Role
	reason    string
}

type fakeSessions struct {
	mu      sync.Mutex
	created []*domain.Session
	ended   []endCall
}

func (f *fakeSessions) Create(req *domain.CallRequest, interpreterID, interpreterName string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := &domain.Session{
		ID:              uuid.New(),
		RequestID:       req.ID,
		ClientID:        req.ClientID,
		ClientName:      req.ClientName,
		InterpreterID:   interpreterID,
		InterpreterName: interpreterName,
		Language:        req.Language,
		SessionType:     req.SessionType,
		State:           domain.SessionMatched,
	}
	f.created = append(f.created, sess)
	return sess, nil
}

func (f *fakeSessions) End(sessionID uuid.UUID, by domain.Role, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endCall{sessionID: sessionID, by: by, reason: reason})
	return nil
}

type notification struct {
	role  domain.Role
	id    string
	event string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (f *fakeNotifier) NotifyClient(clientID string, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{role: domain.RoleClient, id: clientID, event: event})
}

func (f *fakeNotifier) NotifyInterpreter(interpreterID string, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{role: domain.RoleInterpreter, id: interpreterID, event: event})
}

func (f *fakeNotifier) count(role domain.Role, id, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.role == role && e.id == id && e.event == event {
			n++
		}
	}
	return n
}

// --- Helpers ---

func interpreterPresence(id string, languages ...string) domain.InterpreterPresence {
	return domain.InterpreterPresence{
		ID:        id,
		Name:      "Interpreter " + id,
		Languages: languages,
		Status:    domain.StatusAvailable,
	}
}

func newTestDispatcher(t *testing.T, eligible ...domain.InterpreterPresence) (*Dispatcher, *fakeRegistry, *fakeSessions, *fakeNotifier, *clockwork.FakeClock) {
	t.Helper()
	registry := &fakeRegistry{eligible: eligible}
	sessions := &fakeSessions{}
	notifier := &fakeNotifier{}
	clock := clockwork.NewFakeClock()
	d := NewDispatcher(registry, sessions, notifier, clock, 60*time.Second)
	t.Cleanup(d.Stop)
	return d, registry, sessions, notifier, clock
}

// --- Tests ---

func TestSubmit_ReportsNoInterpretersImmediately(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t, interpreterPresence("i1", "spanish"))

	_, err := d.Submit(context.Background(), "c1", "Carla", "klingon", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
	assert.Contains(t, err.Error(), "no interpreters available")
}

func TestSubmit_RejectsDuplicatePendingRequest(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t, interpreterPresence("i1", "spanish"))

	_, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyHigh)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConflict))
}

func TestSubmit_ValidatesInput(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	tests := []struct {
		name        string
		clientID    string
		language    string
		sessionType domain.SessionType
	}{
		{"missing client", "", "spanish", domain.SessionTypeVRI},
		{"missing language", "c1", "", domain.SessionTypeVRI},
		{"bad session type", "c1", "spanish", "carrier-pigeon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Submit(context.Background(), tt.clientID, "Carla", tt.language, tt.sessionType, domain.UrgencyNormal)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.TypeValidation))
		})
	}
}

func TestSubmit_BroadcastsToAllEligible(t *testing.T) {
	d, _, _, notifier, _ := newTestDispatcher(t,
		interpreterPresence("i1", "spanish"),
		interpreterPresence("i2", "spanish", "french"),
		interpreterPresence("i3", "french"),
	)

	_, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.count(domain.RoleInterpreter, "i1", domain.EventIncomingCall))
	assert.Equal(t, 1, notifier.count(domain.RoleInterpreter, "i2", domain.EventIncomingCall))
	assert.Equal(t, 0, notifier.count(domain.RoleInterpreter, "i3", domain.EventIncomingCall))
}

// Scenario: two interpreters notified, the second accept arrives after the
// first resolved. The loser gets a conflict and a dismissal, and is never
// marked busy.
func TestAccept_FirstWinsSecondConflicts(t *testing.T) {
	d, registry, sessions, notifier, _ := newTestDispatcher(t,
		interpreterPresence("i1", "spanish"),
		interpreterPresence("i2", "spanish"),
	)

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	sess, err := d.Accept(context.Background(), "i2", req.ID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "i2", sess.InterpreterID)

	_, err = d.Accept(context.Background(), "i1", req.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConflict))
	assert.Contains(t, err.Error(), "request no longer available")

	assert.Equal(t, 1, notifier.count(domain.RoleInterpreter, "i1", domain.EventRequestCancelled))
	assert.Equal(t, 0, notifier.count(domain.RoleInterpreter, "i2", domain.EventRequestCancelled))
	assert.Equal(t, 1, notifier.count(domain.RoleClient, "c1", domain.EventInterpreterAccepted))

	assert.Equal(t, []string{"i2"}, registry.busyIDs())
	require.Len(t, sessions.created, 1)
}

func TestAccept_ExactlyOneWinnerUnderConcurrency(t *testing.T) {
	const interpreters = 8

	var eligible []domain.InterpreterPresence
	for i := 0; i < interpreters; i++ {
		eligible = append(eligible, interpreterPresence(string(rune('a'+i)), "spanish"))
	}
	d, _, sessions, _, _ := newTestDispatcher(t, eligible...)

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, interpreters)
	for _, p := range eligible {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := d.Accept(context.Background(), id, req.ID)
			results <- err
		}(p.ID)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.True(t, errors.IsType(err, errors.TypeConflict))
			conflicts++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, interpreters-1, conflicts)
	assert.Len(t, sessions.created, 1)
}

func TestAccept_UnknownRequest(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t, interpreterPresence("i1", "spanish"))

	_, err := d.Accept(context.Background(), "i1", uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}

func TestDecline_LastCandidateExpiresRequest(t *testing.T) {
	d, _, _, notifier, _ := newTestDispatcher(t,
		interpreterPresence("i1", "spanish"),
		interpreterPresence("i2", "spanish"),
	)

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	require.NoError(t, d.Decline("i1", req.ID))
	got, err := d.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, got.State)

	require.NoError(t, d.Decline("i2", req.ID))
	got, err = d.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestExpired, got.State)
	assert.Equal(t, 1, notifier.count(domain.RoleClient, "c1", domain.EventRequestExpired))

	// A decliner cannot change their mind afterwards.
	_, err = d.Accept(context.Background(), "i1", req.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConflict))
}

func TestCancel_PendingRequest(t *testing.T) {
	d, _, _, notifier, _ := newTestDispatcher(t,
		interpreterPresence("i1", "spanish"),
	)

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	require.NoError(t, d.Cancel("c1"))

	got, err := d.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCancelled, got.State)
	assert.Equal(t, 1, notifier.count(domain.RoleInterpreter, "i1", domain.EventRequestCancelled))

	// Client can submit a fresh request afterwards.
	_, err = d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)
}

func TestCancel_AfterAcceptConvertsToEndSession(t *testing.T) {
	d, _, sessions, _, _ := newTestDispatcher(t, interpreterPresence("i1", "spanish"))

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	sess, err := d.Accept(context.Background(), "i1", req.ID)
	require.NoError(t, err)

	require.NoError(t, d.Cancel("c1"))

	require.Len(t, sessions.ended, 1)
	assert.Equal(t, sess.ID, sessions.ended[0].sessionID)
	assert.Equal(t, domain.RoleClient, sessions.ended[0].by)
	assert.Equal(t, domain.EndReasonPeerEnded, sessions.ended[0].reason)
}

func TestCancel_NoPendingRequest(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	err := d.Cancel("c1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}

func TestRequestExpiry_FiresOnce(t *testing.T) {
	d, _, _, notifier, clock := newTestDispatcher(t,
		interpreterPresence("i1", "spanish"),
	)

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	clock.Advance(61 * time.Second)

	require.Eventually(t, func() bool {
		got, err := d.Request(req.ID)
		return err == nil && got.State == domain.RequestExpired
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, notifier.count(domain.RoleClient, "c1", domain.EventRequestExpired))
	assert.Equal(t, 1, notifier.count(domain.RoleInterpreter, "i1", domain.EventRequestCancelled))

	// A late accept on the expired request is a conflict, not a win.
	_, err = d.Accept(context.Background(), "i1", req.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConflict))
}

func TestAcceptStopsExpiryTimer(t *testing.T) {
	d, _, _, notifier, clock := newTestDispatcher(t, interpreterPresence("i1", "spanish"))

	req, err := d.Submit(context.Background(), "c1", "Carla", "spanish", domain.SessionTypeVRI, domain.UrgencyNormal)
	require.NoError(t, err)

	_, err = d.Accept(context.Background(), "i1", req.ID)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	got, err := d.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, got.State)
	assert.Equal(t, 0, notifier.count(domain.RoleClient, "c1", domain.EventRequestExpired))
}
