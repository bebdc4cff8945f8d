package presence

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBusyChecker map[string]bool

func (b staticBusyChecker) InSession(id string) bool { return b[id] }

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := NewRegistry(NewMemoryStore(), clock, 15*time.Second, 30*time.Second)
	t.Cleanup(r.Stop)
	return r, clock
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	err := r.Register(ctx, "", "Ingrid", []string{"spanish"}, domain.StatusAvailable)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeValidation))

	err = r.Register(ctx, "i1", "Ingrid", nil, domain.StatusAvailable)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeValidation))

	err = r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, "napping")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeValidation))
}

func TestRegister_ReRegisterRefreshesEntry(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusAvailable))
	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish", "french"}, domain.StatusBreak))

	p, err := r.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, []string{"spanish", "french"}, p.Languages)
	assert.Equal(t, domain.StatusBreak, p.Status)

	eligible, err := r.QueryEligible(ctx, "spanish", domain.SessionTypeVRI)
	require.NoError(t, err)
	assert.Empty(t, eligible) // on break, not eligible

	all, err := r.QueryEligible(ctx, "french", domain.SessionTypeVRI)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestQueryEligible_FiltersAndOrders(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusAvailable))
	clock.Advance(time.Second)
	require.NoError(t, r.Register(ctx, "i2", "Igor", []string{"spanish", "french"}, domain.StatusAvailable))
	clock.Advance(time.Second)
	require.NoError(t, r.Register(ctx, "i3", "Ines", []string{"french"}, domain.StatusAvailable))
	require.NoError(t, r.Register(ctx, "i4", "Ivo", []string{"spanish"}, domain.StatusBreak))

	eligible, err := r.QueryEligible(ctx, "spanish", domain.SessionTypeVRI)
	require.NoError(t, err)
	require.Len(t, eligible, 2)

	// Idle-longest first: i1 registered before i2.
	assert.Equal(t, "i1", eligible[0].ID)
	assert.Equal(t, "i2", eligible[1].ID)
}

func TestQueryEligible_TieBrokenByID(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	// Same fake-clock instant for both.
	require.NoError(t, r.Register(ctx, "i9", "Ida", []string{"spanish"}, domain.StatusAvailable))
	require.NoError(t, r.Register(ctx, "i2", "Igor", []string{"spanish"}, domain.StatusAvailable))

	eligible, err := r.QueryEligible(ctx, "spanish", domain.SessionTypeVRI)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, "i2", eligible[0].ID)
	assert.Equal(t, "i9", eligible[1].ID)
}

func TestQueryEligible_ExcludesInterpretersInSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	r.SetBusyChecker(staticBusyChecker{"i1": true})

	// Stored status says available, but the lifecycle manager knows better.
	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusAvailable))
	require.NoError(t, r.Register(ctx, "i2", "Igor", []string{"spanish"}, domain.StatusAvailable))

	eligible, err := r.QueryEligible(ctx, "spanish", domain.SessionTypeVRI)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "i2", eligible[0].ID)
}

func TestUpdateStatus_RejectedDuringSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	r.SetBusyChecker(staticBusyChecker{"i1": true})

	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusBusy))

	err := r.UpdateStatus(ctx, "i1", domain.StatusAvailable)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeConflict))

	// Confirming busy mid-call is fine.
	require.NoError(t, r.UpdateStatus(ctx, "i1", domain.StatusBusy))
}

func TestUpdateStatus_UnknownInterpreter(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.UpdateStatus(context.Background(), "ghost", domain.StatusAvailable)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}

func TestHeartbeat_RevivesSweptInterpreter(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusAvailable))
	r.MarkDisconnected(ctx, "i1")

	p, err := r.Get(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOffline, p.Status)

	require.NoError(t, r.Heartbeat(ctx, "i1"))

	p, err = r.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, p.Status)
}

func TestHeartbeat_UnknownInterpreter(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Heartbeat(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeNotFound))
}

func TestSweep_ExpiresStaleInterpreters(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "stale", "Ingrid", []string{"spanish"}, domain.StatusAvailable))

	// Three sweep ticks with no heartbeat push the entry past the 30s timeout.
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(15 * time.Second)
	}

	require.Eventually(t, func() bool {
		p, err := r.Get(ctx, "stale")
		return err == nil && p.Status == domain.StatusOffline
	}, time.Second, 5*time.Millisecond)

	// Swept entries are retained, just not eligible.
	eligible, err := r.QueryEligible(ctx, "spanish", domain.SessionTypeVRI)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

func TestSweep_SparesRenewedInterpreters(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "fresh", "Igor", []string{"spanish"}, domain.StatusAvailable))

	for i := 0; i < 4; i++ {
		clock.BlockUntil(1)
		clock.Advance(15 * time.Second)
		require.NoError(t, r.Heartbeat(ctx, "fresh"))
	}

	p, err := r.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, p.Status)
}

func TestMarkAvailable_OnlyRestoresBusy(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "i1", "Ingrid", []string{"spanish"}, domain.StatusAvailable))
	require.NoError(t, r.MarkBusy(ctx, "i1"))
	require.NoError(t, r.MarkAvailable(ctx, "i1"))

	p, err := r.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAvailable, p.Status)

	// An interpreter who went on break mid-teardown stays on break.
	require.NoError(t, r.Register(ctx, "i2", "Igor", []string{"spanish"}, domain.StatusBreak))
	require.NoError(t, r.MarkAvailable(ctx, "i2"))

	p, err = r.Get(ctx, "i2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBreak, p.Status)

	// Unknown interpreters are ignored, not an error.
	require.NoError(t, r.MarkAvailable(ctx, "ghost"))
}
