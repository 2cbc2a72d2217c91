package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/registry"
)

const (
	tmplOwner = core.Address("template-owner")
	host      = core.Address("host")
	factory   = "factory-1"
)

func newRegistry(t *testing.T) (*registry.Registry, registry.Store) {
	t.Helper()
	state := testutil.NewStateDB()
	require.NoError(t, state.SetTemplateInfo(&registry.TemplateInfo{Owner: tmplOwner, RoyaltyPercent: 10}))
	return registry.New(state), state
}

func TestTrustListOwnerOnly(t *testing.T) {
	r, _ := newRegistry(t)

	_, err := r.AddTrustedFactory(host, factory)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	changed, err := r.AddTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.AddTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)
	assert.False(t, changed, "adding twice is idempotent")

	ok, err := r.IsTrusted(factory)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.RemoveTrustedFactory(host, factory)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	changed, err = r.RemoveTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.RemoveTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = r.AddTrustedFactory(tmplOwner, " ")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCreateCloneRequiresTrust(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.CreateClone(factory, host, "tx-1", 100)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestCreateCloneOnePerOwner(t *testing.T) {
	r, store := newRegistry(t)
	_, err := r.AddTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)

	inst, err := r.CreateClone(factory, host, "tx-1", 100)
	require.NoError(t, err)
	assert.Equal(t, host, inst.Owner)
	assert.Equal(t, game.Idle, inst.Phase)
	assert.Equal(t, registry.InstanceID("tx-1", factory, host), inst.ID)

	stored, err := store.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, stored.ID)

	_, err = r.CreateClone(factory, host, "tx-2", 101)
	require.ErrorIs(t, err, errs.ErrAlreadyOwns)

	id, ok, err := r.InstanceByOwner(host)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, inst.ID, id)

	_, ok, err = r.InstanceByOwner("someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOneLiveCloneAcrossFactories(t *testing.T) {
	r, _ := newRegistry(t)
	for _, f := range []string{factory, "factory-2"} {
		_, err := r.AddTrustedFactory(tmplOwner, f)
		require.NoError(t, err)
	}

	first, err := r.CreateClone(factory, host, "tx-1", 100)
	require.NoError(t, err)
	_, err = r.CreateClone("factory-2", host, "tx-2", 101)
	require.ErrorIs(t, err, errs.ErrAlreadyOwns)

	// Releasing through the wrong factory leaves the clone in place.
	_, err = r.ReleaseClone("factory-2", host, 102)
	require.ErrorIs(t, err, errs.ErrNotFound)
	id, ok, err := r.InstanceByOwner(host)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, id)

	_, err = r.ReleaseClone("", host, 103)
	require.NoError(t, err)
	second, err := r.CreateClone("factory-2", host, "tx-3", 104)
	require.NoError(t, err)
	assert.Equal(t, "factory-2", second.Factory)
}

func TestReleaseAndRecreate(t *testing.T) {
	r, store := newRegistry(t)
	_, err := r.AddTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)

	first, err := r.CreateClone(factory, host, "tx-1", 100)
	require.NoError(t, err)

	// A running game blocks release.
	cfg := game.Config{RequiredPlayers: 1, BuyIn: 10, CommitDuration: 10, RevealDuration: 10}
	require.NoError(t, first.Start(host, cfg, 100))
	require.NoError(t, store.SetInstance(first))
	_, err = r.ReleaseClone(factory, host, 105)
	require.ErrorIs(t, err, errs.ErrPhaseViolation)

	_, err = first.Resolve(host, nil, 0, 120)
	require.NoError(t, err)
	require.NoError(t, store.SetInstance(first))

	released, err := r.ReleaseClone(factory, host, 121)
	require.NoError(t, err)
	assert.True(t, released.Retired)

	_, ok, err := r.InstanceByOwner(host)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.ReleaseClone(factory, host, 122)
	require.ErrorIs(t, err, errs.ErrNotFound)

	second, err := r.CreateClone(factory, host, "tx-9", 130)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "identifiers are never reused")

	old, err := store.GetInstance(first.ID)
	require.NoError(t, err)
	assert.True(t, old.Retired)
}

func TestRoyaltyFollowsTrust(t *testing.T) {
	r, _ := newRegistry(t)
	inst := game.NewInstance("inst", host, factory, 0)

	pct, err := r.RoyaltyPercent(inst)
	require.NoError(t, err)
	assert.Zero(t, pct)

	_, err = r.AddTrustedFactory(tmplOwner, factory)
	require.NoError(t, err)
	pct, err = r.RoyaltyPercent(inst)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pct)
}
