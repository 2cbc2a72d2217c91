package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/registry"
	"github.com/JdoubleU92/numgame/storage"
)

func TestSnapshotRevert(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 10}))

	snap, err := state.Snapshot()
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 99}))
	require.NoError(t, state.SetOwed("inst", "a", 5))
	require.NoError(t, state.RevertToSnapshot(snap))

	acc, err := state.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acc.Balance)
	owed, err := state.GetOwed("inst", "a")
	require.NoError(t, err)
	assert.Zero(t, owed)

	require.Error(t, state.RevertToSnapshot(snap), "snapshot is consumed by revert")
}

func TestCommitAndCommittedView(t *testing.T) {
	db := testutil.NewMemDB()
	writer := storage.NewStateDB(db)
	reader := storage.NewStateDB(db)

	inst := game.NewInstance("inst-1", "host", "factory", 7)
	require.NoError(t, writer.SetInstance(inst))

	_, err := reader.GetInstance("inst-1")
	require.ErrorIs(t, err, errs.ErrNotFound, "uncommitted writes are invisible to other views")

	require.NoError(t, writer.Commit())
	got, err := reader.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, core.Address("host"), got.Owner)
	assert.NotNil(t, got.Wins)
}

func TestComputeRootDeterministic(t *testing.T) {
	a := testutil.NewStateDB()
	b := testutil.NewStateDB()

	require.NoError(t, a.SetTrusted("f1", true))
	require.NoError(t, a.SetInstanceBalance("inst", 9))
	require.NoError(t, a.Commit())
	require.NoError(t, a.SetOwed("inst", "p", 3))

	require.NoError(t, b.SetOwed("inst", "p", 3))
	require.NoError(t, b.SetInstanceBalance("inst", 9))
	require.NoError(t, b.SetTrusted("f1", true))

	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot(), "root ignores commit boundaries and write order")

	require.NoError(t, b.SetOwed("inst", "p", 0))
	assert.NotEqual(t, a.ComputeRoot(), b.ComputeRoot())
}

func TestZeroBalancesAreDeleted(t *testing.T) {
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	require.NoError(t, state.SetOwed("inst", "p", 3))
	require.NoError(t, state.Commit())
	assert.Equal(t, 1, db.Len())

	require.NoError(t, state.SetOwed("inst", "p", 0))
	require.NoError(t, state.Commit())
	assert.Zero(t, db.Len())
}

func TestRegistryRecords(t *testing.T) {
	state := testutil.NewStateDB()

	require.NoError(t, state.SetTrusted("b", true))
	require.NoError(t, state.SetTrusted("a", true))
	require.NoError(t, state.Commit())
	require.NoError(t, state.SetTrusted("c", true))
	require.NoError(t, state.SetTrusted("b", false))
	assert.Equal(t, []string{"a", "c"}, state.TrustedFactories())

	rec := &registry.CloneRecord{Factory: "a", Owner: "host", InstanceID: "inst-1"}
	require.NoError(t, state.SetClone(rec))
	got, err := state.GetClone("host")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", got.InstanceID)
	assert.Equal(t, "a", got.Factory)

	require.NoError(t, state.DeleteClone("host"))
	_, err = state.GetClone("host")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = state.GetTemplateInfo()
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBlockStore(t *testing.T) {
	store := testutil.NewBlockStore()
	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	b := core.NewBlock(1, "genesis", "proposer", nil)
	b.Hash = b.ComputeHash()
	require.NoError(t, store.CommitBlock(b))

	tip, err = store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)

	got, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, got.Hash)

	_, err = store.GetBlockByHeight(2)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
