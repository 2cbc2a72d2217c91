package indexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/indexer"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/wallet"
)

func TestIndexesClonesAndPlayers(t *testing.T) {
	c := testutil.NewChain(t, 0)
	idx := indexer.New(c.DB, c.Emitter)
	defer idx.Close()

	host, player := testutil.NewWallet(t), testutil.NewWallet(t)
	c.Fund(player.Address(), 1000)

	r := c.Exec(host, func(n uint64) (*core.Transaction, error) { return host.CreateClone(testutil.Factory, n, 0) })
	require.Equal(t, core.ReceiptOK, r.Status)
	inst, err := c.State.GetClone(host.Address())
	require.NoError(t, err)

	clones, err := idx.ClonesByFactory(testutil.Factory)
	require.NoError(t, err)
	assert.Equal(t, []string{inst.InstanceID}, clones)
	owned, err := idx.InstancesByOwner(string(host.Address()))
	require.NoError(t, err)
	assert.Equal(t, []string{inst.InstanceID}, owned)

	r = c.Exec(host, func(n uint64) (*core.Transaction, error) {
		return host.StartGame(core.StartGamePayload{
			InstanceID: inst.InstanceID, RequiredPlayers: 2, BuyIn: 100, ServiceFee: 10,
			CommitDuration: 60, RevealDuration: 60,
		}, n, 0)
	})
	require.Equal(t, core.ReceiptOK, r.Status)

	salt, err := wallet.NewSalt()
	require.NoError(t, err)
	r = c.Exec(player, func(n uint64) (*core.Transaction, error) {
		return player.Commit(inst.InstanceID, 10, salt, 100, n, 0)
	})
	require.Equal(t, core.ReceiptOK, r.Status)

	games, err := idx.GamesByPlayer(string(player.Address()))
	require.NoError(t, err)
	assert.Equal(t, []string{inst.InstanceID}, games)

	none, err := idx.GamesByPlayer("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCloseStopsIndexing(t *testing.T) {
	c := testutil.NewChain(t, 0)
	idx := indexer.New(c.DB, c.Emitter)
	idx.Close()

	host := testutil.NewWallet(t)
	c.Exec(host, func(n uint64) (*core.Transaction, error) { return host.CreateClone(testutil.Factory, n, 0) })

	clones, err := idx.ClonesByFactory(testutil.Factory)
	require.NoError(t, err)
	assert.Empty(t, clones)
}
