package numgame_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/wallet"
)

type table struct {
	chain *testutil.Chain
	host  *wallet.Wallet
	inst  string
}

var twoPlayer = core.StartGamePayload{
	RequiredPlayers: 2,
	BuyIn:           100,
	ServiceFee:      5,
	CommitDuration:  60,
	RevealDuration:  60,
}

func newTable(t *testing.T, royalty uint64) *table {
	t.Helper()
	c := testutil.NewChain(t, royalty)
	host := testutil.NewWallet(t)
	r := c.Exec(host, func(n uint64) (*core.Transaction, error) { return host.CreateClone(testutil.Factory, n, 0) })
	require.Equal(t, core.ReceiptOK, r.Status, r.Error)
	created := c.EventsOf(events.EventCloneCreated)
	require.Len(t, created, 1)
	return &table{chain: c, host: host, inst: created[0].InstanceID()}
}

func (tb *table) start(t *testing.T, p core.StartGamePayload) *core.Receipt {
	t.Helper()
	p.InstanceID = tb.inst
	return tb.chain.Exec(tb.host, func(n uint64) (*core.Transaction, error) { return tb.host.StartGame(p, n, 0) })
}

func (tb *table) player(t *testing.T, balance uint64) *wallet.Wallet {
	t.Helper()
	w := testutil.NewWallet(t)
	tb.chain.Fund(w.Address(), balance)
	return w
}

func (tb *table) commit(w *wallet.Wallet, number int, salt string, value uint64) *core.Receipt {
	return tb.chain.Exec(w, func(n uint64) (*core.Transaction, error) {
		return w.Commit(tb.inst, number, salt, value, n, 0)
	})
}

func (tb *table) reveal(w *wallet.Wallet, number int, salt string) *core.Receipt {
	return tb.chain.Exec(w, func(n uint64) (*core.Transaction, error) { return w.Reveal(tb.inst, number, salt, n, 0) })
}

func (tb *table) resolve(w *wallet.Wallet) *core.Receipt {
	return tb.chain.Exec(w, func(n uint64) (*core.Transaction, error) { return w.DetermineWinner(tb.inst, n, 0) })
}

func (tb *table) instance(t *testing.T) *game.Instance {
	t.Helper()
	inst, err := tb.chain.State.GetInstance(tb.inst)
	require.NoError(t, err)
	return inst
}

func requireOK(t *testing.T, r *core.Receipt) {
	t.Helper()
	require.Equal(t, core.ReceiptOK, r.Status, "%s: %s", r.Type, r.Error)
}

func requireCode(t *testing.T, r *core.Receipt, want error) {
	t.Helper()
	require.Equal(t, core.ReceiptFailed, r.Status)
	require.Equal(t, errs.Code(want), r.Code, r.Error)
}

func TestTwoPlayerScenario(t *testing.T) {
	tb := newTable(t, 20)
	c := tb.chain
	alice, bob := tb.player(t, 1000), tb.player(t, 1000)

	requireOK(t, tb.start(t, twoPlayer))
	started := c.EventsOf(events.EventGameStarted)
	require.Len(t, started, 1)
	assert.Equal(t, uint64(190), started[0].Data["prize_amount"])

	requireOK(t, tb.commit(alice, 3, "a", 100))
	requireOK(t, tb.commit(bob, 7, "b", 100))
	assert.Equal(t, uint64(900), c.Balance(alice.Address()))

	c.Advance(60 * time.Second)
	requireOK(t, tb.reveal(alice, 3, "a"))
	requireOK(t, tb.reveal(bob, 7, "b"))

	c.Advance(60 * time.Second)
	requireOK(t, tb.resolve(tb.host))

	// mean(3, 7) = 5; both are 2 away and alice revealed first.
	results := c.EventsOf(events.EventGameResults)
	require.Len(t, results, 1)
	assert.Equal(t, string(alice.Address()), results[0].Data["winner"])
	assert.Equal(t, 5, results[0].Data["target_number"])
	assert.Equal(t, 3, results[0].Data["winners_number"])
	assert.Equal(t, uint64(1), results[0].Data["total_wins"])

	owed, err := c.State.GetOwed(tb.inst, alice.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(190), owed)
	ibal, _ := c.State.GetInstanceBalance(tb.inst)
	tbal, _ := c.State.GetTemplateBalance()
	assert.Equal(t, uint64(8), ibal)
	assert.Equal(t, uint64(2), tbal)

	// Winnings are pulled, once.
	requireOK(t, c.Exec(alice, func(n uint64) (*core.Transaction, error) { return alice.WithdrawRefund(tb.inst, n, 0) }))
	assert.Equal(t, uint64(1090), c.Balance(alice.Address()))
	requireCode(t, c.Exec(alice, func(n uint64) (*core.Transaction, error) { return alice.WithdrawRefund(tb.inst, n, 0) }), errs.ErrNothingOwed)
	requireCode(t, c.Exec(bob, func(n uint64) (*core.Transaction, error) { return bob.WithdrawRefund(tb.inst, n, 0) }), errs.ErrNothingOwed)

	inst := tb.instance(t)
	assert.Equal(t, game.Ended, inst.Phase)
	assert.True(t, inst.Resolved)
}

func TestSoleCommitterRefundedAtRevealEnd(t *testing.T) {
	tb := newTable(t, 0)
	c := tb.chain
	alice := tb.player(t, 100)

	requireOK(t, tb.start(t, twoPlayer))
	requireOK(t, tb.commit(alice, 42, "salt", 100))
	assert.Zero(t, c.Balance(alice.Address()))

	digest, err := crypto.ComputeDigest("salt", 42)
	require.NoError(t, err)
	committed := c.EventsOf(events.EventPlayerCommitted)
	require.Len(t, committed, 1)
	assert.Equal(t, digest.Hex(), committed[0].Data["digest"])

	c.AdvanceTo(tb.instance(t).RevealEnd)
	requireOK(t, tb.resolve(tb.host))
	results := c.EventsOf(events.EventGameResults)
	require.Len(t, results, 1, "a refund still publishes a result")
	assert.Equal(t, true, results[0].Data["refunded"])
	assert.Equal(t, uint64(0), results[0].Data["prize"])
	assert.NotContains(t, results[0].Data, "winner")
	ended := c.EventsOf(events.EventGameEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, true, ended[0].Data["refunded"])

	requireOK(t, c.Exec(alice, func(n uint64) (*core.Transaction, error) { return alice.WithdrawRefund(tb.inst, n, 0) }))
	assert.Equal(t, uint64(100), c.Balance(alice.Address()))
}

func TestTimeoutEscalation(t *testing.T) {
	tb := newTable(t, 0)
	c := tb.chain
	alice, bob, mallory := tb.player(t, 100), tb.player(t, 100), tb.player(t, 100)

	requireOK(t, tb.start(t, twoPlayer))
	requireOK(t, tb.commit(alice, 10, "x", 100))
	requireOK(t, tb.commit(bob, 20, "y", 100))
	c.Advance(60 * time.Second)
	requireOK(t, tb.reveal(bob, 20, "y"))

	revealEnd := tb.instance(t).RevealEnd
	c.AdvanceTo(revealEnd + game.TimeoutEscalation - 1)
	requireCode(t, tb.resolve(alice), errs.ErrTooEarly)
	requireCode(t, tb.resolve(mallory), errs.ErrUnauthorized)

	c.AdvanceTo(revealEnd + game.TimeoutEscalation)
	requireOK(t, tb.resolve(alice))

	owed, _ := c.State.GetOwed(tb.inst, bob.Address())
	assert.Equal(t, uint64(195), owed, "bob takes alice's forfeited stake")
	owed, _ = c.State.GetOwed(tb.inst, alice.Address())
	assert.Zero(t, owed)

	requireCode(t, tb.resolve(tb.host), errs.ErrPhaseViolation)
}

func TestOwnerTooEarly(t *testing.T) {
	tb := newTable(t, 0)
	requireOK(t, tb.start(t, twoPlayer))
	tb.chain.Advance(119 * time.Second)
	requireCode(t, tb.resolve(tb.host), errs.ErrTooEarly)
	tb.chain.Advance(time.Second)
	requireOK(t, tb.resolve(tb.host))
}

func TestFailedTransactionsLeaveNoTrace(t *testing.T) {
	tb := newTable(t, 0)
	c := tb.chain
	alice, carol := tb.player(t, 1000), tb.player(t, 50)

	requireOK(t, tb.start(t, twoPlayer))
	requireCode(t, tb.start(t, twoPlayer), errs.ErrPhaseViolation)

	requireCode(t, tb.commit(alice, 5, "s", 99), errs.ErrInvalidPayment)
	requireCode(t, tb.commit(carol, 5, "s", 100), errs.ErrInsufficientFunds)
	assert.Equal(t, uint64(1000), c.Balance(alice.Address()))
	assert.Equal(t, uint64(50), c.Balance(carol.Address()))
	assert.Empty(t, tb.instance(t).Commitments)
	assert.Empty(t, c.EventsOf(events.EventPlayerCommitted))

	// The nonce is still consumed so the failed transaction cannot be replayed.
	assert.Equal(t, uint64(1), c.Nonce(carol.Address()))

	requireOK(t, tb.commit(alice, 5, "s", 100))
	requireCode(t, tb.commit(alice, 6, "t", 100), errs.ErrDuplicateCommit)

	c.Advance(60 * time.Second)
	requireCode(t, tb.commit(carol, 5, "s", 100), errs.ErrPhaseViolation)
	requireCode(t, tb.reveal(alice, 6, "s"), errs.ErrRevealMismatch)
	requireCode(t, tb.reveal(carol, 5, "s"), errs.ErrUnknownCommitter)
	requireOK(t, tb.reveal(alice, 5, "s"))
	requireCode(t, tb.reveal(alice, 5, "s"), errs.ErrDuplicateReveal)

	inst := tb.instance(t)
	assert.LessOrEqual(t, len(inst.Reveals), len(inst.Commitments))
}

func TestCapacity(t *testing.T) {
	tb := newTable(t, 0)
	one := twoPlayer
	one.RequiredPlayers = 1
	requireOK(t, tb.start(t, one))

	alice, bob := tb.player(t, 100), tb.player(t, 100)
	requireOK(t, tb.commit(alice, 1, "a", 100))
	requireCode(t, tb.commit(bob, 2, "b", 100), errs.ErrCapacityExceeded)
}

func TestInstanceReuseAcrossGames(t *testing.T) {
	tb := newTable(t, 0)
	c := tb.chain
	alice := tb.player(t, 1000)

	for round := 1; round <= 2; round++ {
		requireOK(t, tb.start(t, twoPlayer))
		requireOK(t, tb.commit(alice, 500, "r", 100))
		c.Advance(60 * time.Second)
		requireOK(t, tb.reveal(alice, 500, "r"))
		c.Advance(60 * time.Second)
		requireOK(t, tb.resolve(tb.host))
	}

	inst := tb.instance(t)
	assert.Equal(t, uint64(2), inst.GameCount)
	assert.Equal(t, uint64(2), inst.Wins[alice.Address()])
	owed, _ := c.State.GetOwed(tb.inst, alice.Address())
	assert.Equal(t, uint64(190), owed, "credits accumulate until withdrawn")
}

func TestUnknownInstance(t *testing.T) {
	tb := newTable(t, 0)
	tb.inst = "does-not-exist"
	requireCode(t, tb.start(t, twoPlayer), errs.ErrNotFound)
}
