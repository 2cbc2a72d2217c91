package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/ledger"
)

const (
	host     = core.Address("host")
	player   = core.Address("player")
	template = core.Address("template")
)

func TestCreditAndWithdraw(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())

	require.NoError(t, l.Credit("inst", player, 100))
	require.NoError(t, l.Credit("inst", player, 90))
	require.NoError(t, l.Credit("other", player, 7))

	owed, err := l.Owed("inst", player)
	require.NoError(t, err)
	assert.Equal(t, uint64(190), owed)

	amount, err := l.Withdraw("inst", player)
	require.NoError(t, err)
	assert.Equal(t, uint64(190), amount)

	_, err = l.Withdraw("inst", player)
	require.ErrorIs(t, err, errs.ErrNothingOwed, "second withdrawal must fail")

	owed, err = l.Owed("other", player)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), owed, "balances are keyed per instance")
}

func TestWithdrawWithoutCredit(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())
	_, err := l.Withdraw("inst", player)
	require.ErrorIs(t, err, errs.ErrNothingOwed)
}

func TestCreditOverflow(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())
	require.NoError(t, l.Credit("inst", player, ^uint64(0)))
	require.ErrorIs(t, l.Credit("inst", player, 1), errs.ErrInvalidInput)
}

func TestInstanceBalanceOwnerOnly(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())
	inst := game.NewInstance("inst", host, "factory", 0)

	require.NoError(t, l.CreditInstance("inst", 9))

	_, err := l.WithdrawInstance(player, inst)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	amount, err := l.WithdrawInstance(host, inst)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), amount)

	_, err = l.WithdrawInstance(host, inst)
	require.ErrorIs(t, err, errs.ErrNothingOwed)
}

func TestTemplateBalanceOwnerOnly(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())
	require.NoError(t, l.CreditTemplate(3))
	require.NoError(t, l.CreditTemplate(4))

	bal, err := l.TemplateBalance()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal)

	_, err = l.WithdrawTemplate(host, template)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = l.WithdrawTemplate(core.ZeroAddress, core.ZeroAddress)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	amount, err := l.WithdrawTemplate(template, template)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), amount)
}

func TestApplySettlement(t *testing.T) {
	l := ledger.New(testutil.NewStateDB())
	s := &game.Settlement{
		InstanceID:     "inst",
		Credits:        []game.Credit{{Address: player, Amount: 190}},
		InstanceCredit: 9,
		TemplateCredit: 1,
	}
	require.NoError(t, l.ApplySettlement(s))

	owed, _ := l.Owed("inst", player)
	ibal, _ := l.InstanceBalance("inst")
	tbal, _ := l.TemplateBalance()
	assert.Equal(t, uint64(190), owed)
	assert.Equal(t, uint64(9), ibal)
	assert.Equal(t, uint64(1), tbal)
	assert.Equal(t, s.Total(), owed+ibal+tbal)
}
