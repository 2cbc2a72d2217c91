package testutil

import (
	"testing"
	"time"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/registry"
	"github.com/JdoubleU92/numgame/storage"
	"github.com/JdoubleU92/numgame/vm"
	"github.com/JdoubleU92/numgame/wallet"

	// Register VM modules
	_ "github.com/JdoubleU92/numgame/vm/modules/economy"
	_ "github.com/JdoubleU92/numgame/vm/modules/factory"
	_ "github.com/JdoubleU92/numgame/vm/modules/numgame"
	_ "github.com/JdoubleU92/numgame/vm/modules/payout"
)

// ChainID is the chain every test wallet signs for.
const ChainID = "numgame-test"

// Factory is trusted in every Chain created by NewChain.
const Factory = "factory-main"

// Chain executes transactions one per block against an in-memory state with
// a controllable clock. It records every emitted event.
type Chain struct {
	t        *testing.T
	DB       *MemDB
	State    *storage.StateDB
	Emitter  *events.Emitter
	Executor *vm.Executor
	Template *wallet.Wallet
	Events   []events.Event

	now    time.Time
	height int64
}

// NewChain returns a chain whose template owner trusts Factory and takes
// royaltyPercent of service fees.
func NewChain(t *testing.T, royaltyPercent uint64) *Chain {
	t.Helper()
	db := NewMemDB()
	state := storage.NewStateDB(db)
	emitter := events.NewEmitter()
	tmpl := NewWallet(t)

	if err := state.SetTemplateInfo(&registry.TemplateInfo{Owner: tmpl.Address(), RoyaltyPercent: royaltyPercent}); err != nil {
		t.Fatal(err)
	}
	if err := state.SetTrusted(Factory, true); err != nil {
		t.Fatal(err)
	}

	c := &Chain{
		t:        t,
		DB:       db,
		State:    state,
		Emitter:  emitter,
		Executor: vm.NewExecutor(ChainID, state, emitter),
		Template: tmpl,
		now:      time.Unix(1_700_000_000, 0),
	}
	for _, typ := range append(events.GameEvents, events.EventFactoryTrusted, events.EventFactoryUntrusted, events.EventTokenTransfer) {
		emitter.Subscribe(typ, func(ev events.Event) { c.Events = append(c.Events, ev) })
	}
	return c
}

// NewWallet generates a wallet for ChainID.
func NewWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(ChainID)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// Fund sets addr's spendable balance.
func (c *Chain) Fund(addr core.Address, balance uint64) {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatal(err)
	}
	acc.Balance = balance
	if err := c.State.SetAccount(acc); err != nil {
		c.t.Fatal(err)
	}
}

// Balance returns addr's spendable balance.
func (c *Chain) Balance(addr core.Address) uint64 {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatal(err)
	}
	return acc.Balance
}

// Now returns the current chain time in unix seconds.
func (c *Chain) Now() int64 { return c.now.Unix() }

// Advance moves the chain clock forward.
func (c *Chain) Advance(d time.Duration) { c.now = c.now.Add(d) }

// AdvanceTo moves the chain clock to unix second ts.
func (c *Chain) AdvanceTo(ts int64) { c.now = time.Unix(ts, 0) }

// Nonce returns the next nonce for addr.
func (c *Chain) Nonce(addr core.Address) uint64 {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatal(err)
	}
	return acc.Nonce
}

// Exec builds a transaction from w at its current nonce with zero fee and
// executes it in a new block at the current clock.
func (c *Chain) Exec(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Receipt {
	c.t.Helper()
	tx, err := build(c.Nonce(w.Address()))
	if err != nil {
		c.t.Fatalf("build tx: %v", err)
	}
	receipt, err := c.ExecTx(tx)
	if err != nil {
		c.t.Fatalf("execute %s: %v", tx.Type, err)
	}
	return receipt
}

// ExecTx executes tx in a new block at the current clock.
func (c *Chain) ExecTx(tx *core.Transaction) (*core.Receipt, error) {
	c.height++
	block := core.NewBlockAt(c.height, "", "", []*core.Transaction{tx}, c.now)
	return c.Executor.ExecuteTx(block, tx)
}

// EventsOf returns the recorded events of typ.
func (c *Chain) EventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range c.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
