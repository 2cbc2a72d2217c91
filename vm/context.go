package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/ledger"
	"github.com/JdoubleU92/numgame/registry"
)

// State is everything a handler may read or write. storage.StateDB
// implements it.
type State interface {
	core.State
	game.Store
	ledger.Store
	registry.Store
}

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction. Events raised through
// Emit are buffered and only published once the handler has succeeded.
type Context struct {
	State State
	Block *core.Block
	Tx    *core.Transaction

	pending []events.Event
}

// Now is the block time in unix seconds.
func (c *Context) Now() int64 { return c.Block.Unix() }

// Sender is the verified caller of the transaction.
func (c *Context) Sender() core.Address { return c.Tx.From }

// Ledger returns a ledger over the context state.
func (c *Context) Ledger() *ledger.Ledger { return ledger.New(c.State) }

// Registry returns a registry over the context state.
func (c *Context) Registry() *registry.Registry { return registry.New(c.State) }

// Emit buffers an event for publication after the transaction applies.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.pending = append(c.pending, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Pending returns the buffered events in emission order.
func (c *Context) Pending() []events.Event { return c.pending }

// Debit removes amount from addr's account balance.
func (c *Context) Debit(addr core.Address, amount uint64) error {
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: have %d need %d", errs.ErrInsufficientFunds, acc.Balance, amount)
	}
	acc.Balance -= amount
	return c.State.SetAccount(acc)
}

// Deposit adds amount to addr's account balance.
func (c *Context) Deposit(addr core.Address, amount uint64) error {
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance overflow for %s", errs.ErrInvalidInput, addr.Short())
	}
	acc.Balance += amount
	return c.State.SetAccount(acc)
}

// Instance loads an instance, mapping a missing record to ErrNotFound with
// the instance ID attached.
func (c *Context) Instance(id string) (*game.Instance, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: instance_id is required", errs.ErrInvalidInput)
	}
	inst, err := c.State.GetInstance(id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("instance %s: %w", id, errs.ErrNotFound)
	}
	return inst, err
}

// Decode unmarshals the payload into v, reporting malformed input as
// ErrInvalidInput.
func Decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errs.ErrInvalidInput, err)
	}
	return nil
}
