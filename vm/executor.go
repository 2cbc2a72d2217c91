package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
)

// ErrRejected marks a transaction that never reached its handler: bad
// signature, foreign chain, unknown type, wrong nonce or unpayable fee. A
// rejected transaction leaves no trace in state and is not included in a block.
var ErrRejected = errors.New("transaction rejected")

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state    State
	emitter  *events.Emitter
	chainID  string
	registry *Registry

	deferred bool
	queued   []events.Event
}

// NewExecutor creates an Executor for chainID with the given state and event
// emitter. emitter may be nil.
func NewExecutor(chainID string, state State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter, chainID: chainID, registry: globalRegistry}
}

// State returns the state the executor writes to.
func (e *Executor) State() State { return e.state }

// DeferEvents makes the executor queue events instead of emitting them, so a
// block producer can publish them only once the block is committed.
func (e *Executor) DeferEvents(on bool) { e.deferred = on }

// FlushEvents emits and clears the queued events in execution order.
func (e *Executor) FlushEvents() {
	queued := e.queued
	e.queued = nil
	if e.emitter == nil {
		return
	}
	for _, ev := range queued {
		e.emitter.Emit(ev)
	}
}

// DiscardEvents drops the queued events of a block that was not committed.
func (e *Executor) DiscardEvents() { e.queued = nil }

func (e *Executor) publish(ev events.Event) {
	if e.deferred {
		e.queued = append(e.queued, ev)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// ExecuteTx runs one transaction inside block.
//
// A transaction that fails validation is rejected with an error wrapping
// ErrRejected and changes nothing. Otherwise the nonce and fee are consumed,
// the handler runs against a snapshot, and a receipt is stored: on handler
// failure the handler's writes are reverted and the receipt carries the
// error code. Events buffered by the handler are emitted only on success,
// followed by EventTxExecuted for every receipt.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	if err := e.validate(tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := e.chargeFee(tx); err != nil {
		return nil, err
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{State: e.state, Block: block, Tx: tx}
	receipt := &core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: block.Header.Height,
		Status:      core.ReceiptOK,
	}

	if herr := e.registry.Execute(tx.Type, ctx, tx.Payload); herr != nil {
		if err := e.state.RevertToSnapshot(snapID); err != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (handler: %v)", err, herr)
		}
		receipt.Status = core.ReceiptFailed
		receipt.Code = errs.Code(herr)
		receipt.Error = herr.Error()
		ctx.pending = nil
	}
	if err := e.state.SetReceipt(receipt); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	for _, ev := range ctx.pending {
		e.publish(ev)
	}
	e.publish(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"type":   string(tx.Type),
			"from":   string(tx.From),
			"status": string(receipt.Status),
			"code":   receipt.Code,
		},
	})
	return receipt, nil
}

func (e *Executor) validate(tx *core.Transaction) error {
	if tx.ChainID != e.chainID {
		return fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if !e.registry.Has(tx.Type) {
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if _, err := e.state.GetReceipt(tx.ID); err == nil {
		return fmt.Errorf("transaction %s already executed", tx.ID)
	}
	return nil
}

// chargeFee increments the nonce and deducts the fee. These writes survive a
// handler failure so a failed transaction cannot be replayed for free.
func (e *Executor) chargeFee(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("%w: invalid nonce: expected %d got %d", ErrRejected, acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("%w: insufficient balance for fee: have %d need %d", ErrRejected, acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("%w: nonce overflow for account %s", ErrRejected, tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}
