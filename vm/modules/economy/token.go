package economy

import (
	"encoding/json"
	"fmt"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: transfer amount must be > 0", errs.ErrInvalidInput)
	}
	if p.To.IsZero() {
		return fmt.Errorf("%w: transfer to address required", errs.ErrInvalidInput)
	}

	if err := ctx.Debit(ctx.Sender(), p.Amount); err != nil {
		return err
	}
	if err := ctx.Deposit(p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   string(ctx.Sender()),
		"to":     string(p.To),
		"amount": p.Amount,
	})
	return nil
}
