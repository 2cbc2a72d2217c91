// Package payout registers the pull-payment withdrawals and direct instance
// funding. Withdrawals are the only way value leaves a game.
package payout

import (
	"encoding/json"
	"fmt"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/vm"
)

func init() {
	vm.Register(core.TxWithdrawRefund, handleWithdrawRefund)
	vm.Register(core.TxWithdrawInstanceBalance, handleWithdrawInstance)
	vm.Register(core.TxWithdrawTemplateBalance, handleWithdrawTemplate)
	vm.Register(core.TxFundInstance, handleFundInstance)
}

// Withdrawal kinds reported in EventWithdrawal.
const (
	KindRefund   = "refund"
	KindInstance = "instance"
	KindTemplate = "template"
)

func emitWithdrawal(ctx *vm.Context, kind, instanceID string, amount uint64) {
	data := map[string]any{
		"kind":   kind,
		"to":     string(ctx.Sender()),
		"amount": amount,
	}
	if instanceID != "" {
		data[events.DataInstanceID] = instanceID
	}
	ctx.Emit(events.EventWithdrawal, data)
}

func handleWithdrawRefund(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InstancePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.InstanceID == "" {
		return fmt.Errorf("%w: instance_id is required", errs.ErrInvalidInput)
	}
	// Owed amounts outlive the instance record, so no instance lookup here.
	amount, err := ctx.Ledger().Withdraw(p.InstanceID, ctx.Sender())
	if err != nil {
		return err
	}
	if err := ctx.Deposit(ctx.Sender(), amount); err != nil {
		return err
	}
	emitWithdrawal(ctx, KindRefund, p.InstanceID, amount)
	return nil
}

func handleWithdrawInstance(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InstancePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	amount, err := ctx.Ledger().WithdrawInstance(ctx.Sender(), inst)
	if err != nil {
		return err
	}
	if err := ctx.Deposit(ctx.Sender(), amount); err != nil {
		return err
	}
	emitWithdrawal(ctx, KindInstance, inst.ID, amount)
	return nil
}

func handleWithdrawTemplate(ctx *vm.Context, _ json.RawMessage) error {
	info, err := ctx.Registry().Template()
	if err != nil {
		return fmt.Errorf("template info: %w", err)
	}
	amount, err := ctx.Ledger().WithdrawTemplate(ctx.Sender(), info.Owner)
	if err != nil {
		return err
	}
	if err := ctx.Deposit(ctx.Sender(), amount); err != nil {
		return err
	}
	emitWithdrawal(ctx, KindTemplate, "", amount)
	return nil
}

func handleFundInstance(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FundInstancePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: amount must be > 0", errs.ErrInvalidInput)
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	if err := ctx.Debit(ctx.Sender(), p.Amount); err != nil {
		return err
	}
	if err := ctx.Ledger().CreditInstance(inst.ID, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventFundsReceived, map[string]any{
		events.DataInstanceID: inst.ID,
		"from":                string(ctx.Sender()),
		"amount":              p.Amount,
	})
	return nil
}
