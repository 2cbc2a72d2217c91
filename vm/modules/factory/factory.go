// Package factory registers the clone and trust-list transactions.
package factory

import (
	"encoding/json"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/vm"
)

func init() {
	vm.Register(core.TxCreateClone, handleCreateClone)
	vm.Register(core.TxReleaseClone, handleReleaseClone)
	vm.Register(core.TxAddTrustedFactory, handleAddTrusted)
	vm.Register(core.TxRemoveTrustedFactory, handleRemoveTrusted)
}

func handleCreateClone(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateClonePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Registry().CreateClone(p.Factory, ctx.Sender(), ctx.Tx.ID, ctx.Now())
	if err != nil {
		return err
	}
	ctx.Emit(events.EventCloneCreated, map[string]any{
		events.DataInstanceID: inst.ID,
		"factory":             p.Factory,
		"owner":               string(inst.Owner),
	})
	return nil
}

func handleReleaseClone(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ReleaseClonePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Registry().ReleaseClone(p.Factory, ctx.Sender(), ctx.Now())
	if err != nil {
		return err
	}
	ctx.Emit(events.EventCloneReleased, map[string]any{
		events.DataInstanceID: inst.ID,
		"factory":             inst.Factory,
		"owner":               string(inst.Owner),
	})
	return nil
}

func handleAddTrusted(ctx *vm.Context, payload json.RawMessage) error {
	return setTrusted(ctx, payload, true)
}

func handleRemoveTrusted(ctx *vm.Context, payload json.RawMessage) error {
	return setTrusted(ctx, payload, false)
}

func setTrusted(ctx *vm.Context, payload json.RawMessage, trusted bool) error {
	var p core.TrustedFactoryPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	reg := ctx.Registry()
	change, typ := reg.RemoveTrustedFactory, events.EventFactoryUntrusted
	if trusted {
		change, typ = reg.AddTrustedFactory, events.EventFactoryTrusted
	}
	changed, err := change(ctx.Sender(), p.Factory)
	if err != nil || !changed {
		return err
	}
	ctx.Emit(typ, map[string]any{"factory": p.Factory})
	return nil
}
