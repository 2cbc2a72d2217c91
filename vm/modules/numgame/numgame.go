// Package numgame registers the game round transactions: start, commit,
// reveal and winner determination.
package numgame

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/vm"
)

func init() {
	vm.Register(core.TxStartGame, handleStartGame)
	vm.Register(core.TxCommit, handleCommit)
	vm.Register(core.TxReveal, handleReveal)
	vm.Register(core.TxDetermineWinner, handleDetermineWinner)
}

func handleStartGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StartGamePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	cfg := game.Config{
		RequiredPlayers: p.RequiredPlayers,
		BuyIn:           p.BuyIn,
		ServiceFee:      p.ServiceFee,
		CommitDuration:  p.CommitDuration,
		RevealDuration:  p.RevealDuration,
	}
	if err := inst.Start(ctx.Sender(), cfg, ctx.Now()); err != nil {
		return err
	}
	if err := ctx.State.SetInstance(inst); err != nil {
		return err
	}

	ctx.Emit(events.EventGameStarted, map[string]any{
		events.DataInstanceID: inst.ID,
		"game_count":          inst.GameCount,
		"players":             cfg.RequiredPlayers,
		"buy_in":              cfg.BuyIn,
		"service_fee":         cfg.ServiceFee,
		"prize_amount":        cfg.PrizeAmount(),
		"commit_end":          inst.CommitEnd,
		"reveal_end":          inst.RevealEnd,
	})
	return nil
}

func handleCommit(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CommitPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	if err := inst.Commit(ctx.Sender(), p.Digest, p.Value, ctx.Now()); err != nil {
		return err
	}
	if err := ctx.Debit(ctx.Sender(), p.Value); err != nil {
		return fmt.Errorf("escrow buy-in: %w", err)
	}
	if err := ctx.State.SetInstance(inst); err != nil {
		return err
	}

	ctx.Emit(events.EventPlayerCommitted, map[string]any{
		events.DataInstanceID: inst.ID,
		"game_count":          inst.GameCount,
		"player":              string(ctx.Sender()),
		"digest":              p.Digest.Hex(),
		"committed":           len(inst.Commitments),
		"required_players":    inst.Config.RequiredPlayers,
	})
	return nil
}

func handleReveal(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RevealPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	if err := inst.Reveal(ctx.Sender(), p.Number, p.Salt, ctx.Now()); err != nil {
		return err
	}
	if err := ctx.State.SetInstance(inst); err != nil {
		return err
	}

	ctx.Emit(events.EventPlayerRevealed, map[string]any{
		events.DataInstanceID: inst.ID,
		"game_count":          inst.GameCount,
		"player":              string(ctx.Sender()),
		"number":              p.Number,
		"revealed":            len(inst.Reveals),
	})
	return nil
}

func handleDetermineWinner(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InstancePayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	inst, err := ctx.Instance(p.InstanceID)
	if err != nil {
		return err
	}
	// Authorization and timing come first so callers get the precise error.
	if err := inst.CheckResolver(ctx.Sender(), ctx.Now()); err != nil {
		return err
	}

	reg := ctx.Registry()
	rule := game.DefaultRule
	info, err := reg.Template()
	switch {
	case err == nil:
		if rule, err = game.RuleByName(info.TargetRule); err != nil {
			return err
		}
	case !errors.Is(err, errs.ErrNotFound):
		return err
	}
	pct, err := reg.RoyaltyPercent(inst)
	if err != nil {
		return err
	}

	settlement, err := inst.Resolve(ctx.Sender(), rule, pct, ctx.Now())
	if err != nil {
		return err
	}
	if err := ctx.Ledger().ApplySettlement(settlement); err != nil {
		return err
	}
	if err := ctx.State.SetInstance(inst); err != nil {
		return err
	}

	// Every resolution publishes a result; a refund carries no winner.
	res := settlement.Result
	results := map[string]any{
		events.DataInstanceID: inst.ID,
		"game_count":          res.GameCount,
		"refunded":            res.Refunded,
		"prize":               res.Prize,
	}
	if !res.Refunded {
		results["winner"] = string(res.Winner)
		results["total_wins"] = res.TotalWins
		results["winners_number"] = res.WinnerNumber
		results["target_number"] = res.Target
	}
	ctx.Emit(events.EventGameResults, results)
	ctx.Emit(events.EventGameEnded, map[string]any{
		events.DataInstanceID: inst.ID,
		"game_count":          res.GameCount,
		"refunded":            res.Refunded,
		"instance_credit":     settlement.InstanceCredit,
		"template_credit":     settlement.TemplateCredit,
		"resolved_by":         string(res.ResolvedBy),
	})
	return nil
}
