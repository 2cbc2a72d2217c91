// Package game implements the commit-reveal game instance state machine.
//
// An Instance is pure in-memory state: every transition takes the caller and
// the current time explicitly, validates completely before mutating, and
// leaves the instance untouched when it returns an error. Persistence, fund
// movement and event emission belong to the VM handlers that drive it.
package game

import (
	"fmt"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
)

// Commitment is a player's hidden number and the buy-in they escrowed.
type Commitment struct {
	Player core.Address  `json:"player"`
	Digest crypto.Digest `json:"digest"`
	Paid   uint64        `json:"paid"`
}

// Reveal is a verified disclosure of a committed number.
type Reveal struct {
	Player core.Address `json:"player"`
	Number int          `json:"number"`
	Salt   string       `json:"salt"`
}

// Result describes how the most recent game was resolved.
type Result struct {
	GameCount    uint64       `json:"game_count"`
	Winner       core.Address `json:"winner,omitempty"`
	WinnerNumber int          `json:"winner_number"`
	Target       int          `json:"target"`
	Rule         string       `json:"rule,omitempty"`
	Prize        uint64       `json:"prize"`
	TotalWins    uint64       `json:"total_wins"`
	Refunded     bool         `json:"refunded"` // no valid reveal, every committer refunded
	ResolvedAt   int64        `json:"resolved_at"`
	ResolvedBy   core.Address `json:"resolved_by"`
}

// Instance is one clone's game state across all of its rounds.
type Instance struct {
	ID        string       `json:"id"`
	Owner     core.Address `json:"owner"`
	Factory   string       `json:"factory"`
	CreatedAt int64        `json:"created_at"`

	Config      Config       `json:"config"`
	Commitments []Commitment `json:"commitments"`
	Reveals     []Reveal     `json:"reveals"`
	Phase       Phase        `json:"phase"`
	GameCount   uint64       `json:"game_count"`
	CommitEnd   int64        `json:"commit_end"`
	RevealEnd   int64        `json:"reveal_end"`
	Resolved    bool         `json:"resolved"`
	Retired     bool         `json:"retired"`

	Wins       map[core.Address]uint64 `json:"wins"`
	LastResult *Result                 `json:"last_result,omitempty"`
}

// Store persists instances. storage.StateDB implements it.
type Store interface {
	GetInstance(id string) (*Instance, error)
	SetInstance(inst *Instance) error
}

// NewInstance returns an idle instance bound to owner.
func NewInstance(id string, owner core.Address, factory string, now int64) *Instance {
	return &Instance{
		ID:        id,
		Owner:     owner,
		Factory:   factory,
		CreatedAt: now,
		Phase:     Idle,
		Wins:      map[core.Address]uint64{},
	}
}

// PhaseAt returns the phase the instance is in at now. Deadlines are applied
// lazily: the stored phase only catches up when a transition is committed.
func (g *Instance) PhaseAt(now int64) Phase {
	switch g.Phase {
	case Committing, Revealing, TimeoutWindow:
		if now >= g.RevealEnd {
			return TimeoutWindow
		}
		if now >= g.CommitEnd {
			return Revealing
		}
		return Committing
	}
	return g.Phase
}

// Advance stores the phase observed at now.
func (g *Instance) Advance(now int64) {
	g.Phase = g.PhaseAt(now)
}

// Active reports whether an unresolved game is running.
func (g *Instance) Active() bool {
	return g.Phase.Active()
}

// CommitmentOf returns the index of player's commitment, or -1.
func (g *Instance) CommitmentOf(player core.Address) int {
	for i, c := range g.Commitments {
		if c.Player == player {
			return i
		}
	}
	return -1
}

// HasRevealed reports whether player has a verified reveal this game.
func (g *Instance) HasRevealed(player core.Address) bool {
	for _, r := range g.Reveals {
		if r.Player == player {
			return true
		}
	}
	return false
}

// Escrow is the total buy-in collected by the current game.
func (g *Instance) Escrow() uint64 {
	var total uint64
	for _, c := range g.Commitments {
		total += c.Paid
	}
	return total
}

// Start opens a new game. Only the owner may start one, and only while no
// game is running.
func (g *Instance) Start(caller core.Address, cfg Config, now int64) error {
	if caller != g.Owner {
		return fmt.Errorf("%w: only the instance owner can start a game", errs.ErrUnauthorized)
	}
	if g.Retired {
		return fmt.Errorf("%w: instance %s is retired", errs.ErrPhaseViolation, g.ID)
	}
	if phase := g.PhaseAt(now); phase != Idle && phase != Ended {
		return fmt.Errorf("%w: cannot start a game while %s", errs.ErrPhaseViolation, phase)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.Config = cfg
	g.CommitEnd = now + cfg.CommitDuration
	g.RevealEnd = g.CommitEnd + cfg.RevealDuration
	g.Commitments = nil
	g.Reveals = nil
	g.Resolved = false
	g.GameCount++
	g.Phase = Committing
	return nil
}

// Commit records player's digest. paid must equal the buy-in exactly.
func (g *Instance) Commit(player core.Address, digest crypto.Digest, paid uint64, now int64) error {
	if phase := g.PhaseAt(now); phase != Committing {
		return fmt.Errorf("%w: commits are not accepted while %s", errs.ErrPhaseViolation, phase)
	}
	if g.CommitmentOf(player) >= 0 {
		return fmt.Errorf("%w: %s already committed in game %d", errs.ErrDuplicateCommit, player.Short(), g.GameCount)
	}
	if len(g.Commitments) >= g.Config.RequiredPlayers {
		return fmt.Errorf("%w: all %d seats are taken", errs.ErrCapacityExceeded, g.Config.RequiredPlayers)
	}
	if paid != g.Config.BuyIn {
		return fmt.Errorf("%w: paid %d, buy-in is %d", errs.ErrInvalidPayment, paid, g.Config.BuyIn)
	}

	g.Commitments = append(g.Commitments, Commitment{Player: player, Digest: digest, Paid: paid})
	g.Phase = Committing
	return nil
}

// Reveal verifies (number, salt) against player's commitment. A mismatch
// returns ErrRevealMismatch and changes nothing; the stake stays escrowed and
// the player may retry while the reveal window is open.
func (g *Instance) Reveal(player core.Address, number int, salt string, now int64) error {
	if phase := g.PhaseAt(now); phase != Revealing {
		return fmt.Errorf("%w: reveals are not accepted while %s", errs.ErrPhaseViolation, phase)
	}
	if err := crypto.ValidateNumber(number); err != nil {
		return err
	}
	idx := g.CommitmentOf(player)
	if idx < 0 {
		return fmt.Errorf("%w: %s has no commitment in game %d", errs.ErrUnknownCommitter, player.Short(), g.GameCount)
	}
	if g.HasRevealed(player) {
		return fmt.Errorf("%w: %s already revealed", errs.ErrDuplicateReveal, player.Short())
	}
	if !crypto.VerifyDigest(g.Commitments[idx].Digest, salt, number) {
		return fmt.Errorf("%w: player %s", errs.ErrRevealMismatch, player.Short())
	}

	g.Reveals = append(g.Reveals, Reveal{Player: player, Number: number, Salt: salt})
	g.Phase = Revealing
	return nil
}

// CheckResolver reports whether caller may resolve the running game at now.
// The owner may resolve once the reveal window closed; any committer may
// once TimeoutEscalation has also elapsed.
func (g *Instance) CheckResolver(caller core.Address, now int64) error {
	if !g.PhaseAt(now).Active() {
		return fmt.Errorf("%w: no game to resolve", errs.ErrPhaseViolation)
	}
	switch {
	case caller == g.Owner:
		if now < g.RevealEnd {
			return fmt.Errorf("%w: reveal phase ends at %d", errs.ErrTooEarly, g.RevealEnd)
		}
	case g.CommitmentOf(caller) >= 0:
		if now < g.RevealEnd+TimeoutEscalation {
			return fmt.Errorf("%w: players may resolve from %d", errs.ErrTooEarly, g.RevealEnd+TimeoutEscalation)
		}
	default:
		return fmt.Errorf("%w: only the owner or a committed player can resolve", errs.ErrUnauthorized)
	}
	return nil
}

// Resolve ends the running game and returns the credits to apply to the
// ledger. royaltyPercent is the template's share of collected service fees
// (0 when the instance's factory is not trusted).
func (g *Instance) Resolve(caller core.Address, rule TargetRule, royaltyPercent uint64, now int64) (*Settlement, error) {
	if err := g.CheckResolver(caller, now); err != nil {
		return nil, err
	}
	if royaltyPercent > 100 {
		return nil, fmt.Errorf("%w: royalty percent %d", errs.ErrInvalidInput, royaltyPercent)
	}
	if rule == nil {
		rule = DefaultRule
	}

	s := settle(g, rule, royaltyPercent)
	s.Result.ResolvedAt = now
	s.Result.ResolvedBy = caller
	if !s.Result.Refunded {
		if g.Wins == nil {
			g.Wins = map[core.Address]uint64{}
		}
		g.Wins[s.Result.Winner]++
		s.Result.TotalWins = g.Wins[s.Result.Winner]
	}

	res := s.Result
	g.LastResult = &res
	g.Phase = Ended
	g.Resolved = true
	return s, nil
}
