package game

import (
	"fmt"
	"math/bits"

	"github.com/JdoubleU92/numgame/core/errs"
)

// TimeoutEscalation is how long after the reveal deadline any committed
// player may force resolution when the owner has not.
const TimeoutEscalation int64 = 86400

// Config fixes the rules of one game. It is immutable once the game starts.
type Config struct {
	RequiredPlayers int    `json:"required_players"`
	BuyIn           uint64 `json:"buy_in"`
	ServiceFee      uint64 `json:"service_fee"`     // charged per successful reveal
	CommitDuration  int64  `json:"commit_duration"` // seconds
	RevealDuration  int64  `json:"reveal_duration"` // seconds
}

// Validate rejects configurations that cannot produce a well-formed game.
func (c Config) Validate() error {
	switch {
	case c.RequiredPlayers < 1:
		return fmt.Errorf("%w: required players must be >= 1, got %d", errs.ErrInvalidInput, c.RequiredPlayers)
	case c.CommitDuration <= 0:
		return fmt.Errorf("%w: commit duration must be > 0", errs.ErrInvalidInput)
	case c.RevealDuration <= 0:
		return fmt.Errorf("%w: reveal duration must be > 0", errs.ErrInvalidInput)
	case c.ServiceFee > c.BuyIn:
		return fmt.Errorf("%w: service fee %d exceeds buy-in %d", errs.ErrInvalidInput, c.ServiceFee, c.BuyIn)
	}
	if hi, _ := bits.Mul64(c.BuyIn, uint64(c.RequiredPlayers)); hi != 0 {
		return fmt.Errorf("%w: buy-in times players overflows", errs.ErrInvalidInput)
	}
	return nil
}

// PrizeAmount is the pool paid out when every seat commits and reveals.
func (c Config) PrizeAmount() uint64 {
	return (c.BuyIn - c.ServiceFee) * uint64(c.RequiredPlayers)
}
