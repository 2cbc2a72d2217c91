package game

import "github.com/JdoubleU92/numgame/core"

// Snapshot is the read model of an instance at a point in time.
type Snapshot struct {
	InstanceID      string       `json:"instance_id"`
	Owner           core.Address `json:"owner"`
	Factory         string       `json:"factory"`
	Phase           Phase        `json:"phase"`
	GameCount       uint64       `json:"game_count"`
	CommitEnd       int64        `json:"commit_end"`
	RevealEnd       int64        `json:"reveal_end"`
	Committed       int          `json:"committed"`
	Revealed        int          `json:"revealed"`
	RequiredPlayers int          `json:"required_players"`
	BuyIn           uint64       `json:"buy_in"`
	ServiceFee      uint64       `json:"service_fee"`
	PrizeAmount     uint64       `json:"prize_amount"`
	Active          bool         `json:"active"`
	Initialized     bool         `json:"initialized"`
	Retired         bool         `json:"retired"`
	LastResult      *Result      `json:"last_result,omitempty"`
	ObservedAt      int64        `json:"observed_at"`
}

// Snapshot evaluates the instance at now without modifying it.
func (g *Instance) Snapshot(now int64) Snapshot {
	phase := g.PhaseAt(now)
	snap := Snapshot{
		InstanceID:      g.ID,
		Owner:           g.Owner,
		Factory:         g.Factory,
		Phase:           phase,
		GameCount:       g.GameCount,
		CommitEnd:       g.CommitEnd,
		RevealEnd:       g.RevealEnd,
		Committed:       len(g.Commitments),
		Revealed:        len(g.Reveals),
		RequiredPlayers: g.Config.RequiredPlayers,
		BuyIn:           g.Config.BuyIn,
		ServiceFee:      g.Config.ServiceFee,
		Active:          phase.Active(),
		Initialized:     g.GameCount > 0,
		Retired:         g.Retired,
		ObservedAt:      now,
	}
	if snap.Initialized {
		snap.PrizeAmount = g.Config.PrizeAmount()
	}
	if g.LastResult != nil {
		res := *g.LastResult
		snap.LastResult = &res
	}
	return snap
}
