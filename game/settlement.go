package game

import "github.com/JdoubleU92/numgame/core"

// Credit is an amount owed to one address by an instance.
type Credit struct {
	Address core.Address `json:"address"`
	Amount  uint64       `json:"amount"`
}

// Settlement is the fund movement produced by resolving a game. Its total
// always equals the escrow the game collected.
type Settlement struct {
	InstanceID     string   `json:"instance_id"`
	GameCount      uint64   `json:"game_count"`
	Credits        []Credit `json:"credits"`
	InstanceCredit uint64   `json:"instance_credit"`
	TemplateCredit uint64   `json:"template_credit"`
	Result         Result   `json:"result"`
}

// Total sums every credit in the settlement.
func (s *Settlement) Total() uint64 {
	total := s.InstanceCredit + s.TemplateCredit
	for _, c := range s.Credits {
		total += c.Amount
	}
	return total
}

func settle(g *Instance, rule TargetRule, royaltyPercent uint64) *Settlement {
	s := &Settlement{
		InstanceID: g.ID,
		GameCount:  g.GameCount,
		Result:     Result{GameCount: g.GameCount, Rule: rule.Name()},
	}

	if len(g.Reveals) == 0 {
		for _, c := range g.Commitments {
			if c.Paid > 0 {
				s.Credits = append(s.Credits, Credit{Address: c.Player, Amount: c.Paid})
			}
		}
		s.Result.Refunded = true
		return s
	}

	revealed := uint64(len(g.Reveals))
	fees := g.Config.ServiceFee * revealed
	prize := g.Escrow() - fees

	idx, target := SelectWinner(g.Reveals, rule)
	winner := g.Reveals[idx]
	s.Credits = []Credit{{Address: winner.Player, Amount: prize}}
	s.TemplateCredit = royalty(fees, royaltyPercent)
	s.InstanceCredit = fees - s.TemplateCredit

	s.Result.Winner = winner.Player
	s.Result.WinnerNumber = winner.Number
	s.Result.Target = target
	s.Result.Prize = prize
	return s
}

// royalty computes fees*pct/100 without overflowing for large fee totals.
func royalty(fees, pct uint64) uint64 {
	return (fees/100)*pct + (fees%100)*pct/100
}
