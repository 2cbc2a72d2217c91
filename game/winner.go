package game

import (
	"fmt"
	"sort"

	"github.com/JdoubleU92/numgame/core/errs"
)

// TargetRule derives the target number from the revealed numbers. It must be
// pure and deterministic; the winner is the reveal closest to the target.
type TargetRule interface {
	Name() string
	Target(numbers []int) int
}

// MeanRule targets the floor of the arithmetic mean.
type MeanRule struct{}

func (MeanRule) Name() string { return "mean" }

func (MeanRule) Target(numbers []int) int {
	if len(numbers) == 0 {
		return 0
	}
	sum := 0
	for _, n := range numbers {
		sum += n
	}
	return sum / len(numbers)
}

// MedianRule targets the lower median.
type MedianRule struct{}

func (MedianRule) Name() string { return "median" }

func (MedianRule) Target(numbers []int) int {
	if len(numbers) == 0 {
		return 0
	}
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)
	return sorted[(len(sorted)-1)/2]
}

// DefaultRule is used when no rule is configured.
var DefaultRule TargetRule = MeanRule{}

// RuleByName resolves a configured rule name; "" selects DefaultRule.
func RuleByName(name string) (TargetRule, error) {
	switch name {
	case "":
		return DefaultRule, nil
	case "mean":
		return MeanRule{}, nil
	case "median":
		return MedianRule{}, nil
	}
	return nil, fmt.Errorf("%w: unknown target rule %q", errs.ErrInvalidInput, name)
}

// SelectWinner returns the index of the winning reveal and the target.
// Exact distance ties go to the earliest reveal. reveals must be non-empty.
func SelectWinner(reveals []Reveal, rule TargetRule) (int, int) {
	numbers := make([]int, len(reveals))
	for i, r := range reveals {
		numbers[i] = r.Number
	}
	target := rule.Target(numbers)
	best, bestDist := 0, distance(numbers[0], target)
	for i := 1; i < len(numbers); i++ {
		if d := distance(numbers[i], target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, target
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
