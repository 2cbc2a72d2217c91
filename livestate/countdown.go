package livestate

import (
	"fmt"

	"github.com/JdoubleU92/numgame/game"
)

// Region is the deadline a countdown is running towards.
type Region uint8

const (
	RegionCommit  Region = iota // counting down to the commit deadline
	RegionReveal                // counting down to the reveal deadline
	RegionTimeout               // counting down to the end of the escalation window
	RegionExpired               // every deadline has passed
)

var regionNames = [...]string{"commit", "reveal", "timeout", "expired"}

func (r Region) String() string { return regionNames[r] }

// MarshalText encodes the region by name.
func (r Region) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText decodes a region name.
func (r *Region) UnmarshalText(text []byte) error {
	i, err := lookupName(regionNames[:], text, "region")
	*r = Region(i)
	return err
}

// Severity tiers the urgency of a countdown.
type Severity uint8

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityCritical
)

var severityNames = [...]string{"normal", "warning", "critical"}

func (s Severity) String() string { return severityNames[s] }

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	i, err := lookupName(severityNames[:], text, "severity")
	*s = Severity(i)
	return err
}

func lookupName(names []string, text []byte, kind string) (int, error) {
	for i, name := range names {
		if name == string(text) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, text)
}

// Severity thresholds in seconds.
const (
	phaseWarning    = 30 * 60
	phaseCritical   = 5 * 60
	timeoutWarning  = 6 * 60 * 60
	timeoutCritical = 60 * 60
)

// Countdown is the timer view of an active game at one instant.
type Countdown struct {
	Region   Region `json:"region"`
	Deadline int64  `json:"deadline"`
	// Remaining is the whole seconds left until Deadline, 0 once expired.
	Remaining int64 `json:"remaining"`
	// Elapsed is the seconds since the region opened. The commit region has
	// no known opening, so it reports 0; the expired region reports how long
	// resolution is overdue.
	Elapsed  int64    `json:"elapsed"`
	Hours    int64    `json:"hours"`
	Minutes  int64    `json:"minutes"`
	Seconds  int64    `json:"seconds"`
	Severity Severity `json:"severity"`
}

// CountdownAt computes the countdown at now for a game whose commit and
// reveal phases end at commitEnd and revealEnd. Region boundaries match the
// engine: a deadline belongs to the region after it.
func CountdownAt(now, commitEnd, revealEnd int64) Countdown {
	timeoutEnd := revealEnd + game.TimeoutEscalation

	var c Countdown
	switch {
	case now < commitEnd:
		c = Countdown{Region: RegionCommit, Deadline: commitEnd}
		c.Severity = tier(commitEnd-now, phaseWarning, phaseCritical)
	case now < revealEnd:
		c = Countdown{Region: RegionReveal, Deadline: revealEnd, Elapsed: now - commitEnd}
		c.Severity = tier(revealEnd-now, phaseWarning, phaseCritical)
	case now < timeoutEnd:
		c = Countdown{Region: RegionTimeout, Deadline: timeoutEnd, Elapsed: now - revealEnd}
		c.Severity = tier(timeoutEnd-now, timeoutWarning, timeoutCritical)
	default:
		return Countdown{Region: RegionExpired, Deadline: timeoutEnd, Elapsed: now - timeoutEnd, Severity: SeverityCritical}
	}
	c.Remaining = c.Deadline - now
	c.Hours = c.Remaining / 3600
	c.Minutes = c.Remaining % 3600 / 60
	c.Seconds = c.Remaining % 60
	return c
}

func tier(remaining, warning, critical int64) Severity {
	switch {
	case remaining < critical:
		return SeverityCritical
	case remaining < warning:
		return SeverityWarning
	}
	return SeverityNormal
}

// CountdownOf returns the countdown of snap at now, or false when no game is
// running.
func CountdownOf(snap game.Snapshot, now int64) (Countdown, bool) {
	if !snap.Active {
		return Countdown{}, false
	}
	return CountdownAt(now, snap.CommitEnd, snap.RevealEnd), true
}
