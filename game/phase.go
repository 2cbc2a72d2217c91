package game

import "fmt"

// Phase is the lifecycle position of a game instance.
type Phase uint8

const (
	Idle Phase = iota
	Committing
	Revealing
	TimeoutWindow
	Ended
)

var phaseNames = [...]string{
	Idle:          "idle",
	Committing:    "committing",
	Revealing:     "revealing",
	TimeoutWindow: "timeout_window",
	Ended:         "ended",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Active reports whether a game is running and not yet resolved.
func (p Phase) Active() bool {
	return p == Committing || p == Revealing || p == TimeoutWindow
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
