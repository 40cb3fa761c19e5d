package thermal

import (
	"fmt"
	"time"
)

// State is the guard's escalation level.
type State int

const (
	Normal State = iota
	Elevated
	Critical
	Emergency
)

var stateNames = [...]string{"normal", "elevated", "critical", "emergency"}

func (s State) String() string {
	if s < Normal || s > Emergency {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown thermal state %q", b)
}

// Transition is one state change.
type Transition struct {
	From        State     `json:"from"`
	To          State     `json:"to"`
	Temperature float64   `json:"temperature"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// Alert marks a channel the guard could not write because its device
// was unavailable. It stays until a write to the channel succeeds.
type Alert struct {
	Channel string    `json:"channel"`
	Since   time.Time `json:"since"`
	Error   string    `json:"error"`
}

// Thresholds are in Celsius.
type Thresholds struct {
	Warn              float64
	Throttle          float64
	Hysteresis        float64
	GraceWindow       time.Duration
	Improvement       float64
	ElevatedDuty      float64
	CriticalDuty      float64
	EmergencyGovernor string
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warn:              80,
		Throttle:          95,
		Hysteresis:        5,
		GraceWindow:       30 * time.Second,
		Improvement:       1,
		ElevatedDuty:      70,
		CriticalDuty:      100,
		EmergencyGovernor: "powersave",
	}
}
