package profile

import (
	"fmt"
	"math"
)

// CurvePoint maps a temperature in Celsius to a fan duty percent.
type CurvePoint struct {
	Temp float64 `json:"temp" mapstructure:"temp"`
	Duty float64 `json:"duty" mapstructure:"duty"`
}

// FanProfile is a fan curve. Points must be sorted by temperature.
type FanProfile struct {
	Name   string       `json:"name" mapstructure:"-"`
	Points []CurvePoint `json:"points" mapstructure:"points"`
	Min    float64      `json:"min" mapstructure:"min"`
	Max    float64      `json:"max" mapstructure:"max"`
}

// DutyAt returns the duty for temp, linearly interpolated between the
// surrounding points and clamped to [Min, Max].
func (f FanProfile) DutyAt(temp float64) float64 {
	if len(f.Points) == 0 {
		return f.clamp(f.Max)
	}

	first := f.Points[0]
	if temp <= first.Temp {
		return f.clamp(first.Duty)
	}

	for i := 1; i < len(f.Points); i++ {
		lo, hi := f.Points[i-1], f.Points[i]
		if temp <= hi.Temp {
			ratio := (temp - lo.Temp) / (hi.Temp - lo.Temp)
			return f.clamp(lo.Duty + ratio*(hi.Duty-lo.Duty))
		}
	}

	return f.clamp(f.Points[len(f.Points)-1].Duty)
}

func (f FanProfile) clamp(duty float64) float64 {
	duty = math.Max(duty, f.Min)
	duty = math.Min(duty, f.Max)
	return math.Round(duty)
}

func (f FanProfile) validate() error {
	if f.Min < 0 || f.Max > 100 || f.Min > f.Max {
		return fmt.Errorf("bounds [%v,%v] outside [0,100]", f.Min, f.Max)
	}
	for i, p := range f.Points {
		if p.Duty < 0 || p.Duty > 100 {
			return fmt.Errorf("point %d: duty %v outside [0,100]", i, p.Duty)
		}
		if i > 0 && p.Temp <= f.Points[i-1].Temp {
			return fmt.Errorf("point %d: temperatures must increase", i)
		}
	}
	return nil
}
