// Package profile defines hardware profiles, fan curves and RGB presets.
package profile

import (
	"fmt"
	"sort"

	"codeberg.org/mutker/laptopctl/internal/errors"
)

// HardwareProfile is a named bundle of control settings applied as a unit.
type HardwareProfile struct {
	Name                string  `json:"name" mapstructure:"-"`
	PowerMode           string  `json:"power_mode" mapstructure:"power_mode"`
	CPUGovernor         string  `json:"cpu_governor" mapstructure:"cpu_governor"`
	FanProfile          string  `json:"fan_profile" mapstructure:"fan_profile"`
	ThermalThrottleTemp float64 `json:"thermal_throttle_temp" mapstructure:"thermal_throttle_temp"`
	RgbProfile          string  `json:"rgb_profile,omitempty" mapstructure:"rgb_profile"`
}

// RgbProfile is a keyboard lighting preset. Color is RGB bytes.
type RgbProfile struct {
	Name       string   `json:"name" mapstructure:"-"`
	Enabled    bool     `json:"enabled" mapstructure:"enabled"`
	Color      [3]uint8 `json:"color" mapstructure:"color"`
	Brightness uint8    `json:"brightness" mapstructure:"brightness"`
}

// Set holds every known profile keyed by name.
type Set struct {
	Hardware map[string]HardwareProfile
	Fans     map[string]FanProfile
	Rgb      map[string]RgbProfile
}

// Defaults returns the built-in profiles.
func Defaults() Set {
	s := Set{
		Hardware: map[string]HardwareProfile{
			"performance": {
				PowerMode:           "performance",
				CPUGovernor:         "performance",
				FanProfile:          "performance",
				ThermalThrottleTemp: 95,
				RgbProfile:          "red",
			},
			"balanced": {
				PowerMode:           "balanced",
				CPUGovernor:         "schedutil",
				FanProfile:          "balanced",
				ThermalThrottleTemp: 90,
				RgbProfile:          "ice",
			},
			"power_saver": {
				PowerMode:           "power_saver",
				CPUGovernor:         "powersave",
				FanProfile:          "silent",
				ThermalThrottleTemp: 85,
				RgbProfile:          "off",
			},
			"gaming": {
				PowerMode:           "gaming",
				CPUGovernor:         "performance",
				FanProfile:          "performance",
				ThermalThrottleTemp: 95,
				RgbProfile:          "red",
			},
		},
		Fans: map[string]FanProfile{
			"silent": {
				Min: 15, Max: 100,
				Points: []CurvePoint{{30, 20}, {40, 25}, {50, 35}, {60, 45}, {70, 60}, {80, 80}, {85, 100}},
			},
			"balanced": {
				Min: 20, Max: 100,
				Points: []CurvePoint{{30, 25}, {40, 35}, {50, 45}, {60, 60}, {70, 75}, {80, 90}, {85, 100}},
			},
			"performance": {
				Min: 35, Max: 100,
				Points: []CurvePoint{{30, 40}, {40, 50}, {50, 65}, {60, 80}, {70, 90}, {80, 100}},
			},
		},
		Rgb: map[string]RgbProfile{
			"off": {Enabled: false},
			"red": {Enabled: true, Color: [3]uint8{0xff, 0x00, 0x00}, Brightness: 100},
			"ice": {Enabled: true, Color: [3]uint8{0x00, 0xb4, 0xff}, Brightness: 60},
		},
	}
	s.fillNames()
	return s
}

// Merge overlays other onto s. Entries in other replace same-named entries.
func (s Set) Merge(other Set) Set {
	out := Set{
		Hardware: make(map[string]HardwareProfile, len(s.Hardware)+len(other.Hardware)),
		Fans:     make(map[string]FanProfile, len(s.Fans)+len(other.Fans)),
		Rgb:      make(map[string]RgbProfile, len(s.Rgb)+len(other.Rgb)),
	}
	for _, src := range []Set{s, other} {
		for k, v := range src.Hardware {
			out.Hardware[k] = v
		}
		for k, v := range src.Fans {
			out.Fans[k] = v
		}
		for k, v := range src.Rgb {
			out.Rgb[k] = v
		}
	}
	out.fillNames()
	return out
}

func (s Set) fillNames() {
	for k, v := range s.Hardware {
		v.Name = k
		s.Hardware[k] = v
	}
	for k, v := range s.Fans {
		v.Name = k
		s.Fans[k] = v
	}
	for k, v := range s.Rgb {
		v.Name = k
		s.Rgb[k] = v
	}
}

// Get looks up a hardware profile.
func (s Set) Get(name string) (HardwareProfile, error) {
	p, ok := s.Hardware[name]
	if !ok {
		return HardwareProfile{}, errors.New().WithData(errors.ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the hardware profile names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.Hardware))
	for name := range s.Hardware {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every hardware profile references known fan and
// RGB profiles and that every fan curve is well formed.
func (s Set) Validate() error {
	errFactory := errors.New()

	for _, name := range s.Names() {
		p := s.Hardware[name]
		if p.CPUGovernor == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("profile %q: cpu_governor is empty", name))
		}
		if _, ok := s.Fans[p.FanProfile]; !ok {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("profile %q: unknown fan_profile %q", name, p.FanProfile))
		}
		if p.RgbProfile != "" {
			if _, ok := s.Rgb[p.RgbProfile]; !ok {
				return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("profile %q: unknown rgb_profile %q", name, p.RgbProfile))
			}
		}
		if p.ThermalThrottleTemp < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("profile %q: negative thermal_throttle_temp", name))
		}
	}

	for name, f := range s.Fans {
		if err := f.validate(); err != nil {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("fan profile %q: %v", name, err))
		}
	}

	for name, r := range s.Rgb {
		if r.Brightness > 100 {
			return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("rgb profile %q: brightness %d above 100", name, r.Brightness))
		}
	}

	return nil
}
