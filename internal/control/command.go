// Package control models hardware control commands and serializes their
// application per hardware channel.
package control

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"github.com/google/uuid"
)

// Channel is one independently controllable hardware target.
type Channel string

const (
	ChannelGovernor Channel = "governor"
	ChannelRGB      Channel = "rgb"

	fanPrefix = "fan:"
)

// FanChannel returns the channel of the named fan.
func FanChannel(name string) Channel {
	return Channel(fanPrefix + name)
}

// Fan returns the fan name if c is a fan channel.
func (c Channel) Fan() (string, bool) {
	if name, ok := strings.CutPrefix(string(c), fanPrefix); ok {
		return name, true
	}
	return "", false
}

type Kind string

const (
	KindSetGovernor  Kind = "set_governor"
	KindSetFanDuty   Kind = "set_fan_duty"
	KindSetRgb       Kind = "set_rgb"
	KindApplyProfile Kind = "apply_profile"
)

// Source identifies who issued a command.
type Source string

const (
	SourceUser         Source = "user"
	SourceThermalGuard Source = "thermal_guard"
)

// RgbState is the keyboard lighting target. Brightness is a percent.
type RgbState struct {
	Enabled    bool     `json:"enabled"`
	Color      [3]uint8 `json:"color"`
	Brightness uint8    `json:"brightness"`
}

// Command is a tagged variant; only the fields of its Kind are set.
// A fan command with Auto set hands the fan back to firmware control
// instead of pinning Duty.
type Command struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Source   Source    `json:"source"`
	Governor string    `json:"governor,omitempty"`
	Fan      string    `json:"fan,omitempty"`
	Duty     float64   `json:"duty,omitempty"`
	Auto     bool      `json:"auto,omitempty"`
	Rgb      *RgbState `json:"rgb,omitempty"`
	Profile  string    `json:"profile,omitempty"`
}

func newCommand(kind Kind, src Source) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Source: src}
}

func SetGovernor(src Source, governor string) Command {
	c := newCommand(KindSetGovernor, src)
	c.Governor = governor
	return c
}

func SetFanDuty(src Source, fan string, percent float64) Command {
	c := newCommand(KindSetFanDuty, src)
	c.Fan = fan
	c.Duty = percent
	return c
}

// SetFanAuto returns fan to automatic control. duty is the PWM value
// left in place before firmware takes over.
func SetFanAuto(src Source, fan string, duty float64) Command {
	c := SetFanDuty(src, fan, duty)
	c.Auto = true
	return c
}

func SetRgb(src Source, state RgbState) Command {
	c := newCommand(KindSetRgb, src)
	c.Rgb = &state
	return c
}

func ApplyProfile(src Source, name string) Command {
	c := newCommand(KindApplyProfile, src)
	c.Profile = name
	return c
}

// Channel returns the channel the command writes. Profile commands span
// several channels and return "".
func (c Command) Channel() Channel {
	switch c.Kind {
	case KindSetGovernor:
		return ChannelGovernor
	case KindSetFanDuty:
		return FanChannel(c.Fan)
	case KindSetRgb:
		return ChannelRGB
	default:
		return ""
	}
}

// Validate checks that the fields required by the kind are present.
// Hardware bounds are checked by the writer.
func (c Command) Validate() error {
	errFactory := errors.New()

	switch c.Source {
	case SourceUser, SourceThermalGuard:
	default:
		return errFactory.WithData(errors.ErrInvalidValue, fmt.Sprintf("unknown source %q", c.Source))
	}

	switch c.Kind {
	case KindSetGovernor:
		if c.Governor == "" {
			return errFactory.WithData(errors.ErrInvalidValue, "governor is empty")
		}
	case KindSetFanDuty:
		if c.Fan == "" {
			return errFactory.WithData(errors.ErrInvalidValue, "fan is empty")
		}
	case KindSetRgb:
		if c.Rgb == nil {
			return errFactory.WithData(errors.ErrInvalidValue, "rgb state is missing")
		}
	case KindApplyProfile:
		if c.Profile == "" {
			return errFactory.WithData(errors.ErrInvalidValue, "profile is empty")
		}
	default:
		return errFactory.WithData(errors.ErrInvalidValue, fmt.Sprintf("unknown command kind %q", c.Kind))
	}

	return nil
}

// Describe returns the command payload as a short human readable string.
func (c Command) Describe() string {
	switch c.Kind {
	case KindSetGovernor:
		return c.Governor
	case KindSetFanDuty:
		if c.Auto {
			return c.Fan + "=auto"
		}
		return fmt.Sprintf("%s=%.0f%%", c.Fan, c.Duty)
	case KindSetRgb:
		if c.Rgb == nil {
			return ""
		}
		if !c.Rgb.Enabled {
			return "off"
		}
		return fmt.Sprintf("#%02x%02x%02x@%d%%", c.Rgb.Color[0], c.Rgb.Color[1], c.Rgb.Color[2], c.Rgb.Brightness)
	case KindApplyProfile:
		return c.Profile
	default:
		return ""
	}
}
