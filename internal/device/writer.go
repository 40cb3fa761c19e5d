// Package device writes governor, fan and keyboard lighting settings to
// the kernel interfaces that control them.
package device

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/sysfs"
	"golang.org/x/sys/unix"
)

const (
	pwmManual = 1
	pwmAuto   = 2
)

// Thermals returns the current CPU temperature and the critical
// temperature it is measured against. ok is false before the first poll.
type Thermals func() (temp, critical float64, ok bool)

type Config struct {
	FS             sysfs.FS
	HidrawPath     string
	FanFloor       float64
	CriticalMargin float64
	Thermals       Thermals
	Logger         logger.Logger
}

// Writer implements control.Writer on sysfs and hidraw. It does not
// retry failed writes.
type Writer struct {
	fs       sysfs.FS
	hid      hidWriter
	floor    float64
	margin   float64
	thermals Thermals
	log      logger.Logger

	fans     map[string]sysfs.Fan
	policies []sysfs.Policy

	mu    sync.Mutex
	rgb   *control.RgbState
	modes map[string]int64
}

var _ control.Writer = (*Writer)(nil)

// New discovers controllable fans and cpufreq policies.
func New(cfg Config) (*Writer, error) {
	errFactory := errors.New()

	policies, err := cfg.FS.Policies()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	all, err := cfg.FS.Fans()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	w := &Writer{
		fs:       cfg.FS,
		hid:      hidraw{path: cfg.HidrawPath},
		floor:    cfg.FanFloor,
		margin:   cfg.CriticalMargin,
		thermals: cfg.Thermals,
		log:      cfg.Logger,
		fans:     make(map[string]sysfs.Fan),
		policies: policies,
		modes:    make(map[string]int64),
	}
	if w.log == nil {
		w.log = logger.Nop()
	}
	if w.thermals == nil {
		w.thermals = func() (float64, float64, bool) { return 0, 0, false }
	}

	for _, f := range all {
		if f.PWMPath == "" {
			continue
		}
		w.fans[f.Name] = f
	}

	w.log.Info().
		Int("policies", len(policies)).
		Strs("fans", w.Fans()).
		Msg("Discovered controllable devices")

	return w, nil
}

// Fans lists fans that have a PWM control.
func (w *Writer) Fans() []string {
	names := make([]string, 0, len(w.fans))
	for name := range w.fans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks cmd against the hardware's bounds.
func (w *Writer) Validate(cmd control.Command) error {
	errFactory := errors.New()

	switch cmd.Kind {
	case control.KindSetGovernor:
		available, err := w.availableGovernors()
		if err != nil {
			return err
		}
		for _, g := range available {
			if g == cmd.Governor {
				return nil
			}
		}
		return errFactory.WithData(errors.ErrInvalidValue, fmt.Sprintf("governor %q not in %v", cmd.Governor, available))

	case control.KindSetFanDuty:
		if _, ok := w.fans[cmd.Fan]; !ok {
			return errFactory.WithData(errors.ErrUnknownChannel, string(cmd.Channel()))
		}
		if math.IsNaN(cmd.Duty) || math.IsInf(cmd.Duty, 0) {
			return errFactory.WithData(errors.ErrInvalidValue, "fan duty is not a number")
		}
		duty := clampDuty(cmd.Duty)
		if !cmd.Auto && duty < w.floor {
			temp, critical, ok := w.thermals()
			if ok && temp >= critical-w.margin {
				return errFactory.WithData(errors.ErrUnsafeBelowFloor, fmt.Sprintf(
					"%s duty %.0f%% below floor %.0f%% at %.1f°C (critical %.1f°C)",
					cmd.Fan, duty, w.floor, temp, critical))
			}
		}
		return nil

	case control.KindSetRgb:
		if cmd.Rgb == nil {
			return errFactory.WithData(errors.ErrInvalidValue, "rgb state is missing")
		}
		if cmd.Rgb.Brightness > 100 {
			return errFactory.WithData(errors.ErrInvalidValue, fmt.Sprintf("brightness %d above 100", cmd.Rgb.Brightness))
		}
		return nil

	default:
		return errFactory.WithData(errors.ErrInvalidValue, fmt.Sprintf("writer cannot apply %q", cmd.Kind))
	}
}

// Apply writes cmd. Values already in place are not written again.
func (w *Writer) Apply(ctx context.Context, cmd control.Command) error {
	if err := w.Validate(cmd); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch cmd.Kind {
	case control.KindSetGovernor:
		return w.setGovernor(cmd.Governor)
	case control.KindSetFanDuty:
		if cmd.Auto {
			return w.setFanAuto(w.fans[cmd.Fan], clampDuty(cmd.Duty))
		}
		return w.setFanDuty(w.fans[cmd.Fan], clampDuty(cmd.Duty))
	default:
		return w.setRgb(ctx, *cmd.Rgb)
	}
}

func (w *Writer) setGovernor(governor string) error {
	errFactory := errors.New()

	for _, p := range w.policies {
		if cur, err := p.Governor(); err == nil && cur == governor {
			continue
		}
		if err := sysfs.WriteString(p.GovernorPath(), governor); err != nil {
			return errFactory.Wrap(errors.ErrDeviceUnavailable, err).WithData(struct {
				CPU   int
				Error string
			}{p.CPU, err.Error()})
		}
	}

	w.log.Debug().Str("governor", governor).Msg("Governor set")

	return nil
}

func (w *Writer) setFanDuty(fan sysfs.Fan, duty float64) error {
	errFactory := errors.New()
	pwm := sysfs.PercentToPWM(duty)

	if mode, err := sysfs.ReadInt(fan.EnablePath); err != nil || mode != pwmManual {
		if err := sysfs.WriteString(fan.EnablePath, strconv.Itoa(pwmManual)); err != nil {
			return errFactory.Wrap(errors.ErrDeviceUnavailable, err).WithData(struct {
				Fan   string
				Error string
			}{fan.Name, err.Error()})
		}
	}

	if cur, err := sysfs.ReadInt(fan.PWMPath); err == nil && cur == pwm {
		return nil
	}
	if err := sysfs.WriteString(fan.PWMPath, strconv.FormatInt(pwm, 10)); err != nil {
		return errFactory.Wrap(errors.ErrDeviceUnavailable, err).WithData(struct {
			Fan   string
			Error string
		}{fan.Name, err.Error()})
	}

	w.log.Debug().Str("fan", fan.Name).Float64("duty", duty).Int64("pwm", pwm).Msg("Fan duty set")

	return nil
}

// setFanAuto puts back duty and then the enable mode the fan had when
// Current last saw it in automatic mode.
func (w *Writer) setFanAuto(fan sysfs.Fan, duty float64) error {
	errFactory := errors.New()

	w.mu.Lock()
	mode, ok := w.modes[fan.Name]
	w.mu.Unlock()
	if !ok {
		mode = pwmAuto
	}

	cur, err := sysfs.ReadInt(fan.EnablePath)
	if err == nil && cur == mode {
		return nil
	}

	pwm := sysfs.PercentToPWM(duty)
	if raw, err := sysfs.ReadInt(fan.PWMPath); err != nil || raw != pwm {
		if err := sysfs.WriteString(fan.PWMPath, strconv.FormatInt(pwm, 10)); err != nil {
			return errFactory.Wrap(errors.ErrDeviceUnavailable, err).WithData(struct {
				Fan   string
				Error string
			}{fan.Name, err.Error()})
		}
	}
	if err := sysfs.WriteString(fan.EnablePath, strconv.FormatInt(mode, 10)); err != nil {
		return errFactory.Wrap(errors.ErrDeviceUnavailable, err).WithData(struct {
			Fan   string
			Error string
		}{fan.Name, err.Error()})
	}

	w.log.Debug().Str("fan", fan.Name).Int64("mode", mode).Msg("Fan returned to automatic control")

	return nil
}

func (w *Writer) setRgb(ctx context.Context, state control.RgbState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rgb != nil && *w.rgb == state {
		return nil
	}
	// Color and brightness are irrelevant once the keyboard is off.
	if w.rgb != nil && !w.rgb.Enabled && !state.Enabled {
		w.rgb = &state
		return nil
	}

	report := Report(state)
	if err := w.hid.Send(ctx, report[:]); err != nil {
		return errors.New().Wrap(errors.ErrDeviceUnavailable, err)
	}
	w.rgb = &state

	return nil
}

// Current reads the channel's present value as a restoring command. A fan
// in automatic mode yields a command that restores that mode.
func (w *Writer) Current(ch control.Channel) (control.Command, error) {
	errFactory := errors.New()

	if name, ok := ch.Fan(); ok {
		fan, ok := w.fans[name]
		if !ok {
			return control.Command{}, errFactory.WithData(errors.ErrUnknownChannel, string(ch))
		}
		raw, err := sysfs.ReadInt(fan.PWMPath)
		if err != nil {
			return control.Command{}, errFactory.Wrap(errors.ErrDeviceUnavailable, err)
		}
		duty := math.Round(sysfs.PWMToPercent(raw))
		mode, err := sysfs.ReadInt(fan.EnablePath)
		if err != nil || mode == pwmManual {
			return control.SetFanDuty(control.SourceUser, name, duty), nil
		}
		w.mu.Lock()
		w.modes[name] = mode
		w.mu.Unlock()
		return control.SetFanAuto(control.SourceUser, name, duty), nil
	}

	switch ch {
	case control.ChannelGovernor:
		if len(w.policies) == 0 {
			return control.Command{}, errFactory.WithMessage(errors.ErrDeviceUnavailable, "no cpufreq policies")
		}
		gov, err := w.policies[0].Governor()
		if err != nil {
			return control.Command{}, errFactory.Wrap(errors.ErrDeviceUnavailable, err)
		}
		return control.SetGovernor(control.SourceUser, gov), nil

	case control.ChannelRGB:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.rgb == nil {
			return control.Command{}, errFactory.WithMessage(errors.ErrDeviceUnavailable, "keyboard lighting state unknown")
		}
		return control.SetRgb(control.SourceUser, *w.rgb), nil
	}

	return control.Command{}, errFactory.WithData(errors.ErrUnknownChannel, string(ch))
}

// Probe checks write access to the channel's device node.
func (w *Writer) Probe(ch control.Channel) error {
	errFactory := errors.New()

	var err error
	if name, ok := ch.Fan(); ok {
		fan, ok := w.fans[name]
		if !ok {
			return errFactory.WithData(errors.ErrUnknownChannel, string(ch))
		}
		err = unix.Access(fan.PWMPath, unix.W_OK)
	} else {
		switch ch {
		case control.ChannelGovernor:
			if len(w.policies) == 0 {
				return errFactory.WithMessage(errors.ErrDeviceUnavailable, "no cpufreq policies")
			}
			err = unix.Access(w.policies[0].GovernorPath(), unix.W_OK)
		case control.ChannelRGB:
			err = w.hid.Probe()
		default:
			return errFactory.WithData(errors.ErrUnknownChannel, string(ch))
		}
	}

	if err != nil {
		return errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}
	return nil
}

// availableGovernors returns the governors every policy accepts.
func (w *Writer) availableGovernors() ([]string, error) {
	errFactory := errors.New()

	if len(w.policies) == 0 {
		return nil, errFactory.WithMessage(errors.ErrDeviceUnavailable, "no cpufreq policies")
	}

	counts := make(map[string]int)
	for _, p := range w.policies {
		govs, err := p.AvailableGovernors()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrDeviceUnavailable, err)
		}
		for _, g := range govs {
			counts[g]++
		}
	}

	var out []string
	for g, n := range counts {
		if n == len(w.policies) {
			out = append(out, g)
		}
	}
	sort.Strings(out)

	return out, nil
}

func clampDuty(d float64) float64 {
	return math.Max(0, math.Min(100, d))
}
