package control

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/profile"
)

const DefaultWriteTimeout = 500 * time.Millisecond

// curveStep is the smallest curve duty change worth a write, in percent.
const curveStep = 1.0

// Holds are the channel groups reserved for the thermal guard. User
// commands on a held channel are rejected.
type Holds struct {
	Fans     bool `json:"fans"`
	Governor bool `json:"governor"`
}

// Coordinator owns the active profile and RGB state and is the only path
// through which hardware is written. Writes to one channel never overlap;
// writes to different channels may run concurrently.
type Coordinator struct {
	writer   Writer
	profiles profile.Set
	temp     func() float64
	timeout  time.Duration
	log      logger.Logger
	recorder Recorder
	now      func() time.Time

	onProfile func(profile.HardwareProfile)

	mu       sync.Mutex
	channels map[Channel]chan struct{}
	pending  map[Channel]int
	holds    Holds
	active   profile.HardwareProfile
	source   Source
	rgb      RgbState
	manual   map[string]bool
	curve    map[string]float64
}

type Option func(*Coordinator)

// WithWriteTimeout bounds each hardware write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTemperature supplies the CPU temperature used to evaluate fan curves.
func WithTemperature(fn func() float64) Option {
	return func(c *Coordinator) {
		c.temp = fn
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// OnProfileApplied registers a callback run after a profile is fully applied.
func OnProfileApplied(fn func(profile.HardwareProfile)) Option {
	return func(c *Coordinator) {
		c.onProfile = fn
	}
}

func NewCoordinator(writer Writer, profiles profile.Set, opts ...Option) *Coordinator {
	c := &Coordinator{
		writer:   writer,
		profiles: profiles,
		temp:     func() float64 { return 0 },
		timeout:  DefaultWriteTimeout,
		log:      logger.Nop(),
		now:      time.Now,
		channels: make(map[Channel]chan struct{}),
		pending:  make(map[Channel]int),
		manual:   make(map[string]bool),
		curve:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.channels[ChannelGovernor] = make(chan struct{}, 1)
	c.channels[ChannelRGB] = make(chan struct{}, 1)
	for _, fan := range writer.Fans() {
		c.channels[FanChannel(fan)] = make(chan struct{}, 1)
	}

	return c
}

// Submit validates and applies cmd. Every failure is returned to the
// caller; nothing is retried.
func (c *Coordinator) Submit(ctx context.Context, cmd Command) (err error) {
	defer func() {
		c.record(cmd, err)
	}()

	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Kind == KindApplyProfile {
		return c.applyProfile(ctx, cmd)
	}
	return c.applyOne(ctx, cmd)
}

func (c *Coordinator) applyOne(ctx context.Context, cmd Command) error {
	errFactory := errors.New()
	ch := cmd.Channel()

	sem, ok := c.channels[ch]
	if !ok {
		return errFactory.WithData(errors.ErrUnknownChannel, string(ch))
	}

	guard := cmd.Source == SourceThermalGuard
	if guard {
		c.markPending(ch, 1)
		defer c.markPending(ch, -1)
	} else if c.blocked(ch) {
		return c.overridden(cmd)
	}

	if err := c.acquire(ctx, sem); err != nil {
		return err
	}
	defer c.release(sem)

	// The guard may have claimed the channel while we waited.
	if !guard && c.blocked(ch) {
		return c.overridden(cmd)
	}

	if err := c.writer.Validate(cmd); err != nil {
		return err
	}
	if err := c.write(ctx, cmd); err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case cmd.Kind == KindSetRgb:
		c.rgb = *cmd.Rgb
	case cmd.Kind == KindSetFanDuty && !guard:
		c.manual[cmd.Fan] = true
	}
	c.mu.Unlock()

	return nil
}

// applyProfile validates every sub-command, then writes them in channel
// order. When a write fails the channels already written are restored to
// the values they held before and ErrProfilePartiallyApplied is returned.
func (c *Coordinator) applyProfile(ctx context.Context, cmd Command) error {
	errFactory := errors.New()

	p, err := c.profiles.Get(cmd.Profile)
	if err != nil {
		return err
	}

	subs, err := c.decompose(cmd.Source, p)
	if err != nil {
		return err
	}

	guard := cmd.Source == SourceThermalGuard
	for _, sub := range subs {
		if !guard && c.blocked(sub.Channel()) {
			return c.overridden(sub)
		}
		if err := c.writer.Validate(sub); err != nil {
			return err
		}
	}

	if guard {
		for _, sub := range subs {
			c.markPending(sub.Channel(), 1)
		}
		defer func() {
			for _, sub := range subs {
				c.markPending(sub.Channel(), -1)
			}
		}()
	}

	locked := make([]chan struct{}, 0, len(subs))
	defer func() {
		for _, sem := range locked {
			c.release(sem)
		}
	}()
	for _, sub := range subs {
		sem := c.channels[sub.Channel()]
		if err := c.acquire(ctx, sem); err != nil {
			return err
		}
		locked = append(locked, sem)
	}

	if !guard {
		for _, sub := range subs {
			if c.blocked(sub.Channel()) {
				return c.overridden(sub)
			}
		}
	}

	prior := make([]*Command, len(subs))
	for i, sub := range subs {
		if cur, err := c.writer.Current(sub.Channel()); err == nil {
			cur.Source = cmd.Source
			prior[i] = &cur
		}
	}

	for i, sub := range subs {
		if err := c.write(ctx, sub); err != nil {
			restored := c.rollback(ctx, subs[:i], prior[:i])
			c.log.Warn().
				Str("profile", p.Name).
				Str("failed_channel", string(sub.Channel())).
				Strs("restored", restored).
				Err(err).
				Msg("Profile partially applied, rolled back")

			return errFactory.Wrap(errors.ErrProfilePartiallyApplied, err).WithData(struct {
				Profile  string
				Failed   string
				Restored []string
				Error    string
			}{p.Name, string(sub.Channel()), restored, err.Error()})
		}
	}

	c.mu.Lock()
	c.active = p
	c.source = cmd.Source
	c.manual = make(map[string]bool)
	c.curve = make(map[string]float64)
	for _, sub := range subs {
		switch sub.Kind {
		case KindSetRgb:
			c.rgb = *sub.Rgb
		case KindSetFanDuty:
			c.curve[sub.Fan] = sub.Duty
		}
	}
	c.mu.Unlock()

	c.log.Info().Str("profile", p.Name).Str("source", string(cmd.Source)).Msg("Profile applied")
	if c.onProfile != nil {
		c.onProfile(p)
	}

	return nil
}

// decompose expands a profile into governor, fan and RGB commands, in the
// order they are locked and written.
func (c *Coordinator) decompose(src Source, p profile.HardwareProfile) ([]Command, error) {
	errFactory := errors.New()

	subs := []Command{SetGovernor(src, p.CPUGovernor)}

	curve, ok := c.profiles.Fans[p.FanProfile]
	if !ok {
		return nil, errFactory.WithData(errors.ErrUnknownProfile, fmt.Sprintf("fan profile %q", p.FanProfile))
	}
	duty := curve.DutyAt(c.temp())
	fans := c.writer.Fans()
	sort.Strings(fans)
	for _, fan := range fans {
		subs = append(subs, SetFanDuty(src, fan, duty))
	}

	if p.RgbProfile != "" {
		rgb, ok := c.profiles.Rgb[p.RgbProfile]
		if !ok {
			return nil, errFactory.WithData(errors.ErrUnknownProfile, fmt.Sprintf("rgb profile %q", p.RgbProfile))
		}
		subs = append(subs, SetRgb(src, RgbState{Enabled: rgb.Enabled, Color: rgb.Color, Brightness: rgb.Brightness}))
	}

	return subs, nil
}

// FollowCurve moves each fan to the active profile's curve duty at temp.
// Fans the user has set directly since the profile was applied are left
// alone, as are all fans while the thermal guard holds them. Changes
// smaller than curveStep are not written.
func (c *Coordinator) FollowCurve(ctx context.Context, temp float64) error {
	c.mu.Lock()
	active, src := c.active, c.source
	c.mu.Unlock()

	if active.Name == "" {
		return nil
	}
	curve, ok := c.profiles.Fans[active.FanProfile]
	if !ok {
		return nil
	}
	duty := curve.DutyAt(temp)

	fans := c.writer.Fans()
	sort.Strings(fans)

	var first error
	for _, fan := range fans {
		if err := c.follow(ctx, SetFanDuty(src, fan, duty)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Coordinator) follow(ctx context.Context, cmd Command) error {
	sem, ok := c.channels[cmd.Channel()]
	if !ok || c.curveSettled(cmd) {
		return nil
	}

	if err := c.acquire(ctx, sem); err != nil {
		return err
	}
	defer c.release(sem)

	if c.curveSettled(cmd) {
		return nil
	}

	err := c.writer.Validate(cmd)
	if err == nil {
		err = c.write(ctx, cmd)
	}
	c.record(cmd, err)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.curve[cmd.Fan] = cmd.Duty
	c.mu.Unlock()

	c.log.Debug().Str("fan", cmd.Fan).Float64("duty", cmd.Duty).Msg("Fan curve followed")

	return nil
}

// curveSettled reports whether cmd should not be written by FollowCurve.
func (c *Coordinator) curveSettled(cmd Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holds.Fans || c.pending[cmd.Channel()] > 0 || c.manual[cmd.Fan] {
		return true
	}
	last, ok := c.curve[cmd.Fan]
	return ok && math.Abs(last-cmd.Duty) < curveStep
}

// rollback restores written channels in reverse order and returns the
// channels it restored.
func (c *Coordinator) rollback(ctx context.Context, written []Command, prior []*Command) []string {
	var restored []string
	for i := len(written) - 1; i >= 0; i-- {
		ch := written[i].Channel()
		if prior[i] == nil {
			c.log.Error().Str("channel", string(ch)).Msg("No prior value to restore")
			continue
		}
		if err := c.write(ctx, *prior[i]); err != nil {
			c.log.Error().Str("channel", string(ch)).Err(err).Msg("Failed to restore channel")
			continue
		}
		restored = append(restored, string(ch))
	}
	return restored
}

// write runs the hardware write on its own goroutine so a stuck device
// cannot hold the caller past the timeout. A timed out write is left to
// finish in the background.
func (c *Coordinator) write(ctx context.Context, cmd Command) error {
	errFactory := errors.New()

	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.writer.Apply(wctx, cmd)
	}()

	select {
	case err := <-done:
		if err != nil {
			c.log.Error().
				Str("channel", string(cmd.Channel())).
				Str("source", string(cmd.Source)).
				Err(err).
				Msg("Hardware write failed")
		}
		return err
	case <-wctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errFactory.WithData(errors.ErrTimeout, fmt.Sprintf("%s after %s", cmd.Channel(), c.timeout))
	}
}

func (c *Coordinator) acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release(sem chan struct{}) {
	<-sem
}

func (c *Coordinator) markPending(ch Channel, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[ch] += delta
	if c.pending[ch] <= 0 {
		delete(c.pending, ch)
	}
}

func (c *Coordinator) blocked(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[ch] > 0 {
		return true
	}
	if _, isFan := ch.Fan(); isFan {
		return c.holds.Fans
	}
	return ch == ChannelGovernor && c.holds.Governor
}

func (c *Coordinator) overridden(cmd Command) error {
	c.log.Info().
		Str("channel", string(cmd.Channel())).
		Str("command", cmd.Describe()).
		Msg("User command overridden by thermal safety")
	return errors.New().WithData(errors.ErrOverriddenBySafety, string(cmd.Channel()))
}

func (c *Coordinator) record(cmd Command, err error) {
	if c.recorder != nil {
		c.recorder.RecordCommand(cmd, err, c.now())
	}
}

// SetHolds replaces the set of channels reserved for the thermal guard.
func (c *Coordinator) SetHolds(h Holds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holds = h
}

func (c *Coordinator) Holds() Holds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holds
}

// ActiveProfile returns the last fully applied profile. It is the zero
// value until a profile has been applied.
func (c *Coordinator) ActiveProfile() profile.HardwareProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) RgbState() RgbState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rgb
}

// Profiles returns the known hardware profile names.
func (c *Coordinator) Profiles() []string {
	return c.profiles.Names()
}

// Fans returns the controllable fan names.
func (c *Coordinator) Fans() []string {
	return c.writer.Fans()
}

// Probe reports whether the channel's device is writable.
func (c *Coordinator) Probe(ch Channel) error {
	return c.writer.Probe(ch)
}
