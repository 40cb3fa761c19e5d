// Package core wires the sensor reader, snapshot bus, thermal guard and
// control coordinator together and runs the poll loop.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/laptopctl/internal/bus"
	"codeberg.org/mutker/laptopctl/internal/config"
	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/journal"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/profile"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/thermal"
)

// Poller produces snapshots.
type Poller interface {
	Poll(ctx context.Context) (sensor.Snapshot, error)
}

// Store persists command outcomes, transitions and restorable state.
type Store interface {
	control.Recorder
	thermal.Recorder
	SaveState(profile string, rgb control.RgbState) error
	LoadState() (journal.State, error)
	Close() error
}

// Deps are the components Core is assembled from.
type Deps struct {
	Reader         Poller
	Writer         control.Writer
	Store          Store
	Profiles       profile.Set
	Thresholds     thermal.Thresholds
	DefaultProfile string
	HistorySize    int
	Interval       time.Duration
	WriteTimeout   time.Duration
	RestoreOnStart bool
	Log            logger.Logger
	Closers        []func() error
}

// Core is the application's single entry point for reading sensors and
// changing hardware state.
type Core struct {
	reader         Poller
	bus            *bus.Bus
	coord          *control.Coordinator
	guard          *thermal.Guard
	store          Store
	log            logger.Logger
	profiles       profile.Set
	defaultProfile string
	restoreOnStart bool
	closers        []func() error

	interval      atomic.Int64
	intervalReset chan struct{}

	mu      sync.Mutex
	pollErr error
}

// Assemble builds a Core from its parts.
func Assemble(d Deps) *Core {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Interval <= 0 {
		d.Interval = config.MinInterval
	}

	c := &Core{
		reader:         d.Reader,
		bus:            bus.New(d.HistorySize),
		store:          d.Store,
		log:            d.Log,
		profiles:       d.Profiles,
		defaultProfile: d.DefaultProfile,
		restoreOnStart: d.RestoreOnStart,
		closers:        d.Closers,
		intervalReset:  make(chan struct{}, 1),
	}
	c.interval.Store(int64(d.Interval))

	opts := []control.Option{
		control.WithWriteTimeout(d.WriteTimeout),
		control.WithTemperature(func() float64 { return c.bus.Latest().CPUPackageTemp }),
		control.WithLogger(d.Log.With("control")),
		control.OnProfileApplied(func(p profile.HardwareProfile) {
			if c.guard != nil && p.ThermalThrottleTemp > 0 {
				c.guard.SetThrottle(p.ThermalThrottleTemp)
			}
		}),
	}
	if d.Store != nil {
		opts = append(opts, control.WithRecorder(d.Store))
	}
	c.coord = control.NewCoordinator(d.Writer, d.Profiles, opts...)

	guardOpts := []thermal.Option{
		thermal.WithLogger(d.Log.With("thermal")),
		thermal.WithRestore(c.restoreActive),
		thermal.WithFollow(func(ctx context.Context, snap sensor.Snapshot) error {
			return c.coord.FollowCurve(ctx, snap.CPUPackageTemp)
		}),
	}
	if d.Store != nil {
		guardOpts = append(guardOpts, thermal.WithRecorder(d.Store))
	}
	c.guard = thermal.New(c.coord, d.Thresholds, guardOpts...)

	return c
}

// restoreActive re-applies the active profile once the guard releases
// its holds.
func (c *Core) restoreActive(ctx context.Context) error {
	name := c.coord.ActiveProfile().Name
	if name == "" {
		return nil
	}
	return c.coord.Submit(ctx, control.ApplyProfile(control.SourceThermalGuard, name))
}

// Run polls until ctx is done. The first poll happens immediately.
func (c *Core) Run(ctx context.Context) error {
	guardCtx, cancelGuard := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.guard.Run(guardCtx)
	}()
	defer func() {
		cancelGuard()
		wg.Wait()
	}()

	c.PollOnce(ctx)
	if c.restoreOnStart {
		c.Restore(ctx)
	}

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Poll loop stopped")
			return nil
		case <-c.intervalReset:
			ticker.Reset(c.Interval())
		case <-ticker.C:
			c.PollOnce(ctx)
		}
	}
}

// PollOnce reads all sensors, publishes the snapshot and hands it to the
// thermal guard.
func (c *Core) PollOnce(ctx context.Context) sensor.Snapshot {
	snap, err := c.reader.Poll(ctx)
	if ctx.Err() != nil {
		return c.bus.Latest()
	}

	c.mu.Lock()
	c.pollErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Strs("failed", snap.FailedSources).Msg("Sensor poll failed")
	} else if snap.Partial {
		c.log.Debug().Strs("failed", snap.FailedSources).Msg("Partial sensor snapshot")
	}

	published := c.bus.Publish(snap)
	c.guard.Offer(published)

	return published
}

// Restore applies the persisted profile and RGB state, or the default
// profile when nothing was stored.
func (c *Core) Restore(ctx context.Context) {
	name := c.defaultProfile
	var rgb *control.RgbState

	if c.store != nil {
		st, err := c.store.LoadState()
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to load stored state")
		} else {
			if _, err := c.profiles.Get(st.Profile); err == nil {
				name = st.Profile
			}
			rgb = st.Rgb
		}
	}

	if name != "" {
		if err := c.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, name)); err != nil {
			c.log.Warn().Err(err).Str("profile", name).Msg("Failed to apply startup profile")
		}
	}
	if rgb != nil {
		if err := c.SubmitCommand(ctx, control.SetRgb(control.SourceUser, *rgb)); err != nil {
			c.log.Warn().Err(err).Msg("Failed to restore keyboard lighting")
		}
	}
}

func (c *Core) GetSnapshot() sensor.Snapshot {
	return c.bus.Latest()
}

// GetHistory returns up to n snapshots, oldest first.
func (c *Core) GetHistory(n int) []sensor.Snapshot {
	return c.bus.History(n)
}

// SubmitCommand applies cmd through the coordinator. Successful profile
// and RGB changes are persisted.
func (c *Core) SubmitCommand(ctx context.Context, cmd control.Command) error {
	if err := c.coord.Submit(ctx, cmd); err != nil {
		return err
	}

	if c.store != nil && (cmd.Kind == control.KindApplyProfile || cmd.Kind == control.KindSetRgb) {
		if err := c.store.SaveState(c.coord.ActiveProfile().Name, c.coord.RgbState()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist state")
		}
	}

	return nil
}

func (c *Core) GetActiveProfile() profile.HardwareProfile {
	return c.coord.ActiveProfile()
}

func (c *Core) ListProfiles() []string {
	return c.coord.Profiles()
}

func (c *Core) GetThermalState() thermal.State {
	return c.guard.State()
}

func (c *Core) GetRgbState() control.RgbState {
	return c.coord.RgbState()
}

func (c *Core) GetAlerts() []thermal.Alert {
	return c.guard.Alerts()
}

// SensorError returns the error of the last poll, if any.
func (c *Core) SensorError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollErr
}

func (c *Core) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// SetInterval changes the poll interval, effective from the next tick.
func (c *Core) SetInterval(d time.Duration) error {
	if err := config.ValidateInterval(d); err != nil {
		return err
	}
	c.interval.Store(int64(d))
	select {
	case c.intervalReset <- struct{}{}:
	default:
	}
	c.log.Info().Dur("interval", d).Msg("Poll interval changed")
	return nil
}

// Reload applies live-reloadable settings from a new configuration.
func (c *Core) Reload(cfg *config.Config) {
	th := Thresholds(cfg)
	if active := c.coord.ActiveProfile(); active.ThermalThrottleTemp > th.Warn {
		th.Throttle = active.ThermalThrottleTemp
	}
	c.guard.SetThresholds(th)

	if err := c.SetInterval(cfg.Interval); err != nil {
		c.log.Warn().Err(err).Msg("Ignoring reloaded interval")
	}
	logger.SetLogLevel(logger.ParseLevel(cfg.LogLevel.String()))
}

// Close releases the store and sensor resources.
func (c *Core) Close() error {
	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New().Wrap(errors.ErrShutdownFailed, errs[0])
	}
	return nil
}

// Thresholds converts the configured thermal settings.
func Thresholds(cfg *config.Config) thermal.Thresholds {
	return thermal.Thresholds{
		Warn:              cfg.Thermal.Warn,
		Throttle:          cfg.Thermal.Throttle,
		Hysteresis:        cfg.Thermal.Hysteresis,
		GraceWindow:       cfg.Thermal.GraceWindow,
		Improvement:       cfg.Thermal.Improvement,
		ElevatedDuty:      cfg.Thermal.ElevatedDuty,
		CriticalDuty:      cfg.Thermal.CriticalDuty,
		EmergencyGovernor: cfg.Thermal.EmergencyGovernor,
	}
}
