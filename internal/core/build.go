package core

import (
	"codeberg.org/mutker/laptopctl/internal/config"
	"codeberg.org/mutker/laptopctl/internal/device"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/journal"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/sysfs"
)

// BuildOptions select which parts of the hardware stack New sets up.
type BuildOptions struct {
	// Journal opens the sqlite journal when enabled in the config.
	Journal bool
	// Restore applies the stored profile on the first Run.
	Restore bool
}

// New builds a Core on the real sysfs, procfs, hidraw and NVML devices.
func New(cfg *config.Config, log logger.Logger, bo BuildOptions) (*Core, error) {
	errFactory := errors.New()

	if err := sensor.UseProcRoot(cfg.Paths.Proc); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	fs := sysfs.New(cfg.Paths.Sysfs)
	sources := []sensor.Source{
		sensor.NewThermalSource(fs),
		sensor.NewFanSource(fs),
		sensor.NewFrequencySource(fs),
		sensor.CPUSource{},
		sensor.MemorySource{},
		sensor.NetworkSource{},
		&sensor.ProcessSource{Limit: cfg.TopProcesses},
	}

	var closers []func() error
	if cfg.GPU {
		gpu, err := sensor.NewGPUSource(log.With("gpu"))
		if err != nil {
			log.Info().Err(err).Msg("GPU telemetry disabled")
		} else {
			sources = append(sources, gpu)
			closers = append(closers, gpu.Close)
		}
	}

	reader := sensor.NewReader(sources, sensor.WithLogger(log.With("sensor")))

	// The writer reads temperatures from the bus, which only exists once
	// the core is assembled.
	var c *Core
	writer, err := device.New(device.Config{
		FS:             fs,
		HidrawPath:     cfg.Paths.Hidraw,
		FanFloor:       cfg.Safety.FanFloor,
		CriticalMargin: cfg.Safety.CriticalMargin,
		Thermals: func() (float64, float64, bool) {
			if c == nil {
				return 0, 0, false
			}
			snap := c.bus.Latest()
			if snap.NoData() || !snap.HasThermal() {
				return 0, 0, false
			}
			return snap.CPUPackageTemp, snap.Critical(), true
		},
		Logger: log.With("device"),
	})
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	deps := Deps{
		Reader:         reader,
		Writer:         writer,
		Profiles:       cfg.Profiles,
		Thresholds:     Thresholds(cfg),
		DefaultProfile: cfg.DefaultProfile,
		HistorySize:    cfg.HistorySize,
		Interval:       cfg.Interval,
		WriteTimeout:   cfg.WriteTimeout,
		RestoreOnStart: bo.Restore,
		Log:            log,
		Closers:        closers,
	}

	if bo.Journal && cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{DBPath: cfg.Journal.DBPath}, log.With("journal"))
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Journal.DBPath).Msg("Journal disabled")
		} else {
			deps.Store = j
		}
	}

	c = Assemble(deps)

	return c, nil
}
