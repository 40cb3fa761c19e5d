package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/profile"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName       = "laptopctl"
	defaultEnvPrefix = "LAPTOPCTL"
	MinInterval      = time.Second
	MaxInterval      = 10 * time.Second
)

// Thermal holds the guard thresholds. Temperatures are Celsius.
type Thermal struct {
	Warn              float64
	Throttle          float64
	Hysteresis        float64
	GraceWindow       time.Duration
	Improvement       float64
	ElevatedDuty      float64
	CriticalDuty      float64
	EmergencyGovernor string
}

// Safety holds the device writer bounds.
type Safety struct {
	FanFloor       float64
	CriticalMargin float64
}

type Paths struct {
	Sysfs  string
	Proc   string
	Hidraw string
}

type Journal struct {
	Enabled bool
	DBPath  string
}

type Config struct {
	Interval       time.Duration
	LogLevel       LogLevel
	HistorySize    int
	TopProcesses   int
	WriteTimeout   time.Duration
	Thermal        Thermal
	Safety         Safety
	Paths          Paths
	GPU            bool
	Journal        Journal
	Listen         string
	DefaultProfile string
	Profiles       profile.Set

	v  *viper.Viper
	mu sync.Mutex
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", "1s")
	v.SetDefault("log_level", string(LogLevelInfo))
	v.SetDefault("history_size", 3600)
	v.SetDefault("top_processes", 10)
	v.SetDefault("write_timeout", "500ms")

	v.SetDefault("thermal.warn", 80.0)
	v.SetDefault("thermal.throttle", 95.0)
	v.SetDefault("thermal.hysteresis", 5.0)
	v.SetDefault("thermal.grace_window", "30s")
	v.SetDefault("thermal.improvement", 1.0)
	v.SetDefault("thermal.elevated_duty", 70.0)
	v.SetDefault("thermal.critical_duty", 100.0)
	v.SetDefault("thermal.emergency_governor", "powersave")

	v.SetDefault("safety.fan_floor", 30.0)
	v.SetDefault("safety.critical_margin", 10.0)

	v.SetDefault("paths.sysfs", "/sys")
	v.SetDefault("paths.proc", "/proc")
	v.SetDefault("paths.hidraw", "/dev/hidraw0")

	v.SetDefault("gpu.enabled", true)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.db_path", "/var/lib/laptopctl/journal.db")
	v.SetDefault("api.listen", "127.0.0.1:8765")
	v.SetDefault("default_profile", "balanced")
}

// Load reads configuration from defaults, the config file, environment
// variables and flags, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		if err := bindFlags(v, o.flags); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(filepath.Join("/etc", configName))
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return bindErr
}

func build(v *viper.Viper) (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{
		Interval:     v.GetDuration("interval"),
		LogLevel:     LogLevel(strings.ToLower(v.GetString("log_level"))),
		HistorySize:  v.GetInt("history_size"),
		TopProcesses: v.GetInt("top_processes"),
		WriteTimeout: v.GetDuration("write_timeout"),
		Thermal:      thermalFrom(v),
		Safety: Safety{
			FanFloor:       v.GetFloat64("safety.fan_floor"),
			CriticalMargin: v.GetFloat64("safety.critical_margin"),
		},
		Paths: Paths{
			Sysfs:  v.GetString("paths.sysfs"),
			Proc:   v.GetString("paths.proc"),
			Hidraw: v.GetString("paths.hidraw"),
		},
		GPU: v.GetBool("gpu.enabled"),
		Journal: Journal{
			Enabled: v.GetBool("journal.enabled"),
			DBPath:  v.GetString("journal.db_path"),
		},
		Listen:         v.GetString("api.listen"),
		DefaultProfile: v.GetString("default_profile"),
		v:              v,
	}

	custom := profile.Set{}
	if err := v.UnmarshalKey("profiles", &custom.Hardware); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := v.UnmarshalKey("fan_profiles", &custom.Fans); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := v.UnmarshalKey("rgb_profiles", &custom.Rgb); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.Profiles = profile.Defaults().Merge(custom)

	return cfg, nil
}

func thermalFrom(v *viper.Viper) Thermal {
	return Thermal{
		Warn:              v.GetFloat64("thermal.warn"),
		Throttle:          v.GetFloat64("thermal.throttle"),
		Hysteresis:        v.GetFloat64("thermal.hysteresis"),
		GraceWindow:       v.GetDuration("thermal.grace_window"),
		Improvement:       v.GetFloat64("thermal.improvement"),
		ElevatedDuty:      v.GetFloat64("thermal.elevated_duty"),
		CriticalDuty:      v.GetFloat64("thermal.critical_duty"),
		EmergencyGovernor: v.GetString("thermal.emergency_governor"),
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if err := ValidateInterval(c.Interval); err != nil {
		return err
	}
	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel.String())
	}
	if c.HistorySize < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("history_size %d must be positive", c.HistorySize))
	}
	if c.TopProcesses < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("top_processes %d must not be negative", c.TopProcesses))
	}
	if c.WriteTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "write_timeout must be positive")
	}
	if err := c.Thermal.Validate(); err != nil {
		return err
	}
	if c.Safety.FanFloor < 0 || c.Safety.FanFloor > 100 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("safety.fan_floor %v outside [0,100]", c.Safety.FanFloor))
	}
	if c.Safety.CriticalMargin < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "safety.critical_margin must not be negative")
	}
	if err := c.Profiles.Validate(); err != nil {
		return err
	}
	if _, err := c.Profiles.Get(c.DefaultProfile); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return nil
}

// Validate checks threshold ordering.
func (t Thermal) Validate() error {
	errFactory := errors.New()

	switch {
	case t.Warn >= t.Throttle:
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("thermal.warn %v must be below thermal.throttle %v", t.Warn, t.Throttle))
	case t.Hysteresis < 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "thermal.hysteresis must not be negative")
	case t.GraceWindow <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "thermal.grace_window must be positive")
	case t.Improvement < 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "thermal.improvement must not be negative")
	case t.ElevatedDuty < 0 || t.ElevatedDuty > 100 || t.CriticalDuty < 0 || t.CriticalDuty > 100:
		return errFactory.WithData(errors.ErrInvalidConfig, "thermal fan duties must be within [0,100]")
	case t.EmergencyGovernor == "":
		return errFactory.WithData(errors.ErrInvalidConfig, "thermal.emergency_governor is empty")
	}

	return nil
}

// ValidateInterval checks a polling interval against the allowed range.
func ValidateInterval(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return errors.New().WithData(errors.ErrInvalidInterval, fmt.Sprintf("%s outside [%s,%s]", d, MinInterval, MaxInterval))
	}
	return nil
}

// ConfigFile returns the path of the file that was read, if any.
func (c *Config) ConfigFile() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Watch reloads the configuration file on change. Only thresholds and
// the log level are meant to be picked up live; profiles are read once.
func (c *Config) Watch(ctx context.Context, callback func(*Config)) error {
	if c.ConfigFile() == "" {
		return errors.New().WithMessage(errors.ErrReadConfig, "no configuration file to watch")
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		next, err := build(c.v)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}

		logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("Configuration reloaded")
		callback(next)
	})
	c.v.WatchConfig()

	return nil
}
