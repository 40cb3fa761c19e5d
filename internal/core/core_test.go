package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/laptopctl/internal/config"
	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/device"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/journal"
	"codeberg.org/mutker/laptopctl/internal/profile"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/sysfs"
	"codeberg.org/mutker/laptopctl/internal/sysfs/sysfstest"
	"codeberg.org/mutker/laptopctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	state       journal.State
	loadErr     error
	saved       []journal.State
	commands    int
	transitions []thermal.Transition
	closed      bool
}

func (s *fakeStore) RecordCommand(control.Command, error, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands++
}

func (s *fakeStore) RecordTransition(t thermal.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
}

func (s *fakeStore) SaveState(name string, rgb control.RgbState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, journal.State{Profile: name, Rgb: &rgb})
	return nil
}

func (s *fakeStore) LoadState() (journal.State, error) {
	return s.state, s.loadErr
}

func (s *fakeStore) Close() error {
	s.closed = true
	return nil
}

func (s *fakeStore) lastSaved() (journal.State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return journal.State{}, 0
	}
	return s.saved[len(s.saved)-1], len(s.saved)
}

type fixture struct {
	tree  *sysfstest.Tree
	store *fakeStore
	core  *Core
	hid   string
}

const (
	governorPath = "devices/system/cpu/cpu0/cpufreq/scaling_governor"
	cpuFanPWM    = "class/hwmon/hwmon1/pwm1"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tree := sysfstest.New(t)
	tree.Zone(0, "x86_pkg_temp", 50, 100)
	tree.CPU(0, "schedutil", []string{"performance", "schedutil", "powersave"}, 2400000)
	tree.Fan(1, 1, "clevo", "cpu_fan", 2000, 102)

	hid := filepath.Join(t.TempDir(), "hidraw0")
	require.NoError(t, os.WriteFile(hid, nil, 0o600))

	fs := sysfs.New(tree.Root)
	reader := sensor.NewReader([]sensor.Source{
		sensor.NewThermalSource(fs),
		sensor.NewFanSource(fs),
		sensor.NewFrequencySource(fs),
	})

	f := &fixture{tree: tree, store: &fakeStore{}, hid: hid}

	writer, err := device.New(device.Config{
		FS:             fs,
		HidrawPath:     hid,
		FanFloor:       30,
		CriticalMargin: 10,
		Thermals: func() (float64, float64, bool) {
			snap := f.core.GetSnapshot()
			if snap.NoData() {
				return 0, 0, false
			}
			return snap.CPUPackageTemp, snap.Critical(), true
		},
	})
	require.NoError(t, err)

	f.core = Assemble(Deps{
		Reader:         reader,
		Writer:         writer,
		Store:          f.store,
		Profiles:       profile.Defaults(),
		Thresholds:     thermal.DefaultThresholds(),
		DefaultProfile: "balanced",
		HistorySize:    16,
		Interval:       time.Second,
	})

	return f
}

func TestPollPublishesSnapshot(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.core.GetSnapshot().NoData())

	snap := f.core.PollOnce(context.Background())
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 50.0, snap.CPUPackageTemp)
	assert.Equal(t, 2400.0, snap.AvgFrequency)
	assert.NoError(t, f.core.SensorError())

	f.core.PollOnce(context.Background())
	history := f.core.GetHistory(10)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Seq)
	assert.Equal(t, uint64(2), history[1].Seq)
}

func TestGuardDrivesFansWhenHot(t *testing.T) {
	f := newFixture(t)
	f.tree.ZoneTemp(0, 85)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.core.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.core.GetThermalState() == thermal.Elevated
	}, 2*time.Second, 10*time.Millisecond)

	// 70% of 255
	assert.Eventually(t, func() bool {
		return f.tree.Read(cpuFanPWM) == "179"
	}, 2*time.Second, 10*time.Millisecond)

	err := f.core.SubmitCommand(ctx, control.SetFanDuty(control.SourceUser, "cpu_fan", 40))
	assert.True(t, errors.HasCode(err, errors.ErrOverriddenBySafety))

	cancel()
	require.NoError(t, <-done)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.NotEmpty(t, f.store.transitions)
	assert.Equal(t, thermal.Elevated, f.store.transitions[0].To)
}

func TestGuardNeverSlowsFans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tree.ZoneTemp(0, 79)
	f.core.PollOnce(ctx)

	require.NoError(t, f.core.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, "gaming")))
	assert.Equal(t, "252", f.tree.Read(cpuFanPWM))

	f.tree.ZoneTemp(0, 81)
	snap := f.core.PollOnce(ctx)
	require.Equal(t, thermal.Elevated, f.core.guard.Evaluate(ctx, snap))
	assert.Equal(t, "252", f.tree.Read(cpuFanPWM))
}

func TestFanCurveFollowsTemperature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.core.PollOnce(ctx)

	require.NoError(t, f.core.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, "balanced")))
	assert.Equal(t, "115", f.tree.Read(cpuFanPWM))

	f.tree.ZoneTemp(0, 60)
	require.Equal(t, thermal.Normal, f.core.guard.Evaluate(ctx, f.core.PollOnce(ctx)))
	assert.Equal(t, "153", f.tree.Read(cpuFanPWM))

	f.tree.ZoneTemp(0, 70)
	f.core.guard.Evaluate(ctx, f.core.PollOnce(ctx))
	assert.Equal(t, "191", f.tree.Read(cpuFanPWM))
}

func TestProfileRollbackRestoresAutoFan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tree.Write(cpuFanPWM+"_enable", "2")
	require.NoError(t, os.Remove(f.hid))
	f.core.PollOnce(ctx)

	err := f.core.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, "gaming"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrProfilePartiallyApplied))

	assert.Equal(t, "schedutil", f.tree.Read(governorPath))
	assert.Equal(t, "102", f.tree.Read(cpuFanPWM))
	assert.Equal(t, "2", f.tree.Read(cpuFanPWM+"_enable"))

	fan, ok := f.core.PollOnce(ctx).Fan("cpu_fan")
	require.True(t, ok)
	assert.True(t, fan.AutoMode)
}

func TestRestoreStoredState(t *testing.T) {
	f := newFixture(t)
	off := control.RgbState{}
	f.store.state = journal.State{Profile: "power_saver", Rgb: &off}

	f.core.PollOnce(context.Background())
	f.core.Restore(context.Background())

	assert.Equal(t, "powersave", f.tree.Read(governorPath))
	assert.Equal(t, "power_saver", f.core.GetActiveProfile().Name)
	assert.False(t, f.core.GetRgbState().Enabled)
	assert.Equal(t, 85.0, f.core.guard.Thresholds().Throttle)
}

func TestRestoreFallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	f.store.state = journal.State{Profile: "retired"}

	f.core.PollOnce(context.Background())
	f.core.Restore(context.Background())

	assert.Equal(t, "schedutil", f.tree.Read(governorPath))
	assert.Equal(t, "balanced", f.core.GetActiveProfile().Name)
}

func TestSubmitCommandPersistsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.core.PollOnce(ctx)

	require.NoError(t, f.core.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, "gaming")))
	st, n := f.store.lastSaved()
	require.Equal(t, 1, n)
	assert.Equal(t, "gaming", st.Profile)
	assert.True(t, st.Rgb.Enabled)

	ice := control.RgbState{Enabled: true, Color: [3]uint8{0, 0xb4, 0xff}, Brightness: 60}
	require.NoError(t, f.core.SubmitCommand(ctx, control.SetRgb(control.SourceUser, ice)))
	st, n = f.store.lastSaved()
	require.Equal(t, 2, n)
	assert.Equal(t, "gaming", st.Profile)
	assert.Equal(t, ice, *st.Rgb)
	assert.Equal(t, ice, f.core.GetRgbState())

	// Governor changes are not part of the restored state.
	require.NoError(t, f.core.SubmitCommand(ctx, control.SetGovernor(control.SourceUser, "powersave")))
	_, n = f.store.lastSaved()
	assert.Equal(t, 2, n)
}

func TestSetInterval(t *testing.T) {
	f := newFixture(t)

	err := f.core.SetInterval(500 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
	assert.Equal(t, time.Second, f.core.Interval())

	require.NoError(t, f.core.SetInterval(3*time.Second))
	assert.Equal(t, 3*time.Second, f.core.Interval())
}

func TestReloadKeepsProfileThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.core.PollOnce(ctx)
	require.NoError(t, f.core.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, "power_saver")))

	cfg := &config.Config{
		Interval: 2 * time.Second,
		LogLevel: config.LogLevel("info"),
		Thermal: config.Thermal{
			Warn:              75,
			Throttle:          95,
			Hysteresis:        4,
			GraceWindow:       10 * time.Second,
			Improvement:       1,
			ElevatedDuty:      60,
			CriticalDuty:      100,
			EmergencyGovernor: "powersave",
		},
	}
	f.core.Reload(cfg)

	th := f.core.guard.Thresholds()
	assert.Equal(t, 75.0, th.Warn)
	assert.Equal(t, 85.0, th.Throttle)
	assert.Equal(t, 10*time.Second, th.GraceWindow)
	assert.Equal(t, 2*time.Second, f.core.Interval())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	closed := false
	f.core.closers = append(f.core.closers, func() error {
		closed = true
		return nil
	})

	require.NoError(t, f.core.Close())
	assert.True(t, f.store.closed)
	assert.True(t, closed)
}
