package thermal_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	cmds     []control.Command
	holds    control.Holds
	fail     map[control.Channel]error
	probeErr error
}

func (f *fakeController) Submit(_ context.Context, cmd control.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.fail[cmd.Channel()]
}

func (f *fakeController) SetHolds(h control.Holds) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds = h
}

func (f *fakeController) Fans() []string { return []string{"cpu_fan", "gpu_fan"} }

func (f *fakeController) Probe(control.Channel) error { return f.probeErr }

func (f *fakeController) reset() []control.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.cmds
	f.cmds = nil
	return out
}

type transitions []thermal.Transition

func (t *transitions) RecordTransition(tr thermal.Transition) { *t = append(*t, tr) }

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshotAt(sec int, temp float64) sensor.Snapshot {
	return sensor.Snapshot{
		Seq:            uint64(sec + 1),
		Timestamp:      epoch.Add(time.Duration(sec) * time.Second),
		CPUPackageTemp: temp,
		ThermalZones: []sensor.ThermalZoneReading{
			{Name: "x86_pkg_temp", Temperature: temp, CriticalTemp: 105},
		},
	}
}

func TestSyntheticSequence(t *testing.T) {
	ctrl := &fakeController{}
	var rec transitions
	g := thermal.New(ctrl, thermal.DefaultThresholds(), thermal.WithRecorder(&rec))

	temps := []float64{70, 82}
	for i := 0; i < 31; i++ {
		temps = append(temps, 96)
	}
	require.Len(t, temps, 33)

	var states []thermal.State
	for i, temp := range temps {
		states = append(states, g.Evaluate(context.Background(), snapshotAt(i, temp)))
	}

	assert.Equal(t, thermal.Normal, states[0])
	assert.Equal(t, thermal.Elevated, states[1])
	for i := 2; i < 32; i++ {
		assert.Equal(t, thermal.Critical, states[i], "sample %d", i)
	}
	assert.Equal(t, thermal.Emergency, states[32])

	require.Len(t, rec, 3)
	assert.Equal(t, thermal.Elevated, rec[0].To)
	assert.Equal(t, thermal.Critical, rec[1].To)
	assert.Equal(t, thermal.Emergency, rec[2].To)
	assert.Equal(t, epoch.Add(32*time.Second), rec[2].At)

	assert.Equal(t, control.Holds{Fans: true, Governor: true}, ctrl.holds)

	cmds := ctrl.reset()
	var governor string
	for _, c := range cmds {
		assert.Equal(t, control.SourceThermalGuard, c.Source)
		if c.Kind == control.KindSetGovernor {
			governor = c.Governor
		}
	}
	assert.Equal(t, "powersave", governor)
	last := cmds[len(cmds)-3:]
	assert.InDelta(t, 100, last[0].Duty, 0.001)
	assert.InDelta(t, 100, last[1].Duty, 0.001)
}

func TestTransitionCommands(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())
	ctx := context.Background()

	g.Evaluate(ctx, snapshotAt(0, 85))
	cmds := ctrl.reset()
	require.Len(t, cmds, 2)
	assert.Equal(t, "cpu_fan", cmds[0].Fan)
	assert.InDelta(t, 70, cmds[0].Duty, 0.001)
	assert.Equal(t, control.Holds{Fans: true}, ctrl.holds)

	g.Evaluate(ctx, snapshotAt(1, 85))
	assert.Empty(t, ctrl.reset(), "no transition, no commands")

	g.Evaluate(ctx, snapshotAt(2, 97))
	cmds = ctrl.reset()
	require.Len(t, cmds, 2)
	assert.InDelta(t, 100, cmds[1].Duty, 0.001)
}

func withFans(snap sensor.Snapshot, cpu, gpu float64) sensor.Snapshot {
	snap.Fans = []sensor.FanReading{
		{Name: "cpu_fan", RPM: 4000, DutyCyclePercent: cpu},
		{Name: "gpu_fan", RPM: 3500, DutyCyclePercent: gpu},
	}
	return snap
}

func TestTransitionNeverLowersFanDuty(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())
	ctx := context.Background()

	g.Evaluate(ctx, withFans(snapshotAt(0, 79), 99, 40))
	assert.Empty(t, ctrl.reset())

	g.Evaluate(ctx, withFans(snapshotAt(1, 81), 99, 40))
	cmds := ctrl.reset()
	require.Len(t, cmds, 2)
	assert.Equal(t, "cpu_fan", cmds[0].Fan)
	assert.InDelta(t, 99, cmds[0].Duty, 0.001, "faster fan keeps its duty")
	assert.Equal(t, "gpu_fan", cmds[1].Fan)
	assert.InDelta(t, 70, cmds[1].Duty, 0.001)

	g.Evaluate(ctx, withFans(snapshotAt(2, 96), 99, 70))
	for _, c := range ctrl.reset() {
		r, ok := withFans(snapshotAt(2, 96), 99, 70).Fan(c.Fan)
		require.True(t, ok)
		assert.GreaterOrEqual(t, c.Duty, r.DutyCyclePercent, c.Fan)
	}
}

func TestHardwareCriticalEscalatesImmediately(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())

	snap := snapshotAt(0, 60)
	snap.ThermalZones = append(snap.ThermalZones, sensor.ThermalZoneReading{Name: "nvme", Temperature: 71, CriticalTemp: 70})

	assert.Equal(t, thermal.Emergency, g.Evaluate(context.Background(), snap))
}

func TestImprovementResetsGraceWindow(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())
	ctx := context.Background()

	g.Evaluate(ctx, snapshotAt(0, 97))
	g.Evaluate(ctx, snapshotAt(20, 95.5))
	assert.Equal(t, thermal.Critical, g.Evaluate(ctx, snapshotAt(45, 95.5)), "timer restarted at t=20")
	assert.Equal(t, thermal.Emergency, g.Evaluate(ctx, snapshotAt(50, 95.5)))
}

func TestHysteresis(t *testing.T) {
	ctrl := &fakeController{}
	restored := 0
	g := thermal.New(ctrl, thermal.DefaultThresholds(), thermal.WithRestore(func(context.Context) error {
		restored++
		return nil
	}))
	ctx := context.Background()

	g.Evaluate(ctx, snapshotAt(0, 81))
	assert.Equal(t, thermal.Elevated, g.Evaluate(ctx, snapshotAt(1, 79)), "inside hysteresis band")
	assert.Equal(t, thermal.Elevated, g.Evaluate(ctx, snapshotAt(2, 75)))
	assert.Equal(t, thermal.Normal, g.Evaluate(ctx, snapshotAt(3, 74.9)))
	assert.Equal(t, control.Holds{}, ctrl.holds)
	assert.Equal(t, 1, restored)

	g.Evaluate(ctx, snapshotAt(4, 100))
	g.Evaluate(ctx, snapshotAt(40, 100))
	require.Equal(t, thermal.Emergency, g.State())
	assert.Equal(t, thermal.Emergency, g.Evaluate(ctx, snapshotAt(41, 91)))
	assert.Equal(t, thermal.Critical, g.Evaluate(ctx, snapshotAt(42, 89)))
	assert.Equal(t, control.Holds{Fans: true}, ctrl.holds)
	assert.Equal(t, thermal.Elevated, g.Evaluate(ctx, snapshotAt(43, 88)))
	assert.Equal(t, thermal.Normal, g.Evaluate(ctx, snapshotAt(44, 60)))
}

func TestSnapshotsWithoutTemperatureIgnored(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())
	ctx := context.Background()

	g.Evaluate(ctx, snapshotAt(0, 90))
	assert.Equal(t, thermal.Elevated, g.Evaluate(ctx, sensor.Snapshot{Seq: 2, Partial: true}))
}

func TestDeviceUnavailableAlert(t *testing.T) {
	unavailable := errors.New().New(errors.ErrDeviceUnavailable)
	ctrl := &fakeController{
		fail:     map[control.Channel]error{control.FanChannel("gpu_fan"): unavailable},
		probeErr: unavailable,
	}
	g := thermal.New(ctrl, thermal.DefaultThresholds())
	ctx := context.Background()

	g.Evaluate(ctx, snapshotAt(0, 97))
	alerts := g.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "fan:gpu_fan", alerts[0].Channel)
	ctrl.reset()

	g.Evaluate(ctx, snapshotAt(1, 97))
	assert.Empty(t, ctrl.reset(), "unwritable device is probed, not written")
	assert.Len(t, g.Alerts(), 1)

	ctrl.probeErr = nil
	ctrl.fail = nil
	g.Evaluate(ctx, snapshotAt(2, 97))
	cmds := ctrl.reset()
	require.Len(t, cmds, 1)
	assert.Equal(t, "gpu_fan", cmds[0].Fan)
	assert.Empty(t, g.Alerts())

	g.Evaluate(ctx, snapshotAt(3, 97))
	assert.Empty(t, ctrl.reset())
}

func TestSetThrottle(t *testing.T) {
	g := thermal.New(&fakeController{}, thermal.DefaultThresholds())

	g.SetThrottle(90)
	assert.InDelta(t, 90, g.Thresholds().Throttle, 0.001)
	g.SetThrottle(75)
	assert.InDelta(t, 90, g.Thresholds().Throttle, 0.001)

	assert.Equal(t, thermal.Critical, g.Evaluate(context.Background(), snapshotAt(0, 91)))
}

func TestOfferKeepsLatest(t *testing.T) {
	ctrl := &fakeController{}
	g := thermal.New(ctrl, thermal.DefaultThresholds())

	g.Offer(snapshotAt(0, 97))
	g.Offer(snapshotAt(1, 82))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return g.State() == thermal.Elevated }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestStateText(t *testing.T) {
	b, err := thermal.Emergency.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "emergency", string(b))

	var s thermal.State
	require.NoError(t, s.UnmarshalText([]byte("critical")))
	assert.Equal(t, thermal.Critical, s)
	assert.Error(t, s.UnmarshalText([]byte("meltdown")))
}
