package sensor_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"codeberg.org/mutker/laptopctl/internal/sysfs"
	"codeberg.org/mutker/laptopctl/internal/sysfs/sysfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReader(tree *sysfstest.Tree) *sensor.Reader {
	fs := sysfs.New(tree.Root)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sensor.NewReader([]sensor.Source{
		sensor.NewThermalSource(fs),
		sensor.NewFanSource(fs),
		sensor.NewFrequencySource(fs),
	}, sensor.WithClock(func() time.Time { return fixed }))
}

func TestPoll(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Zone(0, "acpitz", 48, 0)
	tree.Zone(1, "x86_pkg_temp", 63.5, 105)
	tree.Fan(2, 1, "asus", "cpu_fan", 2400, 153)
	tree.CPU(0, "schedutil", []string{"schedutil"}, 2000000)
	tree.CPU(1, "schedutil", []string{"schedutil"}, 3000000)

	snap, err := newReader(tree).Poll(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.Partial)
	assert.Empty(t, snap.FailedSources)
	assert.InDelta(t, 63.5, snap.CPUPackageTemp, 0.001)
	require.Len(t, snap.ThermalZones, 2)
	assert.Equal(t, "acpitz", snap.ThermalZones[0].Name)
	assert.InDelta(t, 100, snap.ThermalZones[0].CriticalTemp, 0.001)
	assert.InDelta(t, 105, snap.ThermalZones[1].CriticalTemp, 0.001)
	assert.InDelta(t, 100, snap.Critical(), 0.001)

	fan, ok := snap.Fan("cpu_fan")
	require.True(t, ok)
	assert.InDelta(t, 2400, fan.RPM, 0.001)
	assert.InDelta(t, 60, fan.DutyCyclePercent, 0.001)
	assert.False(t, fan.AutoMode)

	assert.InDelta(t, 2500, snap.AvgFrequency, 0.001)
}

func TestPollPartialZoneFailure(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Zone(0, "acpitz", 48, 0)
	tree.Zone(1, "x86_pkg_temp", 70, 0)
	tree.Zone(2, "iwlwifi_1", 39, 0)
	tree.Remove("class/thermal/thermal_zone1/temp")

	snap, err := newReader(tree).Poll(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Partial)
	assert.Contains(t, snap.FailedSources, "thermal_zone1")
	require.Len(t, snap.ThermalZones, 2)
	assert.Equal(t, "acpitz", snap.ThermalZones[0].Name)
	assert.Equal(t, "iwlwifi_1", snap.ThermalZones[1].Name)
	assert.InDelta(t, 48, snap.CPUPackageTemp, 0.001, "falls back to hottest zone")
}

func TestPollFanSpikeFiltered(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Zone(0, "x86_pkg_temp", 50, 0)
	tree.Fan(0, 1, "asus", "", 2000, 100)
	reader := newReader(tree)

	var rpms []float64
	for _, rpm := range []int{2000, 2000, 12000, 2100} {
		tree.FanRPM(0, 1, rpm)
		snap, err := reader.Poll(context.Background())
		require.NoError(t, err)
		rpms = append(rpms, snap.Fans[0].RPM)
	}

	assert.Equal(t, []float64{2000, 2000, 2000, 2100}, rpms)
}

func TestPollAllSourcesUnavailable(t *testing.T) {
	tree := sysfstest.New(t)
	reader := newReader(tree)

	snap, err := reader.Poll(context.Background())
	require.NoError(t, err, "first total failure is only degraded")
	assert.True(t, snap.Partial)
	assert.ElementsMatch(t, []string{"cpufreq", "thermal"}, snap.FailedSources)

	_, err = reader.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAllSourcesUnavailable))

	tree.Zone(0, "x86_pkg_temp", 55, 0)
	snap, err = reader.Poll(context.Background())
	require.NoError(t, err, "recovers once a source is readable")
	assert.True(t, snap.HasThermal())
}
