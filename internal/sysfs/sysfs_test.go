package sysfs_test

import (
	"testing"

	"codeberg.org/mutker/laptopctl/internal/sysfs"
	"codeberg.org/mutker/laptopctl/internal/sysfs/sysfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThermalZones(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Zone(10, "acpitz", 45.5, 0)
	tree.Zone(2, "x86_pkg_temp", 61, 105)

	zones, err := sysfs.New(tree.Root).ThermalZones()
	require.NoError(t, err)
	require.Len(t, zones, 2)

	assert.Equal(t, "thermal_zone2", zones[0].ID)
	assert.Equal(t, "x86_pkg_temp", zones[0].Type)
	assert.InDelta(t, 105, zones[0].CriticalTemp(), 0.001)
	assert.InDelta(t, 100, zones[1].CriticalTemp(), 0.001, "default when no critical trip")

	temp, err := zones[1].Temp()
	require.NoError(t, err)
	assert.InDelta(t, 45.5, temp, 0.001)
}

func TestFans(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Fan(3, 2, "asus", "", 2100, 128)
	tree.Fan(3, 1, "asus", "cpu_fan", 2400, 255)
	tree.Write("class/hwmon/hwmon3/pwm2_enable", "2")

	fans, err := sysfs.New(tree.Root).Fans()
	require.NoError(t, err)
	require.Len(t, fans, 2)

	assert.Equal(t, "hwmon3/fan1", fans[0].ID)
	assert.Equal(t, "cpu_fan", fans[0].Name)
	assert.Equal(t, "asus_fan2", fans[1].Name)

	duty, auto, err := fans[0].Duty()
	require.NoError(t, err)
	assert.InDelta(t, 100, duty, 0.001)
	assert.False(t, auto)

	duty, auto, err = fans[1].Duty()
	require.NoError(t, err)
	assert.InDelta(t, 50.2, duty, 0.01)
	assert.True(t, auto)

	rpm, err := fans[1].RPM()
	require.NoError(t, err)
	assert.InDelta(t, 2100, rpm, 0.001)
}

func TestFansSharingLabel(t *testing.T) {
	tree := sysfstest.New(t)
	tree.Fan(1, 1, "clevo", "cpu_fan", 2000, 102)
	tree.Fan(4, 1, "dell_smm", "cpu_fan", 1800, 128)

	fans, err := sysfs.New(tree.Root).Fans()
	require.NoError(t, err)
	require.Len(t, fans, 2)

	assert.Equal(t, "cpu_fan", fans[0].Name)
	assert.Equal(t, "cpu_fan_hwmon4_fan1", fans[1].Name)
	assert.Equal(t, "hwmon4/fan1", fans[1].ID)
}

func TestPolicies(t *testing.T) {
	tree := sysfstest.New(t)
	tree.CPU(1, "schedutil", []string{"performance", "schedutil", "powersave"}, 2400000)
	tree.CPU(0, "schedutil", []string{"performance", "schedutil", "powersave"}, 3100000)
	tree.Write("devices/system/cpu/cpufreq/boost", "1")

	policies, err := sysfs.New(tree.Root).Policies()
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, 0, policies[0].CPU)

	avail, err := policies[0].AvailableGovernors()
	require.NoError(t, err)
	assert.Equal(t, []string{"performance", "schedutil", "powersave"}, avail)

	mhz, err := policies[0].FrequencyMHz()
	require.NoError(t, err)
	assert.InDelta(t, 3100, mhz, 0.001)

	require.NoError(t, sysfs.WriteString(policies[0].GovernorPath(), "powersave"))
	gov, err := policies[0].Governor()
	require.NoError(t, err)
	assert.Equal(t, "powersave", gov)
}

func TestPWMConversion(t *testing.T) {
	assert.Equal(t, int64(0), sysfs.PercentToPWM(-5))
	assert.Equal(t, int64(128), sysfs.PercentToPWM(50))
	assert.Equal(t, int64(77), sysfs.PercentToPWM(30))
	assert.Equal(t, int64(255), sysfs.PercentToPWM(100))

	for p := 0.0; p <= 100; p++ {
		back := sysfs.PWMToPercent(sysfs.PercentToPWM(p))
		assert.InDelta(t, p, back, 0.2, "percent %v", p)
	}
}
