// Package sysfstest builds fake sysfs trees for tests.
package sysfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tree is a fake sysfs root in a temporary directory.
type Tree struct {
	t    *testing.T
	Root string
}

func New(t *testing.T) *Tree {
	t.Helper()
	return &Tree{t: t, Root: t.TempDir()}
}

// Write creates rel under the root with content.
func (tr *Tree) Write(rel, content string) string {
	tr.t.Helper()
	p := filepath.Join(tr.Root, rel)
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(tr.t, os.WriteFile(p, []byte(content+"\n"), 0o644))
	return p
}

// Read returns the trimmed content of rel.
func (tr *Tree) Read(rel string) string {
	tr.t.Helper()
	data, err := os.ReadFile(filepath.Join(tr.Root, rel))
	require.NoError(tr.t, err)
	return strings.TrimSpace(string(data))
}

// Remove deletes rel.
func (tr *Tree) Remove(rel string) {
	tr.t.Helper()
	require.NoError(tr.t, os.Remove(filepath.Join(tr.Root, rel)))
}

// Zone adds thermal_zoneN with the given type, temperature and optional
// critical trip point, all in Celsius.
func (tr *Tree) Zone(n int, typ string, temp, critical float64) {
	dir := fmt.Sprintf("class/thermal/thermal_zone%d", n)
	tr.Write(dir+"/type", typ)
	tr.Write(dir+"/temp", fmt.Sprintf("%d", int(temp*1000)))
	if critical > 0 {
		tr.Write(dir+"/trip_point_0_type", "passive")
		tr.Write(dir+"/trip_point_0_temp", "85000")
		tr.Write(dir+"/trip_point_1_type", "critical")
		tr.Write(dir+"/trip_point_1_temp", fmt.Sprintf("%d", int(critical*1000)))
	}
}

// ZoneTemp updates the temperature of thermal_zoneN.
func (tr *Tree) ZoneTemp(n int, temp float64) {
	tr.Write(fmt.Sprintf("class/thermal/thermal_zone%d/temp", n), fmt.Sprintf("%d", int(temp*1000)))
}

// Fan adds fanN to hwmonH with a PWM control in manual mode.
func (tr *Tree) Fan(h, n int, chip, label string, rpm, pwm int) {
	dir := fmt.Sprintf("class/hwmon/hwmon%d", h)
	tr.Write(dir+"/name", chip)
	tr.Write(fmt.Sprintf("%s/fan%d_input", dir, n), fmt.Sprintf("%d", rpm))
	if label != "" {
		tr.Write(fmt.Sprintf("%s/fan%d_label", dir, n), label)
	}
	tr.Write(fmt.Sprintf("%s/pwm%d", dir, n), fmt.Sprintf("%d", pwm))
	tr.Write(fmt.Sprintf("%s/pwm%d_enable", dir, n), "1")
}

// FanRPM updates the tachometer of fanN on hwmonH.
func (tr *Tree) FanRPM(h, n, rpm int) {
	tr.Write(fmt.Sprintf("class/hwmon/hwmon%d/fan%d_input", h, n), fmt.Sprintf("%d", rpm))
}

// CPU adds a cpufreq policy for cpuN.
func (tr *Tree) CPU(n int, governor string, available []string, khz int) {
	dir := fmt.Sprintf("devices/system/cpu/cpu%d/cpufreq", n)
	tr.Write(dir+"/scaling_governor", governor)
	tr.Write(dir+"/scaling_available_governors", strings.Join(available, " "))
	tr.Write(dir+"/scaling_cur_freq", fmt.Sprintf("%d", khz))
}
