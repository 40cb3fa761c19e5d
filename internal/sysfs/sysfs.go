// Package sysfs discovers and reads the kernel's thermal, hwmon and cpufreq
// attribute files.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const defaultCriticalTemp = 100.0

// FS is a sysfs tree rooted at Root, normally "/sys".
type FS struct {
	Root string
}

func New(root string) FS {
	if root == "" {
		root = "/sys"
	}
	return FS{Root: root}
}

// Zone is one thermal zone.
type Zone struct {
	ID   string
	Type string
	Path string
}

// Fan is one hwmon fan tachometer, with its PWM control when present.
type Fan struct {
	ID         string
	Name       string
	InputPath  string
	PWMPath    string
	EnablePath string
}

// Policy is one CPU's cpufreq directory.
type Policy struct {
	CPU  int
	Path string
}

var (
	fanInputRe = regexp.MustCompile(`^fan(\d+)_input$`)
	cpuDirRe   = regexp.MustCompile(`^cpu(\d+)$`)
)

// ThermalZones lists thermal zones sorted by zone number.
func (fs FS) ThermalZones() ([]Zone, error) {
	paths, err := filepath.Glob(filepath.Join(fs.Root, "class", "thermal", "thermal_zone*"))
	if err != nil {
		return nil, err
	}
	sortNumeric(paths, "thermal_zone")

	zones := make([]Zone, 0, len(paths))
	for _, p := range paths {
		typ, err := ReadString(filepath.Join(p, "type"))
		if err != nil {
			typ = filepath.Base(p)
		}
		zones = append(zones, Zone{ID: filepath.Base(p), Type: typ, Path: p})
	}

	return zones, nil
}

// Temp reads the zone temperature in Celsius.
func (z Zone) Temp() (float64, error) {
	return ReadMilli(filepath.Join(z.Path, "temp"))
}

// CriticalTemp returns the temperature of the zone's "critical" trip
// point, or 100 when the zone publishes none.
func (z Zone) CriticalTemp() float64 {
	types, _ := filepath.Glob(filepath.Join(z.Path, "trip_point_*_type"))
	for _, t := range types {
		typ, err := ReadString(t)
		if err != nil || typ != "critical" {
			continue
		}
		temp, err := ReadMilli(strings.TrimSuffix(t, "_type") + "_temp")
		if err == nil && temp > 0 {
			return temp
		}
	}
	return defaultCriticalTemp
}

// Fans lists hwmon fan inputs across all hwmon devices.
func (fs FS) Fans() ([]Fan, error) {
	devices, err := filepath.Glob(filepath.Join(fs.Root, "class", "hwmon", "hwmon*"))
	if err != nil {
		return nil, err
	}
	sortNumeric(devices, "hwmon")

	var fans []Fan
	seen := make(map[string]bool)
	for _, dev := range devices {
		entries, err := os.ReadDir(dev)
		if err != nil {
			continue
		}

		chip, _ := ReadString(filepath.Join(dev, "name"))
		if chip == "" {
			chip = filepath.Base(dev)
		}

		var indices []int
		for _, e := range entries {
			if m := fanInputRe.FindStringSubmatch(e.Name()); m != nil {
				n, _ := strconv.Atoi(m[1])
				indices = append(indices, n)
			}
		}
		sort.Ints(indices)

		for _, n := range indices {
			f := Fan{
				ID:        fmt.Sprintf("%s/fan%d", filepath.Base(dev), n),
				InputPath: filepath.Join(dev, fmt.Sprintf("fan%d_input", n)),
			}
			f.Name = fmt.Sprintf("%s_fan%d", chip, n)
			if label, err := ReadString(filepath.Join(dev, fmt.Sprintf("fan%d_label", n))); err == nil && label != "" {
				f.Name = label
			}
			// Chips may share labels. Later fans get their ID appended.
			if seen[f.Name] {
				f.Name += "_" + strings.ReplaceAll(f.ID, "/", "_")
			}
			seen[f.Name] = true
			pwm := filepath.Join(dev, fmt.Sprintf("pwm%d", n))
			if _, err := os.Stat(pwm); err == nil {
				f.PWMPath = pwm
				f.EnablePath = pwm + "_enable"
			}
			fans = append(fans, f)
		}
	}

	return fans, nil
}

// RPM reads the fan tachometer.
func (f Fan) RPM() (float64, error) {
	v, err := ReadInt(f.InputPath)
	return float64(v), err
}

// Duty reads the PWM value and scales it to percent. auto is true when
// the kernel or firmware controls the fan.
func (f Fan) Duty() (duty float64, auto bool, err error) {
	if f.PWMPath == "" {
		return 0, true, nil
	}
	raw, err := ReadInt(f.PWMPath)
	if err != nil {
		return 0, false, err
	}
	if mode, err := ReadInt(f.EnablePath); err == nil {
		auto = mode != 1
	}
	return PWMToPercent(raw), auto, nil
}

// Policies lists CPUs that expose a cpufreq directory.
func (fs FS) Policies() ([]Policy, error) {
	base := filepath.Join(fs.Root, "devices", "system", "cpu")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	var out []Policy
	for _, e := range entries {
		m := cpuDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		dir := filepath.Join(base, e.Name(), "cpufreq")
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		out = append(out, Policy{CPU: n, Path: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPU < out[j].CPU })

	return out, nil
}

// GovernorPath is the scaling_governor file of the policy.
func (p Policy) GovernorPath() string {
	return filepath.Join(p.Path, "scaling_governor")
}

// Governor reads the current scaling governor.
func (p Policy) Governor() (string, error) {
	return ReadString(p.GovernorPath())
}

// AvailableGovernors reads scaling_available_governors.
func (p Policy) AvailableGovernors() ([]string, error) {
	s, err := ReadString(filepath.Join(p.Path, "scaling_available_governors"))
	if err != nil {
		return nil, err
	}
	return strings.Fields(s), nil
}

// FrequencyMHz reads the current frequency, preferring scaling_cur_freq.
func (p Policy) FrequencyMHz() (float64, error) {
	khz, err := ReadInt(filepath.Join(p.Path, "scaling_cur_freq"))
	if err != nil {
		khz, err = ReadInt(filepath.Join(p.Path, "cpuinfo_cur_freq"))
		if err != nil {
			return 0, err
		}
	}
	return float64(khz) / 1000, nil
}

// PWMToPercent converts a 0-255 PWM value to a 0-100 percent.
func PWMToPercent(raw int64) float64 {
	if raw <= 0 {
		return 0
	}
	if raw >= 255 {
		return 100
	}
	return float64(raw) * 100 / 255
}

// PercentToPWM converts a 0-100 percent to the nearest 0-255 PWM value.
func PercentToPWM(percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 255
	}
	return int64(percent*255/100 + 0.5)
}

// ReadString reads a single-value attribute file.
func ReadString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadInt reads an integer attribute file.
func ReadInt(path string) (int64, error) {
	s, err := ReadString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// ReadMilli reads a millidegree attribute and returns degrees.
func ReadMilli(path string) (float64, error) {
	v, err := ReadInt(path)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000, nil
}

// WriteString writes value to an existing attribute file.
func WriteString(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sortNumeric(paths []string, prefix string) {
	num := func(p string) int {
		n, _ := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), prefix))
		return n
	}
	sort.Slice(paths, func(i, j int) bool { return num(paths[i]) < num(paths[j]) })
}
