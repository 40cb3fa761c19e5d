package sensor

import (
	"context"
	"strings"

	"codeberg.org/mutker/laptopctl/internal/sysfs"
)

// packageZoneTypes are thermal zone types that report the CPU package.
var packageZoneTypes = []string{"x86_pkg_temp", "cpu-thermal", "cpu_thermal", "soc_thermal"}

// ThermalSource reads every thermal zone and derives the CPU package
// temperature.
type ThermalSource struct {
	fs sysfs.FS
}

func NewThermalSource(fs sysfs.FS) *ThermalSource {
	return &ThermalSource{fs: fs}
}

func (s *ThermalSource) Name() string { return "thermal" }

func (s *ThermalSource) Collect(_ context.Context, snap *Snapshot) (int, []string) {
	zones, err := s.fs.ThermalZones()
	if err != nil || len(zones) == 0 {
		return 0, []string{"thermal"}
	}

	var (
		failed []string
		pkg     = -1.0
		hottest float64
	)
	for _, z := range zones {
		temp, err := z.Temp()
		if err != nil || temp < 0 {
			failed = append(failed, z.ID)
			continue
		}
		snap.ThermalZones = append(snap.ThermalZones, ThermalZoneReading{
			Name:         z.Type,
			Temperature:  temp,
			CriticalTemp: z.CriticalTemp(),
		})
		if temp > hottest {
			hottest = temp
		}
		if pkg < 0 && isPackageZone(z.Type) {
			pkg = temp
		}
	}

	if pkg < 0 {
		pkg = hottest
	}
	snap.CPUPackageTemp = pkg

	return len(snap.ThermalZones), failed
}

func isPackageZone(typ string) bool {
	for _, t := range packageZoneTypes {
		if strings.EqualFold(typ, t) {
			return true
		}
	}
	return false
}

// FanSource reads hwmon fans. RPM goes through a per-fan median filter.
type FanSource struct {
	fs      sysfs.FS
	filters map[string]*medianFilter
}

func NewFanSource(fs sysfs.FS) *FanSource {
	return &FanSource{fs: fs, filters: make(map[string]*medianFilter)}
}

func (s *FanSource) Name() string { return "fans" }

func (s *FanSource) Collect(_ context.Context, snap *Snapshot) (int, []string) {
	fans, err := s.fs.Fans()
	if err != nil {
		return 0, []string{"fans"}
	}

	var failed []string
	for _, f := range fans {
		rpm, err := f.RPM()
		if err != nil || rpm < 0 {
			failed = append(failed, f.ID)
			continue
		}
		duty, auto, err := f.Duty()
		if err != nil {
			failed = append(failed, f.ID)
			continue
		}

		filter, ok := s.filters[f.ID]
		if !ok {
			filter = &medianFilter{}
			s.filters[f.ID] = filter
		}

		snap.Fans = append(snap.Fans, FanReading{
			Name:             f.Name,
			RPM:              filter.Add(rpm),
			DutyCyclePercent: duty,
			AutoMode:         auto,
		})
	}

	return len(snap.Fans), failed
}

// FrequencySource reads cpufreq current frequencies.
type FrequencySource struct {
	fs sysfs.FS
}

func NewFrequencySource(fs sysfs.FS) *FrequencySource {
	return &FrequencySource{fs: fs}
}

func (s *FrequencySource) Name() string { return "cpufreq" }

func (s *FrequencySource) Collect(_ context.Context, snap *Snapshot) (int, []string) {
	policies, err := s.fs.Policies()
	if err != nil || len(policies) == 0 {
		return 0, []string{"cpufreq"}
	}

	var (
		failed []string
		sum    float64
	)
	for _, p := range policies {
		mhz, err := p.FrequencyMHz()
		if err != nil {
			failed = append(failed, "cpufreq"+itoa(p.CPU))
			continue
		}
		snap.CPUFrequencies = append(snap.CPUFrequencies, CPUFrequency{CPU: p.CPU, MHz: mhz})
		sum += mhz
	}
	if n := len(snap.CPUFrequencies); n > 0 {
		snap.AvgFrequency = sum / float64(n)
	}

	return len(snap.CPUFrequencies), failed
}
