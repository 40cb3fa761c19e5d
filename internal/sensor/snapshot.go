package sensor

import "time"

// ThermalZoneReading is one thermal zone temperature in Celsius.
type ThermalZoneReading struct {
	Name         string  `json:"name"`
	Temperature  float64 `json:"temperature"`
	CriticalTemp float64 `json:"critical_temp"`
}

// FanReading is one fan. RPM is median filtered.
type FanReading struct {
	Name             string  `json:"name"`
	RPM              float64 `json:"rpm"`
	DutyCyclePercent float64 `json:"duty_cycle_percent"`
	AutoMode         bool    `json:"auto_mode"`
}

type NetworkCounters struct {
	Interface string `json:"interface"`
	BytesRx   uint64 `json:"bytes_rx"`
	BytesTx   uint64 `json:"bytes_tx"`
	PacketsRx uint64 `json:"packets_rx"`
	PacketsTx uint64 `json:"packets_tx"`
	ErrorsRx  uint64 `json:"errors_rx"`
	ErrorsTx  uint64 `json:"errors_tx"`
}

type ProcessInfo struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

type CPUFrequency struct {
	CPU int     `json:"cpu"`
	MHz float64 `json:"mhz"`
}

type GPUReading struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	FanPercent  float64 `json:"fan_percent"`
}

// Snapshot is one poll's readings. It is never modified after it has
// been published.
type Snapshot struct {
	Seq            uint64               `json:"seq"`
	Timestamp      time.Time            `json:"timestamp"`
	CPUUtilization []float64            `json:"cpu_utilization"`
	CPUPackageTemp float64              `json:"cpu_package_temp"`
	CPUFrequencies []CPUFrequency       `json:"cpu_frequencies,omitempty"`
	AvgFrequency   float64              `json:"avg_frequency_mhz"`
	ThermalZones   []ThermalZoneReading `json:"thermal_zones"`
	Fans           []FanReading         `json:"fans"`
	MemoryUsed     uint64               `json:"memory_used"`
	MemoryTotal    uint64               `json:"memory_total"`
	Network        []NetworkCounters    `json:"network"`
	Processes      []ProcessInfo        `json:"processes"`
	GPUs           []GPUReading         `json:"gpus,omitempty"`
	Partial        bool                 `json:"partial"`
	FailedSources  []string             `json:"failed_sources,omitempty"`
}

// NoData reports whether s is the placeholder served before the first poll.
func (s Snapshot) NoData() bool {
	return s.Seq == 0
}

// HasThermal reports whether any temperature source was read.
func (s Snapshot) HasThermal() bool {
	return len(s.ThermalZones) > 0
}

// Fan returns the named fan reading.
func (s Snapshot) Fan(name string) (FanReading, bool) {
	for _, f := range s.Fans {
		if f.Name == name {
			return f, true
		}
	}
	return FanReading{}, false
}

// Critical returns the lowest critical temperature across zones, or 0
// when there are none.
func (s Snapshot) Critical() float64 {
	var lowest float64
	for _, z := range s.ThermalZones {
		if z.CriticalTemp > 0 && (lowest == 0 || z.CriticalTemp < lowest) {
			lowest = z.CriticalTemp
		}
	}
	return lowest
}
