package sensor

import (
	"context"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// UseProcRoot points the system sources at an alternative procfs mount.
func UseProcRoot(root string) error {
	if root == "" || root == "/proc" {
		return nil
	}
	return os.Setenv("HOST_PROC", root)
}

// CPUSource reads per-core utilisation.
type CPUSource struct{}

func (CPUSource) Name() string { return "cpu" }

func (CPUSource) Collect(ctx context.Context, snap *Snapshot) (int, []string) {
	percents, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil || len(percents) == 0 {
		return 0, []string{"cpu"}
	}
	snap.CPUUtilization = make([]float64, len(percents))
	for i, p := range percents {
		snap.CPUUtilization[i] = clampPercent(p)
	}
	return 1, nil
}

// MemorySource reads virtual memory usage.
type MemorySource struct{}

func (MemorySource) Name() string { return "memory" }

func (MemorySource) Collect(ctx context.Context, snap *Snapshot) (int, []string) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, []string{"memory"}
	}
	snap.MemoryUsed = vm.Used
	snap.MemoryTotal = vm.Total
	return 1, nil
}

// NetworkSource reads per-interface counters.
type NetworkSource struct{}

func (NetworkSource) Name() string { return "network" }

func (NetworkSource) Collect(ctx context.Context, snap *Snapshot) (int, []string) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return 0, []string{"network"}
	}
	for _, c := range counters {
		snap.Network = append(snap.Network, NetworkCounters{
			Interface: c.Name,
			BytesRx:   c.BytesRecv,
			BytesTx:   c.BytesSent,
			PacketsRx: c.PacketsRecv,
			PacketsTx: c.PacketsSent,
			ErrorsRx:  c.Errin,
			ErrorsTx:  c.Errout,
		})
	}
	sort.Slice(snap.Network, func(i, j int) bool { return snap.Network[i].Interface < snap.Network[j].Interface })
	return 1, nil
}

// ProcessSource reads the top N processes by CPU usage. Process handles
// are kept between polls so CPU usage covers the last interval rather
// than the process lifetime. The zero value is ready to use.
type ProcessSource struct {
	Limit int

	mu    sync.Mutex
	procs map[int32]*process.Process
}

func (*ProcessSource) Name() string { return "processes" }

func (s *ProcessSource) Collect(ctx context.Context, snap *Snapshot) (int, []string) {
	if s.Limit <= 0 {
		return 0, nil
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return 0, []string{"processes"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[int32]*process.Process, len(pids))
	infos := make([]ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		// Processes exit between listing and reading; skip them.
		p, seen := s.procs[pid]
		if !seen {
			if p, err = process.NewProcessWithContext(ctx, pid); err != nil {
				continue
			}
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, err := p.PercentWithContext(ctx, 0)
		if err != nil {
			continue
		}
		if !seen {
			// First sighting has no earlier sample to diff against.
			if cpuPct, err = p.CPUPercentWithContext(ctx); err != nil {
				continue
			}
		}
		memPct, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		live[pid] = p
		infos = append(infos, ProcessInfo{
			PID:        pid,
			Name:       name,
			CPUPercent: clampNonNegative(cpuPct),
			MemPercent: clampPercent(float64(memPct)),
		})
	}
	s.procs = live

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CPUPercent != infos[j].CPUPercent {
			return infos[i].CPUPercent > infos[j].CPUPercent
		}
		return infos[i].PID < infos[j].PID
	})
	if len(infos) > s.Limit {
		infos = infos[:s.Limit]
	}
	snap.Processes = infos

	return 1, nil
}

func clampPercent(v float64) float64 {
	if v > 100 {
		return 100
	}
	return clampNonNegative(v)
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
