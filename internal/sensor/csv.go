package sensor

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"
)

// WriteCSV renders snapshots as one row each. Fan columns are the union
// of fan names across all rows; a fan missing from a row leaves its
// cells empty.
func WriteCSV(w io.Writer, snaps []Snapshot) error {
	seen := make(map[string]struct{})
	for _, s := range snaps {
		for _, f := range s.Fans {
			seen[f.Name] = struct{}{}
		}
	}
	fans := make([]string, 0, len(seen))
	for name := range seen {
		fans = append(fans, name)
	}
	sort.Strings(fans)

	header := []string{
		"timestamp", "seq", "cpu_utilization", "cpu_package_temp",
		"avg_frequency_mhz", "memory_used", "memory_total",
	}
	for _, name := range fans {
		header = append(header, name+"_rpm", name+"_duty")
	}
	header = append(header, "partial")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range snaps {
		row := []string{
			s.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatUint(s.Seq, 10),
			formatFloat(mean(s.CPUUtilization)),
			formatFloat(s.CPUPackageTemp),
			formatFloat(s.AvgFrequency),
			strconv.FormatUint(s.MemoryUsed, 10),
			strconv.FormatUint(s.MemoryTotal, 10),
		}
		for _, name := range fans {
			if f, ok := s.Fan(name); ok {
				row = append(row, formatFloat(f.RPM), formatFloat(f.DutyCyclePercent))
			} else {
				row = append(row, "", "")
			}
		}
		row = append(row, strconv.FormatBool(s.Partial))

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
