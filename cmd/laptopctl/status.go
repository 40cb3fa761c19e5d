package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"codeberg.org/mutker/laptopctl/internal/core"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/sensor"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var asCSV, asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll sensors once and print the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.pollOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case asCSV:
				return sensor.WriteCSV(out, []sensor.Snapshot{snap})
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			default:
				return printSnapshot(out, snap)
			}
		},
	}

	cmd.Flags().BoolVar(&asCSV, "csv", false, "print as CSV")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.MarkFlagsMutuallyExclusive("csv", "json")

	return cmd
}

func (a *app) pollOnce(ctx context.Context) (sensor.Snapshot, error) {
	c, err := core.New(a.cfg, logger.Default(), core.BuildOptions{})
	if err != nil {
		return sensor.Snapshot{}, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release devices")
		}
	}()

	snap := c.PollOnce(ctx)
	if err := c.SensorError(); err != nil {
		return snap, err
	}
	return snap, nil
}

func printSnapshot(w io.Writer, s sensor.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "CPU package\t%.1f°C\n", s.CPUPackageTemp)
	fmt.Fprintf(tw, "CPU frequency\t%.0f MHz\n", s.AvgFrequency)
	for _, z := range s.ThermalZones {
		fmt.Fprintf(tw, "  %s\t%.1f°C (critical %.0f°C)\n", z.Name, z.Temperature, z.CriticalTemp)
	}
	for _, f := range s.Fans {
		mode := "manual"
		if f.AutoMode {
			mode = "auto"
		}
		fmt.Fprintf(tw, "Fan %s\t%.0f RPM, %.0f%% (%s)\n", f.Name, f.RPM, f.DutyCyclePercent, mode)
	}
	for _, g := range s.GPUs {
		fmt.Fprintf(tw, "GPU %s\t%.0f°C, fan %.0f%%\n", g.Name, g.Temperature, g.FanPercent)
	}
	if s.MemoryTotal > 0 {
		fmt.Fprintf(tw, "Memory\t%d / %d MiB\n", s.MemoryUsed>>20, s.MemoryTotal>>20)
	}
	if len(s.Processes) > 0 {
		fmt.Fprintf(tw, "Top process\t%s (%d) %.1f%% CPU\n", s.Processes[0].Name, s.Processes[0].PID, s.Processes[0].CPUPercent)
	}
	if s.Partial {
		fmt.Fprintf(tw, "Unavailable\t%s\n", strings.Join(s.FailedSources, ", "))
	}

	return tw.Flush()
}
