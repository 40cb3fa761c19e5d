package main

import (
	"fmt"
	"text/tabwriter"

	"codeberg.org/mutker/laptopctl/internal/journal"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"github.com/spf13/cobra"
)

func newProfilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List hardware profiles; the stored active profile is marked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			active := a.storedProfile()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tNAME\tGOVERNOR\tFANS\tTHROTTLE\tRGB")
			for _, name := range a.cfg.Profiles.Names() {
				p := a.cfg.Profiles.Hardware[name]
				mark := ""
				if name == active {
					mark = "*"
				}
				rgb := p.RgbProfile
				if rgb == "" {
					rgb = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f°C\t%s\n",
					mark, name, p.CPUGovernor, p.FanProfile, p.ThermalThrottleTemp, rgb)
			}
			return tw.Flush()
		},
	}
}

// storedProfile reads the last applied profile from the journal, or
// returns "" when the journal is disabled or empty.
func (a *app) storedProfile() string {
	if !a.cfg.Journal.Enabled {
		return ""
	}

	j, err := journal.Open(journal.Config{DBPath: a.cfg.Journal.DBPath}, logger.Default().With("journal"))
	if err != nil {
		logger.Debug().Err(err).Msg("Journal unavailable")
		return ""
	}
	defer func() { _ = j.Close() }()

	st, err := j.LoadState()
	if err != nil {
		logger.Debug().Err(err).Msg("No stored state")
		return ""
	}
	return st.Profile
}
