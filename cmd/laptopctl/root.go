package main

import (
	"fmt"

	"codeberg.org/mutker/laptopctl/internal/config"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"github.com/spf13/cobra"
)

type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "laptopctl",
		Short:         "Laptop telemetry and thermal-safe hardware control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "configuration file")
	flags.String("log-level", "info", "log level (debug, info, warning, error)")
	flags.Duration("interval", config.MinInterval, "sensor poll interval")

	root.AddCommand(
		newServeCmd(a),
		newStatusCmd(a),
		newProfilesCmd(a),
		newApplyCmd(a),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})

	return root
}

func (a *app) load(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Context(),
		config.WithConfigFile(path),
		config.WithFlags(cmd.Root().PersistentFlags()),
	)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger.Init(logger.ParseLevel(cfg.LogLevel.String()), logger.IsService())
	logger.Debug().Str("file", cfg.ConfigFile()).Msg("Config loaded")

	return nil
}
