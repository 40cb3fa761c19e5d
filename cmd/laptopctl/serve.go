package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/laptopctl/internal/api"
	"codeberg.org/mutker/laptopctl/internal/core"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/pid"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control daemon and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if err := pid.Write(""); err != nil {
		logger.Error().Err(err).Msg("Refusing to start")
		return err
	}
	defer func() {
		if err := pid.Remove(""); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Default()
	c, err := core.New(a.cfg, log, core.BuildOptions{Journal: true, Restore: true})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down cleanly")
		}
	}()

	if err := a.cfg.Watch(ctx, c.Reload); err != nil {
		logger.Debug().Err(err).Msg("Configuration reload disabled")
	}

	if logger.ParseLevel(a.cfg.LogLevel.String()) != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(a.cfg.Listen, api.NewHandler(c, log.With("api")).InitRoutes())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := c.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Poll loop failed")
		}
		stop()
	}()

	go func() {
		defer wg.Done()
		logger.Info().Str("listen", a.cfg.Listen).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Received termination signal.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API shutdown incomplete")
	}

	wg.Wait()
	logger.Info().Msg("Exiting...")

	return nil
}
