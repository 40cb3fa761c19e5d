package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/core"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/pid"
	"github.com/spf13/cobra"
)

const remoteTimeout = 10 * time.Second

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <profile>",
		Short: "Apply a hardware profile",
		Long: "Apply a hardware profile. When the daemon is running the request is sent to " +
			"its API so the thermal guard arbitrates it; otherwise it is applied directly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, err := a.cfg.Profiles.Get(name); err != nil {
				return err
			}

			var err error
			if daemon, running := pid.Running(""); running {
				logger.Debug().Int("pid", daemon).Msg("Daemon running, applying through API")
				err = a.applyRemote(cmd.Context(), name)
			} else {
				err = a.applyLocal(cmd.Context(), name)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied profile %s\n", name)
			return nil
		},
	}
}

func (a *app) applyLocal(ctx context.Context, name string) error {
	c, err := core.New(a.cfg, logger.Default(), core.BuildOptions{Journal: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release devices")
		}
	}()

	// Fan curves are evaluated at the current temperature.
	c.PollOnce(ctx)

	return c.SubmitCommand(ctx, control.ApplyProfile(control.SourceUser, name))
}

func (a *app) applyRemote(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{
		"kind":    string(control.KindApplyProfile),
		"profile": name,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	url := "http://" + a.cfg.Listen + "/api/v1/commands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		msg := resp.Status
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg += ": " + apiErr.Error
		}
		return errors.New().WithMessage(errors.ErrUnavailable, msg)
	}

	return nil
}
