package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "laptopctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProfilesCommand(t *testing.T) {
	cfg := writeConfig(t, `
[journal]
enabled = false

[profiles.quiet]
power_mode = "quiet"
cpu_governor = "powersave"
fan_profile = "silent"
thermal_throttle_temp = 85
`)

	out, err := execute(t, "profiles", "--config", cfg)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "GOVERNOR")
	assert.Contains(t, out, "balanced")
	assert.Contains(t, out, "quiet")
	assert.NotContains(t, out, "*")
}

func TestApplyUnknownProfile(t *testing.T) {
	cfg := writeConfig(t, "[journal]\nenabled = false\n")

	_, err := execute(t, "apply", "turbo", "--config", cfg)
	require.Error(t, err)
}

func TestInvalidIntervalFlag(t *testing.T) {
	cfg := writeConfig(t, "[journal]\nenabled = false\n")

	_, err := execute(t, "profiles", "--config", cfg, "--interval", "30s")
	require.Error(t, err)
}
