package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "conductor.yaml", "listen: 127.0.0.1:9000\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 2*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, "/health", cfg.Health.Path)
	assert.Equal(t, time.Second, cfg.Restart.Cooldown)
	assert.Equal(t, 60*time.Second, cfg.Restart.MaxDelay)
	assert.Equal(t, 5, cfg.Restart.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Launch.Stagger)
	assert.Equal(t, 2, cfg.Launch.MinSpecialists)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.GracePeriod)
	assert.Equal(t, 8, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.TaskTimeout)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeFile(t, "conductor.yaml", `
health:
  interval: 3s
restart:
  max_attempts: 2
launch:
  min_specialists: 1
  allowed_executables: [python3, node]
environment:
  required: [MARKET_DATA_TOKEN]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Health.Interval)
	assert.Equal(t, 2, cfg.Restart.MaxAttempts)
	assert.Equal(t, 1, cfg.Launch.MinSpecialists)
	assert.Equal(t, []string{"python3", "node"}, cfg.Launch.AllowedExecutables)
	assert.Equal(t, []string{"MARKET_DATA_TOKEN"}, cfg.Environment.Required)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_API_KEY", "sk-test")
	t.Setenv("CONDUCTOR_SCHEDULER_MAX_PARALLEL", "3")
	path := writeFile(t, "conductor.yaml", "listen: 127.0.0.1:9000\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Credentials.APIKey)
	assert.Equal(t, 3, cfg.Scheduler.MaxParallel)
}

func TestLoad_ExpandsAPIKey(t *testing.T) {
	t.Setenv("MY_KEY", "expanded")
	path := writeFile(t, "conductor.yaml", "credentials:\n  api_key: ${MY_KEY}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Credentials.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "conductor.yaml", "restart:\n  max_attempts: 0\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequiredValues(t *testing.T) {
	t.Setenv("MARKET_DATA_TOKEN", "tok")
	cfg := Default()
	cfg.Credentials.APIKey = "key"
	cfg.Environment.Required = []string{"credentials.api_key", "MARKET_DATA_TOKEN", "UNSET_VAR_FOR_TEST"}

	got := cfg.RequiredValues()
	assert.Equal(t, "key", got["credentials.api_key"])
	assert.Equal(t, "tok", got["MARKET_DATA_TOKEN"])
	assert.Equal(t, "", got["UNSET_VAR_FOR_TEST"])
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
