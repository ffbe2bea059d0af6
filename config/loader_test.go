package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, int64(128_000), cfg.Phase.TokenLimit)
	assert.Equal(t, 0.60, cfg.Phase.ConvergenceThreshold)
	assert.Equal(t, 0.50, cfg.Phase.ExpansionThreshold)
	assert.Equal(t, 50, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.SubmitDelay)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.MonitorInterval)
	assert.Equal(t, 0.7, cfg.Health.DegradationThreshold)
	assert.Equal(t, 5, cfg.Health.ErrorLimit)
	assert.Equal(t, 3, cfg.Agent.MaxStartRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kinos.yaml")
	data := `
phase:
  token_limit: 64000
  convergence_threshold: 0.7
scheduler:
  max_concurrent: 5
  submit_delay: 2s
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, int64(64_000), cfg.Phase.TokenLimit)
	assert.Equal(t, 0.7, cfg.Phase.ConvergenceThreshold)
	// Untouched values keep their defaults.
	assert.Equal(t, 0.50, cfg.Phase.ExpansionThreshold)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.SubmitDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, int64(128_000), cfg.Phase.TokenLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kinos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phase:\n  token_limit: 64000\n"), 0o644))

	t.Setenv("KINOS_PHASE_TOKEN_LIMIT", "32000")
	t.Setenv("KINOS_SCHEDULER_SUBMIT_DELAY", "1s")
	t.Setenv("KINOS_METRICS_ENABLED", "false")
	t.Setenv("KINOS_LOG_OUTPUT_PATHS", "stdout, /var/log/kinos.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, int64(32_000), cfg.Phase.TokenLimit)
	assert.Equal(t, time.Second, cfg.Scheduler.SubmitDelay)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/kinos.log"}, cfg.Log.OutputPaths)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("ORCH_RATE_LIMIT_MAX_REQUESTS", "20")

	cfg, err := NewLoader().WithEnvPrefix("ORCH").Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.RateLimit.MaxRequests)
}

func TestValidatorRejectsConfig(t *testing.T) {
	t.Setenv("KINOS_SCHEDULER_MAX_CONCURRENT", "0")

	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent")
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phase.ExpansionThreshold = 0.9 // above the convergence trigger
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expansion_threshold")
}

func TestThresholdSemantics(t *testing.T) {
	cfg := DefaultPhaseConfig()
	// The convergence trigger sits above the expansion release, so usage
	// between them falls in the sticky band.
	assert.Greater(t, cfg.ConvergenceThreshold, cfg.ExpansionThreshold)
}
