package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5 0 * * *", cfg.SweepCron)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadCron(t *testing.T) {
	t.Setenv("SWEEP_CRON", "every day")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_CRON")
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		length  int
		retries int
		workers int
		wantErr bool
	}{
		{name: "empty uses defaults", raw: "", length: 31, retries: 5, workers: 4},
		{name: "override length", raw: "cycle:\n  default_length: 30\n", length: 30, retries: 5, workers: 4},
		{name: "override all", raw: "cycle:\n  default_length: 28\n  max_attempts: 2\nsweep:\n  concurrency: 1\n", length: 28, retries: 2, workers: 1},
		{name: "non positive length", raw: "cycle:\n  default_length: 0\n", wantErr: true},
		{name: "malformed", raw: "cycle: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.length, p.Cycle.DefaultLength)
			assert.Equal(t, tt.retries, p.Cycle.MaxAttempts)
			assert.Equal(t, tt.workers, p.Sweep.Concurrency)
		})
	}
}

func TestLoadPolicyMissingFile(t *testing.T) {
	p, err := LoadPolicy(t.TempDir() + "/absent.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "staging", LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("cycle_id", "c-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "susu", line["service"])
	assert.Equal(t, "staging", line["env"])
	assert.Equal(t, "c-1", line["cycle_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
