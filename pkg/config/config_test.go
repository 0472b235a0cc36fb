package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	path := writeFile(t, dir, "vmenergy.yaml", `
logging:
  level: debug
database: /var/lib/vmenergy/history.db
workload:
  recentLookback: 5m
  shareRule: cores
  considerIdleEnergy: true
power:
  idle: 90
  gamma: 0
host:
  name: node-7
  idlePower: 95
  calibration:
    - {utilisation: 0, watts: 95}
    - {utilisation: 1, watts: 310}
serve:
  interval: 2s
  alpha: 7
  applications:
    - id: web
      name: nginx
      cpus: 2
      tags: [web]
      pids: [101, 102]
monitoring:
  labels:
    region: eu-1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "debug", cfg.Logging.LevelStr)
	assert.Equal(t, def.Logging.Format, cfg.Logging.Format)
	assert.Equal(t, "/var/lib/vmenergy/history.db", cfg.DatabasePath)
	assert.Equal(t, def.RulesPath, cfg.RulesPath)
	assert.Equal(t, 5*time.Minute, cfg.Workload.RecentLookback)
	assert.Equal(t, def.Workload.BootBucket, cfg.Workload.BootBucket)
	assert.Equal(t, "cores", cfg.Workload.ShareRule)
	assert.True(t, cfg.Workload.ConsiderIdleEnergy)
	assert.Equal(t, 90.0, cfg.Power.PIdle)
	assert.Equal(t, 0.0, cfg.Power.Gamma, "zero leaves the power model default in place")
	assert.Equal(t, "node-7", cfg.Host.Name)
	assert.True(t, cfg.Host.Calibrated())
	assert.Equal(t, 2*time.Second, cfg.Serve.Interval)
	assert.Equal(t, def.Serve.Alpha, cfg.Serve.Alpha, "out of range alpha is ignored")
	require.Len(t, cfg.Serve.Applications, 1)
	assert.Equal(t, []int{101, 102}, cfg.Serve.Applications[0].PIDs)
	assert.Equal(t, "eu-1", cfg.Monitoring.Labels["region"])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	path := writeFile(t, dir, "vmenergy.yaml", "database: file.db\nserve:\n  listen: ':1000'\n")
	writeFile(t, dir, ".env", "VMENERGY_LISTEN=:2000\nVMENERGY_INTERVAL=30\n")
	t.Setenv("VMENERGY_DATABASE", "env.db")
	t.Setenv("VMENERGY_DISABLE_CACHE", "true")
	t.Setenv("VMENERGY_BOOT_BUCKET", "10m")
	// godotenv.Load sets these for the rest of the process
	t.Setenv("VMENERGY_LISTEN", "")
	t.Setenv("VMENERGY_INTERVAL", "")
	require.NoError(t, os.Unsetenv("VMENERGY_LISTEN"))
	require.NoError(t, os.Unsetenv("VMENERGY_INTERVAL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.DatabasePath)
	assert.True(t, cfg.Workload.DisableCache)
	assert.Equal(t, 10*time.Minute, cfg.Workload.BootBucket)
	assert.Equal(t, ":2000", cfg.Serve.Listen, ".env beats the file")
	assert.Equal(t, 30*time.Second, cfg.Serve.Interval, "plain seconds")
}

func TestLoad_Errors(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	_, err := Load(writeFile(t, dir, "bad.yaml", "logging: [unterminated"))
	assert.Error(t, err)

	t.Setenv("VMENERGY_INTERVAL", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "VMENERGY_INTERVAL")

	t.Setenv("VMENERGY_INTERVAL", "")
	t.Setenv("VMENERGY_DISABLE_CACHE", "maybe")
	_, err = Load("")
	assert.ErrorContains(t, err, "VMENERGY_DISABLE_CACHE")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Serve.Interval = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workload.BootBucket = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DatabasePath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workload.Timezone = "Nowhere/Atlantis"
	assert.ErrorContains(t, cfg.Validate(), "timezone")
}

func TestWorkloadConfig_Location(t *testing.T) {
	loc, err := WorkloadConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = WorkloadConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	t.Setenv("VMENERGY_TIMEZONE", "UTC")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Workload.Timezone)
}

func TestLoggingConfig_Level(t *testing.T) {
	tests := []struct {
		levelStr string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			assert.Equal(t, tt.expected, LoggingConfig{LevelStr: tt.levelStr}.Level())
		})
	}
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{"json", `"level":"WARN","msg":"history: slow query","ms":12`},
		{"text", `level=WARN msg="history: slow query" ms=12`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			log := LoggingConfig{LevelStr: "warn", Format: tt.format}.NewLogger(&buf)
			log.Info("dropped below level")
			log.Warn("history: slow query", "ms", 12)
			assert.Contains(t, buf.String(), tt.expected)
			assert.NotContains(t, buf.String(), "dropped below level")
		})
	}
}
