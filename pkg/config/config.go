// Package config loads the vmenergy configuration from a YAML file, an
// optional .env file and VMENERGY_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ja7ad/vmenergy/pkg/consumption"
	"github.com/ja7ad/vmenergy/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VMENERGY_"

// Config is the complete vmenergy configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// Path of the SQLite history database.
	DatabasePath string `yaml:"database"`
	// Path of the predictor rule table (.yaml or .csv).
	RulesPath string `yaml:"rules"`

	Workload   WorkloadConfig     `yaml:"workload"`
	Power      consumption.Config `yaml:"power"`
	Host       types.Host         `yaml:"host"`
	Serve      ServeConfig        `yaml:"serve"`
	Monitoring MonitoringConfig   `yaml:"monitoring"`
}

// WorkloadConfig tunes the workload estimators.
type WorkloadConfig struct {
	// Bypass the statistics cache and always ask the history store.
	DisableCache bool `yaml:"disableCache"`
	// Width of a boot trace bucket.
	BootBucket time.Duration `yaml:"bootBucket"`
	// Window of the recent-history estimator.
	RecentLookback time.Duration `yaml:"recentLookback"`
	// Attribution rule used by predict and serve (equal, load, load-cores, cores).
	ShareRule string `yaml:"shareRule"`
	// Reserve idle power and split it evenly across tenants.
	ConsiderIdleEnergy bool `yaml:"considerIdleEnergy"`
	// IANA zone of the day/hour history slots ("Local" or empty for the
	// machine's zone). The store and the week estimators share it.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone.
func (w WorkloadConfig) Location() (*time.Location, error) {
	switch w.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", w.Timezone, err)
	}
	return loc, nil
}

// ServeConfig configures the sampling daemon.
type ServeConfig struct {
	// Address the metrics endpoint listens on.
	Listen string `yaml:"listen"`
	// Sampling interval.
	Interval time.Duration `yaml:"interval"`
	// EMA smoothing of host utilisation in (0,1]; anything else disables it.
	Alpha float64 `yaml:"alpha"`
	// Charge direct children of every application PID.
	IncludeChildren bool `yaml:"includeChildren"`
	// Samples older than this are pruned from the history store.
	Retention time.Duration `yaml:"retention"`
	// Applications sampled on this host.
	Applications []types.ApplicationOnHost `yaml:"applications"`
	// Procfs root, for containers that mount the host's /proc elsewhere.
	ProcRoot string `yaml:"procRoot"`
}

// MonitoringConfig configures the metrics registry.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `yaml:"labels"`
}

func _defaultConfig() *Config {
	return &Config{
		Logging:      LoggingConfig{LevelStr: "info", Format: "text"},
		DatabasePath: "vmenergy.db",
		RulesPath:    "predictor_rules.yaml",
		Workload: WorkloadConfig{
			BootBucket:     500 * time.Second,
			RecentLookback: 15 * time.Minute,
			ShareRule:      "load",
		},
		Serve: ServeConfig{
			Listen:    ":9464",
			Interval:  10 * time.Second,
			Alpha:     0.3,
			Retention: 30 * 24 * time.Hour,
			ProcRoot:  "/proc",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return _defaultConfig() }

// Load reads path (a missing file means defaults), then .env files and the
// environment. Only non-zero file values override defaults.
func Load(path string) (*Config, error) {
	cfg := _defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config: no config file, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			var file Config
			if err := yaml.Unmarshal(b, &file); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.merge(&file)
		}
	}

	loadDotEnv(envPaths(path))
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge applies the non-zero fields of o.
func (c *Config) merge(o *Config) {
	if o.Logging.LevelStr != "" {
		c.Logging.LevelStr = o.Logging.LevelStr
	}
	if o.Logging.Format != "" {
		c.Logging.Format = o.Logging.Format
	}
	if o.DatabasePath != "" {
		c.DatabasePath = o.DatabasePath
	}
	if o.RulesPath != "" {
		c.RulesPath = o.RulesPath
	}

	c.Workload.DisableCache = c.Workload.DisableCache || o.Workload.DisableCache
	c.Workload.ConsiderIdleEnergy = c.Workload.ConsiderIdleEnergy || o.Workload.ConsiderIdleEnergy
	if o.Workload.BootBucket > 0 {
		c.Workload.BootBucket = o.Workload.BootBucket
	}
	if o.Workload.RecentLookback > 0 {
		c.Workload.RecentLookback = o.Workload.RecentLookback
	}
	if o.Workload.ShareRule != "" {
		c.Workload.ShareRule = o.Workload.ShareRule
	}
	if o.Workload.Timezone != "" {
		c.Workload.Timezone = o.Workload.Timezone
	}

	// Positive-only overrides; consumption.New fills the rest.
	if o.Power.PIdle > 0 {
		c.Power.PIdle = o.Power.PIdle
	}
	if o.Power.PMax > 0 {
		c.Power.PMax = o.Power.PMax
	}
	if o.Power.Gamma > 0 {
		c.Power.Gamma = o.Power.Gamma
	}

	if o.Host.Name != "" || o.Host.ID != "" {
		c.Host = o.Host
	}

	if o.Serve.Listen != "" {
		c.Serve.Listen = o.Serve.Listen
	}
	if o.Serve.Interval > 0 {
		c.Serve.Interval = o.Serve.Interval
	}
	if o.Serve.Alpha > 0 && o.Serve.Alpha <= 1 {
		c.Serve.Alpha = o.Serve.Alpha
	}
	if o.Serve.Retention > 0 {
		c.Serve.Retention = o.Serve.Retention
	}
	if o.Serve.ProcRoot != "" {
		c.Serve.ProcRoot = o.Serve.ProcRoot
	}
	c.Serve.IncludeChildren = c.Serve.IncludeChildren || o.Serve.IncludeChildren
	if len(o.Serve.Applications) > 0 {
		c.Serve.Applications = o.Serve.Applications
	}
	if len(o.Monitoring.Labels) > 0 {
		c.Monitoring.Labels = o.Monitoring.Labels
	}
}

// envPaths returns the .env files to try: next to the config file, then
// the working directory.
func envPaths(configPath string) []string {
	var paths []string
	if configPath != "" {
		paths = append(paths, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	return paths
}

// loadDotEnv loads the first existing file. Variables already set in the
// environment win.
func loadDotEnv(paths []string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				slog.Warn("config: failed to load env file", "path", path, "err", err)
			}
			return
		}
	}
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Logging.LevelStr)
	str("LOG_FORMAT", &c.Logging.Format)
	str("DATABASE", &c.DatabasePath)
	str("RULES", &c.RulesPath)
	str("SHARE_RULE", &c.Workload.ShareRule)
	str("TIMEZONE", &c.Workload.Timezone)
	str("LISTEN", &c.Serve.Listen)
	str("PROC_ROOT", &c.Serve.ProcRoot)
	str("HOST_NAME", &c.Host.Name)

	for key, dst := range map[string]*time.Duration{
		"INTERVAL":        &c.Serve.Interval,
		"BOOT_BUCKET":     &c.Workload.BootBucket,
		"RECENT_LOOKBACK": &c.Workload.RecentLookback,
		"RETENTION":       &c.Serve.Retention,
	} {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	for key, dst := range map[string]*bool{
		"DISABLE_CACHE":        &c.Workload.DisableCache,
		"CONSIDER_IDLE_ENERGY": &c.Workload.ConsiderIdleEnergy,
	} {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// parseDuration accepts values like "30s", "1m" or plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate reports configuration values the commands cannot work with.
func (c *Config) Validate() error {
	if c.Serve.Interval <= 0 {
		return fmt.Errorf("config: serve interval must be positive")
	}
	if c.Workload.BootBucket < time.Second {
		return fmt.Errorf("config: boot bucket must be at least one second")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database path is required")
	}
	if _, err := c.Workload.Location(); err != nil {
		return err
	}
	return nil
}
