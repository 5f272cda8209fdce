// Package config handles loading, validating, and applying defaults to the
// tally configuration. Configuration is read from a YAML file and may be
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that implements yaml.Unmarshaler
// so that Go-style duration strings (e.g. "30s", "5m") can be used in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a YAML scalar as a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML serialises the duration back to a human-readable string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the top-level configuration for the tally service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Storage  StorageConfig  `yaml:"storage"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Import   ImportConfig   `yaml:"import"`
	Access   AccessConfig   `yaml:"access"`
	Names    NamesConfig    `yaml:"names"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// StorageConfig controls the SQLite database and volume monitoring.
type StorageConfig struct {
	MonitorInterval   Duration `yaml:"monitorInterval"`
	DBPath            string   `yaml:"dbPath"`
	VolumePath        string   `yaml:"volumePath"`
	WarningThreshold  int      `yaml:"warningThreshold"`
	CriticalThreshold int      `yaml:"criticalThreshold"`
}

// SnapshotConfig controls the periodic rank snapshot capture. Enabled is a
// pointer so an omitted field is distinguishable from an explicit false; an
// omitted field means enabled.
type SnapshotConfig struct {
	Enabled   *bool    `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	OnStartup bool     `yaml:"onStartup"`
	// Granularity is the time-bucket truncation unit for snapshot rows.
	Granularity Duration `yaml:"granularity"`
}

// IsEnabled reports whether the capture loop should run. Only an explicit
// "enabled: false" turns it off.
func (s SnapshotConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RankingConfig controls ranked-view pagination and row formatting.
type RankingConfig struct {
	PageSize   int `yaml:"pageSize"`
	NameWidth  int `yaml:"nameWidth"`  // display columns reserved for names
	CountWidth int `yaml:"countWidth"` // display columns reserved for counts
	MaxItems   int `yaml:"maxItems"`   // hard cap on result size (0 = unlimited)
}

// ImportConfig controls batch merging of historical events.
type ImportConfig struct {
	ChunkSize   int `yaml:"chunkSize"`
	Concurrency int `yaml:"concurrency"`
}

// RuleConfig is one allow/deny rule over (platform, scope, user). Empty or
// "*" fields match anything.
type RuleConfig struct {
	Platform string `yaml:"platform"`
	Scope    string `yaml:"scope"`
	User     string `yaml:"user"`
	Action   string `yaml:"action"` // "allow" or "deny"
}

// AccessConfig is the ordered list of access rules applied to inbound
// events. The first matching rule wins; no match means allow.
type AccessConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// NamesConfig optionally seeds a static display-name resolver. Users are
// keyed "platform:scope:user", scopes "platform:scope". When both maps are
// empty no resolver is configured and display names fall back to raw
// identifiers.
type NamesConfig struct {
	Users  map[string]string `yaml:"users"`
	Scopes map[string]string `yaml:"scopes"`
}

// IngestConfig controls the HTTP event intake endpoint. As with
// SnapshotConfig, only an explicit "enabled: false" turns the endpoint off.
type IngestConfig struct {
	Enabled *bool `yaml:"enabled"`
	Port    int   `yaml:"port"`
}

// IsEnabled reports whether the intake server should run.
func (i IngestConfig) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health/readiness probe endpoints.
type HealthConfig struct {
	LivenessPath  string `yaml:"livenessPath"`
	ReadinessPath string `yaml:"readinessPath"`
	Port          int    `yaml:"port"`
}

// Load reads the YAML configuration file at path, applies defaults, applies
// environment-variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "tally"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}

	// Storage defaults
	if c.Storage.MonitorInterval.Duration == 0 {
		c.Storage.MonitorInterval.Duration = 1 * time.Minute
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "/data/tally.db"
	}
	if c.Storage.VolumePath == "" {
		c.Storage.VolumePath = "/data"
	}
	if c.Storage.WarningThreshold == 0 {
		c.Storage.WarningThreshold = 80
	}
	if c.Storage.CriticalThreshold == 0 {
		c.Storage.CriticalThreshold = 90
	}

	// Snapshot defaults. Enabled is left alone: nil already means enabled.
	if c.Snapshot.Interval.Duration == 0 {
		c.Snapshot.OnStartup = true
		c.Snapshot.Interval.Duration = 1 * time.Hour
	}
	if c.Snapshot.Granularity.Duration == 0 {
		c.Snapshot.Granularity = Duration{1 * time.Hour}
	}

	// Ranking defaults
	if c.Ranking.PageSize == 0 {
		c.Ranking.PageSize = 15
	}
	if c.Ranking.NameWidth == 0 {
		c.Ranking.NameWidth = 18
	}
	if c.Ranking.CountWidth == 0 {
		c.Ranking.CountWidth = 6
	}

	// Import defaults
	if c.Import.ChunkSize == 0 {
		c.Import.ChunkSize = 100
	}
	if c.Import.Concurrency == 0 {
		c.Import.Concurrency = 5
	}

	// Ingest defaults
	if c.Ingest.Port == 0 {
		c.Ingest.Port = 8090
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Enabled = true
		c.Metrics.Port = 8080
		c.Metrics.Path = "/metrics"
	} else {
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	// Health defaults
	if c.Health.LivenessPath == "" {
		c.Health.LivenessPath = "/healthz"
	}
	if c.Health.ReadinessPath == "" {
		c.Health.ReadinessPath = "/ready"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
}

// validate checks that all required fields are populated and that enum
// values are within the allowed set.
func (c *Config) validate() error {
	// Validate log level
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("app.logLevel must be one of: debug, info, warn, error; got %q", c.App.LogLevel)
	}

	// Validate log format
	switch c.App.LogFormat {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("app.logFormat must be one of: json, text; got %q", c.App.LogFormat)
	}

	if c.Snapshot.Granularity.Duration < time.Minute {
		return fmt.Errorf("snapshot.granularity must be at least 1m; got %s", c.Snapshot.Granularity.Duration)
	}
	if c.Snapshot.Interval.Duration < c.Snapshot.Granularity.Duration {
		return fmt.Errorf("snapshot.interval (%s) must not be shorter than snapshot.granularity (%s)",
			c.Snapshot.Interval.Duration, c.Snapshot.Granularity.Duration)
	}

	if c.Import.ChunkSize < 1 {
		return fmt.Errorf("import.chunkSize must be positive; got %d", c.Import.ChunkSize)
	}
	if c.Import.Concurrency < 1 {
		return fmt.Errorf("import.concurrency must be positive; got %d", c.Import.Concurrency)
	}

	for i, r := range c.Access.Rules {
		switch r.Action {
		case "allow", "deny":
			// valid
		default:
			return fmt.Errorf("access.rules[%d].action must be allow or deny; got %q", i, r.Action)
		}
	}

	return nil
}
