package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Models     ModelsConfig     `yaml:"models"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Security   SecurityConfig   `yaml:"security"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// SimulationConfig controls playback defaults.
type SimulationConfig struct {
	DefaultMode        string        `yaml:"default_mode"`  // "classification" or "regression"
	DefaultSpeed       float64       `yaml:"default_speed"` // seconds between steps
	StopTimeout        time.Duration `yaml:"stop_timeout"`
	HistoryLimit       int           `yaml:"history_limit"`
	FeatureCap         int           `yaml:"feature_cap"`
	RegressionWindow   int           `yaml:"regression_window"`
	DisplacementColumn string        `yaml:"displacement_column"`
}

// AlertsConfig tunes the alert rules.
type AlertsConfig struct {
	SustainedThreshold int     `yaml:"sustained_threshold"`
	SustainedSteps     int     `yaml:"sustained_steps"`
	DisplacementSpike  float64 `yaml:"displacement_spike"`
	HistorySize        int     `yaml:"history_size"`
}

type DatasetConfig struct {
	ClassificationPath string `yaml:"classification_path"`
	RegressionPath     string `yaml:"regression_path"`
}

type ModelsConfig struct {
	Backend                string        `yaml:"backend"` // "heuristic" (default), "remote", or "auto"
	Endpoint               string        `yaml:"endpoint"`
	Timeout                time.Duration `yaml:"timeout"`
	ClassificationMetadata string        `yaml:"classification_metadata"` // JSON with a "features" list
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite" (default), "postgres", or "memory"
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig switches step spans on. Spans go to the global
// TracerProvider; exporting them is left to whoever installs one.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SecurityConfig struct {
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Simulation: SimulationConfig{
			DefaultMode:        "classification",
			DefaultSpeed:       1.0,
			StopTimeout:        2 * time.Second,
			HistoryLimit:       1000,
			FeatureCap:         33,
			RegressionWindow:   5,
			DisplacementColumn: "Displacement",
		},
		Alerts: AlertsConfig{
			SustainedThreshold: 2,
			SustainedSteps:     3,
			DisplacementSpike:  0.5,
			HistorySize:        1000,
		},
		Dataset: DatasetConfig{
			ClassificationPath: "data/classification_data.csv",
			RegressionPath:     "data/regression_test.xlsx",
		},
		Models: ModelsConfig{
			Backend: "heuristic",
			Timeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "data/simulation.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Simulation.DefaultMode {
	case "classification", "regression":
	default:
		return fmt.Errorf("simulation.default_mode must be classification or regression, got %q", c.Simulation.DefaultMode)
	}
	if c.Simulation.DefaultSpeed < 0 || math.IsNaN(c.Simulation.DefaultSpeed) || math.IsInf(c.Simulation.DefaultSpeed, 0) {
		return fmt.Errorf("simulation.default_speed must be a finite number >= 0")
	}
	if c.Simulation.StopTimeout <= 0 {
		return fmt.Errorf("simulation.stop_timeout must be > 0")
	}
	if c.Simulation.HistoryLimit < 1 {
		return fmt.Errorf("simulation.history_limit must be >= 1")
	}
	if c.Simulation.FeatureCap < 1 {
		return fmt.Errorf("simulation.feature_cap must be >= 1")
	}
	if c.Simulation.RegressionWindow < 1 {
		return fmt.Errorf("simulation.regression_window must be >= 1")
	}
	if c.Alerts.SustainedSteps < 1 {
		return fmt.Errorf("alerts.sustained_steps must be >= 1")
	}
	if c.Alerts.HistorySize < c.Alerts.SustainedSteps {
		return fmt.Errorf("alerts.history_size (%d) must be >= sustained_steps (%d)",
			c.Alerts.HistorySize, c.Alerts.SustainedSteps)
	}
	if c.Alerts.DisplacementSpike < 0 {
		return fmt.Errorf("alerts.displacement_spike must be >= 0")
	}
	switch c.Models.Backend {
	case "heuristic", "auto":
	case "remote":
		if c.Models.Endpoint == "" {
			return fmt.Errorf("models.endpoint is required when models.backend is remote")
		}
	default:
		return fmt.Errorf("unknown models.backend %q: must be heuristic, remote, or auto", c.Models.Backend)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q: must be sqlite, postgres, or memory", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatasetPath returns the default dataset for a playback mode.
func (c *Config) DatasetPath(mode string) string {
	if mode == "regression" {
		return c.Dataset.RegressionPath
	}
	return c.Dataset.ClassificationPath
}
