// Package config handles loading and validating mazoea configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for mazoea.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`           // Persistent data directory. Default: ~/.mazoea/data. Override: MAZOEA_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir)
	Detection     *DetectionConfig     `json:"detection,omitempty" yaml:"detection,omitempty"`
	Breaks        *BreaksConfig        `json:"breaks,omitempty" yaml:"breaks,omitempty"`
	Sweep         *SweepConfig         `json:"sweep,omitempty" yaml:"sweep,omitempty"`
	Significance  *SignificanceConfig  `json:"significance,omitempty" yaml:"significance,omitempty"`   // nil = significance notes disabled
	Gateway       GatewayConfig        `json:"gateway" yaml:"gateway"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: MAZOEA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// DetectionConfig tunes the ritual lifecycle state machine.
// When nil, all knobs take their defaults.
type DetectionConfig struct {
	EstablishThreshold int `json:"establish_threshold" yaml:"establish_threshold"`   // Occurrences before a pattern counts as established. Default: 5.
	FadeAfterIdleDays  int `json:"fade_after_idle_days" yaml:"fade_after_idle_days"` // Idle days before established → fading. Default: 14.
}

// Threshold returns the establish threshold, defaulting to 5.
func (d *DetectionConfig) Threshold() int {
	if d != nil && d.EstablishThreshold > 0 {
		return d.EstablishThreshold
	}
	return 5
}

// FadeAfterIdle returns the idle duration before an established ritual
// starts fading. Default: 14 days.
func (d *DetectionConfig) FadeAfterIdle() time.Duration {
	if d != nil && d.FadeAfterIdleDays > 0 {
		return time.Duration(d.FadeAfterIdleDays) * 24 * time.Hour
	}
	return 14 * 24 * time.Hour
}

// BreaksConfig tunes break detection windows.
// When nil, farewells are expected daily between 18:00 and 23:00 local time.
type BreaksConfig struct {
	FarewellWindowStart string `json:"farewell_window_start" yaml:"farewell_window_start"` // "HH:MM". Default: "18:00".
	FarewellWindowEnd   string `json:"farewell_window_end" yaml:"farewell_window_end"`     // "HH:MM". Default: "23:00".
}

// FarewellWindow returns the configured farewell window clock strings.
func (b *BreaksConfig) FarewellWindow() (start, end string) {
	start, end = "18:00", "23:00"
	if b == nil {
		return start, end
	}
	if b.FarewellWindowStart != "" {
		start = b.FarewellWindowStart
	}
	if b.FarewellWindowEnd != "" {
		end = b.FarewellWindowEnd
	}
	return start, end
}

// SweepConfig tunes the periodic lifecycle sweep.
// When nil, sweeps run every 10 minutes with up to 4 relationships in parallel.
type SweepConfig struct {
	CronExpression string `json:"cron_expression" yaml:"cron_expression"` // Standard 5-field cron. Default: "*/10 * * * *".
	MaxConcurrent  int    `json:"max_concurrent" yaml:"max_concurrent"`   // Default: 4.
}

// Cron returns the sweep cron expression, defaulting to every 10 minutes.
func (s *SweepConfig) Cron() string {
	if s != nil && s.CronExpression != "" {
		return s.CronExpression
	}
	return "*/10 * * * *"
}

// Concurrency returns the sweep concurrency bound, defaulting to 4.
func (s *SweepConfig) Concurrency() int {
	if s != nil && s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 4
}

// SignificanceConfig configures LLM-backed significance note generation.
// When nil or disabled, newly established rituals carry no notes.
type SignificanceConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Provider      string `json:"provider" yaml:"provider"`                   // Only "openai" is supported.
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: OPENAI_API_KEY env var.
	BaseURL       string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model         string `json:"model" yaml:"model"`                         // Default: "gpt-4o-mini".
	TimeoutS      int    `json:"timeout_s" yaml:"timeout_s"`                 // Per-request timeout. Default: 30.
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`       // In-flight generations. Default: 4.
}

// SignificanceModel returns the model name, defaulting to gpt-4o-mini.
func (s *SignificanceConfig) SignificanceModel() string {
	if s != nil && s.Model != "" {
		return s.Model
	}
	return "gpt-4o-mini"
}

// Timeout returns the per-request timeout, defaulting to 30 seconds.
func (s *SignificanceConfig) Timeout() time.Duration {
	if s != nil && s.TimeoutS > 0 {
		return time.Duration(s.TimeoutS) * time.Second
	}
	return 30 * time.Second
}

// Concurrency returns the generation concurrency bound, defaulting to 4.
func (s *SignificanceConfig) Concurrency() int {
	if s != nil && s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 4
}

// GatewayConfig configures the HTTP API surface.
type GatewayConfig struct {
	Addr      string           `json:"addr" yaml:"addr"`                                 // Default: ":8980".
	APIKey    string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`       // Override: MAZOEA_API_KEY env var. Empty = no auth.
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited.
	MCP       *MCPConfig       `json:"mcp,omitempty" yaml:"mcp,omitempty"`               // nil = MCP allowed.
}

// ListenAddr returns the bind address, defaulting to ":8980".
func (g *GatewayConfig) ListenAddr() string {
	if g != nil && g.Addr != "" {
		return g.Addr
	}
	return ":8980"
}

// RateLimitConfig configures per-relationship request throttling.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = same as requests_per_minute.
}

// MCPConfig configures the Model Context Protocol server.
type MCPConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// MCPEnabled reports whether the MCP server may run. Absent config
// allows it; an explicit mcp section must opt in.
func (g *GatewayConfig) MCPEnabled() bool {
	if g == nil || g.MCP == nil {
		return true
	}
	return g.MCP.Enabled
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path, defaulting to /metrics.
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "mazoea"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file path (~/.mazoea/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/mazoea.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".mazoea", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Secrets can be set in the config file or overridden by environment variables.
// Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env vars take precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		if c.Significance == nil {
			c.Significance = &SignificanceConfig{}
		}
		c.Significance.APIKey = envKey
	}
	if envKey := os.Getenv("MAZOEA_API_KEY"); envKey != "" {
		c.Gateway.APIKey = envKey
	}
	if envDSN := os.Getenv("MAZOEA_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envDD := os.Getenv("MAZOEA_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".mazoea", "data")
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// SQLitePath returns the SQLite database path, deriving it from the data
// directory when not explicitly configured.
func (c *Config) SQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.DataDir, "mazoea.db")
}

func (c *Config) validate() error {
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage driver is postgres but no DSN is configured (set storage.postgres.dsn or MAZOEA_DB_DSN)")
		}
	}
	if d := c.Storage.StorageDriver(); d != "sqlite" && d != "postgres" {
		return fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", d)
	}
	if c.Significance != nil && c.Significance.Enabled {
		if c.Significance.Provider != "" && c.Significance.Provider != "openai" {
			return fmt.Errorf("unknown significance provider %q (only openai is supported)", c.Significance.Provider)
		}
		if c.Significance.APIKey == "" {
			return fmt.Errorf("significance is enabled but no API key is configured (set significance.api_key or OPENAI_API_KEY)")
		}
	}
	if b := c.Breaks; b != nil {
		start, end := b.FarewellWindow()
		if err := validateClock(start); err != nil {
			return fmt.Errorf("breaks.farewell_window_start: %w", err)
		}
		if err := validateClock(end); err != nil {
			return fmt.Errorf("breaks.farewell_window_end: %w", err)
		}
	}
	return nil
}

func validateClock(s string) error {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("clock %q out of range", s)
	}
	return nil
}
