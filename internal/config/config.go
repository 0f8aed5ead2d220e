// Package config handles ORBIT configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Learning  LearningConfig  `json:"learning" yaml:"learning"`
	Attention AttentionConfig `json:"attention" yaml:"attention"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port           int      `json:"port" yaml:"port"`
	Host           string   `json:"host" yaml:"host"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite, sqlite3 or postgres
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"` // defaults to <data_dir>/orbit.db
}

// LearningConfig for the profile learner
type LearningConfig struct {
	ScheduledLookback Duration `json:"scheduled_lookback" yaml:"scheduled_lookback"`
	ManualLookback    Duration `json:"manual_lookback" yaml:"manual_lookback"`
	ActiveWindow      Duration `json:"active_window" yaml:"active_window"`
	Concurrency       int      `json:"concurrency" yaml:"concurrency"`
}

// AttentionConfig for the notification gate
type AttentionConfig struct {
	Store             string   `json:"store" yaml:"store"` // sql or memory
	HourlyCap         int      `json:"hourly_cap" yaml:"hourly_cap"`
	MinGap            Duration `json:"min_gap" yaml:"min_gap"`
	CounterWindow     Duration `json:"counter_window" yaml:"counter_window"`
	LastSentRetention Duration `json:"last_sent_retention" yaml:"last_sent_retention"`
	QueueRetention    Duration `json:"queue_retention" yaml:"queue_retention"`
	FocusTTL          Duration `json:"focus_ttl" yaml:"focus_ttl"`
}

// SchedulerConfig for background loops
type SchedulerConfig struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	LearningInterval      Duration `json:"learning_interval" yaml:"learning_interval"`
	DecayInterval         Duration `json:"decay_interval" yaml:"decay_interval"`
	ConsolidationInterval Duration `json:"consolidation_interval" yaml:"consolidation_interval"`
	TaskTimeout           Duration `json:"task_timeout" yaml:"task_timeout"`
}

// MemoryConfig for memory consolidation
type MemoryConfig struct {
	ConsolidationAge  Duration `json:"consolidation_age" yaml:"consolidation_age"`
	PromoteRetrievals int      `json:"promote_retrievals" yaml:"promote_retrievals"`
}

// LoggingConfig for the logger
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig for the prometheus exporter
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".orbit"),
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			RequestTimeout: Duration(60 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Learning: LearningConfig{
			ScheduledLookback: Duration(2 * time.Hour),
			ManualLookback:    Duration(24 * time.Hour),
			ActiveWindow:      Duration(24 * time.Hour),
			Concurrency:       4,
		},
		Attention: AttentionConfig{
			Store:             "sql",
			HourlyCap:         3,
			MinGap:            Duration(30 * time.Minute),
			CounterWindow:     Duration(time.Hour),
			LastSentRetention: Duration(24 * time.Hour),
			QueueRetention:    Duration(24 * time.Hour),
			FocusTTL:          Duration(3 * time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			LearningInterval:      Duration(60 * time.Minute),
			DecayInterval:         Duration(60 * time.Minute),
			ConsolidationInterval: Duration(6 * time.Hour),
			TaskTimeout:           Duration(5 * time.Minute),
		},
		Memory: MemoryConfig{
			ConsolidationAge:  Duration(12 * time.Hour),
			PromoteRetrievals: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads config from file, falling back to defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with ORBIT_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("ORBIT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ORBIT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ORBIT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ORBIT_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("ORBIT_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ORBIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// DatabasePath returns the sqlite file path
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "orbit.db")
}

// Validate checks values the engine cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	case "postgres":
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q not supported", c.Database.Driver))
	}
	switch c.Attention.Store {
	case "sql", "memory":
	default:
		problems = append(problems, fmt.Sprintf("attention.store %q not supported", c.Attention.Store))
	}
	if c.Attention.HourlyCap <= 0 {
		problems = append(problems, "attention.hourly_cap must be positive")
	}
	if c.Learning.Concurrency <= 0 {
		problems = append(problems, "learning.concurrency must be positive")
	}
	for name, d := range map[string]Duration{
		"learning.scheduled_lookback":      c.Learning.ScheduledLookback,
		"learning.manual_lookback":         c.Learning.ManualLookback,
		"attention.counter_window":         c.Attention.CounterWindow,
		"attention.queue_retention":        c.Attention.QueueRetention,
		"scheduler.learning_interval":      c.Scheduler.LearningInterval,
		"scheduler.decay_interval":         c.Scheduler.DecayInterval,
		"scheduler.consolidation_interval": c.Scheduler.ConsolidationInterval,
	} {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Save saves config to file, as YAML when the path says so
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save connection secrets to file
	safeCfg := *c
	safeCfg.Database.DSN = ""

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(safeCfg)
	} else {
		data, err = json.MarshalIndent(safeCfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Duration is a time.Duration written as "30m" in config files
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "90s" style strings or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts "90s" style strings
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
