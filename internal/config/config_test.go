package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Default Config Tests
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}

	durations := []struct {
		name string
		got  Duration
		want time.Duration
	}{
		{"scheduled lookback", cfg.Learning.ScheduledLookback, 2 * time.Hour},
		{"manual lookback", cfg.Learning.ManualLookback, 24 * time.Hour},
		{"min gap", cfg.Attention.MinGap, 30 * time.Minute},
		{"counter window", cfg.Attention.CounterWindow, time.Hour},
		{"queue retention", cfg.Attention.QueueRetention, 24 * time.Hour},
		{"last sent retention", cfg.Attention.LastSentRetention, 24 * time.Hour},
		{"learning interval", cfg.Scheduler.LearningInterval, time.Hour},
		{"decay interval", cfg.Scheduler.DecayInterval, time.Hour},
		{"consolidation interval", cfg.Scheduler.ConsolidationInterval, 6 * time.Hour},
		{"consolidation age", cfg.Memory.ConsolidationAge, 12 * time.Hour},
	}
	for _, d := range durations {
		if d.got.Std() != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}

	if cfg.Attention.HourlyCap != 3 {
		t.Errorf("HourlyCap = %d, want 3", cfg.Attention.HourlyCap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// =============================================================================
// Load / Save Tests
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"server": {"port": 9090, "host": "0.0.0.0"},
		"attention": {"min_gap": "45m", "hourly_cap": 5},
		"scheduler": {"learning_interval": 120}
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Attention.MinGap.Std() != 45*time.Minute {
		t.Errorf("MinGap = %v, want 45m", cfg.Attention.MinGap)
	}
	if cfg.Attention.HourlyCap != 5 {
		t.Errorf("HourlyCap = %d, want 5", cfg.Attention.HourlyCap)
	}
	if cfg.Scheduler.LearningInterval.Std() != 2*time.Minute {
		t.Errorf("LearningInterval = %v, want 2m", cfg.Scheduler.LearningInterval)
	}
	// Untouched sections keep their defaults
	if cfg.Attention.QueueRetention.Std() != 24*time.Hour {
		t.Errorf("QueueRetention = %v, want 24h", cfg.Attention.QueueRetention)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbit.yaml")
	content := `
database:
  driver: postgres
  dsn: postgres://orbit@localhost/orbit?sslmode=disable
learning:
  scheduled_lookback: 3h
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Learning.ScheduledLookback.Std() != 3*time.Hour {
		t.Errorf("ScheduledLookback = %v, want 3h", cfg.Learning.ScheduledLookback)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ORBIT_PORT", "7777")
	t.Setenv("ORBIT_DB_DRIVER", "sqlite3")
	t.Setenv("ORBIT_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestSave_RoundTripDropsDSN(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := Default()
			cfg.Server.Port = 9191
			cfg.Database.DSN = "postgres://secret"
			cfg.Attention.FocusTTL = Duration(90 * time.Minute)

			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Contains(string(data), "secret") {
				t.Error("DSN should not be written to disk")
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.Server.Port != 9191 {
				t.Errorf("Server.Port = %d, want 9191", loaded.Server.Port)
			}
			if loaded.Attention.FocusTTL.Std() != 90*time.Minute {
				t.Errorf("FocusTTL = %v, want 1h30m", loaded.Attention.FocusTTL)
			}
		})
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"unknown attention store", func(c *Config) { c.Attention.Store = "redis" }, "attention.store"},
		{"zero cap", func(c *Config) { c.Attention.HourlyCap = 0 }, "hourly_cap"},
		{"zero interval", func(c *Config) { c.Scheduler.DecayInterval = 0 }, "scheduler.decay_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/orbit"
	if got := cfg.DatabasePath(); got != filepath.Join("/var/lib/orbit", "orbit.db") {
		t.Errorf("DatabasePath() = %q", got)
	}

	cfg.Database.Path = "/tmp/custom.db"
	if got := cfg.DatabasePath(); got != "/tmp/custom.db" {
		t.Errorf("DatabasePath() = %q", got)
	}
}
