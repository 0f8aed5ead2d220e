// Package app assembles ORBIT's services from configuration.
package app

import (
	"fmt"

	"github.com/orbitlabs/orbit/internal/api"
	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/decay"
	"github.com/orbitlabs/orbit/internal/engine"
	"github.com/orbitlabs/orbit/internal/learning"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/memory"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/notifications"
	"github.com/orbitlabs/orbit/internal/storage"
)

// Options override parts of the assembly, mostly for tests
type Options struct {
	Clock    core.Clock // defaults to the system clock
	InMemory bool       // use a private in-memory sqlite database
}

// App holds the wired services
type App struct {
	Config        *config.Config
	DB            *storage.DB
	Clock         core.Clock
	Metrics       *metrics.Exporter
	Hub           *api.WebSocketHub
	Notifications *notifications.Service
	Learning      *learning.Service
	Memory        *memory.Manager
	Decay         *decay.Process
	Engine        *engine.Engine
}

// New opens and migrates the database and wires every service
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logging.SetLevel(level)
	}

	clock := opts.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}

	db, err := storage.Open(storage.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Path:     cfg.DatabasePath(),
		InMemory: opts.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Clock:  clock,
		Hub:    api.NewWebSocketHub(),
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(metrics.DefaultConfig())
	}

	windows := core.AttentionWindows{
		Counter:  cfg.Attention.CounterWindow.Std(),
		LastSent: cfg.Attention.LastSentRetention.Std(),
		Queue:    cfg.Attention.QueueRetention.Std(),
	}
	var state notifications.Store
	switch cfg.Attention.Store {
	case "memory":
		state = notifications.NewMemoryState(clock, windows)
	default:
		state = storage.NewAttentionStore(db, clock, windows)
	}
	gate := notifications.GateConfig{
		HourlyCap: cfg.Attention.HourlyCap,
		MinGap:    cfg.Attention.MinGap.Std(),
	}
	a.Notifications = notifications.NewService(storage.NewProfileStore(db), state, a.Hub, clock, gate)
	a.Notifications.SetMetrics(a.Metrics)

	a.Learning = learning.NewService(db, clock, cfg.Attention.FocusTTL.Std())
	a.Learning.SetMetrics(a.Metrics)
	a.Learning.SetNotifier(a.Notifications)
	a.Learning.Tracker().SetPublisher(a.Hub)

	a.Memory = memory.NewManager(db, clock)

	a.Decay = decay.NewProcess(db, clock)
	a.Decay.SetMetrics(a.Metrics)

	a.Engine, err = engine.New(db, a.Learning, a.Decay, clock, engine.ConfigFrom(cfg))
	if err != nil {
		db.Close()
		return nil, err
	}
	a.Engine.SetMetrics(a.Metrics)

	return a, nil
}

// Server builds the HTTP API over the wired services
func (a *App) Server() *api.Server {
	return api.New(api.Config{
		Host:                a.Config.Server.Host,
		Port:                a.Config.Server.Port,
		AllowedOrigins:      a.Config.Server.AllowedOrigins,
		RequestTimeout:      a.Config.Server.RequestTimeout.Std(),
		ManualLookback:      a.Config.Learning.ManualLookback.Std(),
		MetricsPath:         a.Config.Metrics.Path,
		LearningService:     a.Learning,
		NotificationService: a.Notifications,
		MemoryManager:       a.Memory,
		Engine:              a.Engine,
		Metrics:             a.Metrics,
		Hub:                 a.Hub,
	})
}

// Close releases the database
func (a *App) Close() error {
	return a.DB.Close()
}
