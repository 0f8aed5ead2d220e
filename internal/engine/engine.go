// Package engine runs ORBIT's background loops: profile learning, intent decay
// and memory consolidation.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/decay"
	"github.com/orbitlabs/orbit/internal/learning"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/scheduler"
	"github.com/orbitlabs/orbit/internal/storage"
)

var log = logging.For("engine")

// Job ids
const (
	JobLearning      = "profile_learning"
	JobDecay         = "intent_decay"
	JobConsolidation = "memory_consolidation"
)

// Config holds the loop intervals and per-pass parameters
type Config struct {
	LearningInterval      time.Duration
	DecayInterval         time.Duration
	ConsolidationInterval time.Duration
	Timeout               time.Duration

	Lookback     time.Duration // events considered by a scheduled learning pass
	ActiveWindow time.Duration // users seen within this window are learned
	Concurrency  int

	ConsolidationAge  time.Duration
	PromoteRetrievals int
}

// ConfigFrom extracts the engine settings from the service config
func ConfigFrom(c *config.Config) Config {
	return Config{
		LearningInterval:      c.Scheduler.LearningInterval.Std(),
		DecayInterval:         c.Scheduler.DecayInterval.Std(),
		ConsolidationInterval: c.Scheduler.ConsolidationInterval.Std(),
		Timeout:               c.Scheduler.TaskTimeout.Std(),
		Lookback:              c.Learning.ScheduledLookback.Std(),
		ActiveWindow:          c.Learning.ActiveWindow.Std(),
		Concurrency:           c.Learning.Concurrency,
		ConsolidationAge:      c.Memory.ConsolidationAge.Std(),
		PromoteRetrievals:     c.Memory.PromoteRetrievals,
	}
}

// LearningSummary reports one pass of the learning loop over all active users
type LearningSummary struct {
	Users          int `json:"users"`
	Updated        int `json:"updated"`
	Failed         int `json:"failed"`
	EventsAnalyzed int `json:"events_analyzed"`
}

// Engine owns the scheduler and the jobs registered on it
type Engine struct {
	cfg       Config
	db        *storage.DB
	clock     core.Clock
	users     *storage.UserStore
	memories  *storage.MemoryStore
	learning  *learning.Service
	decay     *decay.Process
	scheduler *scheduler.Scheduler
	metrics   *metrics.Exporter
}

// New creates an engine and registers its jobs
func New(db *storage.DB, svc *learning.Service, dp *decay.Process, clock core.Clock, cfg Config) (*Engine, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	e := &Engine{
		cfg:       cfg,
		db:        db,
		clock:     clock,
		users:     storage.NewUserStore(db),
		memories:  storage.NewMemoryStore(db),
		learning:  svc,
		decay:     dp,
		scheduler: scheduler.NewScheduler(),
	}

	jobs := []*scheduler.Job{
		scheduler.IntervalJob(JobLearning, "Profile learning", cfg.LearningInterval, func(ctx context.Context) error {
			_, err := e.RunLearning(ctx)
			return err
		}),
		scheduler.IntervalJob(JobDecay, "Intent decay", cfg.DecayInterval, func(ctx context.Context) error {
			_, err := e.decay.Run(ctx)
			return err
		}),
		scheduler.IntervalJob(JobConsolidation, "Memory consolidation", cfg.ConsolidationInterval, func(ctx context.Context) error {
			_, err := e.RunConsolidation(ctx)
			return err
		}),
	}
	for _, job := range jobs {
		job.Timeout = cfg.Timeout
		if err := e.scheduler.Register(job); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SetMetrics attaches a metrics exporter to the engine and its scheduler
func (e *Engine) SetMetrics(m *metrics.Exporter) {
	e.metrics = m
	e.scheduler.SetMetrics(m)
}

// Start begins running the loops
func (e *Engine) Start() error {
	return e.scheduler.Start()
}

// Stop stops the loops, letting in-flight passes finish
func (e *Engine) Stop() error {
	return e.scheduler.Stop()
}

// RunNow runs one job immediately
func (e *Engine) RunNow(ctx context.Context, jobID string) error {
	return e.scheduler.RunNow(ctx, jobID)
}

// Stats returns scheduler statistics
func (e *Engine) Stats() scheduler.Stats {
	return e.scheduler.GetStats()
}

// RunLearning learns every user active within the active window. Users are processed
// concurrently up to the configured limit. One user's failure is logged and does not
// stop the others.
func (e *Engine) RunLearning(ctx context.Context) (LearningSummary, error) {
	users, err := e.users.ListActive(ctx, e.clock.Now().Add(-e.cfg.ActiveWindow))
	if err != nil {
		return LearningSummary{}, err
	}

	var updated, failed, events atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result, err := e.learning.Learn(gctx, userID, e.cfg.Lookback)
			if err != nil {
				failed.Add(1)
				log.WithField("user_id", userID).WithError(err).Warn("Scheduled learning failed")
				return nil
			}
			if result.EventsAnalyzed > 0 {
				updated.Add(1)
				events.Add(int64(result.EventsAnalyzed))
			}
			return nil
		})
	}
	g.Wait()

	summary := LearningSummary{
		Users:          len(users),
		Updated:        int(updated.Load()),
		Failed:         int(failed.Load()),
		EventsAnalyzed: int(events.Load()),
	}
	if summary.Users > 0 {
		log.Info("Learning loop: %d users, %d updated, %d failed, %d events",
			summary.Users, summary.Updated, summary.Failed, summary.EventsAnalyzed)
	}
	return summary, ctx.Err()
}

// RunConsolidation promotes or deactivates short-term memories older than the
// consolidation age.
func (e *Engine) RunConsolidation(ctx context.Context) (storage.ConsolidationResult, error) {
	cutoff := e.clock.Now().Add(-e.cfg.ConsolidationAge)

	var result storage.ConsolidationResult
	err := e.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		result, err = e.memories.WithTx(tx).Consolidate(ctx, cutoff, e.cfg.PromoteRetrievals)
		return err
	})
	if err != nil {
		return result, err
	}
	e.metrics.RecordConsolidation(result.Promoted, result.Deactivated)
	if result.Promoted > 0 || result.Deactivated > 0 {
		log.Info("Memory consolidation: %d promoted, %d deactivated", result.Promoted, result.Deactivated)
	}
	return result, nil
}
