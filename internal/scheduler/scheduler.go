// Package scheduler runs ORBIT's periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
)

var log = logging.For("scheduler")

// ErrJobBusy is returned by RunNow while the job is already executing
var ErrJobBusy = errors.New("job already running")

// ErrJobNotFound is returned for an unknown job id
var ErrJobNotFound = errors.New("job not found")

// Scheduler runs registered jobs on their schedules. A failing or panicking run
// only delays that job until its next slot.
type Scheduler struct {
	jobs    map[string]*Job
	running map[string]context.CancelFunc
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	metrics *metrics.Exporter
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:    make(map[string]*Job),
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetMetrics attaches a metrics exporter
func (s *Scheduler) SetMetrics(m *metrics.Exporter) {
	s.metrics = m
}

// Job is a periodic unit of background work
type Job struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Handler    Handler       `json:"-"`
	Enabled    bool          `json:"enabled"`
	Timeout    time.Duration `json:"timeout"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`

	inFlight atomic.Bool
}

// Handler is the function executed for a job
type Handler func(ctx context.Context) error

// Register adds a job to the scheduler
func (s *Scheduler) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return errors.New("job ID is required")
	}
	if job.Handler == nil {
		return errors.New("job handler is required")
	}
	if job.Interval <= 0 {
		return errors.Errorf("job %s: interval must be positive", job.ID)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return errors.Errorf("job %s already registered", job.ID)
	}

	if job.Timeout == 0 {
		job.Timeout = 5 * time.Minute
	}
	job.Enabled = true

	nextRun := time.Now().Add(job.Interval)
	job.NextRun = &nextRun

	s.jobs[job.ID] = job

	if s.started {
		s.startJob(job)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		if job.Enabled {
			s.startJob(job)
		}
	}
	log.Info("Scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop stops scheduling new runs and waits for in-flight runs to finish.
// A running handler keeps its context; only its job timeout bounds the wait.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Loops take the lock to record results, so wait outside it.
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) startJob(job *Job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.running[job.ID] = cancel

	s.wg.Add(1)
	go s.runLoop(jobCtx, job)
}

func (s *Scheduler) runLoop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*job.NextRun)
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Stopping the loop must not abort a run that already started.
		if err := s.execute(context.WithoutCancel(ctx), job); errors.Is(err, ErrJobBusy) {
			log.WithField("job", job.ID).Debug("Skipping run, previous run still in flight")
		}

		s.mu.Lock()
		nextRun := time.Now().Add(job.Interval)
		job.NextRun = &nextRun
		s.mu.Unlock()
	}
}

// execute runs the handler once with the job timeout, recovering panics
func (s *Scheduler) execute(ctx context.Context, job *Job) (err error) {
	if !job.inFlight.CompareAndSwap(false, true) {
		return ErrJobBusy
	}
	defer job.inFlight.Store(false)

	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	start := time.Now()
	s.mu.Lock()
	job.LastRun = &start
	job.RunCount++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.ID, r)
			log.WithField("job", job.ID).Error("Job panicked: %v\n%s", r, debug.Stack())
		}

		took := time.Since(start)
		s.metrics.RecordSchedulerRun(job.ID, took, err)

		s.mu.Lock()
		if err != nil {
			job.ErrorCount++
			job.LastError = err.Error()
		} else {
			job.LastError = ""
		}
		s.mu.Unlock()

		jobLog := log.WithField("job", job.ID)
		if err != nil {
			jobLog.WithError(err).Warn("Job run failed after %s", took.Round(time.Millisecond))
		} else {
			jobLog.Debug("Job run finished in %s", took.Round(time.Millisecond))
		}
	}()

	return job.Handler(execCtx)
}

// RunNow executes a job immediately and waits for it. It returns ErrJobBusy when
// the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return errors.Wrap(ErrJobNotFound, jobID)
	}
	return s.execute(ctx, job)
}

// GetJob returns a job by ID
func (s *Scheduler) GetJob(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		TotalJobs:   len(s.jobs),
		RunningJobs: len(s.running),
	}
	for _, job := range s.jobs {
		stats.TotalRuns += job.RunCount
		stats.TotalErrors += job.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool  `json:"started"`
	TotalJobs   int   `json:"total_jobs"`
	RunningJobs int   `json:"running_jobs"`
	TotalRuns   int64 `json:"total_runs"`
	TotalErrors int64 `json:"total_errors"`
}

// IntervalJob creates a job that runs at a fixed interval
func IntervalJob(id, name string, interval time.Duration, handler Handler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Interval: interval,
		Handler:  handler,
	}
}
