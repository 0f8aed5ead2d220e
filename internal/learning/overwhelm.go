package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/storage"
)

// Overwhelm signal thresholds and weights
const (
	overwhelmPendingTasks   = 15
	overwhelmAbandons       = 2
	overwhelmIntents        = 5
	overwhelmOvercommitment = 0.7

	weightPending        = 0.3
	weightAbandons       = 0.3
	weightIntents        = 0.2
	weightOvercommitment = 0.2

	overwhelmThreshold = 0.5
	overwhelmWindow    = time.Hour
)

// OverwhelmSuggestion is offered whenever a user is found overwhelmed
const OverwhelmSuggestion = "Consider reducing scope. Would you like to focus on just one thing?"

// OverwhelmSignals are the point-in-time inputs of the overwhelm score
type OverwhelmSignals struct {
	PendingTasks        int     `json:"pending_tasks"`
	RecentAbandons      int     `json:"recent_abandons"`
	RecentIntents       int     `json:"recent_intents"`
	OvercommitmentScore float64 `json:"overcommitment_score"`
}

// OverwhelmReport is the outcome of an overwhelm check for a user with a profile
type OverwhelmReport struct {
	IsOverwhelmed bool             `json:"is_overwhelmed"`
	Score         float64          `json:"score"`
	Reasons       []string         `json:"reasons"`
	Suggestion    string           `json:"suggestion,omitempty"`
	Signals       OverwhelmSignals `json:"signals"`
}

// ScoreOverwhelm adds the weight of every crossed threshold and names each one.
func ScoreOverwhelm(s OverwhelmSignals) *OverwhelmReport {
	report := &OverwhelmReport{Signals: s, Reasons: []string{}}

	if s.PendingTasks > overwhelmPendingTasks {
		report.Score += weightPending
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d pending tasks", s.PendingTasks))
	}
	if s.RecentAbandons >= overwhelmAbandons {
		report.Score += weightAbandons
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d tasks abandoned recently", s.RecentAbandons))
	}
	if s.RecentIntents >= overwhelmIntents {
		report.Score += weightIntents
		report.Reasons = append(report.Reasons, "Many new intents without action")
	}
	if s.OvercommitmentScore > overwhelmOvercommitment {
		report.Score += weightOvercommitment
		report.Reasons = append(report.Reasons, "Pattern of overcommitment")
	}

	report.Score = core.Clamp01(report.Score)
	if report.Score >= overwhelmThreshold {
		report.IsOverwhelmed = true
		report.Suggestion = OverwhelmSuggestion
	}
	return report
}

// Detector checks users for signs of overwhelm
type Detector struct {
	profiles  *storage.ProfileStore
	tasks     *storage.TaskStore
	collector *Collector
	clock     core.Clock
	metrics   *metrics.Exporter
}

// NewDetector creates an overwhelm detector
func NewDetector(db *storage.DB, collector *Collector, clock core.Clock) *Detector {
	return &Detector{
		profiles:  storage.NewProfileStore(db),
		tasks:     storage.NewTaskStore(db),
		collector: collector,
		clock:     clock,
	}
}

// SetMetrics attaches a metrics exporter
func (d *Detector) SetMetrics(m *metrics.Exporter) {
	d.metrics = m
}

// DetectOverwhelm scores the user's current load. It returns nil, nil when the
// user has no profile. An overwhelmed result is recorded as an overwhelm_detected event.
func (d *Detector) DetectOverwhelm(ctx context.Context, userID core.UserID) (*OverwhelmReport, error) {
	profile, err := d.profiles.Get(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		d.metrics.RecordOverwhelmCheck("no_profile")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	since := d.clock.Now().Add(-overwhelmWindow)
	signals := OverwhelmSignals{OvercommitmentScore: profile.OvercommitmentScore}

	if signals.PendingTasks, err = d.tasks.CountByStatus(ctx, userID, core.TaskPending); err != nil {
		return nil, err
	}
	if signals.RecentAbandons, err = d.collector.CountSince(ctx, userID, core.EventTaskAbandoned, since); err != nil {
		return nil, err
	}
	if signals.RecentIntents, err = d.collector.CountSince(ctx, userID, core.EventIntentExpressed, since); err != nil {
		return nil, err
	}

	report := ScoreOverwhelm(signals)
	if !report.IsOverwhelmed {
		d.metrics.RecordOverwhelmCheck("ok")
		return report, nil
	}

	d.metrics.RecordOverwhelmCheck("overwhelmed")
	logging.WithFields(map[string]interface{}{
		"user_id": userID,
		"score":   report.Score,
	}).Info("Overwhelm detected: %v", report.Reasons)

	_, err = d.collector.Emit(ctx, userID, core.EventOverwhelmDetected, "", "", map[string]any{
		"score":   report.Score,
		"reasons": report.Reasons,
	})
	if err != nil {
		logging.WithField("user_id", userID).WithError(err).Warn("Failed to record overwhelm event")
	}
	return report, nil
}

// SuggestedTask is the single task a scope reduction points at
type SuggestedTask struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Priority         float64 `json:"priority"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
}

// ScopeSuggestion is the result of a scope reduction
type ScopeSuggestion struct {
	Message       string         `json:"message"`
	SuggestedTask *SuggestedTask `json:"suggested_task"`
	DeferOthers   bool           `json:"other_tasks_to_defer"`
}

// ScopeReducer narrows the user's attention to one task
type ScopeReducer struct {
	tasks *storage.TaskStore
}

// NewScopeReducer creates a scope reducer
func NewScopeReducer(db *storage.DB) *ScopeReducer {
	return &ScopeReducer{tasks: storage.NewTaskStore(db)}
}

// Suggest picks the highest priority pending task, oldest first on ties.
// Nothing pending is a normal result, not an error.
func (r *ScopeReducer) Suggest(ctx context.Context, userID core.UserID) (*ScopeSuggestion, error) {
	task, err := r.tasks.TopPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return &ScopeSuggestion{Message: "No pending tasks. Take a break."}, nil
	}
	return &ScopeSuggestion{
		Message: "Focus on just this one thing",
		SuggestedTask: &SuggestedTask{
			ID:               task.ID,
			Title:            task.Title,
			Priority:         task.Priority,
			EstimatedMinutes: task.EstimatedMinutes,
		},
		DeferOthers: true,
	}, nil
}
