package learning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/storage"
)

// Service ties together capture, learning, overwhelm detection and the lifecycle tracker.
type Service struct {
	db        *storage.DB
	clock     core.Clock
	users     *storage.UserStore
	profiles  *storage.ProfileStore
	tasks     *storage.TaskStore
	collector *Collector
	learner   *Learner
	detector  *Detector
	reducer   *ScopeReducer
	tracker   *Tracker
	notifier  Notifier

	// per-user learning locks
	locks sync.Map
}

// NewService wires the learning components on one database
func NewService(db *storage.DB, clock core.Clock, focusTTL time.Duration) *Service {
	collector := NewCollector(db, clock)
	return &Service{
		db:        db,
		clock:     clock,
		users:     storage.NewUserStore(db),
		profiles:  storage.NewProfileStore(db),
		tasks:     storage.NewTaskStore(db),
		collector: collector,
		learner:   NewLearner(db, clock),
		detector:  NewDetector(db, collector, clock),
		reducer:   NewScopeReducer(db),
		tracker:   NewTracker(db, collector, clock, focusTTL),
	}
}

// SetMetrics attaches a metrics exporter to the learner and detector
func (s *Service) SetMetrics(m *metrics.Exporter) {
	s.learner.SetMetrics(m)
	s.detector.SetMetrics(m)
}

// SetNotifier attaches the notification service for alerts, celebrations and focus flags
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
	s.tracker.SetNotifier(n)
}

// Collector returns the event collector
func (s *Service) Collector() *Collector { return s.collector }

// Tracker returns the lifecycle tracker
func (s *Service) Tracker() *Tracker { return s.tracker }

// Learner returns the profile learner
func (s *Service) Learner() *Learner { return s.learner }

func (s *Service) userLock(userID core.UserID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Learn runs a learning pass. Passes for the same user never overlap in this process.
func (s *Service) Learn(ctx context.Context, userID core.UserID, lookback time.Duration) (*LearnResult, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.learner.Learn(ctx, userID, lookback)
}

// RegisterUser creates a user with a default profile
func (s *Service) RegisterUser(ctx context.Context, u *core.User) (*core.User, error) {
	if u.Name == "" {
		return nil, core.Invalid("name", "required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock.Now()
	}
	u.IsActive = true
	err := s.db.Transaction(ctx, func(tx *storage.Tx) error {
		if err := s.users.WithTx(tx).Create(ctx, u); err != nil {
			return err
		}
		_, err := s.profiles.WithTx(tx).GetOrCreate(ctx, u.ID, u.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.WithField("user_id", u.ID).Info("Registered user %s", u.Name)
	return u, nil
}

// GetUser returns a user
func (s *Service) GetUser(ctx context.Context, userID core.UserID) (*core.User, error) {
	return s.users.Get(ctx, userID)
}

// ListUsers returns every user
func (s *Service) ListUsers(ctx context.Context) ([]*core.User, error) {
	return s.users.List(ctx)
}

// Profile returns the user's cognitive profile
func (s *Service) Profile(ctx context.Context, userID core.UserID) (*core.CognitiveProfile, error) {
	return s.profiles.Get(ctx, userID)
}

// Insights returns insights for the user's current profile; none without a profile.
func (s *Service) Insights(ctx context.Context, userID core.UserID) ([]core.Insight, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return []core.Insight{}, nil
	}
	if err != nil {
		return nil, err
	}
	return GenerateInsights(p), nil
}

// DetectOverwhelm scores the user's current load
func (s *Service) DetectOverwhelm(ctx context.Context, userID core.UserID) (*OverwhelmReport, error) {
	return s.detector.DetectOverwhelm(ctx, userID)
}

// SuggestScope picks the one task to focus on
func (s *Service) SuggestScope(ctx context.Context, userID core.UserID) (*ScopeSuggestion, error) {
	return s.reducer.Suggest(ctx, userID)
}

// OverwhelmCheck is a detection result with the scope reduction offered alongside it
type OverwhelmCheck struct {
	*OverwhelmReport
	Scope *ScopeSuggestion `json:"scope,omitempty"`
}

// CheckOverwhelm detects overwhelm and, when found, suggests a single task and
// sends a wellness alert. It returns nil, nil when the user has no profile.
func (s *Service) CheckOverwhelm(ctx context.Context, userID core.UserID) (*OverwhelmCheck, error) {
	report, err := s.detector.DetectOverwhelm(ctx, userID)
	if err != nil || report == nil {
		return nil, err
	}
	check := &OverwhelmCheck{OverwhelmReport: report}
	if !report.IsOverwhelmed {
		return check, nil
	}

	if check.Scope, err = s.reducer.Suggest(ctx, userID); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		if _, err := s.notifier.SendOverwhelmAlert(ctx, userID, report.Suggestion); err != nil {
			logging.WithField("user_id", userID).WithError(err).Warn("Failed to send overwhelm alert")
		}
	}
	return check, nil
}

// FocusTask returns the task the user should be on: the most recently started one,
// or else the top pending task. Nil when there is neither.
func (s *Service) FocusTask(ctx context.Context, userID core.UserID) (*core.Task, error) {
	task, err := s.tasks.LatestInProgress(ctx, userID)
	if err != nil || task != nil {
		return task, err
	}
	return s.tasks.TopPending(ctx, userID)
}

// History returns the user's recent behavioral events
func (s *Service) History(ctx context.Context, userID core.UserID, eventType core.EventType, limit int) ([]*core.BehavioralEvent, error) {
	return s.collector.History(ctx, userID, eventType, limit)
}

// Emit records a client-reported behavioral event
func (s *Service) Emit(ctx context.Context, userID core.UserID, eventType core.EventType, entityType, entityID string, data map[string]any) (*core.BehavioralEvent, error) {
	return s.collector.Emit(ctx, userID, eventType, entityType, entityID, data)
}
