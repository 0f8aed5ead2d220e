package learning

import (
	"context"
	"math"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/notifications"
	"github.com/orbitlabs/orbit/internal/storage"
)

const (
	defaultTaskPriority    = 1.0
	defaultIntentPriority  = 1.0
	defaultIntentDecayRate = 0.1
	deferPriorityStep      = 0.1
	streakLookback         = 60 * 24 * time.Hour
	celebrateStreakOver    = 3
)

// Notifier is the slice of the notification service the tracker drives
type Notifier interface {
	StartFocus(ctx context.Context, userID core.UserID, ttl time.Duration) error
	EndFocus(ctx context.Context, userID core.UserID) error
	SendCompletionCelebration(ctx context.Context, userID core.UserID, taskTitle string, streak int) (notifications.SendResult, error)
	SendOverwhelmAlert(ctx context.Context, userID core.UserID, suggestion string) (notifications.SendResult, error)
}

// NewTask describes a task to create
type NewTask struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Priority         *float64 `json:"priority,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	IntentID         string   `json:"intent_id,omitempty"`
}

// NewIntent describes an expressed intent
type NewIntent struct {
	RawInput  string   `json:"raw_input"`
	Priority  *float64 `json:"priority,omitempty"`
	DecayRate *float64 `json:"decay_rate,omitempty"`
}

// Tracker applies task, focus and intent changes and emits the matching events
// in the same transaction as the change.
type Tracker struct {
	db        *storage.DB
	collector *Collector
	tasks     *storage.TaskStore
	intents   *storage.IntentStore
	clock     core.Clock
	focusTTL  time.Duration

	notifier  Notifier
	publisher notifications.Publisher
}

// NewTracker creates a lifecycle tracker. focusTTL bounds how long a focus flag
// stays raised without an explicit end.
func NewTracker(db *storage.DB, collector *Collector, clock core.Clock, focusTTL time.Duration) *Tracker {
	if focusTTL <= 0 {
		focusTTL = 3 * time.Hour
	}
	return &Tracker{
		db:        db,
		collector: collector,
		tasks:     storage.NewTaskStore(db),
		intents:   storage.NewIntentStore(db),
		clock:     clock,
		focusTTL:  focusTTL,
	}
}

// SetNotifier attaches the notification service used for focus flags and celebrations
func (t *Tracker) SetNotifier(n Notifier) {
	t.notifier = n
}

// SetPublisher attaches the realtime publisher for lifecycle messages
func (t *Tracker) SetPublisher(p notifications.Publisher) {
	t.publisher = p
}

// CreateTask creates a pending task. A referenced intent must belong to the user
// and is marked processed, which stops its decay.
func (t *Tracker) CreateTask(ctx context.Context, userID core.UserID, req NewTask) (*core.Task, error) {
	if userID == "" {
		return nil, core.Invalid("user_id", "required")
	}
	if req.Title == "" {
		return nil, core.Invalid("title", "required")
	}
	priority := defaultTaskPriority
	if req.Priority != nil {
		if *req.Priority < 0 {
			return nil, core.Invalid("priority", "must not be negative")
		}
		priority = *req.Priority
	}

	now := t.clock.Now()
	task := &core.Task{
		UserID:           userID,
		IntentID:         req.IntentID,
		Title:            req.Title,
		Description:      req.Description,
		Status:           core.TaskPending,
		Priority:         priority,
		EstimatedMinutes: req.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		if req.IntentID != "" {
			intents := t.intents.WithTx(tx)
			intent, err := intents.Get(ctx, req.IntentID)
			if err != nil {
				return err
			}
			if intent.UserID != userID {
				return core.Invalid("intent_id", "intent belongs to another user")
			}
			if err := intents.MarkProcessed(ctx, intent.ID, now); err != nil {
				return err
			}
		}
		return t.tasks.WithTx(tx).Create(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns one of the user's tasks
func (t *Tracker) GetTask(ctx context.Context, userID core.UserID, taskID string) (*core.Task, error) {
	return loadOwnedTask(ctx, t.tasks, userID, taskID)
}

// ListTasks returns the user's tasks, optionally filtered by status
func (t *Tracker) ListTasks(ctx context.Context, userID core.UserID, status core.TaskStatus, limit int) ([]*core.Task, error) {
	return t.tasks.List(ctx, userID, status, limit)
}

func loadOwnedTask(ctx context.Context, tasks *storage.TaskStore, userID core.UserID, taskID string) (*core.Task, error) {
	if taskID == "" {
		return nil, core.Invalid("task_id", "required")
	}
	task, err := tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, core.Invalid("task_id", "task belongs to another user")
	}
	return task, nil
}

func requireStatus(task *core.Task, allowed ...core.TaskStatus) error {
	for _, s := range allowed {
		if task.Status == s {
			return nil
		}
	}
	return core.Invalid("status", "task is "+string(task.Status))
}

// StartTask moves a pending or deferred task in progress and opens a focus session.
func (t *Tracker) StartTask(ctx context.Context, userID core.UserID, taskID string) (*core.Task, error) {
	var task *core.Task
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		tasks := t.tasks.WithTx(tx)
		if task, err = loadOwnedTask(ctx, tasks, userID, taskID); err != nil {
			return err
		}
		if err := requireStatus(task, core.TaskPending, core.TaskDeferred); err != nil {
			return err
		}

		now := t.clock.Now()
		task.Status = core.TaskInProgress
		task.StartedAt = &now
		task.UpdatedAt = now
		if err := tasks.UpdateStatus(ctx, task); err != nil {
			return err
		}

		data := map[string]any{"task_title": task.Title}
		if task.EstimatedMinutes != nil {
			data["estimated_minutes"] = *task.EstimatedMinutes
		}
		if _, err := t.collector.EmitTx(ctx, tx, userID, core.EventTaskStarted, core.EntityTask, task.ID, data); err != nil {
			return err
		}
		_, err = t.collector.EmitTx(ctx, tx, userID, core.EventFocusSessionStart, core.EntityTask, task.ID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.raiseFocus(ctx, userID)
	t.publish(ctx, userID, "task_started", task)
	return task, nil
}

// CompleteTask completes a task. A started task also closes its focus session.
func (t *Tracker) CompleteTask(ctx context.Context, userID core.UserID, taskID string) (*core.Task, error) {
	var task *core.Task
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		tasks := t.tasks.WithTx(tx)
		if task, err = loadOwnedTask(ctx, tasks, userID, taskID); err != nil {
			return err
		}
		if err := requireStatus(task, core.TaskPending, core.TaskInProgress, core.TaskDeferred); err != nil {
			return err
		}

		now := t.clock.Now()
		task.Status = core.TaskCompleted
		task.CompletedAt = &now
		task.UpdatedAt = now
		if err := tasks.UpdateStatus(ctx, task); err != nil {
			return err
		}

		data := map[string]any{"task_title": task.Title}
		if task.EstimatedMinutes != nil {
			data["estimated_minutes"] = *task.EstimatedMinutes
		}
		var actual int
		if task.StartedAt != nil {
			actual = int(math.Round(now.Sub(*task.StartedAt).Minutes()))
			data["actual_minutes"] = actual
		}
		if _, err := t.collector.EmitTx(ctx, tx, userID, core.EventTaskCompleted, core.EntityTask, task.ID, data); err != nil {
			return err
		}
		if task.StartedAt != nil {
			_, err = t.collector.EmitTx(ctx, tx, userID, core.EventFocusSessionEnd, core.EntityTask, task.ID, map[string]any{
				"duration_minutes": actual,
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	t.lowerFocus(ctx, userID)
	t.publish(ctx, userID, "task_completed", task)
	t.celebrate(ctx, userID, task)
	return task, nil
}

// AbandonTask abandons a task with an optional reason
func (t *Tracker) AbandonTask(ctx context.Context, userID core.UserID, taskID, reason string) (*core.Task, error) {
	var task *core.Task
	var wasStarted bool
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		tasks := t.tasks.WithTx(tx)
		if task, err = loadOwnedTask(ctx, tasks, userID, taskID); err != nil {
			return err
		}
		if err := requireStatus(task, core.TaskPending, core.TaskInProgress, core.TaskDeferred); err != nil {
			return err
		}

		wasStarted = task.Status == core.TaskInProgress
		task.Status = core.TaskAbandoned
		task.AbandonmentReason = reason
		task.UpdatedAt = t.clock.Now()
		if err := tasks.UpdateStatus(ctx, task); err != nil {
			return err
		}

		data := map[string]any{"task_title": task.Title}
		if reason != "" {
			data["reason"] = reason
		}
		_, err = t.collector.EmitTx(ctx, tx, userID, core.EventTaskAbandoned, core.EntityTask, task.ID, data)
		return err
	})
	if err != nil {
		return nil, err
	}

	if wasStarted {
		t.lowerFocus(ctx, userID)
	}
	t.publish(ctx, userID, "task_abandoned", task)
	return task, nil
}

// DeferTask defers a task and lowers its priority by 0.1, never below 0.1
func (t *Tracker) DeferTask(ctx context.Context, userID core.UserID, taskID string) (*core.Task, error) {
	var task *core.Task
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		tasks := t.tasks.WithTx(tx)
		if task, err = loadOwnedTask(ctx, tasks, userID, taskID); err != nil {
			return err
		}
		if err := requireStatus(task, core.TaskPending, core.TaskInProgress, core.TaskDeferred); err != nil {
			return err
		}

		task.Status = core.TaskDeferred
		task.Priority = math.Max(core.MinIntentPriority, task.Priority-deferPriorityStep)
		task.UpdatedAt = t.clock.Now()
		return tasks.UpdateStatus(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// StartFocus opens a focus session, optionally on one of the user's tasks
func (t *Tracker) StartFocus(ctx context.Context, userID core.UserID, taskID string) (*core.BehavioralEvent, error) {
	event, err := t.focusEvent(ctx, userID, taskID, core.EventFocusSessionStart)
	if err != nil {
		return nil, err
	}
	t.raiseFocus(ctx, userID)
	return event, nil
}

// EndFocus closes a focus session
func (t *Tracker) EndFocus(ctx context.Context, userID core.UserID, taskID string) (*core.BehavioralEvent, error) {
	event, err := t.focusEvent(ctx, userID, taskID, core.EventFocusSessionEnd)
	if err != nil {
		return nil, err
	}
	t.lowerFocus(ctx, userID)
	return event, nil
}

func (t *Tracker) focusEvent(ctx context.Context, userID core.UserID, taskID string, eventType core.EventType) (*core.BehavioralEvent, error) {
	var event *core.BehavioralEvent
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		entityType := ""
		if taskID != "" {
			if _, err := loadOwnedTask(ctx, t.tasks.WithTx(tx), userID, taskID); err != nil {
				return err
			}
			entityType = core.EntityTask
		}
		var err error
		event, err = t.collector.EmitTx(ctx, tx, userID, eventType, entityType, taskID, nil)
		return err
	})
	return event, err
}

// ExpressIntent stores an intent and records that it was expressed
func (t *Tracker) ExpressIntent(ctx context.Context, userID core.UserID, req NewIntent) (*core.Intent, error) {
	if userID == "" {
		return nil, core.Invalid("user_id", "required")
	}
	if req.RawInput == "" {
		return nil, core.Invalid("raw_input", "required")
	}
	priority, rate := defaultIntentPriority, defaultIntentDecayRate
	if req.Priority != nil {
		priority = *req.Priority
	}
	if req.DecayRate != nil {
		rate = *req.DecayRate
	}
	if priority < core.MinIntentPriority {
		return nil, core.Invalid("priority", "must be at least 0.1")
	}
	if rate < 0 {
		return nil, core.Invalid("decay_rate", "must not be negative")
	}

	intent := &core.Intent{
		UserID:          userID,
		RawInput:        req.RawInput,
		InitialPriority: priority,
		CurrentPriority: priority,
		DecayRate:       rate,
		CreatedAt:       t.clock.Now(),
	}
	err := t.db.Transaction(ctx, func(tx *storage.Tx) error {
		if err := t.intents.WithTx(tx).Create(ctx, intent); err != nil {
			return err
		}
		_, err := t.collector.EmitTx(ctx, tx, userID, core.EventIntentExpressed, core.EntityIntent, intent.ID, map[string]any{
			"length": len([]rune(req.RawInput)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// Streak counts consecutive completion days ending today
func (t *Tracker) Streak(ctx context.Context, userID core.UserID) (int, error) {
	now := t.clock.Now()
	days, err := t.tasks.CompletedDays(ctx, userID, now.Add(-streakLookback))
	if err != nil {
		return 0, err
	}
	return CountStreak(days, now), nil
}

// CountStreak counts consecutive UTC days, walking back from today, present in days.
func CountStreak(days []time.Time, today time.Time) int {
	seen := make(map[string]bool, len(days))
	for _, d := range days {
		seen[d.UTC().Format("2006-01-02")] = true
	}
	streak := 0
	for day := today.UTC(); seen[day.Format("2006-01-02")]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

func (t *Tracker) raiseFocus(ctx context.Context, userID core.UserID) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.StartFocus(ctx, userID, t.focusTTL); err != nil {
		logging.WithField("user_id", userID).WithError(err).Warn("Failed to raise focus flag")
	}
}

func (t *Tracker) lowerFocus(ctx context.Context, userID core.UserID) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.EndFocus(ctx, userID); err != nil {
		logging.WithField("user_id", userID).WithError(err).Warn("Failed to clear focus flag")
	}
}

func (t *Tracker) celebrate(ctx context.Context, userID core.UserID, task *core.Task) {
	if t.notifier == nil {
		return
	}
	log := logging.WithField("user_id", userID)
	streak, err := t.Streak(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("Failed to compute completion streak")
	}
	if _, err := t.notifier.SendCompletionCelebration(ctx, userID, task.Title, streak); err != nil {
		log.WithError(err).Warn("Failed to send completion celebration")
	}
}

func (t *Tracker) publish(ctx context.Context, userID core.UserID, msgType string, task *core.Task) {
	if t.publisher == nil {
		return
	}
	msg := notifications.Message{
		Type: msgType,
		Payload: map[string]any{
			"task_id":    task.ID,
			"task_title": task.Title,
			"status":     task.Status,
		},
		Timestamp: t.clock.Now(),
	}
	if err := t.publisher.Publish(ctx, notifications.EventsTopic(userID), msg); err != nil {
		logging.WithField("user_id", userID).WithError(err).Debug("Realtime publish failed")
	}
}
