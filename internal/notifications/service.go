package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
)

// Outcomes recorded for every send attempt
const (
	OutcomeSent    = "sent"
	OutcomeQueued  = "queued"
	OutcomeForced  = "forced"
	OutcomeDropped = "dropped"
	OutcomeFlushed = "flushed"
)

const defaultPendingLimit = 10

// Service sends notifications through the attention gate and manages the pending queue.
type Service struct {
	gate      *Gate
	store     Store
	prefs     PreferenceStore
	publisher Publisher
	clock     core.Clock
	metrics   *metrics.Exporter
}

// NewService creates a notification service. publisher may be nil, in which
// case notifications are recorded but not pushed.
func NewService(prefs PreferenceStore, store Store, publisher Publisher, clock core.Clock, cfg GateConfig) *Service {
	return &Service{
		gate:      NewGate(prefs, store, clock, cfg),
		store:     store,
		prefs:     prefs,
		publisher: publisher,
		clock:     clock,
	}
}

// SetMetrics attaches a metrics exporter
func (s *Service) SetMetrics(m *metrics.Exporter) {
	s.metrics = m
}

// SetPublisher replaces the realtime publisher
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Gate returns the attention gate
func (s *Service) Gate() *Gate {
	return s.gate
}

// ShouldNotify reports whether the user may be interrupted at the given tier
func (s *Service) ShouldNotify(ctx context.Context, userID core.UserID, tier core.Priority) (bool, error) {
	return s.gate.ShouldNotify(ctx, userID, tier)
}

// Send delivers a notification, or queues it when the gate denies delivery.
// Force bypasses the gate and the category preferences.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := validateRequest(&req); err != nil {
		return SendResult{}, err
	}
	log := logging.WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"type":    req.Type,
	})

	if !req.Force {
		allowed, err := s.categoryAllowed(ctx, req.UserID, req.Type)
		if err != nil {
			return SendResult{}, err
		}
		if !allowed {
			log.Debug("Notification dropped: category disabled by preferences")
			s.metrics.RecordNotification(OutcomeDropped)
			return SendResult{Dropped: true}, nil
		}

		d, err := s.gate.Decide(ctx, req.UserID, req.Priority)
		if err != nil {
			return SendResult{}, err
		}
		if !d.Allowed {
			pending := &core.PendingNotification{
				UserID:   req.UserID,
				Title:    req.Title,
				Message:  req.Message,
				Type:     req.Type,
				Priority: req.Priority,
				Data:     req.Data,
			}
			if err := s.store.Enqueue(ctx, pending); err != nil {
				return SendResult{}, err
			}
			log.WithField("rule", d.Rule).Info("Notification suppressed: %s", req.Title)
			s.metrics.RecordNotification(OutcomeQueued)
			return SendResult{Queued: true}, nil
		}
	}

	n, err := s.deliver(ctx, req)
	if err != nil {
		return SendResult{}, err
	}

	outcome := OutcomeSent
	if req.Force {
		outcome = OutcomeForced
	}
	s.metrics.RecordNotification(outcome)
	log.Info("Notification sent: %s", req.Title)
	return SendResult{Sent: true, Notification: n}, nil
}

func validateRequest(req *SendRequest) error {
	if req.UserID == "" {
		return core.Invalid("user_id", "required")
	}
	if req.Title == "" {
		return core.Invalid("title", "required")
	}
	if !req.Priority.Valid() {
		return core.Invalid("priority", fmt.Sprintf("unknown tier %d", int(req.Priority)))
	}
	if req.Type == "" {
		req.Type = TypeInfo
	}
	return nil
}

func (s *Service) categoryAllowed(ctx context.Context, userID core.UserID, typ string) (bool, error) {
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return false, err
	}
	switch typ {
	case TypeInsight:
		return prefs.AllowInsights, nil
	case TypeReminder:
		return prefs.AllowReminders, nil
	case TypeCompletion:
		return prefs.AllowCelebrations, nil
	}
	return true, nil
}

// deliver records, publishes and counts a notification without consulting the gate.
func (s *Service) deliver(ctx context.Context, req SendRequest) (*core.Notification, error) {
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	n := &core.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		Priority:  req.Priority,
		Data:      data,
		Timestamp: s.clock.Now(),
	}

	if err := s.store.RecordDelivered(ctx, n); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		msg := Message{Type: "notification", Payload: n, Timestamp: n.Timestamp}
		if err := s.publisher.Publish(ctx, Topic(n.UserID), msg); err != nil {
			logging.WithField("user_id", n.UserID).WithError(err).Warn("Realtime publish failed")
		}
	}

	if err := s.store.RecordSend(ctx, n.UserID); err != nil {
		return nil, err
	}
	return n, nil
}

// GetPending returns queued notifications oldest first
func (s *Service) GetPending(ctx context.Context, userID core.UserID, limit int) ([]core.PendingNotification, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.store.Pending(ctx, userID, limit)
}

// DeliverPending batches the user's whole queue and sends the result, bypassing
// the gate. Queue entries are removed only after every batch was delivered.
func (s *Service) DeliverPending(ctx context.Context, userID core.UserID) (int, error) {
	pending, err := s.store.Pending(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	delivered := 0
	for _, p := range Batch(pending) {
		_, err := s.deliver(ctx, SendRequest{
			UserID:   userID,
			Title:    p.Title,
			Message:  p.Message,
			Type:     p.Type,
			Priority: p.Priority,
			Data:     p.Data,
		})
		if err != nil {
			return delivered, err
		}
		delivered++
		s.metrics.RecordNotification(OutcomeFlushed)
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	if err := s.store.Remove(ctx, userID, ids); err != nil {
		return delivered, err
	}

	logging.WithField("user_id", userID).Info("Delivered %d pending notifications (%d queued)", delivered, len(pending))
	return delivered, nil
}

// ClearPending empties the user's queue without delivering
func (s *Service) ClearPending(ctx context.Context, userID core.UserID) (int, error) {
	return s.store.ClearPending(ctx, userID)
}

// MarkRead marks a delivered notification as read
func (s *Service) MarkRead(ctx context.Context, userID core.UserID, id string) error {
	if id == "" {
		return core.Invalid("id", "required")
	}
	return s.store.MarkRead(ctx, userID, id)
}

// History returns delivered notifications, newest first
func (s *Service) History(ctx context.Context, userID core.UserID, limit int) ([]core.Notification, error) {
	return s.store.Delivered(ctx, userID, limit)
}

// GetPreferences returns the user's preferences, or the defaults when no profile exists
func (s *Service) GetPreferences(ctx context.Context, userID core.UserID) (core.Preferences, error) {
	prefs, err := s.prefs.GetPreferences(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return core.DefaultPreferences(), nil
	}
	return prefs, err
}

// UpdatePreferences validates and stores the user's preferences
func (s *Service) UpdatePreferences(ctx context.Context, userID core.UserID, prefs core.Preferences) error {
	if prefs.QuietHoursStart != nil && !validHour(*prefs.QuietHoursStart) {
		return core.Invalid("quiet_hours_start", "must be 0-23")
	}
	if prefs.QuietHoursEnd != nil && !validHour(*prefs.QuietHoursEnd) {
		return core.Invalid("quiet_hours_end", "must be 0-23")
	}
	for _, h := range prefs.NotificationTimes {
		if !validHour(h) {
			return core.Invalid("notification_times", "hours must be 0-23")
		}
	}
	return s.prefs.UpdatePreferences(ctx, userID, prefs, s.clock.Now())
}

func validHour(h int) bool { return h >= 0 && h <= 23 }

// SendInsight sends a low priority cognitive insight
func (s *Service) SendInsight(ctx context.Context, userID core.UserID, insight, insightType string) (SendResult, error) {
	if insightType == "" {
		insightType = "pattern"
	}
	return s.Send(ctx, SendRequest{
		UserID:   userID,
		Title:    "💡 Insight",
		Message:  insight,
		Type:     TypeInsight,
		Priority: core.PriorityLow,
		Data:     map[string]any{"insight_type": insightType},
	})
}

// SendGentleReminder sends a normal priority task reminder
func (s *Service) SendGentleReminder(ctx context.Context, userID core.UserID, taskTitle, reason string) (SendResult, error) {
	return s.Send(ctx, SendRequest{
		UserID:   userID,
		Title:    "Gentle reminder: " + taskTitle,
		Message:  reason,
		Type:     TypeReminder,
		Priority: core.PriorityNormal,
		Data:     map[string]any{"task_title": taskTitle},
	})
}

// SendOverwhelmAlert breaks through the gate with a wellness suggestion
func (s *Service) SendOverwhelmAlert(ctx context.Context, userID core.UserID, suggestion string) (SendResult, error) {
	return s.Send(ctx, SendRequest{
		UserID:   userID,
		Title:    "🌿 Take a breath",
		Message:  suggestion,
		Type:     TypeWellness,
		Priority: core.PriorityHigh,
		Force:    true,
	})
}

// SendCompletionCelebration briefly celebrates a completed task
func (s *Service) SendCompletionCelebration(ctx context.Context, userID core.UserID, taskTitle string, streak int) (SendResult, error) {
	message := "Completed: " + taskTitle
	if streak > 3 {
		message += fmt.Sprintf(" • %d day streak! 🔥", streak)
	}
	return s.Send(ctx, SendRequest{
		UserID:   userID,
		Title:    "✓",
		Message:  message,
		Type:     TypeCompletion,
		Priority: core.PriorityLow,
		Data:     map[string]any{"streak": streak},
	})
}

// SendTest forces a test notification through
func (s *Service) SendTest(ctx context.Context, userID core.UserID) (SendResult, error) {
	return s.Send(ctx, SendRequest{
		UserID:   userID,
		Title:    "🧪 Test Notification",
		Message:  "If you see this, notifications are working!",
		Type:     TypeTest,
		Priority: core.PriorityNormal,
		Force:    true,
	})
}

// StartFocus raises the focus flag for ttl
func (s *Service) StartFocus(ctx context.Context, userID core.UserID, ttl time.Duration) error {
	return s.store.SetFocus(ctx, userID, s.clock.Now().Add(ttl))
}

// EndFocus lowers the focus flag
func (s *Service) EndFocus(ctx context.Context, userID core.UserID) error {
	return s.store.ClearFocus(ctx, userID)
}
