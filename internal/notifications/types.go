// Package notifications implements the attention gate, the pending queue and
// gated realtime delivery for ORBIT.
package notifications

import (
	"context"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
)

// Notification categories
const (
	TypeInfo       = "info"
	TypeInsight    = "insight"
	TypeReminder   = "reminder"
	TypeWellness   = "wellness"
	TypeCompletion = "completion"
	TypeTest       = "test"
)

// SendRequest describes one outbound notification.
type SendRequest struct {
	UserID   core.UserID    `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     string         `json:"type,omitempty"`
	Priority core.Priority  `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
	Force    bool           `json:"force,omitempty"` // bypass the attention gate
}

// SendResult reports what happened to a SendRequest.
// A gate denial is not an error: it yields Queued.
type SendResult struct {
	Sent         bool               `json:"sent"`
	Queued       bool               `json:"queued"`
	Dropped      bool               `json:"dropped,omitempty"`
	Notification *core.Notification `json:"notification,omitempty"`
}

// Message is the envelope published on a user's realtime topic.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes messages to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Topic returns the realtime topic notifications for a user are published on.
func Topic(userID core.UserID) string {
	return "notifications:" + string(userID)
}

// EventsTopic returns the realtime topic task lifecycle messages for a user are published on.
func EventsTopic(userID core.UserID) string {
	return "user:" + string(userID) + ":events"
}

// State is the per-user attention state the gate reads and a send updates.
type State interface {
	HourlyCount(ctx context.Context, userID core.UserID) (int, error)
	RecordSend(ctx context.Context, userID core.UserID) error
	LastSent(ctx context.Context, userID core.UserID) (time.Time, bool, error)
	InFocus(ctx context.Context, userID core.UserID) (bool, error)
	SetFocus(ctx context.Context, userID core.UserID, until time.Time) error
	ClearFocus(ctx context.Context, userID core.UserID) error
}

// Queue holds notifications the gate suppressed, oldest first.
type Queue interface {
	Enqueue(ctx context.Context, n *core.PendingNotification) error
	Pending(ctx context.Context, userID core.UserID, limit int) ([]core.PendingNotification, error)
	Remove(ctx context.Context, userID core.UserID, ids []string) error
	ClearPending(ctx context.Context, userID core.UserID) (int, error)
}

// History keeps delivered notifications so they can be marked read.
type History interface {
	RecordDelivered(ctx context.Context, n *core.Notification) error
	MarkRead(ctx context.Context, userID core.UserID, id string) error
	Delivered(ctx context.Context, userID core.UserID, limit int) ([]core.Notification, error)
}

// Store is the full attention store. storage.AttentionStore and MemoryState implement it.
type Store interface {
	State
	Queue
	History
}

// ProfileSource gives the gate read access to profiles.
type ProfileSource interface {
	Get(ctx context.Context, userID core.UserID) (*core.CognitiveProfile, error)
}

// PreferenceStore reads and writes notification preferences.
type PreferenceStore interface {
	ProfileSource
	GetPreferences(ctx context.Context, userID core.UserID) (core.Preferences, error)
	UpdatePreferences(ctx context.Context, userID core.UserID, prefs core.Preferences, now time.Time) error
}
