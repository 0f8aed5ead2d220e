// Package learning implements ORBIT's behavioral learning: event capture,
// the task lifecycle tracker, the profile learner, overwhelm detection and insights.
package learning

import (
	"context"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/storage"
)

// Collector captures behavioral events from user actions
type Collector struct {
	db     *storage.DB
	events *storage.EventStore
	users  *storage.UserStore
	clock  core.Clock
}

// NewCollector creates a new event collector
func NewCollector(db *storage.DB, clock core.Clock) *Collector {
	return &Collector{
		db:     db,
		events: storage.NewEventStore(db),
		users:  storage.NewUserStore(db),
		clock:  clock,
	}
}

// Emit records one behavioral event. Hour of day and weekday come from the clock.
func (c *Collector) Emit(ctx context.Context, userID core.UserID, eventType core.EventType, entityType, entityID string, data map[string]any) (*core.BehavioralEvent, error) {
	var event *core.BehavioralEvent
	err := c.db.Transaction(ctx, func(tx *storage.Tx) error {
		var err error
		event, err = c.EmitTx(ctx, tx, userID, eventType, entityType, entityID, data)
		return err
	})
	return event, err
}

// EmitTx records an event inside an existing transaction and marks the user active.
func (c *Collector) EmitTx(ctx context.Context, tx *storage.Tx, userID core.UserID, eventType core.EventType, entityType, entityID string, data map[string]any) (*core.BehavioralEvent, error) {
	if userID == "" {
		return nil, core.Invalid("user_id", "required")
	}
	if !eventType.Valid() {
		return nil, core.Invalid("event_type", "unknown event type "+string(eventType))
	}
	if entityID != "" && entityType == "" {
		return nil, core.Invalid("entity_type", "required with entity_id")
	}

	event := c.build(userID, eventType, entityType, entityID, data)
	if err := c.events.WithTx(tx).Insert(ctx, event); err != nil {
		return nil, err
	}
	if err := c.users.WithTx(tx).Touch(ctx, userID, event.CreatedAt); err != nil {
		return nil, err
	}
	return event, nil
}

func (c *Collector) build(userID core.UserID, eventType core.EventType, entityType, entityID string, data map[string]any) *core.BehavioralEvent {
	now := c.clock.Now()
	return &core.BehavioralEvent{
		UserID:     userID,
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		TimeOfDay:  core.IntPtr(now.Hour()),
		DayOfWeek:  core.IntPtr(core.WeekdayIndex(now)),
		CreatedAt:  now,
	}
}

// History returns the user's most recent events, optionally filtered by type
func (c *Collector) History(ctx context.Context, userID core.UserID, eventType core.EventType, limit int) ([]*core.BehavioralEvent, error) {
	if eventType != "" && !eventType.Valid() {
		return nil, core.Invalid("event_type", "unknown event type "+string(eventType))
	}
	return c.events.History(ctx, userID, eventType, limit)
}

// CountSince counts the user's events of a type since a time
func (c *Collector) CountSince(ctx context.Context, userID core.UserID, eventType core.EventType, since time.Time) (int, error) {
	return c.events.CountSince(ctx, userID, eventType, since)
}
