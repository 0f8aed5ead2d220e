package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/orbitlabs/orbit/internal/core"
)

// EventStore handles behavioral event persistence
type EventStore struct {
	r runner
}

// NewEventStore creates a new event store
func NewEventStore(db *DB) *EventStore {
	return &EventStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *EventStore) WithTx(tx *Tx) *EventStore {
	return &EventStore{r: tx.runner()}
}

const eventColumns = `id, user_id, event_type, entity_type, entity_id, event_data,
	time_of_day, day_of_week, is_analyzed, contributed_to_profile, created_at`

// Insert appends an event
func (s *EventStore) Insert(ctx context.Context, e *core.BehavioralEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	data := "{}"
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return wrap("encode event data", err)
		}
		data = string(b)
	}

	_, err := s.r.exec(ctx, `
		INSERT INTO behavioral_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, string(e.Type), nullString(e.EntityType), nullString(e.EntityID), data,
		nullInt(e.TimeOfDay), nullInt(e.DayOfWeek), e.IsAnalyzed, e.ContributedToProfile,
		toMillis(e.CreatedAt),
	)
	return wrap("insert event", err)
}

// ListUnanalyzed returns the user's unanalyzed events created at or after since, oldest first
func (s *EventStore) ListUnanalyzed(ctx context.Context, userID core.UserID, since time.Time) ([]*core.BehavioralEvent, error) {
	rows, err := s.r.query(ctx, `
		SELECT `+eventColumns+`
		FROM behavioral_events
		WHERE user_id = ? AND is_analyzed = ? AND created_at >= ?
		ORDER BY created_at ASC
	`+s.r.lockClause(), userID, false, toMillis(since))
	if err != nil {
		return nil, wrap("list unanalyzed events", err)
	}
	return scanEvents(rows)
}

// MarkAnalyzed flags events as analyzed and contributed. Events already analyzed are skipped,
// and the number of rows that actually flipped is returned.
func (s *EventStore) MarkAnalyzed(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+3)
	args = append(args, true, true)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, false)

	res, err := s.r.exec(ctx, `
		UPDATE behavioral_events SET is_analyzed = ?, contributed_to_profile = ?
		WHERE id IN (`+placeholders+`) AND is_analyzed = ?
	`, args...)
	if err != nil {
		return 0, wrap("mark events analyzed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("mark events analyzed", err)
	}
	return int(n), nil
}

// CountSince counts the user's events of a type created at or after since
func (s *EventStore) CountSince(ctx context.Context, userID core.UserID, eventType core.EventType, since time.Time) (int, error) {
	var count int
	err := s.r.queryRow(ctx, `
		SELECT COUNT(*) FROM behavioral_events
		WHERE user_id = ? AND event_type = ? AND created_at >= ?
	`, userID, string(eventType), toMillis(since)).Scan(&count)
	if err != nil {
		return 0, wrap("count events", err)
	}
	return count, nil
}

// History returns the user's most recent events, optionally filtered by type
func (s *EventStore) History(ctx context.Context, userID core.UserID, eventType core.EventType, limit int) ([]*core.BehavioralEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + eventColumns + ` FROM behavioral_events WHERE user_id = ?`
	args := []any{userID}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(eventType))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("event history", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*core.BehavioralEvent, error) {
	defer rows.Close()

	var events []*core.BehavioralEvent
	for rows.Next() {
		e := &core.BehavioralEvent{}
		var eventType, data string
		var entityType, entityID sql.NullString
		var hour, weekday sql.NullInt64
		var createdAt int64

		err := rows.Scan(
			&e.ID, &e.UserID, &eventType, &entityType, &entityID, &data,
			&hour, &weekday, &e.IsAnalyzed, &e.ContributedToProfile, &createdAt,
		)
		if err != nil {
			return nil, wrap("scan event", err)
		}

		e.Type = core.EventType(eventType)
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.TimeOfDay = intPtr(hour)
		e.DayOfWeek = intPtr(weekday)
		e.CreatedAt = fromMillis(createdAt)

		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, wrap("decode event data", errors.Wrapf(err, "event %s", e.ID))
			}
		}

		events = append(events, e)
	}

	return events, wrap("scan events", rows.Err())
}
