package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// AttentionStore keeps the attention gate state in the relational store so
// every API instance sees the same counters and queue.
type AttentionStore struct {
	r       runner
	clock   core.Clock
	windows core.AttentionWindows
}

// NewAttentionStore creates a new attention store
func NewAttentionStore(db *DB, clock core.Clock, windows core.AttentionWindows) *AttentionStore {
	return &AttentionStore{r: db.runner(), clock: clock, windows: windows}
}

// HourlyCount returns the sends recorded in the user's current counter window
func (s *AttentionStore) HourlyCount(ctx context.Context, userID core.UserID) (int, error) {
	var windowStart int64
	var count int
	err := s.r.queryRow(ctx, `
		SELECT window_start, send_count FROM attention_counters WHERE user_id = ?
	`, userID).Scan(&windowStart, &count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("hourly count", err)
	}

	if !s.clock.Now().Before(fromMillis(windowStart).Add(s.windows.Counter)) {
		return 0, nil
	}
	return count, nil
}

// RecordSend increments the hourly counter and stamps the last-sent time in one statement.
// A counter whose window has elapsed restarts at 1 with a new window.
func (s *AttentionStore) RecordSend(ctx context.Context, userID core.UserID) error {
	now := toMillis(s.clock.Now())
	window := s.windows.Counter.Milliseconds()

	_, err := s.r.exec(ctx, `
		INSERT INTO attention_counters (user_id, window_start, send_count, last_sent_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			send_count = CASE
				WHEN attention_counters.window_start + ? <= excluded.window_start THEN 1
				ELSE attention_counters.send_count + 1
			END,
			window_start = CASE
				WHEN attention_counters.window_start + ? <= excluded.window_start THEN excluded.window_start
				ELSE attention_counters.window_start
			END,
			last_sent_at = excluded.last_sent_at
	`, userID, now, now, window, window)
	return wrap("record send", err)
}

// LastSent returns when the user was last sent a notification, if within retention
func (s *AttentionStore) LastSent(ctx context.Context, userID core.UserID) (time.Time, bool, error) {
	var last sql.NullInt64
	err := s.r.queryRow(ctx, `
		SELECT last_sent_at FROM attention_counters WHERE user_id = ?
	`, userID).Scan(&last)
	if err == sql.ErrNoRows || (err == nil && !last.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("last sent", err)
	}

	at := fromMillis(last.Int64)
	if s.clock.Now().Sub(at) >= s.windows.LastSent {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// InFocus reports whether the user's focus flag is set and unexpired
func (s *AttentionStore) InFocus(ctx context.Context, userID core.UserID) (bool, error) {
	var until int64
	err := s.r.queryRow(ctx, `SELECT until_at FROM attention_focus WHERE user_id = ?`, userID).Scan(&until)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("focus flag", err)
	}
	return s.clock.Now().Before(fromMillis(until)), nil
}

// SetFocus raises the focus flag until the given time
func (s *AttentionStore) SetFocus(ctx context.Context, userID core.UserID, until time.Time) error {
	_, err := s.r.exec(ctx, `
		INSERT INTO attention_focus (user_id, until_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET until_at = excluded.until_at
	`, userID, toMillis(until))
	return wrap("set focus", err)
}

// ClearFocus lowers the focus flag
func (s *AttentionStore) ClearFocus(ctx context.Context, userID core.UserID) error {
	_, err := s.r.exec(ctx, `DELETE FROM attention_focus WHERE user_id = ?`, userID)
	return wrap("clear focus", err)
}

// Enqueue appends a suppressed notification to the user's queue and drops expired entries
func (s *AttentionStore) Enqueue(ctx context.Context, n *core.PendingNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.QueuedAt.IsZero() {
		n.QueuedAt = s.clock.Now()
	}

	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}

	if err := s.purgeExpired(ctx, n.UserID); err != nil {
		return err
	}

	_, err = s.r.exec(ctx, `
		INSERT INTO attention_queue (id, user_id, seq, title, message, type, priority, data, queued_at)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, CAST(? AS INTEGER), ?, CAST(? AS BIGINT)
		FROM attention_queue WHERE user_id = ?
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, int(n.Priority), data, toMillis(n.QueuedAt), n.UserID)
	return wrap("enqueue notification", err)
}

func (s *AttentionStore) purgeExpired(ctx context.Context, userID core.UserID) error {
	cutoff := s.clock.Now().Add(-s.windows.Queue)
	_, err := s.r.exec(ctx, `
		DELETE FROM attention_queue WHERE user_id = ? AND queued_at <= ?
	`, userID, toMillis(cutoff))
	return wrap("purge queue", err)
}

// Pending returns unexpired queued notifications in FIFO order. limit <= 0 returns all.
func (s *AttentionStore) Pending(ctx context.Context, userID core.UserID, limit int) ([]core.PendingNotification, error) {
	cutoff := s.clock.Now().Add(-s.windows.Queue)

	query := `
		SELECT id, user_id, title, message, type, priority, data, queued_at
		FROM attention_queue
		WHERE user_id = ? AND queued_at > ?
		ORDER BY seq ASC`
	args := []any{userID, toMillis(cutoff)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("pending notifications", err)
	}
	defer rows.Close()

	var pending []core.PendingNotification
	for rows.Next() {
		var n core.PendingNotification
		var priority int
		var data string
		var queuedAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &priority, &data, &queuedAt); err != nil {
			return nil, wrap("scan pending", err)
		}
		n.Priority = core.Priority(priority)
		n.QueuedAt = fromMillis(queuedAt)
		if n.Data, err = decodeData(data); err != nil {
			return nil, err
		}
		pending = append(pending, n)
	}
	return pending, wrap("pending notifications", rows.Err())
}

// Remove deletes specific queue entries
func (s *AttentionStore) Remove(ctx context.Context, userID core.UserID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.r.exec(ctx, `
		DELETE FROM attention_queue WHERE user_id = ? AND id IN (`+placeholders+`)
	`, args...)
	return wrap("remove pending", err)
}

// ClearPending empties the user's queue
func (s *AttentionStore) ClearPending(ctx context.Context, userID core.UserID) (int, error) {
	res, err := s.r.exec(ctx, `DELETE FROM attention_queue WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrap("clear pending", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordDelivered keeps a delivered notification so it can be marked read
func (s *AttentionStore) RecordDelivered(ctx context.Context, n *core.Notification) error {
	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}

	_, err = s.r.exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, priority, data, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, int(n.Priority), data, n.Read, toMillis(n.Timestamp))
	return wrap("record delivered", err)
}

// MarkRead marks a delivered notification as read
func (s *AttentionStore) MarkRead(ctx context.Context, userID core.UserID, id string) error {
	res, err := s.r.exec(ctx, `
		UPDATE notifications SET is_read = ?, read_at = ? WHERE id = ? AND user_id = ?
	`, true, toMillis(s.clock.Now()), id, userID)
	if err != nil {
		return wrap("mark read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Delivered returns the user's delivered notifications, newest first
func (s *AttentionStore) Delivered(ctx context.Context, userID core.UserID, limit int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.r.query(ctx, `
		SELECT id, user_id, title, message, type, priority, data, is_read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, wrap("delivered notifications", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var n core.Notification
		var priority int
		var data string
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &priority, &data, &n.Read, &createdAt); err != nil {
			return nil, wrap("scan delivered", err)
		}
		n.Priority = core.Priority(priority)
		n.Timestamp = fromMillis(createdAt)
		if n.Data, err = decodeData(data); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, wrap("delivered notifications", rows.Err())
}

func encodeData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", wrap("encode data", err)
	}
	return string(b), nil
}

func decodeData(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, wrap("decode data", err)
	}
	return data, nil
}
