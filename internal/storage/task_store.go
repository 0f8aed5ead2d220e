package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// TaskStore handles task persistence
type TaskStore struct {
	r runner
}

// NewTaskStore creates a new task store
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *TaskStore) WithTx(tx *Tx) *TaskStore {
	return &TaskStore{r: tx.runner()}
}

const taskColumns = `id, user_id, intent_id, title, description, status, priority,
	estimated_minutes, abandonment_reason, created_at, updated_at, started_at, completed_at`

// Create inserts a task
func (s *TaskStore) Create(ctx context.Context, t *core.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = core.TaskPending
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err := s.r.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.UserID, nullString(t.IntentID), t.Title, nullString(t.Description),
		string(t.Status), t.Priority, nullInt(t.EstimatedMinutes), nullString(t.AbandonmentReason),
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt), nullMillis(t.StartedAt), nullMillis(t.CompletedAt),
	)
	return wrap("create task", err)
}

// Get returns a task by ID, or ErrTaskNotFound
func (s *TaskStore) Get(ctx context.Context, id string) (*core.Task, error) {
	row := s.r.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`+s.r.lockClause(), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrTaskNotFound
	}
	if err != nil {
		return nil, wrap("get task", err)
	}
	return t, nil
}

// CountByStatus counts the user's tasks in a status
func (s *TaskStore) CountByStatus(ctx context.Context, userID core.UserID, status core.TaskStatus) (int, error) {
	var count int
	err := s.r.queryRow(ctx, `
		SELECT COUNT(*) FROM tasks WHERE user_id = ? AND status = ?
	`, userID, string(status)).Scan(&count)
	if err != nil {
		return 0, wrap("count tasks", err)
	}
	return count, nil
}

// TopPending returns the pending task with the highest priority, oldest first on ties.
// It returns nil when the user has no pending task.
func (s *TaskStore) TopPending(ctx context.Context, userID core.UserID) (*core.Task, error) {
	row := s.r.queryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
	`, userID, string(core.TaskPending))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("top pending task", err)
	}
	return t, nil
}

// LatestInProgress returns the most recently started in-progress task, or nil
func (s *TaskStore) LatestInProgress(ctx context.Context, userID core.UserID) (*core.Task, error) {
	row := s.r.queryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, userID, string(core.TaskInProgress))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("in-progress task", err)
	}
	return t, nil
}

// List returns the user's tasks, optionally filtered by status, highest priority first
func (s *TaskStore) List(ctx context.Context, userID core.UserID, status core.TaskStatus, limit int) ([]*core.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY priority DESC, created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrap("scan task", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, wrap("list tasks", rows.Err())
}

// UpdateStatus persists the lifecycle fields and priority of a task
func (s *TaskStore) UpdateStatus(ctx context.Context, t *core.Task) error {
	res, err := s.r.exec(ctx, `
		UPDATE tasks SET status = ?, priority = ?, abandonment_reason = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		string(t.Status), t.Priority, nullString(t.AbandonmentReason), toMillis(t.UpdatedAt),
		nullMillis(t.StartedAt), nullMillis(t.CompletedAt), t.ID,
	)
	if err != nil {
		return wrap("update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTaskNotFound
	}
	return nil
}

// CompletedDays returns the distinct UTC days on which the user completed tasks since a time
func (s *TaskStore) CompletedDays(ctx context.Context, userID core.UserID, since time.Time) ([]time.Time, error) {
	rows, err := s.r.query(ctx, `
		SELECT completed_at FROM tasks
		WHERE user_id = ? AND status = ? AND completed_at >= ?
		ORDER BY completed_at DESC
	`, userID, string(core.TaskCompleted), toMillis(since))
	if err != nil {
		return nil, wrap("completed days", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var days []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, wrap("scan completed day", err)
		}
		day := fromMillis(ms).Truncate(24 * time.Hour)
		key := day.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			days = append(days, day)
		}
	}
	return days, wrap("completed days", rows.Err())
}

func scanTask(row rowScanner) (*core.Task, error) {
	t := &core.Task{}
	var status string
	var intentID, description, reason sql.NullString
	var estimate, startedAt, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&t.ID, &t.UserID, &intentID, &t.Title, &description, &status, &t.Priority,
		&estimate, &reason, &createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = core.TaskStatus(status)
	t.IntentID = intentID.String
	t.Description = description.String
	t.AbandonmentReason = reason.String
	t.EstimatedMinutes = intPtr(estimate)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}
