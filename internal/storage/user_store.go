package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// UserStore handles user persistence
type UserStore struct {
	r runner
}

// NewUserStore creates a new user store
func NewUserStore(db *DB) *UserStore {
	return &UserStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *UserStore) WithTx(tx *Tx) *UserStore {
	return &UserStore{r: tx.runner()}
}

const userColumns = `id, name, email, timezone, is_active, created_at, last_active_at`

// Create inserts a user
func (s *UserStore) Create(ctx context.Context, u *core.User) error {
	if u.ID == "" {
		u.ID = core.UserID(uuid.New().String())
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}

	_, err := s.r.exec(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, nullString(u.Email), u.Timezone, u.IsActive, toMillis(u.CreatedAt), nullMillis(u.LastActiveAt))
	return wrap("create user", err)
}

// Get returns a user by ID, or ErrUserNotFound
func (s *UserStore) Get(ctx context.Context, id core.UserID) (*core.User, error) {
	u, err := scanUser(s.r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return u, nil
}

// Touch records user activity
func (s *UserStore) Touch(ctx context.Context, id core.UserID, at time.Time) error {
	_, err := s.r.exec(ctx, `UPDATE users SET last_active_at = ? WHERE id = ?`, toMillis(at), id)
	return wrap("touch user", err)
}

// ListActive returns active users seen at or after since
func (s *UserStore) ListActive(ctx context.Context, since time.Time) ([]core.UserID, error) {
	rows, err := s.r.query(ctx, `
		SELECT id FROM users
		WHERE is_active = ? AND last_active_at >= ?
		ORDER BY id
	`, true, toMillis(since))
	if err != nil {
		return nil, wrap("list active users", err)
	}
	defer rows.Close()

	var ids []core.UserID
	for rows.Next() {
		var id core.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan user id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("list active users", rows.Err())
}

// List returns every user, newest first
func (s *UserStore) List(ctx context.Context) ([]*core.User, error) {
	rows, err := s.r.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var users []*core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrap("scan user", err)
		}
		users = append(users, u)
	}
	return users, wrap("list users", rows.Err())
}

func scanUser(row rowScanner) (*core.User, error) {
	u := &core.User{}
	var email sql.NullString
	var createdAt int64
	var lastActive sql.NullInt64

	if err := row.Scan(&u.ID, &u.Name, &email, &u.Timezone, &u.IsActive, &createdAt, &lastActive); err != nil {
		return nil, err
	}

	u.Email = email.String
	u.CreatedAt = fromMillis(createdAt)
	u.LastActiveAt = timePtr(lastActive)
	return u, nil
}
