package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// IntentStore handles intent persistence
type IntentStore struct {
	r runner
}

// NewIntentStore creates a new intent store
func NewIntentStore(db *DB) *IntentStore {
	return &IntentStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *IntentStore) WithTx(tx *Tx) *IntentStore {
	return &IntentStore{r: tx.runner()}
}

const intentColumns = `id, user_id, raw_input, initial_priority, current_priority,
	decay_rate, is_processed, created_at, processed_at`

// Create inserts an intent
func (s *IntentStore) Create(ctx context.Context, in *core.Intent) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}

	_, err := s.r.exec(ctx, `
		INSERT INTO intents (`+intentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.ID, in.UserID, in.RawInput, in.InitialPriority, in.CurrentPriority,
		in.DecayRate, in.IsProcessed, toMillis(in.CreatedAt), nullMillis(in.ProcessedAt),
	)
	return wrap("create intent", err)
}

// Get returns an intent by ID, or ErrIntentNotFound
func (s *IntentStore) Get(ctx context.Context, id string) (*core.Intent, error) {
	row := s.r.queryRow(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = ?`+s.r.lockClause(), id)
	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrIntentNotFound
	}
	if err != nil {
		return nil, wrap("get intent", err)
	}
	return in, nil
}

// ListDecayable returns unprocessed intents of every user created before cutoff
func (s *IntentStore) ListDecayable(ctx context.Context, cutoff time.Time) ([]*core.Intent, error) {
	rows, err := s.r.query(ctx, `
		SELECT `+intentColumns+` FROM intents
		WHERE is_processed = ? AND created_at < ?
		ORDER BY created_at ASC
	`, false, toMillis(cutoff))
	if err != nil {
		return nil, wrap("list decayable intents", err)
	}
	defer rows.Close()

	var intents []*core.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, wrap("scan intent", err)
		}
		intents = append(intents, in)
	}
	return intents, wrap("list decayable intents", rows.Err())
}

// UpdatePriority lowers the current priority of an unprocessed intent.
// The write is skipped when it would raise the stored value or the intent was processed meanwhile.
func (s *IntentStore) UpdatePriority(ctx context.Context, id string, priority float64) (bool, error) {
	res, err := s.r.exec(ctx, `
		UPDATE intents SET current_priority = ?
		WHERE id = ? AND is_processed = ? AND current_priority > ?
	`, priority, id, false, priority)
	if err != nil {
		return false, wrap("update intent priority", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("update intent priority", err)
	}
	return n > 0, nil
}

// MarkProcessed stops an intent from decaying any further
func (s *IntentStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.r.exec(ctx, `
		UPDATE intents SET is_processed = ?, processed_at = ? WHERE id = ?
	`, true, toMillis(at), id)
	if err != nil {
		return wrap("mark intent processed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrIntentNotFound
	}
	return nil
}

func scanIntent(row rowScanner) (*core.Intent, error) {
	in := &core.Intent{}
	var createdAt int64
	var processedAt sql.NullInt64

	err := row.Scan(
		&in.ID, &in.UserID, &in.RawInput, &in.InitialPriority, &in.CurrentPriority,
		&in.DecayRate, &in.IsProcessed, &createdAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	in.CreatedAt = fromMillis(createdAt)
	in.ProcessedAt = timePtr(processedAt)
	return in, nil
}
