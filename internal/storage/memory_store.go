package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// MemoryStore handles memory persistence
type MemoryStore struct {
	r runner
}

// NewMemoryStore creates a new memory store
func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *MemoryStore) WithTx(tx *Tx) *MemoryStore {
	return &MemoryStore{r: tx.runner()}
}

const memoryColumns = `id, user_id, content, memory_type, importance_score,
	retrieval_count, is_active, expires_at, created_at`

// Create inserts a memory
func (s *MemoryStore) Create(ctx context.Context, m *core.Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Type == "" {
		m.Type = core.MemoryEpisodic
	}

	_, err := s.r.exec(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.UserID, m.Content, string(m.Type), m.ImportanceScore,
		m.RetrievalCount, m.IsActive, nullMillis(m.ExpiresAt), toMillis(m.CreatedAt),
	)
	return wrap("create memory", err)
}

// Get returns a memory by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Memory, error) {
	m, err := scanMemory(s.r.queryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, core.ErrMemoryNotFound
	}
	if err != nil {
		return nil, wrap("get memory", err)
	}
	return m, nil
}

// RecordRetrieval bumps the retrieval count that consolidation promotes on
func (s *MemoryStore) RecordRetrieval(ctx context.Context, id string) error {
	res, err := s.r.exec(ctx, `UPDATE memories SET retrieval_count = retrieval_count + 1 WHERE id = ?`, id)
	if err != nil {
		return wrap("record retrieval", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrMemoryNotFound
	}
	return nil
}

// ListRecent returns the user's active memories, newest first
func (s *MemoryStore) ListRecent(ctx context.Context, userID core.UserID, memType core.MemoryType, limit int) ([]*core.Memory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND is_active = ?`
	args := []any{userID, true}
	if memType != "" {
		query += " AND memory_type = ?"
		args = append(args, string(memType))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.r.query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list memories", err)
	}
	defer rows.Close()

	var memories []*core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrap("scan memory", err)
		}
		memories = append(memories, m)
	}
	return memories, wrap("list memories", rows.Err())
}

// CountByType counts the user's active memories per type
func (s *MemoryStore) CountByType(ctx context.Context, userID core.UserID) (map[core.MemoryType]int, error) {
	rows, err := s.r.query(ctx, `
		SELECT memory_type, COUNT(*) FROM memories
		WHERE user_id = ? AND is_active = ?
		GROUP BY memory_type
	`, userID, true)
	if err != nil {
		return nil, wrap("count memories", err)
	}
	defer rows.Close()

	counts := make(map[core.MemoryType]int)
	for rows.Next() {
		var memType string
		var count int
		if err := rows.Scan(&memType, &count); err != nil {
			return nil, wrap("scan memory count", err)
		}
		counts[core.MemoryType(memType)] = count
	}
	return counts, wrap("count memories", rows.Err())
}

func scanMemory(row rowScanner) (*core.Memory, error) {
	m := &core.Memory{}
	var memType string
	var expiresAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&m.ID, &m.UserID, &m.Content, &memType, &m.ImportanceScore,
		&m.RetrievalCount, &m.IsActive, &expiresAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = core.MemoryType(memType)
	m.ExpiresAt = timePtr(expiresAt)
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// ConsolidationResult reports what a consolidation pass changed
type ConsolidationResult struct {
	Promoted    int `json:"promoted"`
	Deactivated int `json:"deactivated"`
}

// Consolidate promotes frequently retrieved short-term memories created before cutoff to
// long-term (clearing their expiry) and deactivates the ones never retrieved.
func (s *MemoryStore) Consolidate(ctx context.Context, cutoff time.Time, promoteAt int) (ConsolidationResult, error) {
	var result ConsolidationResult

	res, err := s.r.exec(ctx, `
		UPDATE memories SET memory_type = ?, expires_at = NULL
		WHERE memory_type = ? AND is_active = ? AND created_at < ? AND retrieval_count >= ?
	`, string(core.MemoryLongTerm), string(core.MemoryShortTerm), true, toMillis(cutoff), promoteAt)
	if err != nil {
		return result, wrap("promote memories", err)
	}
	n, _ := res.RowsAffected()
	result.Promoted = int(n)

	res, err = s.r.exec(ctx, `
		UPDATE memories SET is_active = ?
		WHERE memory_type = ? AND is_active = ? AND created_at < ? AND retrieval_count = 0
	`, false, string(core.MemoryShortTerm), true, toMillis(cutoff))
	if err != nil {
		return result, wrap("deactivate memories", err)
	}
	n, _ = res.RowsAffected()
	result.Deactivated = int(n)

	return result, nil
}
