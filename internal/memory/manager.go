// Package memory stores remembered facts about a user and records their recall.
// Recall counts drive consolidation: short-term memories recalled often enough
// become long-term, ones never recalled are retired.
package memory

import (
	"context"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/storage"
)

// ShortTermTTL is how long a short-term memory lives unless consolidated
const ShortTermTTL = 24 * time.Hour

// Manager handles all memory operations
type Manager struct {
	db    *storage.DB
	store *storage.MemoryStore
	clock core.Clock
}

// NewManager creates a memory manager
func NewManager(db *storage.DB, clock core.Clock) *Manager {
	return &Manager{
		db:    db,
		store: storage.NewMemoryStore(db),
		clock: clock,
	}
}

// Store stores a new memory. Memories default to short-term with a 24h expiry.
func (m *Manager) Store(ctx context.Context, memory *core.Memory) error {
	if memory.UserID == "" {
		return core.Invalid("user_id", "required")
	}
	if memory.Content == "" {
		return core.Invalid("content", "required")
	}
	if memory.ImportanceScore < 0 || memory.ImportanceScore > 1 {
		return core.Invalid("importance_score", "must be between 0 and 1")
	}
	switch memory.Type {
	case "":
		memory.Type = core.MemoryShortTerm
	case core.MemoryShortTerm, core.MemoryLongTerm, core.MemoryIdentity, core.MemoryEpisodic, core.MemorySemantic:
	default:
		return core.Invalid("memory_type", "unknown type "+string(memory.Type))
	}
	if memory.ImportanceScore == 0 {
		memory.ImportanceScore = 0.5
	}

	now := m.clock.Now()
	memory.CreatedAt = now
	memory.IsActive = true
	memory.RetrievalCount = 0
	if memory.Type == core.MemoryShortTerm && memory.ExpiresAt == nil {
		expires := now.Add(ShortTermTTL)
		memory.ExpiresAt = &expires
	}

	if err := m.store.Create(ctx, memory); err != nil {
		return err
	}
	logging.WithFields(map[string]interface{}{
		"user_id": memory.UserID,
		"type":    memory.Type,
	}).Debug("Stored memory %s", memory.ID)
	return nil
}

// StoreShortTerm stores something worth remembering for a day
func (m *Manager) StoreShortTerm(ctx context.Context, userID core.UserID, content string) (*core.Memory, error) {
	memory := &core.Memory{UserID: userID, Content: content, Type: core.MemoryShortTerm}
	return memory, m.Store(ctx, memory)
}

// StoreSemantic stores a fact, which never expires
func (m *Manager) StoreSemantic(ctx context.Context, userID core.UserID, content string, importance float64) (*core.Memory, error) {
	memory := &core.Memory{UserID: userID, Content: content, Type: core.MemorySemantic, ImportanceScore: importance}
	return memory, m.Store(ctx, memory)
}

// Recall loads one of the user's memories and counts the retrieval
func (m *Manager) Recall(ctx context.Context, userID core.UserID, id string) (*core.Memory, error) {
	var memory *core.Memory
	err := m.db.Transaction(ctx, func(tx *storage.Tx) error {
		store := m.store.WithTx(tx)
		var err error
		memory, err = store.Get(ctx, id)
		if err != nil {
			return err
		}
		if memory.UserID != userID || !memory.IsActive {
			return core.ErrMemoryNotFound
		}
		if err := store.RecordRetrieval(ctx, id); err != nil {
			return err
		}
		memory.RetrievalCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return memory, nil
}

// Recent returns the user's active memories, newest first. Listing does not
// count as a retrieval.
func (m *Manager) Recent(ctx context.Context, userID core.UserID, memType core.MemoryType, limit int) ([]*core.Memory, error) {
	return m.store.ListRecent(ctx, userID, memType, limit)
}

// CountByType returns the user's active memory count by type
func (m *Manager) CountByType(ctx context.Context, userID core.UserID) (map[core.MemoryType]int, error) {
	return m.store.CountByType(ctx, userID)
}
