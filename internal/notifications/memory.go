package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitlabs/orbit/internal/core"
)

// MemoryState is a process-local Store. Expiry is evaluated against the
// injected clock on every read, so no background sweeper is needed.
type MemoryState struct {
	clock   core.Clock
	windows core.AttentionWindows

	mu        sync.Mutex
	counters  map[core.UserID]*counter
	lastSent  map[core.UserID]time.Time
	focus     map[core.UserID]time.Time
	queues    map[core.UserID][]core.PendingNotification
	delivered map[core.UserID][]core.Notification
}

type counter struct {
	windowStart time.Time
	count       int
}

// NewMemoryState creates an empty in-memory attention store
func NewMemoryState(clock core.Clock, windows core.AttentionWindows) *MemoryState {
	return &MemoryState{
		clock:     clock,
		windows:   windows,
		counters:  make(map[core.UserID]*counter),
		lastSent:  make(map[core.UserID]time.Time),
		focus:     make(map[core.UserID]time.Time),
		queues:    make(map[core.UserID][]core.PendingNotification),
		delivered: make(map[core.UserID][]core.Notification),
	}
}

func (m *MemoryState) HourlyCount(_ context.Context, userID core.UserID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[userID]
	if !ok || !m.clock.Now().Before(c.windowStart.Add(m.windows.Counter)) {
		return 0, nil
	}
	return c.count, nil
}

func (m *MemoryState) RecordSend(_ context.Context, userID core.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	c, ok := m.counters[userID]
	if !ok || !now.Before(c.windowStart.Add(m.windows.Counter)) {
		m.counters[userID] = &counter{windowStart: now, count: 1}
	} else {
		c.count++
	}
	m.lastSent[userID] = now
	return nil
}

func (m *MemoryState) LastSent(_ context.Context, userID core.UserID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.lastSent[userID]
	if !ok || m.clock.Now().Sub(at) >= m.windows.LastSent {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (m *MemoryState) InFocus(_ context.Context, userID core.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.focus[userID]
	return ok && m.clock.Now().Before(until), nil
}

func (m *MemoryState) SetFocus(_ context.Context, userID core.UserID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus[userID] = until
	return nil
}

func (m *MemoryState) ClearFocus(_ context.Context, userID core.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.focus, userID)
	return nil
}

func (m *MemoryState) Enqueue(_ context.Context, n *core.PendingNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.QueuedAt.IsZero() {
		n.QueuedAt = m.clock.Now()
	}
	m.queues[n.UserID] = append(m.live(n.UserID), *n)
	return nil
}

// live drops expired entries and returns what remains. Caller holds mu.
func (m *MemoryState) live(userID core.UserID) []core.PendingNotification {
	cutoff := m.clock.Now().Add(-m.windows.Queue)
	q := m.queues[userID]
	kept := q[:0]
	for _, n := range q {
		if n.QueuedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	m.queues[userID] = kept
	return kept
}

func (m *MemoryState) Pending(_ context.Context, userID core.UserID, limit int) ([]core.PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.live(userID)
	if limit > 0 && len(q) > limit {
		q = q[:limit]
	}
	if len(q) == 0 {
		return nil, nil
	}
	out := make([]core.PendingNotification, len(q))
	copy(out, q)
	return out, nil
}

func (m *MemoryState) Remove(_ context.Context, userID core.UserID, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	q := m.queues[userID]
	kept := q[:0]
	for _, n := range q {
		if !drop[n.ID] {
			kept = append(kept, n)
		}
	}
	m.queues[userID] = kept
	return nil
}

func (m *MemoryState) ClearPending(_ context.Context, userID core.UserID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.queues[userID])
	delete(m.queues, userID)
	return n, nil
}

func (m *MemoryState) RecordDelivered(_ context.Context, n *core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[n.UserID] = append(m.delivered[n.UserID], *n)
	return nil
}

func (m *MemoryState) MarkRead(_ context.Context, userID core.UserID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.delivered[userID] {
		if m.delivered[userID][i].ID == id {
			m.delivered[userID][i].Read = true
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *MemoryState) Delivered(_ context.Context, userID core.UserID, limit int) ([]core.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]core.Notification, len(m.delivered[userID]))
	copy(out, m.delivered[userID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
