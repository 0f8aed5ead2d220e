package notifications

import (
	"fmt"
	"strings"

	"github.com/orbitlabs/orbit/internal/core"
)

const (
	batchExcerpts   = 3
	batchExcerptLen = 50
)

// Batch collapses queued notifications by category, keeping first-seen category order.
// A category with one entry passes through unchanged; larger groups become one
// synthetic entry titled "<n> updates" carrying the highest priority of the group.
func Batch(entries []core.PendingNotification) []core.PendingNotification {
	if len(entries) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]core.PendingNotification)
	for _, e := range entries {
		t := e.Type
		if t == "" {
			t = TypeInfo
		}
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], e)
	}

	out := make([]core.PendingNotification, 0, len(order))
	for _, t := range order {
		items := groups[t]
		if len(items) == 1 {
			out = append(out, items[0])
			continue
		}

		excerpts := make([]string, 0, batchExcerpts)
		priority := items[0].Priority
		for i, n := range items {
			if i < batchExcerpts {
				excerpts = append(excerpts, truncate(n.Message, batchExcerptLen))
			}
			priority = core.MaxPriority(priority, n.Priority)
		}

		out = append(out, core.PendingNotification{
			UserID:   items[0].UserID,
			Title:    fmt.Sprintf("%d updates", len(items)),
			Message:  strings.Join(excerpts, "\n"),
			Type:     t,
			Priority: priority,
			Data:     map[string]any{"batched_count": len(items)},
			QueuedAt: items[0].QueuedAt,
		})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
