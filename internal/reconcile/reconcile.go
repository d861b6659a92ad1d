// Package reconcile merges chat messages arriving from the push
// channel and the polling fallback into one ordered list.
package reconcile

import (
	"sort"
	"time"

	"chatwidget/internal/domain"
)

// Merge combines the current ordered message list with a batch of
// newly received messages from either transport. The result is
// deduplicated by message ID and sorted ascending by CreatedAt; ties
// break on ID so the ordering is deterministic. Merge is idempotent:
// applying the same batch twice yields the same list as once, which
// makes push and poll deliveries safe to interleave in any order.
func Merge(list, batch []domain.ChatMessage) []domain.ChatMessage {
	seen := make(map[string]struct{}, len(list)+len(batch))
	merged := make([]domain.ChatMessage, 0, len(list)+len(batch))

	for _, m := range list {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range batch {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	return merged
}

// Latest returns the CreatedAt of the newest message, or the zero time
// for an empty list. Used as the "since" cursor for polling.
func Latest(list []domain.ChatMessage) time.Time {
	if len(list) == 0 {
		return time.Time{}
	}
	return list[len(list)-1].CreatedAt
}

// NewerThan counts inbound messages created strictly after t. This
// drives the minimized-widget notification badge: only genuinely new
// agent messages count.
func NewerThan(list []domain.ChatMessage, t time.Time) int {
	n := 0
	for _, m := range list {
		if m.Direction == domain.DirectionInbound && m.CreatedAt.After(t) {
			n++
		}
	}
	return n
}
