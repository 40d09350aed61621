package service

import (
	"sort"
	"time"

	"marketchat/internal/domain/entity"
)

// MergeByPair collapses rows that share a participant pair into one summary,
// keeping the most recently updated row. The backend may return several
// underlying chat rooms per pair, and the same room may come back from both
// the buyer and the seller listing.
func MergeByPair(rows []entity.ConversationSummary) []entity.ConversationSummary {
	index := make(map[string]int, len(rows))
	merged := make([]entity.ConversationSummary, 0, len(rows))

	for _, row := range rows {
		key := row.PairKey()
		if i, ok := index[key]; ok {
			if row.UpdatedAt.After(merged[i].UpdatedAt) {
				merged[i] = row.Clone()
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, row.Clone())
	}

	return merged
}

// SortConversations orders pinned rows first, then by most recent activity.
// The sort is stable, so rows with equal keys keep their existing order.
func SortConversations(list []entity.ConversationSummary) []entity.ConversationSummary {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IsPinned != list[j].IsPinned {
			return list[i].IsPinned
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

// MoveToFront relocates the row at index i to position 0, shifting the rows
// before it down by one.
func MoveToFront(list []entity.ConversationSummary, i int) []entity.ConversationSummary {
	if i <= 0 || i >= len(list) {
		return list
	}
	row := list[i]
	copy(list[1:i+1], list[:i])
	list[0] = row
	return list
}

// IndexOf returns the position of the conversation with the given id, or -1.
func IndexOf(list []entity.ConversationSummary, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// ResolveUnread applies the badge precedence: the currently selected
// conversation always shows zero, a locally cached override beats the server
// count, and a missing count is zero.
func ResolveUnread(serverCount *int, override int, hasOverride bool, selected bool) int {
	switch {
	case selected:
		return 0
	case hasOverride:
		return clampUnread(override)
	case serverCount != nil:
		return clampUnread(*serverCount)
	default:
		return 0
	}
}

// NextUnreadOnUpdate computes the badge after a live chat update: it resets
// when the viewer is looking at the conversation or wrote the message
// themselves, and otherwise grows by exactly one.
func NextUnreadOnUpdate(current int, selected bool, senderID, viewerID string) int {
	if selected || (senderID != "" && senderID == viewerID) {
		return 0
	}
	return clampUnread(current) + 1
}

func clampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// LatestActivity picks the later of the row timestamp and the message time.
func LatestActivity(updatedAt time.Time, preview *entity.MessagePreview) time.Time {
	if preview != nil && preview.CreatedAt.After(updatedAt) {
		return preview.CreatedAt
	}
	return updatedAt
}
