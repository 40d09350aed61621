package entity

import (
	"sort"
	"strings"
	"time"
)

type Label string

const (
	LabelGood   Label = "GOOD"
	LabelMedium Label = "MEDIUM"
	LabelBad    Label = "BAD"
)

// MessagePreview is the latest-message snippet shown in a conversation row.
type MessagePreview struct {
	ID        string      `json:"id,omitempty"`
	Content   string      `json:"content"`
	SenderID  string      `json:"sender_id"`
	Type      MessageType `json:"type,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConversationSummary is one row of a conversation list: a buyer/seller thread,
// optionally scoped to a listing.
type ConversationSummary struct {
	ID             string          `json:"id"`
	ParticipantIDs []string        `json:"participant_ids"`
	BuyerID        string          `json:"buyer_id,omitempty"`
	SellerID       string          `json:"seller_id,omitempty"`
	ListingID      string          `json:"listing_id,omitempty"`
	LastMessage    *MessagePreview `json:"last_message,omitempty"`
	UnreadCount    int             `json:"unread_count"`
	ServerUnread   *int            `json:"-"`
	IsPinned       bool            `json:"is_pinned"`
	IsArchived     bool            `json:"is_archived"`
	Label          *Label          `json:"label"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NormalizePair returns the participant ids sorted so that a buyer/seller pair
// maps to the same key regardless of role direction.
func NormalizePair(ids ...string) []string {
	pair := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			pair = append(pair, id)
		}
	}
	sort.Strings(pair)
	return pair
}

// PairKey identifies the conversation by its participants. Rows without any
// known participant fall back to their own id so they are never merged.
func (c *ConversationSummary) PairKey() string {
	pair := NormalizePair(c.ParticipantIDs...)
	if len(pair) == 0 {
		return "id:" + c.ID
	}
	return strings.Join(pair, "|")
}

// Clone returns a deep copy safe to hand out of a store.
func (c ConversationSummary) Clone() ConversationSummary {
	out := c
	if c.ParticipantIDs != nil {
		out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	if c.ServerUnread != nil {
		n := *c.ServerUnread
		out.ServerUnread = &n
	}
	if c.Label != nil {
		l := *c.Label
		out.Label = &l
	}
	return out
}

// OtherParticipant returns the participant that is not viewerID.
func (c *ConversationSummary) OtherParticipant(viewerID string) string {
	for _, id := range c.ParticipantIDs {
		if id != viewerID {
			return id
		}
	}
	return ""
}
