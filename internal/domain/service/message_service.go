package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
)

const (
	// PlaceholderMatchWindow bounds how far apart an optimistic placeholder and
	// its server echo may be stamped and still be treated as the same message.
	PlaceholderMatchWindow = 10 * time.Second
	// DuplicateWindow bounds redelivery detection for confirmed messages.
	DuplicateWindow = 5 * time.Second
)

// Outcome describes what ReconcileMessage did with an incoming message.
type Outcome int

const (
	OutcomeAppended Outcome = iota
	OutcomeReplaced
	OutcomeDuplicateID
	OutcomeDuplicateContent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeDuplicateID:
		return "duplicate_id"
	case OutcomeDuplicateContent:
		return "duplicate_content"
	}
	return "unknown"
}

// Changed reports whether the message list was modified.
func (o Outcome) Changed() bool {
	return o == OutcomeAppended || o == OutcomeReplaced
}

// NewTempID builds a client id of the form temp-<unix millis>-<random>.
func NewTempID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d-%s", entity.TempIDPrefix, now.UnixMilli(), random)
}

// ReconcileMessage folds an incoming server message into the visible list so
// that each logical message appears exactly once:
//
//  1. a message whose id is already present is dropped, together with any
//     placeholder it confirms;
//  2. an echo carrying the client id of a pending placeholder replaces it;
//  3. the viewer's own echo replaces a placeholder with the same content and
//     sender stamped within PlaceholderMatchWindow, keeping its position;
//  4. a confirmed message with the same content and sender within
//     DuplicateWindow is a redelivery and is dropped;
//  5. anything else is appended.
//
// Steps 3 and 4 only matter for backends that do not echo the client id.
func ReconcileMessage(list []entity.Message, incoming entity.Message, viewer entity.Viewer) ([]entity.Message, Outcome) {
	if incoming.ID != "" {
		for i := range list {
			if list[i].ID == incoming.ID {
				if j := placeholderIndex(list, incoming.ClientID); j >= 0 {
					if list[i].ClientID == "" {
						list[i].ClientID = incoming.ClientID
					}
					return append(list[:j], list[j+1:]...), OutcomeReplaced
				}
				return list, OutcomeDuplicateID
			}
		}
	}

	if j := placeholderIndex(list, incoming.ClientID); j >= 0 {
		return replaceAt(list, j, incoming), OutcomeReplaced
	}

	if incoming.SenderID == viewer.ID && isOwnRole(incoming, viewer) {
		for i := range list {
			m := &list[i]
			if m.IsPlaceholder() && m.Content == incoming.Content && m.SenderID == incoming.SenderID &&
				within(m.CreatedAt, incoming.CreatedAt, PlaceholderMatchWindow) {
				return replaceAt(list, i, incoming), OutcomeReplaced
			}
		}
	}

	for i := range list {
		m := &list[i]
		if !m.IsPlaceholder() && m.Content == incoming.Content && m.SenderID == incoming.SenderID &&
			within(m.CreatedAt, incoming.CreatedAt, DuplicateWindow) {
			return list, OutcomeDuplicateContent
		}
	}

	incoming.Status = entity.MessageStatusConfirmed
	return append(list, incoming), OutcomeAppended
}

// ConfirmedBy reports whether the stored message m confirms the placeholder p:
// either m carries p's id as its client id, or it has p's content and sender
// stamped within PlaceholderMatchWindow.
func ConfirmedBy(p, m entity.Message) bool {
	if !p.IsPlaceholder() || m.IsPlaceholder() {
		return false
	}
	if m.ClientID != "" {
		return m.ClientID == p.ID
	}
	return m.SenderID == p.SenderID && m.Content == p.Content &&
		within(m.CreatedAt, p.CreatedAt, PlaceholderMatchWindow)
}

func placeholderIndex(list []entity.Message, clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range list {
		if list[i].IsPlaceholder() && list[i].ID == clientID {
			return i
		}
	}
	return -1
}

// isOwnRole reports whether the message type matches the viewer's role: a
// monitor's own messages are stamped as admin messages, a regular user's are not.
func isOwnRole(m entity.Message, viewer entity.Viewer) bool {
	if viewer.IsMonitor() {
		return m.Type == entity.MessageTypeAdmin
	}
	return m.Type != entity.MessageTypeAdmin
}

func replaceAt(list []entity.Message, i int, incoming entity.Message) []entity.Message {
	if incoming.ClientID == "" {
		incoming.ClientID = list[i].ID
	}
	incoming.Status = entity.MessageStatusConfirmed
	list[i] = incoming
	return list
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
