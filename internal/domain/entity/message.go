package entity

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeAdmin     MessageType = "admin"
	MessageTypeImage     MessageType = "image"
	MessageTypeFile      MessageType = "file"
	MessageTypeCallEvent MessageType = "call_event"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusConfirmed MessageStatus = "confirmed"
	MessageStatusFailed    MessageStatus = "failed"
)

const (
	TempIDPrefix    = "temp-"
	altTempIDPrefix = "temp_"
)

type Message struct {
	ID        string        `json:"id"`
	ClientID  string        `json:"client_id,omitempty"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Type      MessageType   `json:"type"`
	Read      bool          `json:"read"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsPlaceholder reports whether the message is a local optimistic copy still
// waiting for the server-assigned id.
func (m *Message) IsPlaceholder() bool {
	return IsTempID(m.ID)
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix) || strings.HasPrefix(id, altTempIDPrefix)
}
