package service

import (
	"encoding/json"
	"strings"

	"marketchat/internal/domain/entity"
)

const NoMessagesPreview = "No messages yet"

var callEventPreviews = map[string]string{
	"missed_video_call":    "Missed video call",
	"video_call_completed": "Video call ended",
}

// PreviewText renders the latest message of a conversation for a list row.
// Call events are stored as JSON metadata and are turned into a readable line.
func PreviewText(preview *entity.MessagePreview) string {
	if preview == nil {
		return NoMessagesPreview
	}
	return MessageText(preview.Content)
}

// MessageText renders stored message content, decoding call-event metadata.
func MessageText(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content
	}

	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &meta); err != nil {
		return content
	}
	if text, ok := callEventPreviews[meta.Type]; ok {
		return text
	}
	return content
}
