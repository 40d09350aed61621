package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/domain/entity"
)

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "No messages yet", PreviewText(nil))
	assert.Equal(t, "Missed video call", PreviewText(&entity.MessagePreview{Content: `{"type":"missed_video_call"}`}))
	assert.Equal(t, "Video call ended", PreviewText(&entity.MessagePreview{Content: `{"type":"video_call_completed","duration":42}`}))
	assert.Equal(t, "Is it still available?", PreviewText(&entity.MessagePreview{Content: "Is it still available?"}))
}

func TestMessageTextLeavesOtherJSONAlone(t *testing.T) {
	assert.Equal(t, `{"type":"offer"}`, MessageText(`{"type":"offer"}`))
	assert.Equal(t, `{not json`, MessageText(`{not json`))
}
