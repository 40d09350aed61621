package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Storage keys shared with the web client.
const (
	KeyPinnedChatIDs     = "pinned_chat_ids"
	KeyAuthToken         = "auth_token"
	KeyUserData          = "user_data"
	unreadOverridePrefix = "admin-chat-unread:"
	lastViewedPrefix     = "admin-chat-viewed:"
)

func UnreadOverrideKey(chatID string) string { return unreadOverridePrefix + chatID }
func LastViewedKey(chatID string) string     { return lastViewedPrefix + chatID }

type viewerStateRepository struct {
	store repository.KVStore
}

func NewViewerStateRepository(store repository.KVStore) repository.ViewerStateRepository {
	return &viewerStateRepository{store: store}
}

func (r *viewerStateRepository) PinnedChatIDs(ctx context.Context) ([]string, error) {
	raw, ok, err := r.store.Get(ctx, KeyPinnedChatIDs)
	if err != nil || !ok || raw == "" {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		// a corrupted entry must not break the list; treat it as empty
		logger.Warn("Ignoring malformed %s value: %v", KeyPinnedChatIDs, err)
		return nil, nil
	}
	return ids, nil
}

func (r *viewerStateRepository) SetPinnedChatIDs(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return errors.Internal("Failed to encode pinned chats", err)
	}
	return r.store.Set(ctx, KeyPinnedChatIDs, string(data))
}

func (r *viewerStateRepository) UnreadOverride(ctx context.Context, chatID string) (int, bool, error) {
	raw, ok, err := r.store.Get(ctx, UnreadOverrideKey(chatID))
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		logger.Warn("Ignoring malformed unread override for chat %s: %q", chatID, raw)
		return 0, false, nil
	}
	return n, true, nil
}

func (r *viewerStateRepository) SetUnreadOverride(ctx context.Context, chatID string, count int) error {
	if count < 0 {
		count = 0
	}
	return r.store.Set(ctx, UnreadOverrideKey(chatID), strconv.Itoa(count))
}

func (r *viewerStateRepository) ClearUnreadOverride(ctx context.Context, chatID string) error {
	return r.store.Delete(ctx, UnreadOverrideKey(chatID))
}

func (r *viewerStateRepository) LastViewed(ctx context.Context, chatID string) (time.Time, bool, error) {
	raw, ok, err := r.store.Get(ctx, LastViewedKey(chatID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Warn("Ignoring malformed last-viewed stamp for chat %s: %q", chatID, raw)
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (r *viewerStateRepository) SetLastViewed(ctx context.Context, chatID string, at time.Time) error {
	return r.store.Set(ctx, LastViewedKey(chatID), at.UTC().Format(time.RFC3339Nano))
}

func (r *viewerStateRepository) AuthToken(ctx context.Context) (string, error) {
	token, _, err := r.store.Get(ctx, KeyAuthToken)
	return token, err
}

func (r *viewerStateRepository) SetAuthToken(ctx context.Context, token string) error {
	return r.store.Set(ctx, KeyAuthToken, token)
}

func (r *viewerStateRepository) UserData(ctx context.Context) (string, error) {
	data, _, err := r.store.Get(ctx, KeyUserData)
	return data, err
}

func (r *viewerStateRepository) SetUserData(ctx context.Context, data string) error {
	return r.store.Set(ctx, KeyUserData, data)
}
