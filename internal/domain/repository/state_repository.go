package repository

import (
	"context"
	"time"
)

// KVStore is a flat string key/value store, the equivalent of browser local
// storage. Writes are last-writer-wins; there is no locking across sessions.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ViewerStateRepository gives typed access to the locally persisted viewer
// state: pinned chats, unread overrides, last-viewed stamps and identity.
type ViewerStateRepository interface {
	PinnedChatIDs(ctx context.Context) ([]string, error)
	SetPinnedChatIDs(ctx context.Context, ids []string) error

	UnreadOverride(ctx context.Context, chatID string) (int, bool, error)
	SetUnreadOverride(ctx context.Context, chatID string, count int) error
	ClearUnreadOverride(ctx context.Context, chatID string) error

	LastViewed(ctx context.Context, chatID string) (time.Time, bool, error)
	SetLastViewed(ctx context.Context, chatID string, at time.Time) error

	AuthToken(ctx context.Context) (string, error)
	SetAuthToken(ctx context.Context, token string) error
	UserData(ctx context.Context) (string, error)
	SetUserData(ctx context.Context, data string) error
}
