package usecase

import (
	"context"
	"encoding/json"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/realtime"
)

type ChatAPI interface {
	ListBuyerRooms(ctx context.Context, userID string) ([]entity.ConversationSummary, error)
	ListSellerRooms(ctx context.Context, userID string) ([]entity.ConversationSummary, error)
	ListAllChats(ctx context.Context) ([]entity.ConversationSummary, error)
	GetRoomByParticipants(ctx context.Context, buyerID, sellerID string) (*entity.ConversationSummary, error)
	GetRoom(ctx context.Context, chatID string) (*entity.ConversationSummary, error)
	ListMessages(ctx context.Context, chatID string) ([]entity.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	MarkRoomRead(ctx context.Context, chatID, userID string) error
	UpdateLabel(ctx context.Context, chatID string, label *entity.Label) error
}

// RealtimeConn is the slice of the connection manager a session needs.
type RealtimeConn interface {
	On(event string, h realtime.Handler)
	Connect(ctx context.Context)
	Reconnect()
	Close()
	State() realtime.State
	Emit(event string, data interface{}) error
	EmitWithAck(ctx context.Context, event string, data interface{}) (json.RawMessage, error)
}
