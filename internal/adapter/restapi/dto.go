package restapi

import (
	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/pkg/utils"
)

type messageDTO struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"clientId"`
	ChatID     string          `json:"chatId"`
	ChatRoomID string          `json:"chatRoomId"`
	SenderID   string          `json:"senderId"`
	Content    string          `json:"content"`
	Text       string          `json:"text"`
	Type       string          `json:"type"`
	Read       bool            `json:"read"`
	IsRead     bool            `json:"isRead"`
	CreatedAt  utils.Timestamp `json:"createdAt"`
	Timestamp  utils.Timestamp `json:"timestamp"`
}

func (d messageDTO) toEntity() entity.Message {
	msg := entity.Message{
		ID:        d.ID,
		ClientID:  d.ClientID,
		ChatID:    d.ChatID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Type:      entity.MessageType(d.Type),
		Read:      d.Read || d.IsRead,
		Status:    entity.MessageStatusConfirmed,
		CreatedAt: d.CreatedAt.Time,
	}
	if msg.ChatID == "" {
		msg.ChatID = d.ChatRoomID
	}
	if msg.Content == "" {
		msg.Content = d.Text
	}
	if msg.Type == "" {
		msg.Type = entity.MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = d.Timestamp.Time
	}
	return msg
}

func (d messageDTO) toPreview() *entity.MessagePreview {
	msg := d.toEntity()
	if msg.ID == "" && msg.Content == "" {
		return nil
	}
	return &entity.MessagePreview{
		ID:        msg.ID,
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}
}

// roomDTO covers the buyer/seller room shape and the admin chat shape; the
// backend names the same fields differently on the two paths.
type roomDTO struct {
	ID             string          `json:"id"`
	ChatRoomID     string          `json:"chatRoomId"`
	Participants   []string        `json:"participants"`
	ParticipantIDs []string        `json:"participantIds"`
	BuyerID        string          `json:"buyerId"`
	SellerID       string          `json:"sellerId"`
	ListingID      string          `json:"listingId"`
	ProductID      string          `json:"productId"`
	LastMessage    *messageDTO     `json:"lastMessage"`
	UnreadCount    *int            `json:"unreadCount"`
	UnreadCountAlt *int            `json:"unread_count"`
	IsArchived     bool            `json:"isArchived"`
	Archived       bool            `json:"archived"`
	Label          string          `json:"label"`
	UpdatedAt      utils.Timestamp `json:"updatedAt"`
	CreatedAt      utils.Timestamp `json:"createdAt"`
}

func (d roomDTO) toEntity() entity.ConversationSummary {
	id := d.ID
	if id == "" {
		id = d.ChatRoomID
	}

	participants := d.Participants
	if len(participants) == 0 {
		participants = d.ParticipantIDs
	}
	if len(participants) == 0 {
		participants = []string{d.BuyerID, d.SellerID}
	}

	listing := d.ListingID
	if listing == "" {
		listing = d.ProductID
	}

	var preview *entity.MessagePreview
	if d.LastMessage != nil {
		preview = d.LastMessage.toPreview()
	}

	updatedAt := d.UpdatedAt.Time
	if updatedAt.IsZero() {
		updatedAt = d.CreatedAt.Time
	}

	serverUnread := d.UnreadCount
	if serverUnread == nil {
		serverUnread = d.UnreadCountAlt
	}

	c := entity.ConversationSummary{
		ID:             id,
		ParticipantIDs: entity.NormalizePair(participants...),
		BuyerID:        d.BuyerID,
		SellerID:       d.SellerID,
		ListingID:      listing,
		LastMessage:    preview,
		ServerUnread:   serverUnread,
		IsArchived:     d.IsArchived || d.Archived,
		Label:          service.NormalizeLabel(d.Label),
		UpdatedAt:      service.LatestActivity(updatedAt, preview),
	}
	if serverUnread != nil && *serverUnread > 0 {
		c.UnreadCount = *serverUnread
	}
	return c
}

func roomsToEntities(rooms []roomDTO) []entity.ConversationSummary {
	out := make([]entity.ConversationSummary, 0, len(rooms))
	for _, r := range rooms {
		c := r.toEntity()
		if c.ID == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func messagesToEntities(msgs []messageDTO) []entity.Message {
	out := make([]entity.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		out = append(out, m.toEntity())
	}
	return out
}

type markRoomReadRequest struct {
	UserID string `json:"userId"`
}

type updateLabelRequest struct {
	Label *entity.Label `json:"label"`
}
