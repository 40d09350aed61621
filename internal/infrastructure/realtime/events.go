package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/utils"
)

// Lifecycle events generated locally by the manager.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Server to client events.
const (
	EventRoomJoined    = "room:joined"
	EventMessage       = "message"
	EventChatUpdated   = "monitor:chat_updated"
	EventChatCreated   = "monitor:chat_created"
	EventStatusChanged = "user:status-changed"
)

// Client to server events.
const (
	EventJoinRoom         = "join:room"
	EventSendMessage      = "message:send"
	EventSendAdminMessage = "message:send:admin"
)

// Disconnect reasons.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
)

// Connect error classes. Auth and not-found failures will not fix themselves
// and are reported as terminal.
const (
	ErrorClassAuth      = "auth"
	ErrorClassNotFound  = "not_found"
	ErrorClassServer    = "server"
	ErrorClassNetwork   = "network"
	ErrorClassHandshake = "handshake"
)

var validate = validator.New()

var ErrMalformedPayload = errors.New("malformed realtime payload")

type DisconnectPayload struct {
	Reason string `json:"reason"`
}

type ConnectError struct {
	Class    string `json:"class"`
	Message  string `json:"message"`
	Terminal bool   `json:"terminal"`
}

type JoinRoomRequest struct {
	ChatID string `json:"chatId"`
}

type RoomJoined struct {
	ChatID      string `json:"chatId" validate:"required"`
	Success     bool   `json:"success"`
	ClientCount int    `json:"clientCount"`
}

type SendMessageRequest struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	Role     string `json:"role,omitempty"`
	ClientID string `json:"clientId"`
}

// WireMessage is a message as the backend pushes it. Field spellings vary
// between endpoints, so several aliases are accepted.
type WireMessage struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"clientId"`
	TempID     string          `json:"tempId"`
	ChatID     string          `json:"chatId"`
	ChatRoomID string          `json:"chatRoomId"`
	SenderID   string          `json:"senderId"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	Read       bool            `json:"read"`
	CreatedAt  utils.Timestamp `json:"createdAt"`
	Timestamp  utils.Timestamp `json:"timestamp"`
}

func (w WireMessage) ToEntity() entity.Message {
	msg := entity.Message{
		ID:        w.ID,
		ClientID:  w.ClientID,
		ChatID:    w.ChatID,
		SenderID:  w.SenderID,
		Content:   w.Content,
		Type:      entity.MessageType(w.Type),
		Read:      w.Read,
		Status:    entity.MessageStatusConfirmed,
		CreatedAt: w.CreatedAt.Time,
	}
	if msg.ClientID == "" {
		msg.ClientID = w.TempID
	}
	if msg.ChatID == "" {
		msg.ChatID = w.ChatRoomID
	}
	if msg.Type == "" {
		msg.Type = entity.MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = w.Timestamp.Time
	}
	return msg
}

func (w WireMessage) ToPreview() *entity.MessagePreview {
	msg := w.ToEntity()
	return &entity.MessagePreview{
		ID:        msg.ID,
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}
}

type ChatUpdated struct {
	ChatRoomID  string          `json:"chatRoomId" validate:"required"`
	UpdatedAt   utils.Timestamp `json:"updatedAt"`
	LastMessage *WireMessage    `json:"lastMessage"`
}

type StatusChanged struct {
	UserID      string          `json:"userId" validate:"required"`
	IsOnline    bool            `json:"isOnline"`
	LastOffline utils.Timestamp `json:"last_offline"`
}

func (s StatusChanged) ToEntity() entity.Presence {
	p := entity.Presence{UserID: s.UserID, IsOnline: s.IsOnline}
	if !s.LastOffline.IsZero() {
		t := s.LastOffline.Time
		p.LastOffline = &t
	}
	return p
}

// DecodeMessage accepts a message pushed either as an object or as a JSON
// string holding the object.
func DecodeMessage(data json.RawMessage) (entity.Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return entity.Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		data = []byte(inner)
	}

	var wire WireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return entity.Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if wire.ID == "" && wire.ClientID == "" && wire.TempID == "" {
		return entity.Message{}, fmt.Errorf("%w: message without id", ErrMalformedPayload)
	}
	return wire.ToEntity(), nil
}

func DecodeChatUpdated(data json.RawMessage) (ChatUpdated, error) {
	var ev ChatUpdated
	if err := decodeAndValidate(data, &ev); err != nil {
		return ChatUpdated{}, err
	}
	return ev, nil
}

func DecodeRoomJoined(data json.RawMessage) (RoomJoined, error) {
	var ev RoomJoined
	if err := decodeAndValidate(data, &ev); err != nil {
		return RoomJoined{}, err
	}
	return ev, nil
}

func DecodeStatusChanged(data json.RawMessage) (StatusChanged, error) {
	var ev StatusChanged
	if err := decodeAndValidate(data, &ev); err != nil {
		return StatusChanged{}, err
	}
	return ev, nil
}

func DecodeConnectError(data json.RawMessage) ConnectError {
	var ce ConnectError
	if err := json.Unmarshal(data, &ce); err != nil || ce.Class == "" {
		return ConnectError{Class: ErrorClassNetwork, Message: string(data)}
	}
	return ce
}

func DecodeDisconnect(data json.RawMessage) string {
	var d DisconnectPayload
	if err := json.Unmarshal(data, &d); err != nil || d.Reason == "" {
		return ReasonTransportClose
	}
	return d.Reason
}

func decodeAndValidate(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func classifyDialError(err error, resp *http.Response) ConnectError {
	ce := ConnectError{Class: ErrorClassNetwork, Message: err.Error()}
	if resp == nil {
		if strings.Contains(err.Error(), "bad handshake") {
			ce.Class = ErrorClassHandshake
		}
		return ce
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ce.Class = ErrorClassAuth
		ce.Terminal = true
	case resp.StatusCode == http.StatusNotFound:
		ce.Class = ErrorClassNotFound
		ce.Terminal = true
	case resp.StatusCode >= 500:
		ce.Class = ErrorClassServer
	default:
		ce.Class = ErrorClassHandshake
	}
	ce.Message = fmt.Sprintf("%s (HTTP %d)", err.Error(), resp.StatusCode)
	return ce
}

// classifyRefusal maps a CONNECT_ERROR from the server's middleware.
func classifyRefusal(r *connectRefusal) ConnectError {
	ce := ConnectError{Class: ErrorClassHandshake, Message: r.Message}
	msg := strings.ToLower(r.Message)
	for _, hint := range []string{"auth", "token", "forbidden", "jwt"} {
		if strings.Contains(msg, hint) {
			ce.Class = ErrorClassAuth
			ce.Terminal = true
			break
		}
	}
	if strings.Contains(msg, "invalid namespace") {
		ce.Class = ErrorClassNotFound
		ce.Terminal = true
	}
	return ce
}
