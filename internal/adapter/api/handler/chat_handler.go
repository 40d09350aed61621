package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type ConversationService interface {
	Conversations(filter usecase.Filter) []entity.ConversationSummary
	Conversation(chatID string) (entity.ConversationSummary, bool)
	FetchConversations(ctx context.Context) error
	Select(ctx context.Context, chatID string)
	Deselect(chatID string)
	Pin(ctx context.Context, chatID string, pinned bool) error
	SetLabel(ctx context.Context, chatID string, label string) error
	Presence(userID string) (entity.Presence, bool)
}

type ChatWindow interface {
	Messages() []entity.Message
	Send(ctx context.Context, content string) (entity.Message, error)
	Joined() bool
	Close()
}

// WindowOpener opens a live chat window; the window must outlive the request.
type WindowOpener func(chatID string) (ChatWindow, error)

type ChatHandler struct {
	conversations ConversationService
	openWindow    WindowOpener
	viewerID      string

	mutex   sync.Mutex
	windows map[string]ChatWindow
}

func NewChatHandler(conversations ConversationService, openWindow WindowOpener, viewerID string) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		openWindow:    openWindow,
		viewerID:      viewerID,
		windows:       make(map[string]ChatWindow),
	}
}

type conversationView struct {
	entity.ConversationSummary
	Preview          string `json:"preview"`
	LabelText        string `json:"label_text,omitempty"`
	OtherParticipant string `json:"other_participant,omitempty"`
}

type messageView struct {
	entity.Message
	Text string `json:"text"`
}

type pinRequest struct {
	Pinned *bool `json:"pinned" validate:"required"`
}

type labelRequest struct {
	Label string `json:"label" validate:"omitempty,oneof=GOOD MEDIUM BAD"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (h *ChatHandler) view(c entity.ConversationSummary) conversationView {
	return conversationView{
		ConversationSummary: c,
		Preview:             service.PreviewText(c.LastMessage),
		LabelText:           service.LabelText(c.Label),
		OtherParticipant:    c.OtherParticipant(h.viewerID),
	}
}

// ListConversations returns the sorted conversation list, one page at a time.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	filter, ok := usecase.ParseFilter(c.QueryParam("filter"))
	if !ok {
		return response.Error(c, errors.BadRequest("filter must be one of all, unread, archived, labeled", nil))
	}

	list := h.conversations.Conversations(filter)
	p := utils.GetPaginationParams(c)
	start, end := p.Window(len(list))

	views := make([]conversationView, 0, end-start)
	for _, conv := range list[start:end] {
		views = append(views, h.view(conv))
	}
	return response.Paginated(c, views, int64(len(list)), p.Page, p.PageSize)
}

func (h *ChatHandler) GetConversation(c echo.Context) error {
	conv, ok := h.conversations.Conversation(c.Param("id"))
	if !ok {
		return response.Error(c, errors.NotFound("Conversation", nil))
	}
	return response.Success(c, h.view(conv))
}

func (h *ChatHandler) Refresh(c echo.Context) error {
	if err := h.conversations.FetchConversations(c.Request().Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"count": len(h.conversations.Conversations(usecase.FilterAll))})
}

// SelectConversation marks the conversation as the one being looked at.
func (h *ChatHandler) SelectConversation(c echo.Context) error {
	chatID := c.Param("id")
	if _, ok := h.conversations.Conversation(chatID); !ok {
		return response.Error(c, errors.NotFound("Conversation", nil))
	}

	// the background mark-as-read must not die with the request
	h.conversations.Select(context.WithoutCancel(c.Request().Context()), chatID)

	conv, _ := h.conversations.Conversation(chatID)
	return response.Success(c, h.view(conv))
}

// DeselectConversation stops treating the conversation as open.
func (h *ChatHandler) DeselectConversation(c echo.Context) error {
	h.conversations.Deselect(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) PinConversation(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.conversations.Pin(c.Request().Context(), c.Param("id"), *req.Pinned); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]bool{"pinned": *req.Pinned})
}

func (h *ChatHandler) LabelConversation(c echo.Context) error {
	var req labelRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.conversations.SetLabel(c.Request().Context(), c.Param("id"), req.Label); err != nil {
		return response.Error(c, err)
	}
	conv, _ := h.conversations.Conversation(c.Param("id"))
	return response.Success(c, h.view(conv))
}

func (h *ChatHandler) GetPresence(c echo.Context) error {
	p, ok := h.conversations.Presence(c.Param("userId"))
	if !ok {
		return response.Error(c, errors.NotFound("Presence", nil))
	}
	return response.Success(c, p)
}

// GetMessages opens the chat window on first use and returns its messages.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	w, err := h.window(c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	msgs := w.Messages()
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m, Text: service.MessageText(m.Content)}
	}
	return response.Success(c, map[string]interface{}{
		"joined":   w.Joined(),
		"messages": views,
	})
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	w, err := h.window(c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	msg, err := w.Send(c.Request().Context(), req.Content)
	if err != nil {
		return response.Error(c, err)
	}
	return c.JSON(http.StatusAccepted, response.Response{
		Success:   true,
		Data:      msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// CloseWindow closes the chat window and deselects its conversation.
func (h *ChatHandler) CloseWindow(c echo.Context) error {
	chatID := c.Param("id")
	h.mutex.Lock()
	w, ok := h.windows[chatID]
	delete(h.windows, chatID)
	h.mutex.Unlock()

	if ok {
		w.Close()
	}
	h.conversations.Deselect(chatID)
	return c.NoContent(http.StatusNoContent)
}

// CloseAll closes every open chat window.
func (h *ChatHandler) CloseAll() {
	h.mutex.Lock()
	windows := h.windows
	h.windows = make(map[string]ChatWindow)
	h.mutex.Unlock()

	for _, w := range windows {
		w.Close()
	}
}

func (h *ChatHandler) window(chatID string) (ChatWindow, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if w, ok := h.windows[chatID]; ok {
		return w, nil
	}
	if h.openWindow == nil {
		return nil, errors.Unavailable("Chat windows are not enabled", nil)
	}

	w, err := h.openWindow(chatID)
	if err != nil {
		return nil, err
	}
	h.windows[chatID] = w
	return w, nil
}
