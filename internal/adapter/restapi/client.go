package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const maxBodySize = 4 << 20

// Client talks to the marketplace chat REST API. Every method unwraps the
// response envelope exactly once and returns domain entities.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListBuyerRooms(ctx context.Context, userID string) ([]entity.ConversationSummary, error) {
	return c.listRooms(ctx, "/chat/rooms/buyer/"+url.PathEscape(userID))
}

func (c *Client) ListSellerRooms(ctx context.Context, userID string) ([]entity.ConversationSummary, error) {
	return c.listRooms(ctx, "/chat/rooms/seller/"+url.PathEscape(userID))
}

// ListAllChats is the monitor view over every conversation.
func (c *Client) ListAllChats(ctx context.Context) ([]entity.ConversationSummary, error) {
	return c.listRooms(ctx, "/admin/chats")
}

func (c *Client) GetRoomByParticipants(ctx context.Context, buyerID, sellerID string) (*entity.ConversationSummary, error) {
	q := url.Values{}
	q.Set("buyerId", buyerID)
	q.Set("sellerId", sellerID)
	return c.getRoom(ctx, "/chat/rooms/participants?"+q.Encode())
}

func (c *Client) GetRoom(ctx context.Context, chatID string) (*entity.ConversationSummary, error) {
	return c.getRoom(ctx, "/chat/rooms/"+url.PathEscape(chatID))
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]entity.Message, error) {
	data, err := c.do(ctx, http.MethodGet, "/chat/rooms/"+url.PathEscape(chatID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	msgs := messagesToEntities(decodeList[messageDTO](data))
	for i := range msgs {
		if msgs[i].ChatID == "" {
			msgs[i].ChatID = chatID
		}
	}
	return msgs, nil
}

func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodPatch, "/chat/messages/"+url.PathEscape(messageID)+"/read", nil)
	return err
}

// MarkRoomRead marks every message in the room as read for userID.
func (c *Client) MarkRoomRead(ctx context.Context, chatID, userID string) error {
	_, err := c.do(ctx, http.MethodPatch, "/chat/rooms/"+url.PathEscape(chatID)+"/read", markRoomReadRequest{UserID: userID})
	return err
}

// UpdateLabel sets or, with a nil label, clears the monitor label of a chat.
func (c *Client) UpdateLabel(ctx context.Context, chatID string, label *entity.Label) error {
	_, err := c.do(ctx, http.MethodPatch, "/admin/chats/"+url.PathEscape(chatID)+"/label", updateLabelRequest{Label: label})
	return err
}

func (c *Client) listRooms(ctx context.Context, path string) ([]entity.ConversationSummary, error) {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return roomsToEntities(decodeList[roomDTO](data)), nil
}

func (c *Client) getRoom(ctx context.Context, path string) (*entity.ConversationSummary, error) {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var room roomDTO
	if len(data) == 0 || json.Unmarshal(data, &room) != nil {
		return nil, errors.NotFound("Chat room", nil)
	}
	summary := room.toEntity()
	if summary.ID == "" {
		return nil, errors.NotFound("Chat room", nil)
	}
	return &summary, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Internal("Failed to encode request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Internal("Failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Unavailable(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Unavailable(fmt.Sprintf("reading %s %s response failed", method, path), err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Debug("%s %s returned %d: %.200s", method, path, resp.StatusCode, string(respBody))
		return nil, statusError(resp.StatusCode, respBody)
	}
	return unwrap(respBody)
}
