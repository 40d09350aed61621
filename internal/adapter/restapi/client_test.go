package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

type fakeBackend struct {
	*httptest.Server
	lastAuth  string
	lastBody  map[string]interface{}
	lastRoute string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	e := echo.New()

	record := func(c echo.Context) {
		fb.lastAuth = c.Request().Header.Get("Authorization")
		fb.lastRoute = c.Request().Method + " " + c.Request().URL.Path
		fb.lastBody = nil
		json.NewDecoder(c.Request().Body).Decode(&fb.lastBody)
	}

	e.GET("/chat/rooms/buyer/:id", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{
			"success": true,
			"data": {"status": "success", "data": [
				{"id": "c1", "participants": ["u2", "u1"], "buyerId": "u1", "sellerId": "u2",
				 "lastMessage": {"id": "m1", "content": "hi", "senderId": "u2", "createdAt": "2024-03-01T10:00:00Z"},
				 "unreadCount": 2, "updatedAt": "2024-03-01T09:00:00Z", "label": "good"}
			]}
		}`))
	})
	e.GET("/chat/rooms/seller/:id", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true, "data": []}`))
	})
	e.GET("/admin/chats", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true, "data": {"items": [
			{"chatRoomId": "c7", "buyerId": "b", "sellerId": "s", "unread_count": 4, "isArchived": true,
			 "label": "PURPLE", "updatedAt": 1709287200000}
		]}}`))
	})
	e.GET("/chat/rooms/:id", func(c echo.Context) error {
		record(c)
		if c.Param("id") == "missing" {
			return c.JSONBlob(http.StatusNotFound, []byte(`{"success": false, "error": "Chat room not found"}`))
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true, "data": {"id": "`+c.Param("id")+`", "participants": ["a", "b"]}}`))
	})
	e.GET("/chat/rooms/:id/messages", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true, "data": {"messages": [
			{"id": "m1", "senderId": "a", "content": "hello", "timestamp": "2024-03-01T10:00:00Z"},
			{"senderId": "a", "content": "no id"}
		]}}`))
	})
	e.PATCH("/chat/rooms/:id/read", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true}`))
	})
	e.PATCH("/chat/messages/:id/read", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": false, "error": {"message": "already read"}}`))
	})
	e.PATCH("/admin/chats/:id/label", func(c echo.Context) error {
		record(c)
		return c.JSONBlob(http.StatusOK, []byte(`{"success": true, "data": null}`))
	})

	fb.Server = httptest.NewServer(e)
	t.Cleanup(fb.Close)
	return fb
}

func TestListBuyerRoomsUnwrapsNestedEnvelope(t *testing.T) {
	fb := newFakeBackend(t)
	client := NewClient(fb.URL, "tok", time.Second)

	rooms, err := client.ListBuyerRooms(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	r := rooms[0]
	assert.Equal(t, "Bearer tok", fb.lastAuth)
	assert.Equal(t, "c1", r.ID)
	assert.Equal(t, []string{"u1", "u2"}, r.ParticipantIDs)
	require.NotNil(t, r.ServerUnread)
	assert.Equal(t, 2, *r.ServerUnread)
	require.NotNil(t, r.Label)
	assert.Equal(t, entity.LabelGood, *r.Label)
	require.NotNil(t, r.LastMessage)
	assert.Equal(t, "hi", r.LastMessage.Content)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), r.UpdatedAt)
}

func TestListSellerRoomsEmpty(t *testing.T) {
	fb := newFakeBackend(t)
	rooms, err := NewClient(fb.URL, "", time.Second).ListSellerRooms(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.Empty(t, fb.lastAuth)
}

func TestListAllChatsAcceptsItemsAndAliases(t *testing.T) {
	fb := newFakeBackend(t)
	rooms, err := NewClient(fb.URL, "tok", time.Second).ListAllChats(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	r := rooms[0]
	assert.Equal(t, "c7", r.ID)
	assert.Equal(t, []string{"b", "s"}, r.ParticipantIDs)
	require.NotNil(t, r.ServerUnread)
	assert.Equal(t, 4, *r.ServerUnread)
	assert.True(t, r.IsArchived)
	assert.Nil(t, r.Label)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), r.UpdatedAt)
}

func TestGetRoom(t *testing.T) {
	fb := newFakeBackend(t)
	client := NewClient(fb.URL, "tok", time.Second)

	room, err := client.GetRoom(context.Background(), "c3")
	require.NoError(t, err)
	assert.Equal(t, "c3", room.ID)

	_, err = client.GetRoom(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
	assert.Contains(t, err.Error(), "Chat room not found")
}

func TestListMessagesDropsRowsWithoutID(t *testing.T) {
	fb := newFakeBackend(t)
	msgs, err := NewClient(fb.URL, "tok", time.Second).ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "c1", msgs[0].ChatID)
	assert.Equal(t, entity.MessageTypeText, msgs[0].Type)
	assert.False(t, msgs[0].CreatedAt.IsZero())
}

func TestMarkRoomReadSendsUser(t *testing.T) {
	fb := newFakeBackend(t)
	err := NewClient(fb.URL, "tok", time.Second).MarkRoomRead(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "PATCH /chat/rooms/c1/read", fb.lastRoute)
	assert.Equal(t, "u1", fb.lastBody["userId"])
}

func TestMarkMessageReadSurfacesEnvelopeError(t *testing.T) {
	fb := newFakeBackend(t)
	err := NewClient(fb.URL, "tok", time.Second).MarkMessageRead(context.Background(), "m1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "UPSTREAM_ERROR"))
	assert.Contains(t, err.Error(), "already read")
}

func TestUpdateLabel(t *testing.T) {
	fb := newFakeBackend(t)
	client := NewClient(fb.URL, "tok", time.Second)

	bad := entity.LabelBad
	require.NoError(t, client.UpdateLabel(context.Background(), "c1", &bad))
	assert.Equal(t, "BAD", fb.lastBody["label"])

	require.NoError(t, client.UpdateLabel(context.Background(), "c1", nil))
	assert.Contains(t, fb.lastBody, "label")
	assert.Nil(t, fb.lastBody["label"])
}

func TestUnreachableBackendIsUnavailable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "tok", 200*time.Millisecond)
	_, err := client.ListAllChats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, "UNAVAILABLE"))
}

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"plain envelope", `{"success":true,"data":{"id":"x"}}`, `{"id":"x"}`, false},
		{"nested envelope", `{"success":true,"data":{"status":"success","data":[1,2]}}`, `[1,2]`, false},
		{"nested failure", `{"success":true,"data":{"status":"error","data":null,"message":"nope"}}`, ``, true},
		{"not enveloped", `[{"id":"x"}]`, `[{"id":"x"}]`, false},
		{"object that is not an envelope", `{"id":"x"}`, `{"id":"x"}`, false},
		{"failure with string error", `{"success":false,"error":"boom"}`, ``, true},
		{"empty body", ``, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrap([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodeListShapes(t *testing.T) {
	assert.Len(t, decodeList[roomDTO](json.RawMessage(`[{"id":"a"},{"id":"b"}]`)), 2)
	assert.Len(t, decodeList[roomDTO](json.RawMessage(`{"rooms":[{"id":"a"}]}`)), 1)
	assert.Len(t, decodeList[roomDTO](json.RawMessage(`{"data":{"items":[{"id":"a"}]}}`)), 1)
	assert.Empty(t, decodeList[roomDTO](json.RawMessage(`{"count":3}`)))
	assert.Empty(t, decodeList[roomDTO](json.RawMessage(`"oops"`)))
	assert.NotNil(t, decodeList[roomDTO](nil))
}
