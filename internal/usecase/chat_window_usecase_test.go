package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/realtime"
	"marketchat/pkg/errors"
)

type windowFixture struct {
	api      *fakeAPI
	conn     *fakeConn
	notifier *recordingNotifier
	uc       *ChatWindowUseCase
}

func newWindowFixture(t *testing.T, viewer entity.Viewer, opts ChatWindowOptions) *windowFixture {
	t.Helper()
	f := &windowFixture{api: newFakeAPI(), conn: newFakeConn(), notifier: &recordingNotifier{}}
	f.uc = NewChatWindowUseCase(f.api, f.conn, f.notifier, viewer, opts)
	return f
}

func (f *windowFixture) open(t *testing.T, chatID string) {
	t.Helper()
	require.NoError(t, f.uc.Open(context.Background(), chatID))
	t.Cleanup(f.uc.Close)
}

func wireMessage(id, chatID, sender, content string, at time.Time, extra map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"id": id, "chatId": chatID, "senderId": sender, "content": content,
		"createdAt": at.Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func contents(msgs []entity.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSendThenEchoReplacesPlaceholder(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.uc.now = func() time.Time { return t0 }
	f.open(t, "c1")

	sent, err := f.uc.Send(context.Background(), "Hello")
	require.NoError(t, err)
	assert.True(t, sent.IsPlaceholder())
	assert.Equal(t, entity.MessageStatusPending, sent.Status)

	// echo without a client id falls back to content/sender/time matching
	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", buyer.ID, "Hello", t0.Add(1200*time.Millisecond), nil))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, sent.ID, msgs[0].ClientID)
	assert.Equal(t, entity.MessageStatusConfirmed, msgs[0].Status)
}

func TestEchoWithClientIDReplacesPlaceholderInPlace(t *testing.T) {
	f := newWindowFixture(t, monitor, ChatWindowOptions{})
	f.open(t, "c1")

	first, err := f.uc.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = f.uc.Send(context.Background(), "two")
	require.NoError(t, err)

	// the server rewrote the content; only the client id ties it to the placeholder
	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", monitor.ID, "one (edited)", time.Now().Add(time.Minute),
		map[string]interface{}{"clientId": first.ID, "type": "admin"}))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, []string{"one (edited)", "two"}, contents(msgs))
}

func TestDuplicateDeliveryKeepsOneEntry(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.open(t, "c1")

	payload := wireMessage("m5", "c1", "s1", "is it still available?", t0, nil)
	f.conn.fire(realtime.EventMessage, payload)
	f.conn.fire(realtime.EventMessage, payload)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	quoted, err := json.Marshal(string(raw))
	require.NoError(t, err)
	f.conn.fire(realtime.EventMessage, string(quoted))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m5", msgs[0].ID)
}

func TestRedeliveryWithNewIDWithinWindowIsDropped(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.open(t, "c1")

	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", "s1", "ping", t0, nil))
	f.conn.fire(realtime.EventMessage, wireMessage("m2", "c1", "s1", "ping", t0.Add(2*time.Second), nil))
	f.conn.fire(realtime.EventMessage, wireMessage("m3", "c1", "s1", "ping", t0.Add(time.Minute), nil))

	assert.Len(t, f.uc.Messages(), 2)
}

func TestMessagesForOtherChatsAreIgnored(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.open(t, "c1")

	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c2", "s1", "wrong room", t0, nil))
	f.conn.fire(realtime.EventMessage, `{"content": "no id at all"}`)
	f.conn.fire(realtime.EventMessage, `not json`)

	assert.Empty(t, f.uc.Messages())
}

func TestHistoryMergesWithLiveMessages(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.api.messages["c1"] = []entity.Message{
		{ID: "h1", ChatID: "c1", SenderID: "s1", Content: "older", CreatedAt: t0},
		{ID: "m2", ChatID: "c1", SenderID: "s1", Content: "live", CreatedAt: t0.Add(time.Second)},
	}
	f.open(t, "c1")
	require.Len(t, f.uc.Messages(), 2)

	f.conn.fire(realtime.EventMessage, wireMessage("m3", "c1", "s1", "newest", t0.Add(2*time.Second), nil))
	require.NoError(t, f.uc.LoadHistory(context.Background()))

	assert.Equal(t, []string{"older", "live", "newest"}, contents(f.uc.Messages()))
}

func TestHistoryConfirmingPlaceholderThenEchoKeepsOneEntry(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.uc.now = func() time.Time { return t0 }
	f.open(t, "c1")

	sent, err := f.uc.Send(context.Background(), "Hello")
	require.NoError(t, err)

	// the refetch already holds the stored copy; the live echo arrives after it
	f.api.messages["c1"] = []entity.Message{
		{ID: "m1", ChatID: "c1", SenderID: buyer.ID, Content: "Hello", CreatedAt: t0.Add(time.Second)},
	}
	require.NoError(t, f.uc.LoadHistory(context.Background()))
	require.Len(t, f.uc.Messages(), 1)

	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", buyer.ID, "Hello", t0.Add(time.Second),
		map[string]interface{}{"clientId": sent.ID}))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestHistoryKeepsUnconfirmedPlaceholder(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.uc.now = func() time.Time { return t0 }
	f.open(t, "c1")

	_, err := f.uc.Send(context.Background(), "Hello")
	require.NoError(t, err)

	f.api.messages["c1"] = []entity.Message{
		{ID: "m1", ChatID: "c1", SenderID: buyer.ID, Content: "Hello", CreatedAt: t0.Add(-time.Hour)},
	}
	require.NoError(t, f.uc.LoadHistory(context.Background()))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsPlaceholder())
}

func TestEchoWithoutTimestampReplacesPlaceholder(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.uc.now = func() time.Time { return t0 }
	f.open(t, "c1")

	sent, err := f.uc.Send(context.Background(), "Hello")
	require.NoError(t, err)

	f.uc.now = func() time.Time { return t0.Add(2 * time.Second) }
	f.conn.fire(realtime.EventMessage, map[string]interface{}{
		"id": "m1", "chatId": "c1", "senderId": buyer.ID, "content": "Hello",
	})

	msgs := f.uc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[0].ClientID)
	assert.Equal(t, t0.Add(2*time.Second), msgs[0].CreatedAt)
}

func TestJoinRoomOnConnect(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.conn.ack = func(string, interface{}) (json.RawMessage, error) {
		return json.RawMessage(`{"success":true}`), nil
	}
	f.open(t, "c1")
	assert.False(t, f.uc.Joined())

	f.conn.fire(realtime.EventConnect, nil)

	require.Eventually(t, f.uc.Joined, time.Second, 5*time.Millisecond)
	joins := f.conn.emitted(realtime.EventJoinRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, realtime.JoinRoomRequest{ChatID: "c1"}, joins[0].Data)
}

func TestJoinRoomRetriesUntilAcknowledged(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{JoinAckTimeout: 10 * time.Millisecond, JoinRetryDelay: 10 * time.Millisecond})
	var attempts int32
	f.conn.ack = func(string, interface{}) (json.RawMessage, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}
	f.open(t, "c1")

	f.conn.fire(realtime.EventConnect, nil)

	require.Eventually(t, f.uc.Joined, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Len(t, f.conn.emitted(realtime.EventJoinRoom), 3)
}

func TestRoomJoinedEventCountsAsAcknowledgment(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{JoinAckTimeout: 20 * time.Millisecond, JoinRetryDelay: 20 * time.Millisecond})
	f.open(t, "c1")

	f.conn.fire(realtime.EventConnect, nil)
	f.conn.fire(realtime.EventRoomJoined, realtime.RoomJoined{ChatID: "other", Success: true})
	assert.False(t, f.uc.Joined())

	f.conn.fire(realtime.EventRoomJoined, realtime.RoomJoined{ChatID: "c1", Success: true, ClientCount: 2})
	assert.True(t, f.uc.Joined())

	time.Sleep(80 * time.Millisecond)
	joins := len(f.conn.emitted(realtime.EventJoinRoom))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, joins, len(f.conn.emitted(realtime.EventJoinRoom)))
}

func TestDisconnectClearsJoinAndServerDisconnectReconnects(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.open(t, "c1")
	f.conn.fire(realtime.EventRoomJoined, realtime.RoomJoined{ChatID: "c1", Success: true})
	require.True(t, f.uc.Joined())

	f.conn.fire(realtime.EventDisconnect, realtime.DisconnectPayload{Reason: realtime.ReasonServerDisconnect})
	assert.False(t, f.uc.Joined())
	assert.Equal(t, 1, f.conn.reconnectCount())
}

func TestSendEmitsRoleSpecificEvent(t *testing.T) {
	admin := newWindowFixture(t, monitor, ChatWindowOptions{})
	admin.open(t, "c1")
	sent, err := admin.uc.Send(context.Background(), "  from the monitor  ")
	require.NoError(t, err)
	assert.Equal(t, entity.MessageTypeAdmin, sent.Type)

	emits := admin.conn.emitted(realtime.EventSendAdminMessage)
	require.Len(t, emits, 1)
	assert.Equal(t, realtime.SendMessageRequest{
		ChatID: "c1", SenderID: monitor.ID, Content: "from the monitor", Role: "admin", ClientID: sent.ID,
	}, emits[0].Data)

	user := newWindowFixture(t, buyer, ChatWindowOptions{})
	user.open(t, "c1")
	_, err = user.uc.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, user.conn.emitted(realtime.EventSendMessage), 1)
	assert.Empty(t, user.conn.emitted(realtime.EventSendAdminMessage))
}

func TestSendFailureMarksPlaceholderFailed(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.conn.emitErr = realtime.ErrNotConnected
	f.open(t, "c1")

	_, err := f.uc.Send(context.Background(), "hello?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "UNAVAILABLE"))

	msgs := f.uc.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.MessageStatusFailed, msgs[0].Status)
	assert.Equal(t, 1, f.notifier.count())
}

func TestSendValidationAndThrottle(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	f.open(t, "c1")

	_, err := f.uc.Send(context.Background(), "   ")
	assert.True(t, errors.Is(err, "BAD_REQUEST"))

	for i := 0; i < ratelimit.SendMessageBurst; i++ {
		_, err := f.uc.Send(context.Background(), fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	_, err = f.uc.Send(context.Background(), "one too many")
	assert.True(t, errors.Is(err, "TOO_MANY_REQUESTS"))
	assert.Len(t, f.uc.Messages(), ratelimit.SendMessageBurst)
}

func TestIncomingMessagesAreMarkedRead(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{MarkIncomingRead: true})
	f.open(t, "c1")

	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", "s1", "from seller", t0, nil))
	f.conn.fire(realtime.EventMessage, wireMessage("m2", "c1", buyer.ID, "mine", t0, nil))

	require.Eventually(t, func() bool {
		f.api.mu.Lock()
		defer f.api.mu.Unlock()
		return len(f.api.markMsgCalls) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, f.api.markMsgCalls)
}

func TestClosedWindowDropsLateMessages(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	require.NoError(t, f.uc.Open(context.Background(), "c1"))
	f.uc.Close()

	f.conn.fire(realtime.EventMessage, wireMessage("m1", "c1", "s1", "late", t0, nil))
	assert.Empty(t, f.uc.Messages())
	assert.True(t, f.conn.closed)

	_, err := f.uc.Send(context.Background(), "after close")
	assert.Error(t, err)
}

func TestOpenRequiresChatID(t *testing.T) {
	f := newWindowFixture(t, buyer, ChatWindowOptions{})
	assert.True(t, errors.Is(f.uc.Open(context.Background(), ""), "BAD_REQUEST"))
}
