package usecase

import (
	"context"
	"encoding/json"
	"sync"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/realtime"
)

type fakeAPI struct {
	mu sync.Mutex

	buyerRooms  []entity.ConversationSummary
	sellerRooms []entity.ConversationSummary
	allChats    []entity.ConversationSummary
	messages    map[string][]entity.Message
	listErr     error
	labelErr    error

	listCalls      int
	markRoomCalls  []string
	markMsgCalls   []string
	labelCalls     []string
	markRoomReadCh chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{messages: make(map[string][]entity.Message), markRoomReadCh: make(chan string, 8)}
}

func (f *fakeAPI) ListBuyerRooms(context.Context, string) ([]entity.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return cloneRows(f.buyerRooms), nil
}

func (f *fakeAPI) ListSellerRooms(context.Context, string) ([]entity.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return cloneRows(f.sellerRooms), nil
}

func (f *fakeAPI) ListAllChats(context.Context) ([]entity.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return cloneRows(f.allChats), nil
}

func (f *fakeAPI) GetRoomByParticipants(context.Context, string, string) (*entity.ConversationSummary, error) {
	return nil, nil
}

func (f *fakeAPI) GetRoom(context.Context, string) (*entity.ConversationSummary, error) {
	return nil, nil
}

func (f *fakeAPI) ListMessages(_ context.Context, chatID string) ([]entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]entity.Message(nil), f.messages[chatID]...), nil
}

func (f *fakeAPI) MarkMessageRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markMsgCalls = append(f.markMsgCalls, messageID)
	return nil
}

func (f *fakeAPI) MarkRoomRead(_ context.Context, chatID, _ string) error {
	f.mu.Lock()
	f.markRoomCalls = append(f.markRoomCalls, chatID)
	f.mu.Unlock()
	f.markRoomReadCh <- chatID
	return nil
}

func (f *fakeAPI) UpdateLabel(_ context.Context, chatID string, _ *entity.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls = append(f.labelCalls, chatID)
	return f.labelErr
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeAPI) setAllChats(rows ...entity.ConversationSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allChats = rows
}

func cloneRows(rows []entity.ConversationSummary) []entity.ConversationSummary {
	out := make([]entity.ConversationSummary, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

type emitted struct {
	Event string
	Data  interface{}
}

// fakeConn delivers events synchronously on the caller's goroutine.
type fakeConn struct {
	mu         sync.Mutex
	handlers   map[string][]realtime.Handler
	emits      []emitted
	emitErr    error
	ack        func(event string, data interface{}) (json.RawMessage, error)
	connected  int
	reconnects int
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]realtime.Handler)}
}

func (c *fakeConn) On(event string, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeConn) Connect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected++
}

func (c *fakeConn) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) State() realtime.State {
	return realtime.StateConnected
}

func (c *fakeConn) Emit(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{Event: event, Data: data})
	return c.emitErr
}

func (c *fakeConn) EmitWithAck(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	c.emits = append(c.emits, emitted{Event: event, Data: data})
	ack := c.ack
	c.mu.Unlock()

	if ack != nil {
		return ack(event, data)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) fire(event string, payload interface{}) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case string:
		data = json.RawMessage(p)
	default:
		data, _ = json.Marshal(p)
	}

	c.mu.Lock()
	handlers := append([]realtime.Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (c *fakeConn) emitted(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) reconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
