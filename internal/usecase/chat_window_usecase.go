package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/realtime"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type ChatWindowOptions struct {
	// JoinAckTimeout is how long a join:room waits for its acknowledgment;
	// JoinRetryDelay is the pause before the next attempt.
	JoinAckTimeout time.Duration
	JoinRetryDelay time.Duration
	// MarkIncomingRead marks messages from the other side as read as they arrive.
	MarkIncomingRead bool
}

// ChatWindowUseCase is one open conversation: it joins the room, keeps the
// message list deduplicated and sends messages optimistically.
type ChatWindowUseCase struct {
	api      ChatAPI
	conn     RealtimeConn
	limiter  *ratelimit.RateLimiter
	notifier *EpisodeNotifier
	viewer   entity.Viewer
	opts     ChatWindowOptions
	now      func() time.Time

	mutex     sync.RWMutex
	chatID    string
	messages  []entity.Message
	joined    bool
	joinGen   int
	listeners []func([]entity.Message)
	opened    bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatWindowUseCase(
	api ChatAPI,
	conn RealtimeConn,
	notifier Notifier,
	viewer entity.Viewer,
	opts ChatWindowOptions,
) *ChatWindowUseCase {
	if opts.JoinAckTimeout <= 0 {
		opts.JoinAckTimeout = time.Second
	}
	if opts.JoinRetryDelay <= 0 {
		opts.JoinRetryDelay = time.Second
	}

	return &ChatWindowUseCase{
		api:      api,
		conn:     conn,
		limiter:  ratelimit.NewRateLimiter(),
		notifier: NewEpisodeNotifier(notifier),
		viewer:   viewer,
		opts:     opts,
		now:      time.Now,
	}
}

// Open connects, joins chatID and loads its history. A history failure is
// returned but live delivery keeps running.
func (uc *ChatWindowUseCase) Open(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errors.BadRequest("Chat id is required", nil)
	}

	uc.mutex.Lock()
	if uc.opened {
		uc.mutex.Unlock()
		return errors.BadRequest("Chat window already opened", nil)
	}
	uc.opened = true
	uc.chatID = chatID
	uc.ctx, uc.cancel = context.WithCancel(ctx)
	uc.mutex.Unlock()

	uc.conn.On(realtime.EventConnect, uc.handleConnect)
	uc.conn.On(realtime.EventConnectError, uc.handleConnectError)
	uc.conn.On(realtime.EventDisconnect, uc.handleDisconnect)
	uc.conn.On(realtime.EventRoomJoined, uc.handleRoomJoined)
	uc.conn.On(realtime.EventMessage, uc.handleMessage)
	uc.conn.Connect(uc.ctx)

	return uc.LoadHistory(uc.ctx)
}

// LoadHistory fetches the stored messages and folds anything that arrived
// live in the meantime on top of them.
func (uc *ChatWindowUseCase) LoadHistory(ctx context.Context) error {
	history, err := uc.api.ListMessages(ctx, uc.ChatID())
	if err != nil {
		logger.Warn("Loading history of %s failed: %v", uc.ChatID(), err)
		return err
	}

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return nil
	}
	merged := append([]entity.Message(nil), history...)
	for _, m := range uc.messages {
		if m.IsPlaceholder() {
			if !confirmedIn(history, m) {
				merged = append(merged, m)
			}
			continue
		}
		merged, _ = service.ReconcileMessage(merged, m, uc.viewer)
	}
	uc.messages = merged
	uc.mutex.Unlock()

	uc.notifyChange()
	return nil
}

// confirmedIn reports whether history already holds the persisted copy of
// placeholder p.
func confirmedIn(history []entity.Message, p entity.Message) bool {
	for _, m := range history {
		if service.ConfirmedBy(p, m) {
			return true
		}
	}
	return false
}

func (uc *ChatWindowUseCase) Close() {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	uc.closed = true
	uc.joined = false
	uc.listeners = nil
	cancel := uc.cancel
	uc.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	uc.conn.Close()
	uc.wg.Wait()
}

func (uc *ChatWindowUseCase) ChatID() string {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.chatID
}

func (uc *ChatWindowUseCase) Joined() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.joined
}

func (uc *ChatWindowUseCase) Messages() []entity.Message {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return append([]entity.Message(nil), uc.messages...)
}

func (uc *ChatWindowUseCase) OnChange(fn func([]entity.Message)) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.listeners = append(uc.listeners, fn)
}

// Send shows the message immediately as a placeholder and emits it with the
// placeholder id as client id, so the server echo can replace it in place.
func (uc *ChatWindowUseCase) Send(ctx context.Context, content string) (entity.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return entity.Message{}, errors.BadRequest("Message content is required", nil)
	}

	chatID := uc.ChatID()
	if allowed, wait := uc.limiter.Allow(uc.viewer.ID+":"+chatID, ratelimit.ActionSendMessage); !allowed {
		logger.Info("Send rate limited for %s in %s, wait %v", uc.viewer.ID, chatID, wait)
		return entity.Message{}, errors.TooManyRequests("Sending too fast, please wait " + wait.Round(time.Second).String())
	}

	now := uc.now()
	tempID := service.NewTempID(now)
	placeholder := entity.Message{
		ID:        tempID,
		ClientID:  tempID,
		ChatID:    chatID,
		SenderID:  uc.viewer.ID,
		Content:   content,
		Type:      uc.viewer.OwnMessageType(),
		Read:      true,
		Status:    entity.MessageStatusPending,
		CreatedAt: now,
	}

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return entity.Message{}, errors.BadRequest("Chat window is closed", nil)
	}
	uc.messages = append(uc.messages, placeholder)
	uc.mutex.Unlock()
	uc.notifyChange()

	event := realtime.EventSendMessage
	req := realtime.SendMessageRequest{ChatID: chatID, SenderID: uc.viewer.ID, Content: content, ClientID: tempID}
	if uc.viewer.IsMonitor() {
		event = realtime.EventSendAdminMessage
		req.Role = string(uc.viewer.Role)
	}

	if err := uc.conn.Emit(event, req); err != nil {
		uc.markFailed(tempID)
		uc.notifier.Notify(Notification{Class: "send", Message: "Message could not be sent: " + err.Error()})
		return placeholder, errors.Unavailable("Message could not be sent", err)
	}
	return placeholder, nil
}

func (uc *ChatWindowUseCase) markFailed(tempID string) {
	uc.mutex.Lock()
	for i := range uc.messages {
		if uc.messages[i].ID == tempID {
			uc.messages[i].Status = entity.MessageStatusFailed
		}
	}
	uc.mutex.Unlock()
	uc.notifyChange()
}

func (uc *ChatWindowUseCase) handleConnect(json.RawMessage) {
	uc.notifier.Reset()

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	uc.joined = false
	uc.joinGen++
	gen := uc.joinGen
	ctx := uc.ctx
	uc.wg.Add(1)
	uc.mutex.Unlock()

	go uc.joinLoop(ctx, gen)
}

// joinLoop emits join:room until it is acknowledged, the connection is
// replaced or the window closes.
func (uc *ChatWindowUseCase) joinLoop(ctx context.Context, gen int) {
	defer uc.wg.Done()

	for attempt := 1; ; attempt++ {
		uc.mutex.RLock()
		done := uc.closed || uc.joined || uc.joinGen != gen
		chatID := uc.chatID
		uc.mutex.RUnlock()
		if done {
			return
		}

		ackCtx, cancel := context.WithTimeout(ctx, uc.opts.JoinAckTimeout)
		_, err := uc.conn.EmitWithAck(ackCtx, realtime.EventJoinRoom, realtime.JoinRoomRequest{ChatID: chatID})
		cancel()
		if err == nil {
			uc.setJoined(gen)
			logger.Debug("Joined room %s after %d attempt(s)", chatID, attempt)
			return
		}
		logger.Debug("Join of %s not acknowledged (attempt %d): %v", chatID, attempt, err)

		t := time.NewTimer(uc.opts.JoinRetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (uc *ChatWindowUseCase) setJoined(gen int) {
	uc.mutex.Lock()
	if uc.joinGen == gen && !uc.closed {
		uc.joined = true
	}
	uc.mutex.Unlock()
}

func (uc *ChatWindowUseCase) handleRoomJoined(data json.RawMessage) {
	ev, err := realtime.DecodeRoomJoined(data)
	if err != nil {
		logger.Warn("Dropping room:joined: %v", err)
		return
	}

	uc.mutex.Lock()
	if ev.ChatID == uc.chatID && ev.Success && !uc.closed {
		uc.joined = true
	}
	uc.mutex.Unlock()
}

func (uc *ChatWindowUseCase) handleConnectError(data json.RawMessage) {
	ce := realtime.DecodeConnectError(data)
	uc.notifier.NotifyOnce(Notification{Class: ce.Class, Message: ce.Message, Terminal: ce.Terminal})
}

func (uc *ChatWindowUseCase) handleDisconnect(data json.RawMessage) {
	uc.mutex.Lock()
	uc.joined = false
	closed := uc.closed
	uc.mutex.Unlock()

	if !closed && realtime.DecodeDisconnect(data) == realtime.ReasonServerDisconnect {
		uc.conn.Reconnect()
	}
}

func (uc *ChatWindowUseCase) handleMessage(data json.RawMessage) {
	msg, err := realtime.DecodeMessage(data)
	if err != nil {
		logger.Warn("Dropping message event: %v", err)
		return
	}

	uc.mutex.Lock()
	if uc.closed || (msg.ChatID != "" && msg.ChatID != uc.chatID) {
		uc.mutex.Unlock()
		return
	}
	if msg.ChatID == "" {
		msg.ChatID = uc.chatID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = uc.now()
	}
	list, outcome := service.ReconcileMessage(uc.messages, msg, uc.viewer)
	uc.messages = list
	uc.mutex.Unlock()

	if !outcome.Changed() {
		logger.Debug("Dropped %s message %s in %s", outcome, msg.ID, msg.ChatID)
		return
	}
	uc.notifyChange()

	if outcome == service.OutcomeAppended && uc.opts.MarkIncomingRead && msg.SenderID != uc.viewer.ID && !msg.Read && msg.ID != "" {
		uc.goBackground(func(ctx context.Context) {
			if err := uc.api.MarkMessageRead(ctx, msg.ID); err != nil {
				logger.Warn("Marking message %s read failed: %v", msg.ID, err)
			}
		})
	}
}

func (uc *ChatWindowUseCase) goBackground(fn func(ctx context.Context)) {
	uc.mutex.Lock()
	if uc.closed || uc.ctx == nil {
		uc.mutex.Unlock()
		return
	}
	ctx := uc.ctx
	uc.wg.Add(1)
	uc.mutex.Unlock()

	go func() {
		defer uc.wg.Done()
		fn(ctx)
	}()
}

func (uc *ChatWindowUseCase) notifyChange() {
	uc.mutex.RLock()
	listeners := make([]func([]entity.Message), len(uc.listeners))
	copy(listeners, uc.listeners)
	snapshot := append([]entity.Message(nil), uc.messages...)
	uc.mutex.RUnlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
