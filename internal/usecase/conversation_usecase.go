package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/domain/service"
	"marketchat/internal/infrastructure/broadcast"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/realtime"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
	"marketchat/pkg/utils"
)

type Filter string

const (
	FilterAll      Filter = "all"
	FilterUnread   Filter = "unread"
	FilterArchived Filter = "archived"
	FilterLabeled  Filter = "labeled"
)

func ParseFilter(raw string) (Filter, bool) {
	switch Filter(raw) {
	case "", FilterAll:
		return FilterAll, true
	case FilterUnread, FilterArchived, FilterLabeled:
		return Filter(raw), true
	}
	return "", false
}

type ConversationOptions struct {
	PollInterval    time.Duration
	RefetchDebounce time.Duration
}

// ConversationUseCase is one conversation-list session: it owns the merged,
// sorted list for a viewer and keeps it current from REST snapshots, push
// events and changes other sessions publish on the bus.
type ConversationUseCase struct {
	api      ChatAPI
	conn     RealtimeConn
	state    repository.ViewerStateRepository
	bus      *broadcast.Bus
	limiter  *ratelimit.RateLimiter
	notifier *EpisodeNotifier
	viewer   entity.Viewer
	opts     ConversationOptions
	id       string
	now      func() time.Time

	mutex         sync.RWMutex
	conversations []entity.ConversationSummary
	selectedID    string
	presence      map[string]entity.Presence
	listeners     []func([]entity.ConversationSummary)
	opened        bool
	closed        bool

	ctx         context.Context
	cancel      context.CancelFunc
	refetch     *utils.Debouncer
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewConversationUseCase(
	api ChatAPI,
	conn RealtimeConn,
	state repository.ViewerStateRepository,
	bus *broadcast.Bus,
	notifier Notifier,
	viewer entity.Viewer,
	opts ConversationOptions,
) *ConversationUseCase {
	if opts.RefetchDebounce <= 0 {
		opts.RefetchDebounce = 300 * time.Millisecond
	}

	uc := &ConversationUseCase{
		api:      api,
		conn:     conn,
		state:    state,
		bus:      bus,
		limiter:  ratelimit.NewRateLimiter(),
		notifier: NewEpisodeNotifier(notifier),
		viewer:   viewer,
		opts:     opts,
		id:       uuid.NewString(),
		now:      time.Now,
		presence: make(map[string]entity.Presence),
	}
	uc.refetch = utils.NewDebouncer(opts.RefetchDebounce, uc.throttledRefetch)
	return uc
}

// Open loads the first snapshot and starts listening. The initial fetch error
// is returned; the session keeps running and self-heals on the next poll.
func (uc *ConversationUseCase) Open(ctx context.Context) error {
	uc.mutex.Lock()
	if uc.opened {
		uc.mutex.Unlock()
		return errors.BadRequest("Conversation session already opened", nil)
	}
	uc.opened = true
	uc.ctx, uc.cancel = context.WithCancel(ctx)
	uc.mutex.Unlock()

	uc.conn.On(realtime.EventConnect, uc.handleConnect)
	uc.conn.On(realtime.EventConnectError, uc.handleConnectError)
	uc.conn.On(realtime.EventDisconnect, uc.handleDisconnect)
	uc.conn.On(realtime.EventChatUpdated, uc.handleChatUpdated)
	uc.conn.On(realtime.EventChatCreated, uc.handleChatCreated)
	uc.conn.On(realtime.EventStatusChanged, uc.handleStatusChanged)

	if uc.bus != nil {
		uc.unsubscribe = uc.bus.Subscribe(uc.handleBroadcast)
	}

	uc.conn.Connect(uc.ctx)
	err := uc.FetchConversations(uc.ctx)

	if uc.opts.PollInterval > 0 {
		uc.wg.Add(1)
		go uc.pollLoop(uc.opts.PollInterval)
	}
	return err
}

func (uc *ConversationUseCase) Close() {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	uc.closed = true
	cancel := uc.cancel
	unsubscribe := uc.unsubscribe
	uc.listeners = nil
	uc.mutex.Unlock()

	uc.refetch.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	uc.conn.Close()
	uc.wg.Wait()
}

// FetchConversations replaces the list with a fresh merged snapshot. On
// failure the current list is left untouched.
func (uc *ConversationUseCase) FetchConversations(ctx context.Context) error {
	rows, err := uc.fetchRows(ctx)
	if err != nil {
		logger.Warn("Fetching conversations for %s failed: %v", uc.viewer.ID, err)
		return err
	}
	merged := service.MergeByPair(rows)

	pinned := uc.pinnedSet(ctx)
	overrides := make(map[string]int)
	for _, c := range merged {
		if count, ok := uc.unreadOverride(ctx, c); ok {
			overrides[c.ID] = count
		}
	}

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return nil
	}
	for i := range merged {
		c := &merged[i]
		c.IsPinned = pinned[c.ID]
		override, hasOverride := overrides[c.ID]
		c.UnreadCount = service.ResolveUnread(c.ServerUnread, override, hasOverride, c.ID == uc.selectedID)
	}
	uc.conversations = service.SortConversations(merged)
	uc.mutex.Unlock()

	logger.Debug("Fetched %d conversations for %s", len(merged), uc.viewer.ID)
	uc.notifyChange()
	return nil
}

// unreadOverride returns the stored local count for c. An override older than
// the row's last activity is stale: it is cleared and the server count wins.
func (uc *ConversationUseCase) unreadOverride(ctx context.Context, c entity.ConversationSummary) (int, bool) {
	count, ok, err := uc.state.UnreadOverride(ctx, c.ID)
	if err != nil {
		logger.Warn("Reading unread override for %s failed: %v", c.ID, err)
		return 0, false
	}
	if !ok {
		return 0, false
	}

	viewedAt, viewed, err := uc.state.LastViewed(ctx, c.ID)
	if err != nil {
		logger.Warn("Reading last viewed for %s failed: %v", c.ID, err)
		return count, true
	}
	if viewed && service.LatestActivity(c.UpdatedAt, c.LastMessage).After(viewedAt) {
		if err := uc.state.ClearUnreadOverride(ctx, c.ID); err != nil {
			logger.Warn("Clearing unread override for %s failed: %v", c.ID, err)
		}
		logger.Debug("Unread override for %s expired, using server count", c.ID)
		return 0, false
	}
	return count, true
}

func (uc *ConversationUseCase) fetchRows(ctx context.Context) ([]entity.ConversationSummary, error) {
	if uc.viewer.IsMonitor() {
		return uc.api.ListAllChats(ctx)
	}

	buying, err := uc.api.ListBuyerRooms(ctx, uc.viewer.ID)
	if err != nil {
		return nil, err
	}
	selling, err := uc.api.ListSellerRooms(ctx, uc.viewer.ID)
	if err != nil {
		return nil, err
	}
	return append(buying, selling...), nil
}

func (uc *ConversationUseCase) pinnedSet(ctx context.Context) map[string]bool {
	ids, err := uc.state.PinnedChatIDs(ctx)
	if err != nil {
		logger.Warn("Reading pinned chats failed: %v", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Conversations returns a copy of the sorted list narrowed by filter.
func (uc *ConversationUseCase) Conversations(filter Filter) []entity.ConversationSummary {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	out := make([]entity.ConversationSummary, 0, len(uc.conversations))
	for _, c := range uc.conversations {
		switch filter {
		case FilterUnread:
			if c.UnreadCount == 0 {
				continue
			}
		case FilterArchived:
			if !c.IsArchived {
				continue
			}
		case FilterLabeled:
			if c.Label == nil {
				continue
			}
		}
		out = append(out, c.Clone())
	}
	return out
}

func (uc *ConversationUseCase) Conversation(chatID string) (entity.ConversationSummary, bool) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	i := service.IndexOf(uc.conversations, chatID)
	if i < 0 {
		return entity.ConversationSummary{}, false
	}
	return uc.conversations[i].Clone(), true
}

func (uc *ConversationUseCase) SelectedID() string {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.selectedID
}

func (uc *ConversationUseCase) Presence(userID string) (entity.Presence, bool) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	p, ok := uc.presence[userID]
	return p, ok
}

// OnChange registers fn to receive a snapshot after every list mutation.
func (uc *ConversationUseCase) OnChange(fn func([]entity.ConversationSummary)) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.listeners = append(uc.listeners, fn)
}

// Select opens a conversation: its unread count drops to zero immediately and
// the server is told in the background.
func (uc *ConversationUseCase) Select(ctx context.Context, chatID string) {
	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	uc.selectedID = chatID
	viewedAt := uc.now()
	if i := service.IndexOf(uc.conversations, chatID); i >= 0 {
		c := &uc.conversations[i]
		c.UnreadCount = 0
		if activity := service.LatestActivity(c.UpdatedAt, c.LastMessage); activity.After(viewedAt) {
			viewedAt = activity
		}
	}
	uc.conversations = service.SortConversations(uc.conversations)
	uc.mutex.Unlock()
	uc.notifyChange()

	if err := uc.state.SetUnreadOverride(ctx, chatID, 0); err != nil {
		logger.Warn("Persisting unread override for %s failed: %v", chatID, err)
	}
	if err := uc.state.SetLastViewed(ctx, chatID, viewedAt); err != nil {
		logger.Warn("Persisting last viewed for %s failed: %v", chatID, err)
	}
	uc.publish(broadcast.KindUnreadChanged, chatID)

	uc.goBackground(func(ctx context.Context) {
		if err := uc.api.MarkRoomRead(ctx, chatID, uc.viewer.ID); err != nil {
			logger.Warn("Marking %s read failed: %v", chatID, err)
		}
	})
}

// Deselect stops treating chatID as open, so later updates count as unread
// again. It is a no-op when another conversation is selected.
func (uc *ConversationUseCase) Deselect(chatID string) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	if uc.selectedID == chatID {
		uc.selectedID = ""
	}
}

// Pin stores the pin locally and tells other sessions about it.
func (uc *ConversationUseCase) Pin(ctx context.Context, chatID string, pinned bool) error {
	ids, err := uc.state.PinnedChatIDs(ctx)
	if err != nil {
		return errors.Internal("Failed to read pinned chats", err)
	}

	next := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		if id != chatID {
			next = append(next, id)
		}
	}
	if pinned {
		next = append(next, chatID)
	}
	sort.Strings(next)

	if err := uc.state.SetPinnedChatIDs(ctx, next); err != nil {
		return errors.Internal("Failed to save pinned chats", err)
	}

	uc.mutex.Lock()
	if i := service.IndexOf(uc.conversations, chatID); i >= 0 {
		uc.conversations[i].IsPinned = pinned
	}
	uc.conversations = service.SortConversations(uc.conversations)
	uc.mutex.Unlock()

	uc.notifyChange()
	uc.publish(broadcast.KindPinsChanged, chatID)
	return nil
}

// SetLabel applies the label optimistically and reverts it when the backend
// rejects the change.
func (uc *ConversationUseCase) SetLabel(ctx context.Context, chatID string, raw string) error {
	label := service.NormalizeLabel(raw)
	if label == nil && raw != "" {
		return errors.BadRequest("Label must be one of GOOD, MEDIUM or BAD", nil)
	}

	uc.mutex.Lock()
	i := service.IndexOf(uc.conversations, chatID)
	if i < 0 {
		uc.mutex.Unlock()
		return errors.NotFound("Conversation", nil)
	}
	previous := uc.conversations[i].Label
	uc.conversations[i].Label = label
	uc.mutex.Unlock()
	uc.notifyChange()

	if err := uc.api.UpdateLabel(ctx, chatID, label); err != nil {
		uc.mutex.Lock()
		if i := service.IndexOf(uc.conversations, chatID); i >= 0 {
			uc.conversations[i].Label = previous
		}
		uc.mutex.Unlock()
		uc.notifyChange()

		logger.Warn("Updating label of %s failed: %v", chatID, err)
		return err
	}

	uc.publish(broadcast.KindLabelChanged, chatID)
	return nil
}

func (uc *ConversationUseCase) handleConnect(json.RawMessage) {
	uc.notifier.Reset()
	uc.triggerRefetch()
}

func (uc *ConversationUseCase) handleConnectError(data json.RawMessage) {
	ce := realtime.DecodeConnectError(data)
	uc.notifier.NotifyOnce(Notification{Class: ce.Class, Message: ce.Message, Terminal: ce.Terminal})
}

func (uc *ConversationUseCase) handleDisconnect(data json.RawMessage) {
	if realtime.DecodeDisconnect(data) == realtime.ReasonServerDisconnect && !uc.isClosed() {
		uc.conn.Reconnect()
	}
}

func (uc *ConversationUseCase) handleChatUpdated(data json.RawMessage) {
	ev, err := realtime.DecodeChatUpdated(data)
	if err != nil {
		logger.Warn("Dropping chat update: %v", err)
		return
	}

	var preview *entity.MessagePreview
	if ev.LastMessage != nil {
		preview = ev.LastMessage.ToPreview()
	}

	uc.mutex.Lock()
	if uc.closed {
		uc.mutex.Unlock()
		return
	}
	i := service.IndexOf(uc.conversations, ev.ChatRoomID)
	if i < 0 {
		uc.mutex.Unlock()
		logger.Debug("Chat %s is not listed yet, refetching", ev.ChatRoomID)
		uc.triggerRefetch()
		return
	}

	c := &uc.conversations[i]
	senderID := ""
	if preview != nil {
		c.LastMessage = preview
		senderID = preview.SenderID
	}
	updatedAt := service.LatestActivity(ev.UpdatedAt.Time, preview)
	if updatedAt.IsZero() {
		updatedAt = uc.now()
	}
	if updatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = updatedAt
	}
	selected := c.ID == uc.selectedID
	c.UnreadCount = service.NextUnreadOnUpdate(c.UnreadCount, selected, senderID, uc.viewer.ID)
	unread := c.UnreadCount
	viewedAt := uc.now()
	if c.UpdatedAt.After(viewedAt) {
		viewedAt = c.UpdatedAt
	}

	uc.conversations = service.SortConversations(service.MoveToFront(uc.conversations, i))
	ctx := uc.ctx
	uc.mutex.Unlock()

	uc.notifyChange()
	if err := uc.state.SetUnreadOverride(ctx, ev.ChatRoomID, unread); err != nil {
		logger.Warn("Persisting unread override for %s failed: %v", ev.ChatRoomID, err)
	}
	// the open conversation has been seen up to this update
	if selected {
		if err := uc.state.SetLastViewed(ctx, ev.ChatRoomID, viewedAt); err != nil {
			logger.Warn("Persisting last viewed for %s failed: %v", ev.ChatRoomID, err)
		}
	}
	uc.publish(broadcast.KindUnreadChanged, ev.ChatRoomID)
}

func (uc *ConversationUseCase) handleChatCreated(json.RawMessage) {
	uc.triggerRefetch()
}

func (uc *ConversationUseCase) handleStatusChanged(data json.RawMessage) {
	ev, err := realtime.DecodeStatusChanged(data)
	if err != nil {
		logger.Warn("Dropping status change: %v", err)
		return
	}

	uc.mutex.Lock()
	uc.presence[ev.UserID] = ev.ToEntity()
	uc.mutex.Unlock()
	uc.notifyChange()
}

func (uc *ConversationUseCase) handleBroadcast(msg broadcast.Message) {
	if msg.Origin == uc.id {
		return
	}
	logger.Debug("Session %s saw %s for %s, refetching", uc.id, msg.Kind, msg.ChatID)
	uc.triggerRefetch()
}

func (uc *ConversationUseCase) triggerRefetch() {
	if uc.isClosed() {
		return
	}
	uc.refetch.Trigger()
}

// throttledRefetch runs a background fetch unless one ran too recently, in
// which case it re-arms for when the throttle allows it.
func (uc *ConversationUseCase) throttledRefetch() {
	if uc.isClosed() {
		return
	}
	allowed, wait := uc.limiter.Allow(uc.id, ratelimit.ActionRefetch)
	if !allowed {
		time.AfterFunc(wait, uc.triggerRefetch)
		return
	}
	uc.goBackground(func(ctx context.Context) {
		uc.FetchConversations(ctx)
	})
}

func (uc *ConversationUseCase) pollLoop(interval time.Duration) {
	defer uc.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			uc.FetchConversations(uc.ctx)
		case <-uc.ctx.Done():
			return
		}
	}
}

// goBackground runs fn off the caller's path, bound to the session lifetime.
func (uc *ConversationUseCase) goBackground(fn func(ctx context.Context)) {
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

func (uc *ConversationUseCase) publish(kind broadcast.Kind, chatID string) {
	if uc.bus == nil {
		return
	}
	uc.bus.Publish(broadcast.Message{Kind: kind, ChatID: chatID, Origin: uc.id})
}

func (uc *ConversationUseCase) notifyChange() {
	uc.mutex.RLock()
	listeners := make([]func([]entity.ConversationSummary), len(uc.listeners))
	copy(listeners, uc.listeners)
	snapshot := make([]entity.ConversationSummary, len(uc.conversations))
	for i, c := range uc.conversations {
		snapshot[i] = c.Clone()
	}
	uc.mutex.RUnlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (uc *ConversationUseCase) isClosed() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.closed
}
