package broadcast

import (
	"sync"

	"marketchat/pkg/logger"
)

type Kind string

const (
	KindPinsChanged   Kind = "pins_changed"
	KindUnreadChanged Kind = "unread_changed"
	KindLabelChanged  Kind = "label_changed"
)

// Message is a typed notice that shared viewer state changed. Origin is the
// session that made the change so it can ignore its own notices.
type Message struct {
	Kind   Kind
	ChatID string
	Origin string
}

type Handler func(Message)

// Bus fans state-change notices out to every session in the process.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Broadcast handler panicked on %s: %v", msg.Kind, r)
				}
			}()
			h(msg)
		}()
	}
}
