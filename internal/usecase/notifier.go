package usecase

import (
	"sync"
	"time"

	"marketchat/pkg/logger"
)

// Notification is a user-facing error, the equivalent of a toast.
type Notification struct {
	Class    string    `json:"class"`
	Message  string    `json:"message"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	if n.Terminal {
		logger.Error("[%s] %s (giving up)", n.Class, n.Message)
		return
	}
	logger.Warn("[%s] %s (still retrying)", n.Class, n.Message)
}

// EpisodeNotifier forwards at most one notification per error class until
// Reset is called. A failure episode ends on the next successful connect.
type EpisodeNotifier struct {
	sink  Notifier
	mutex sync.Mutex
	seen  map[string]struct{}
}

func NewEpisodeNotifier(sink Notifier) *EpisodeNotifier {
	if sink == nil {
		sink = LogNotifier{}
	}
	return &EpisodeNotifier{sink: sink, seen: make(map[string]struct{})}
}

// NotifyOnce reports whether the notification was forwarded.
func (e *EpisodeNotifier) NotifyOnce(n Notification) bool {
	e.mutex.Lock()
	if _, ok := e.seen[n.Class]; ok {
		e.mutex.Unlock()
		return false
	}
	e.seen[n.Class] = struct{}{}
	e.mutex.Unlock()

	if n.At.IsZero() {
		n.At = time.Now()
	}
	e.sink.Notify(n)
	return true
}

// Notify forwards unconditionally; used for user-initiated failures.
func (e *EpisodeNotifier) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	e.sink.Notify(n)
}

func (e *EpisodeNotifier) Reset() {
	e.mutex.Lock()
	e.seen = make(map[string]struct{})
	e.mutex.Unlock()
}
