package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"marketchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	connectTimeout = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBufSize    = 256

	// used when the open packet leaves the heartbeat unset
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected   = errors.New("realtime connection is not established")
	ErrSendBufferFull = errors.New("realtime send buffer is full")
	ErrDisconnected   = errors.New("realtime connection closed before acknowledgment")
)

// Handler receives the first argument of a named event. Handlers run on the
// connection's read goroutine and must not block on acknowledgments.
type Handler func(data json.RawMessage)

type Options struct {
	// URL of the Socket.IO server; http(s) and ws(s) schemes are accepted and
	// an empty path means /socket.io/.
	URL    string
	Header http.Header
	Dialer *gorillaws.Dialer

	// Auth is sent as the payload of the Socket.IO CONNECT packet.
	Auth interface{}
	// Namespace defaults to "/".
	Namespace string

	// ReconnectDelay is the first automatic reconnection delay; it doubles on
	// every failed attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Manager owns one logical Socket.IO connection over the Engine.IO websocket
// transport: it dials, answers heartbeats, reconnects, routes named events to
// handlers and matches acknowledgments to emits.
type Manager struct {
	url               string
	urlErr            error
	header            http.Header
	dialer            *gorillaws.Dialer
	auth              interface{}
	namespace         string
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	mutex    sync.RWMutex
	state    State
	sid      string
	send     chan []byte
	handlers map[string][]Handler
	pending  map[int64]chan json.RawMessage

	nextID    int64
	reconnect chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &gorillaws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: connectTimeout,
		}
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = 30 * time.Second
	}

	target, err := socketURL(opts.URL)
	if err != nil {
		target = opts.URL
	}

	return &Manager{
		url:               target,
		urlErr:            err,
		header:            opts.Header,
		dialer:            opts.Dialer,
		auth:              opts.Auth,
		namespace:         opts.Namespace,
		reconnectDelay:    opts.ReconnectDelay,
		maxReconnectDelay: opts.MaxReconnectDelay,
		handlers:          make(map[string][]Handler),
		pending:           make(map[int64]chan json.RawMessage),
		reconnect:         make(chan struct{}, 1),
	}
}

// On registers a handler for a named event. Lifecycle events (connect,
// disconnect, connect_error) are delivered the same way.
func (m *Manager) On(event string, h Handler) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// SID is the Socket.IO session id of the current connection.
func (m *Manager) SID() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.sid
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through the connect / connect_error events.
func (m *Manager) Connect(ctx context.Context) {
	m.mutex.Lock()
	if m.cancel != nil {
		m.mutex.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mutex.Unlock()

	go m.run()
}

// Reconnect resumes a connection the server closed deliberately.
func (m *Manager) Reconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// Close sends a DISCONNECT, stops reconnecting and waits for the loop to exit.
func (m *Manager) Close() {
	m.mutex.Lock()
	cancel, done := m.cancel, m.done
	m.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Emit sends a named event without waiting for an acknowledgment.
func (m *Manager) Emit(event string, data interface{}) error {
	p, err := eventPacket(m.namespace, event, data, 0)
	if err != nil {
		return err
	}
	return m.enqueue(encodePacket(p))
}

// EmitWithAck sends a named event with an ack id and waits for the server's
// acknowledgment, returning its first argument.
func (m *Manager) EmitWithAck(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&m.nextID, 1)
	p, err := eventPacket(m.namespace, event, data, id)
	if err != nil {
		return nil, err
	}
	ch := make(chan json.RawMessage, 1)

	m.mutex.Lock()
	m.pending[id] = ch
	m.mutex.Unlock()

	if err := m.enqueue(encodePacket(p)); err != nil {
		m.dropPending(id)
		return nil, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		return ack, nil
	case <-ctx.Done():
		m.dropPending(id)
		return nil, ctx.Err()
	}
}

func (m *Manager) enqueue(frame []byte) error {
	m.mutex.RLock()
	send := m.send
	m.mutex.RUnlock()

	if send == nil {
		return ErrNotConnected
	}
	select {
	case send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (m *Manager) run() {
	defer close(m.done)
	defer m.setState(StateDisconnected)

	attempt := 0
	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		conn, open, connectErr := m.open()
		if connectErr != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.setState(StateDisconnected)
			logger.Warn("Realtime connection to %s failed (%s): %s", m.url, connectErr.Class, connectErr.Message)
			m.dispatch(EventConnectError, mustMarshal(connectErr))

			attempt++
			if !m.sleep(m.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		reason := m.serve(conn, open)
		m.failPending()
		logger.Info("Realtime connection closed: %s", reason)
		m.dispatch(EventDisconnect, mustMarshal(DisconnectPayload{Reason: reason}))

		switch reason {
		case ReasonClientDisconnect:
			return
		case ReasonServerDisconnect:
			// the server asked us to go away; only an explicit Reconnect resumes
			select {
			case <-m.reconnect:
			case <-m.ctx.Done():
				return
			}
		default:
			if !m.sleep(m.reconnectDelay) {
				return
			}
		}
	}
}

// open dials the websocket transport and completes the Engine.IO open and
// Socket.IO CONNECT exchange.
func (m *Manager) open() (*gorillaws.Conn, engineOpen, *ConnectError) {
	if m.urlErr != nil {
		return nil, engineOpen{}, &ConnectError{Class: ErrorClassHandshake, Message: m.urlErr.Error(), Terminal: true}
	}

	conn, resp, err := m.dialer.DialContext(m.ctx, m.url, m.header)
	if err != nil {
		ce := classifyDialError(err, resp)
		return nil, engineOpen{}, &ce
	}

	// Close must not wait out a stalled handshake
	stop := context.AfterFunc(m.ctx, func() { conn.Close() })
	open, sid, err := m.handshake(conn)
	stop()
	if err != nil {
		conn.Close()
		var refusal *connectRefusal
		if errors.As(err, &refusal) {
			ce := classifyRefusal(refusal)
			return nil, engineOpen{}, &ce
		}
		return nil, engineOpen{}, &ConnectError{Class: ErrorClassHandshake, Message: err.Error()}
	}

	m.mutex.Lock()
	m.sid = sid
	m.mutex.Unlock()
	return conn, open, nil
}

func (m *Manager) handshake(conn *gorillaws.Conn) (engineOpen, string, error) {
	var open engineOpen
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(connectTimeout))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return open, "", fmt.Errorf("reading open packet: %w", err)
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return open, "", fmt.Errorf("expected open packet, got %.50q", msg)
	}
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return open, "", fmt.Errorf("decoding open packet: %w", err)
	}

	connect := packet{Type: sioConnect, Namespace: m.namespace}
	if m.auth != nil {
		raw, err := json.Marshal(m.auth)
		if err != nil {
			return open, "", fmt.Errorf("encoding auth payload: %w", err)
		}
		connect.Data = raw
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(gorillaws.TextMessage, encodePacket(connect)); err != nil {
		return open, "", fmt.Errorf("writing connect packet: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return open, "", fmt.Errorf("waiting for connect: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.TextMessage, append([]byte{eioPong}, msg[1:]...)); err != nil {
				return open, "", fmt.Errorf("answering ping: %w", err)
			}
		case eioClose:
			return open, "", errors.New("server closed the session during connect")
		case eioMessage:
			p, err := decodePacket(msg)
			if err != nil || p.Namespace != m.namespace {
				continue
			}
			switch p.Type {
			case sioConnect:
				var ok struct {
					SID string `json:"sid"`
				}
				json.Unmarshal(p.Data, &ok)
				return open, ok.SID, nil
			case sioConnectError:
				return open, "", decodeRefusal(p.Data)
			}
		}
	}
}

// serve pumps one established connection until it ends and reports why.
func (m *Manager) serve(conn *gorillaws.Conn, open engineOpen) string {
	send := make(chan []byte, sendBufSize)

	m.mutex.Lock()
	m.send = send
	m.state = StateConnected
	m.mutex.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writePump(conn, send, stop)
	}()

	m.dispatch(EventConnect, nil)
	reason := m.readPump(conn, heartbeat(open))

	m.mutex.Lock()
	m.send = nil
	m.sid = ""
	m.state = StateDisconnected
	m.mutex.Unlock()

	close(stop)
	wg.Wait()
	conn.Close()
	return reason
}

// heartbeat is how long the connection may stay silent: the server pings every
// pingInterval and a missing ping is fatal after pingTimeout more.
func heartbeat(open engineOpen) time.Duration {
	interval := time.Duration(open.PingInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultPingInterval
	}
	timeout := time.Duration(open.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return interval + timeout
}

func (m *Manager) readPump(conn *gorillaws.Conn, silence time.Duration) string {
	conn.SetReadDeadline(time.Now().Add(silence))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return m.disconnectReason(err)
		}
		conn.SetReadDeadline(time.Now().Add(silence))
		if len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case eioPing:
			if err := m.enqueue(append([]byte{eioPong}, msg[1:]...)); err != nil {
				logger.Warn("Answering realtime ping failed: %v", err)
			}
			continue
		case eioClose:
			return ReasonTransportClose
		case eioMessage:
		default:
			continue
		}

		p, err := decodePacket(msg)
		if err != nil {
			logger.Warn("Dropping malformed realtime frame: %.200s", string(msg))
			continue
		}
		if p.Namespace != m.namespace {
			continue
		}

		switch p.Type {
		case sioEvent:
			name, arg, err := eventArgs(p.Data)
			if err != nil {
				logger.Warn("Dropping realtime event: %v", err)
				continue
			}
			if p.HasID {
				m.enqueue(encodePacket(packet{Type: sioAck, Namespace: m.namespace, ID: p.ID, HasID: true, Data: json.RawMessage("[]")}))
			}
			m.dispatch(name, arg)
		case sioAck:
			if p.HasID {
				m.resolvePending(p.ID, ackArg(p.Data))
			}
		case sioDisconnect:
			return ReasonServerDisconnect
		case sioConnectError:
			ce := classifyRefusal(decodeRefusal(p.Data))
			m.dispatch(EventConnectError, mustMarshal(ce))
		case sioBinaryEvent, sioBinaryAck:
			logger.Warn("Dropping binary realtime packet in %s", p.Namespace)
		}
	}
}

func (m *Manager) writePump(conn *gorillaws.Conn, send <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.TextMessage, msg); err != nil {
				logger.Warn("Realtime write failed: %v", err)
				conn.Close()
				return
			}
		case <-m.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(gorillaws.TextMessage, encodePacket(packet{Type: sioDisconnect, Namespace: m.namespace}))
			conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-stop:
			return
		}
	}
}

func (m *Manager) disconnectReason(err error) string {
	if m.ctx.Err() != nil {
		return ReasonClientDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportClose
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mutex.RLock()
	handlers := append([]Handler(nil), m.handlers[event]...)
	m.mutex.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("%s", logger.WithContext(event, "realtime handler panicked: %v", r))
				}
			}()
			h(data)
		}()
	}
}

func (m *Manager) resolvePending(id int64, data json.RawMessage) {
	m.mutex.Lock()
	ch, ok := m.pending[id]
	delete(m.pending, id)
	m.mutex.Unlock()

	if ok {
		ch <- data
	}
}

func (m *Manager) dropPending(id int64) {
	m.mutex.Lock()
	delete(m.pending, id)
	m.mutex.Unlock()
}

func (m *Manager) failPending() {
	m.mutex.Lock()
	pending := m.pending
	m.pending = make(map[int64]chan json.RawMessage)
	m.mutex.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (m *Manager) setState(s State) {
	m.mutex.Lock()
	m.state = s
	m.mutex.Unlock()
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.reconnectDelay
	for i := 1; i < attempt && d < m.maxReconnectDelay; i++ {
		d *= 2
	}
	if d > m.maxReconnectDelay {
		d = m.maxReconnectDelay
	}
	return d
}

func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
