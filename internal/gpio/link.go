package gpio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rnp/cremer-mes/internal/telemetry"
	"go.uber.org/zap"
)

// Frame is one message of the field-I/O protocol. A top-level JSON array of
// frames is the initial snapshot; a single object is a live update.
type Frame struct {
	Pin   int `json:"pin"`
	Value int `json:"value"`
}

// PinEvent is a level change delivered to subscribers after initialization.
type PinEvent struct {
	Pin      int
	Previous int
	Value    int
}

// Handler receives pin events. Handlers run on the link's read goroutine, in
// arrival order; they must not block forever.
type Handler func(PinEvent)

// Link maintains the single persistent connection to the field-I/O endpoint.
// It owns the pin-state cache (single writer); subscribers take per-pin
// snapshot reads.
type Link struct {
	url              string
	heartbeatTimeout time.Duration
	watchdogInterval time.Duration
	handshakeTimeout time.Duration
	logger           *zap.Logger
	clock            func() time.Time

	mu          sync.RWMutex
	conn        *websocket.Conn
	pinStates   map[int]int
	initialized bool
	lastMessage time.Time

	handlersMu sync.RWMutex
	handlers   map[int][]Handler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewLink(url string, heartbeatTimeout, watchdogInterval, handshakeTimeout time.Duration, logger *zap.Logger) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		url:              url,
		heartbeatTimeout: heartbeatTimeout,
		watchdogInterval: watchdogInterval,
		handshakeTimeout: handshakeTimeout,
		logger:           logger,
		clock:            time.Now,
		pinStates:        make(map[int]int),
		handlers:         make(map[int][]Handler),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Subscribe registers a handler for level changes of one pin. Must be called
// before Start.
func (l *Link) Subscribe(pin int, h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[pin] = append(l.handlers[pin], h)
}

// PinState returns the cached level of a pin. ok is false before the pin has
// been seen on this connection.
func (l *Link) PinState(pin int) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.pinStates[pin]
	return v, ok
}

// Initialized reports whether the current connection has seeded pin state.
func (l *Link) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// Start connects and launches the watchdog. Returns immediately; the link
// keeps reconnecting until Stop.
func (l *Link) Start() {
	l.connect()

	l.wg.Add(1)
	go l.watchdogLoop()

	l.logger.Info("GPIO link started",
		zap.String("url", l.url),
		zap.Duration("heartbeat_timeout", l.heartbeatTimeout),
		zap.Duration("watchdog_interval", l.watchdogInterval))
}

// Stop closes the socket and cancels the watchdog. Idempotent.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		l.closeConn()
		l.wg.Wait()
		l.logger.Info("GPIO link stopped")
	})
}

func (l *Link) watchdogLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.checkConnection()
		}
	}
}

// checkConnection reconnects when the socket is gone or the heartbeat is
// stale. A socket that still reports open but has been silent past the
// heartbeat timeout is treated as dead.
func (l *Link) checkConnection() {
	l.mu.RLock()
	conn := l.conn
	last := l.lastMessage
	l.mu.RUnlock()

	stale := !last.IsZero() && l.clock().Sub(last) > l.heartbeatTimeout
	if conn != nil && !stale {
		return
	}

	if stale {
		l.logger.Warn("GPIO heartbeat stale, forcing reconnect",
			zap.Time("last_message", last))
	} else {
		l.logger.Warn("GPIO link down, reconnecting")
	}

	telemetry.GPIOReconnects.Inc()
	l.closeConn()
	l.connect()
}

func (l *Link) connect() {
	select {
	case <-l.ctx.Done():
		return
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: l.handshakeTimeout}
	conn, _, err := dialer.DialContext(l.ctx, l.url, nil)
	if err != nil {
		l.logger.Error("GPIO connection failed", zap.String("url", l.url), zap.Error(err))
		return
	}

	l.mu.Lock()
	l.conn = conn
	l.pinStates = make(map[int]int)
	l.initialized = false
	l.lastMessage = l.clock()
	l.mu.Unlock()

	l.logger.Info("GPIO connection established", zap.String("url", l.url))

	l.wg.Add(1)
	go l.readLoop(conn)
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.ctx.Done():
			default:
				l.logger.Warn("GPIO read failed", zap.Error(err))
			}
			l.dropConn(conn)
			return
		}
		l.handleMessage(data)
	}
}

// handleMessage parses one frame. A JSON array seeds the whole cache; a JSON
// object is either the first-message seed of an uninitialized pin (reconnect
// path without snapshot) or a live update that may emit a level change.
func (l *Link) handleMessage(data []byte) {
	l.mu.Lock()
	l.lastMessage = l.clock()
	l.mu.Unlock()

	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		var frames []Frame
		if err := json.Unmarshal(data, &frames); err != nil {
			l.logger.Error("invalid GPIO snapshot", zap.ByteString("payload", data), zap.Error(err))
			return
		}
		l.applySnapshot(frames)
	case '{':
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			l.logger.Error("invalid GPIO frame", zap.ByteString("payload", data), zap.Error(err))
			return
		}
		l.applyUpdate(frame)
	default:
		l.logger.Warn("unexpected GPIO payload", zap.ByteString("payload", data))
	}
}

func (l *Link) applySnapshot(frames []Frame) {
	l.mu.Lock()
	for _, f := range frames {
		l.pinStates[f.Pin] = f.Value
	}
	l.initialized = true
	l.mu.Unlock()

	l.logger.Info("GPIO initial snapshot applied", zap.Int("pins", len(frames)))
}

func (l *Link) applyUpdate(frame Frame) {
	l.mu.Lock()
	previous, seen := l.pinStates[frame.Pin]
	l.pinStates[frame.Pin] = frame.Value
	initialized := l.initialized
	if !initialized && !seen {
		// No snapshot arrived on this connection; the first per-pin message
		// seeds state without emitting an edge.
		l.initialized = true
		l.mu.Unlock()
		l.logger.Info("GPIO pin seeded from first message",
			zap.Int("pin", frame.Pin), zap.Int("value", frame.Value))
		return
	}
	l.mu.Unlock()

	if !initialized || !seen || previous == frame.Value {
		return
	}

	l.dispatch(PinEvent{Pin: frame.Pin, Previous: previous, Value: frame.Value})
}

func (l *Link) dispatch(ev PinEvent) {
	l.handlersMu.RLock()
	handlers := l.handlers[ev.Pin]
	l.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (l *Link) closeConn() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.pinStates = make(map[int]int)
	l.initialized = false
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// dropConn clears state only if conn is still the active connection; a
// reconnect may already have replaced it.
func (l *Link) dropConn(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.pinStates = make(map[int]int)
	l.initialized = false
	l.mu.Unlock()

	conn.Close()
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
