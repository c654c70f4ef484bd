package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

const (
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// Manager owns the transport lifecycle for one conversation: connect,
// keepalive, automatic reconnect with exponential backoff, manual retry and
// explicit teardown.
//
// Reconnection never gives up on its own: the delay doubles up to a cap and
// retries continue until Disconnect. ManualRetry is the user-visible escape
// hatch that skips the pending delay.
type Manager struct {
	dialer   Dialer
	endpoint string

	onFrame      func([]byte)
	onStatus     func(Status, int)
	pingFrame    []byte
	pingInterval time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration

	// serializes all writes to the current conn; gorilla/websocket allows
	// only one concurrent writer, and the keepalive goroutine writes
	// alongside Send
	writeMu sync.Mutex

	mu         sync.Mutex
	status     Status
	attempts   int
	conn       Conn
	gen        int
	retryTimer *time.Timer
	pingStop   chan struct{}
	closed     bool
	baseCtx    context.Context
}

// Option configures a Manager.
type Option func(*Manager)

// WithFrameHandler sets the callback invoked with every raw inbound frame,
// in arrival order, from the read goroutine.
func WithFrameHandler(f func([]byte)) Option {
	return func(m *Manager) { m.onFrame = f }
}

// WithStatusHandler sets an advisory callback for status changes. It is
// invoked outside the manager's lock and must not block.
func WithStatusHandler(f func(Status, int)) Option {
	return func(m *Manager) { m.onStatus = f }
}

// WithKeepalive enables a periodic ping frame once the open handshake has
// completed.
func WithKeepalive(frame []byte, interval time.Duration) Option {
	return func(m *Manager) {
		m.pingFrame = frame
		m.pingInterval = interval
	}
}

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Manager) {
		m.baseDelay = base
		m.maxDelay = max
	}
}

func NewManager(dialer Dialer, endpoint string, opts ...Option) *Manager {
	m := &Manager{
		dialer:       dialer,
		endpoint:     endpoint,
		status:       StatusIdle,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		pingInterval: DefaultPingInterval,
		baseCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect tears down any existing transport and opens a new one. Re-entry
// is idempotent.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	m.closed = false
	if ctx != nil {
		m.baseCtx = ctx
	}
	m.teardownLocked()
	m.status = StatusConnecting
	m.mu.Unlock()
	m.fireStatus()
	m.dial()
}

// ManualRetry cancels any pending backoff and attempts reconnection
// immediately. The attempt counter is left intact for reporting.
func (m *Manager) ManualRetry() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.teardownConnLocked()
	m.status = StatusConnecting
	m.mu.Unlock()
	m.fireStatus()
	m.dial()
}

// Disconnect is the explicit teardown. Close events from the torn-down
// transport do not trigger auto-reconnect afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.teardownLocked()
	m.status = StatusDisconnected
	m.mu.Unlock()
	m.fireStatus()
}

// Send writes one frame. It is a silent no-op unless connected; callers
// check connectivity when they need delivery guarantees.
func (m *Manager) Send(data []byte) {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected && conn != nil
	m.mu.Unlock()
	if !connected {
		log.Debug().Str("component", "transport").Int("bytes", len(data)).Msg("dropping send while not connected")
		return
	}
	if err := m.writeConn(conn, data); err != nil {
		log.Warn().Err(err).Str("component", "transport").Msg("send failed")
	}
}

func (m *Manager) writeConn(conn Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// Status returns the current lifecycle state and the reconnect attempt
// counter.
func (m *Manager) Status() (Status, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.attempts
}

func (m *Manager) dial() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctx := m.baseCtx
	gen := m.gen
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.endpoint)

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "transport").Int("attempts", m.attempts).Msg("dial failed")
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.fireStatus()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.status = StatusConnected
	if len(m.pingFrame) > 0 && m.pingInterval > 0 {
		// keepalive starts only after the open handshake completed
		m.pingStop = make(chan struct{})
		go m.keepalive(conn, m.pingStop)
	}
	go m.readLoop(conn, gen)
	m.mu.Unlock()
	m.fireStatus()
	log.Info().Str("component", "transport").Str("endpoint", m.endpoint).Msg("connected")
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, gen)
			return
		}
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
}

func (m *Manager) handleClose(conn Conn, gen int) {
	_ = conn.Close()
	m.mu.Lock()
	if m.closed || gen != m.gen {
		// stale connection or explicit disconnect
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.gen++
	m.stopKeepaliveLocked()
	log.Warn().Str("component", "transport").Int("attempts", m.attempts).Msg("transport closed unexpectedly")
	m.scheduleReconnectLocked()
	m.mu.Unlock()
	m.fireStatus()
}

func (m *Manager) scheduleReconnectLocked() {
	m.attempts++
	m.status = StatusReconnecting
	delay := m.backoff(m.attempts)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.retryTimer = nil
		m.status = StatusConnecting
		m.mu.Unlock()
		m.fireStatus()
		m.dial()
	})
}

func (m *Manager) backoff(attempts int) time.Duration {
	d := m.baseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= m.maxDelay {
			return m.maxDelay
		}
	}
	if d > m.maxDelay {
		return m.maxDelay
	}
	return d
}

func (m *Manager) teardownLocked() {
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopKeepaliveLocked()
	m.teardownConnLocked()
}

func (m *Manager) teardownConnLocked() {
	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.stopKeepaliveLocked()
}

func (m *Manager) stopKeepaliveLocked() {
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
}

func (m *Manager) keepalive(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.writeConn(conn, m.pingFrame); err != nil {
				return
			}
		}
	}
}

func (m *Manager) fireStatus() {
	cb := m.onStatus
	if cb == nil {
		return
	}
	m.mu.Lock()
	s, a := m.status, m.attempts
	m.mu.Unlock()
	cb(s, a)
}
