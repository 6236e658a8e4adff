// Package connection owns the lifecycle of a single logical WebSocket
// connection: dialing, up/down state, the inbound receive loop, and the
// fixed-delay reconnection policy.
package connection

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bubblechat/core/internal/model"
)

// State represents the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	// DefaultReconnectDelay is the pause before the single reconnection
	// attempt scheduled after a lost connection.
	DefaultReconnectDelay = 5 * time.Second

	// Time allowed to complete the WebSocket handshake.
	handshakeTimeout = 10 * time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
)

// Config holds configuration for the connection manager.
type Config struct {
	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration
}

// Manager maintains exactly one logical WebSocket connection and its
// up/down state.
//
// A lost connection schedules exactly one reconnection attempt; each new
// failure schedules a new single attempt, so retries form a serial cadence
// and never overlap. A fired attempt that finds the connection already
// re-established skips dialing.
type Manager struct {
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu       sync.Mutex
	state    State
	lastErr  string
	endpoint string
	conn     *websocket.Conn
	retry    *time.Timer
	gen      int

	// writeMu serializes frame writes; gorilla/websocket allows only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	onMessage     func(text string)
	onStateChange func(state State, lastErr string)
}

// NewManager creates a connection manager.
func NewManager(config Config) *Manager {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}

	return &Manager{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		reconnectDelay: config.ReconnectDelay,
		state:          StateDisconnected,
	}
}

// SetOnMessage sets the callback for inbound text frames. Frames are
// delivered strictly in arrival order from a single receive goroutine.
func (m *Manager) SetOnMessage(callback func(text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = callback
}

// SetOnStateChange sets the callback for connection state transitions.
func (m *Manager) SetOnStateChange(callback func(state State, lastErr string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = callback
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns a human-readable description of the most recent
// failure, or "" after a successful connect.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect validates the endpoint URL and establishes the connection.
// A malformed URL fails with ErrInvalidEndpoint, leaves the state
// disconnected and schedules no retry. Connect is a no-op when a
// connection is already established or in flight.
func (m *Manager) Connect(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		m.mu.Lock()
		m.lastErr = fmt.Sprintf("invalid endpoint URL: %q", rawURL)
		lastErr := m.lastErr
		state := m.state
		cb := m.onStateChange
		m.mu.Unlock()

		if cb != nil {
			cb(state, lastErr)
		}
		return fmt.Errorf("%w: %q", model.ErrInvalidEndpoint, rawURL)
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.endpoint = rawURL
	m.mu.Unlock()

	return m.dial(rawURL)
}

// Reconnect re-establishes the connection to the most recent endpoint.
// It is a no-op when already connected or connecting, so a manual retry
// can never race a scheduled attempt into a second connection.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.endpoint == "" {
		m.mu.Unlock()
		return model.ErrInvalidEndpoint
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	endpoint := m.endpoint
	m.mu.Unlock()

	return m.dial(endpoint)
}

// Disconnect closes the active connection with a normal-closure code and
// cancels any pending reconnection attempt. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	// Invalidate the receive loop so its read error is not treated as a
	// lost connection.
	m.gen++
	conn := m.conn
	m.conn = nil
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	lastErr := m.lastErr
	cb := m.onStateChange
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	if changed && cb != nil {
		cb(StateDisconnected, lastErr)
	}
}

// Send transmits a single text frame. Callers are expected to hold off
// while disconnected; Send reports ErrNotConnected when they do not.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return model.ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// dial performs the transport handshake and starts the receive loop.
// The state is reported as connected as soon as the dial returns, with
// no further acknowledgment wait.
func (m *Manager) dial(endpoint string) error {
	m.setState(StateConnecting, "")

	conn, resp, err := m.dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.lastErr = "connection failed: " + err.Error()
		m.scheduleRetryLocked()
		lastErr := m.lastErr
		cb := m.onStateChange
		m.mu.Unlock()

		if cb != nil {
			cb(StateDisconnected, lastErr)
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh connection.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.lastErr = ""
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil {
		cb(StateConnected, "")
	}

	go m.receiveLoop(conn, gen)
	return nil
}

// receiveLoop awaits inbound frames and delivers text frames one at a
// time until the connection fails. Non-text frames are logged and
// ignored; they are never surfaced as data or error.
func (m *Manager) receiveLoop(conn *websocket.Conn, gen int) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadFailure(gen)
			return
		}

		if msgType != websocket.TextMessage {
			log.Printf("ignoring non-text frame (type %d, %d bytes)", msgType, len(data))
			continue
		}

		m.mu.Lock()
		callback := m.onMessage
		m.mu.Unlock()

		if callback != nil {
			callback(string(data))
		}
	}
}

// handleReadFailure records a lost connection and schedules the single
// reconnection attempt. Failures from a superseded connection generation
// (after Disconnect or a newer dial) are ignored.
func (m *Manager) handleReadFailure(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.lastErr = "connection lost"
	m.scheduleRetryLocked()
	lastErr := m.lastErr
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil {
		cb(StateDisconnected, lastErr)
	}
}

// scheduleRetryLocked arms the reconnection timer. The caller must hold mu.
func (m *Manager) scheduleRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(m.reconnectDelay, m.retryConnect)
}

// retryConnect runs when the reconnection timer fires. It skips dialing
// when the connection was re-established in the meantime.
func (m *Manager) retryConnect() {
	m.mu.Lock()
	if m.state != StateDisconnected || m.endpoint == "" {
		m.mu.Unlock()
		return
	}
	endpoint := m.endpoint
	m.mu.Unlock()

	if err := m.dial(endpoint); err != nil {
		log.Printf("reconnect to %s failed: %v", endpoint, err)
	}
}

// setState updates the state outside of a failure path and notifies the
// state-change callback.
func (m *Manager) setState(state State, lastErr string) {
	m.mu.Lock()
	m.state = state
	m.lastErr = lastErr
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil {
		cb(state, lastErr)
	}
}
