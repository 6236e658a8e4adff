package connection

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bubblechat/core/internal/model"
	"github.com/bubblechat/core/internal/relay"
)

// startRelay runs the broadcast relay under httptest and returns its
// ws:// URL.
func startRelay(t *testing.T) (string, func()) {
	t.Helper()

	hub := relay.NewHub()
	handler := relay.NewHandler(hub)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.HandleConnection(w, r)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, func() {
		hub.Close()
		srv.Close()
	}
}

// droppingServer accepts WebSocket connections, counts them, and can
// drop them all to simulate a lost connection.
type droppingServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
}

func newDroppingServer(t *testing.T) *droppingServer {
	t.Helper()

	ds := &droppingServer{}
	ds.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ds.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ds.mu.Lock()
		ds.conns = append(ds.conns, conn)
		ds.accepted++
		ds.mu.Unlock()

		// Drain inbound frames so closes are noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					conn.Close()
					return
				}
			}
		}()
	}))
	return ds
}

func (ds *droppingServer) url() string {
	return "ws" + strings.TrimPrefix(ds.srv.URL, "http")
}

func (ds *droppingServer) acceptedCount() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.accepted
}

func (ds *droppingServer) dropAll() {
	ds.mu.Lock()
	conns := ds.conns
	ds.conns = nil
	ds.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (ds *droppingServer) close() {
	ds.dropAll()
	ds.srv.Close()
}

// trackStates registers a state-change listener and returns its channel.
func trackStates(m *Manager) <-chan State {
	states := make(chan State, 32)
	m.SetOnStateChange(func(state State, _ string) {
		states <- state
	})
	return states
}

func waitForState(t *testing.T, states <-chan State, want State) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case state := <-states:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestManager_ConnectInvalidEndpoint(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "no scheme", url: "not a url"},
		{name: "wrong scheme", url: "http://example.com/ws"},
		{name: "missing host", url: "ws://"},
		{name: "unparseable", url: "://bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{ReconnectDelay: 20 * time.Millisecond})

			err := m.Connect(tt.url)
			if !errors.Is(err, model.ErrInvalidEndpoint) {
				t.Fatalf("Connect(%q) error = %v, want ErrInvalidEndpoint", tt.url, err)
			}
			if m.State() != StateDisconnected {
				t.Errorf("State() = %q, want disconnected", m.State())
			}
			if m.LastError() == "" {
				t.Error("LastError() should describe the invalid endpoint")
			}

			// A malformed URL must not schedule a retry.
			time.Sleep(60 * time.Millisecond)
			if m.State() != StateDisconnected {
				t.Errorf("State() = %q after delay, want disconnected", m.State())
			}
		})
	}
}

func TestManager_ConnectClearsLastError(t *testing.T) {
	wsURL, cleanup := startRelay(t)
	defer cleanup()

	m := NewManager(Config{})
	defer m.Disconnect()

	if err := m.Connect("garbage"); err == nil {
		t.Fatal("Connect() expected error for garbage URL")
	}

	if err := m.Connect(wsURL); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %q, want connected", m.State())
	}
	if m.LastError() != "" {
		t.Errorf("LastError() = %q, want empty after successful connect", m.LastError())
	}

	// Connecting again while connected is a no-op.
	if err := m.Connect(wsURL); err != nil {
		t.Errorf("Connect() while connected returned %v, want nil", err)
	}
}

func TestManager_ReceiveInOrder(t *testing.T) {
	wsURL, cleanup := startRelay(t)
	defer cleanup()

	m := NewManager(Config{})
	defer m.Disconnect()

	inbound := make(chan string, 64)
	m.SetOnMessage(func(text string) {
		inbound <- text
	})
	states := trackStates(m)

	if err := m.Connect(wsURL); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	peer, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("peer dial failed: %v", err)
	}
	defer peer.Close()

	// Interleave a binary frame; it must be skipped without breaking
	// the ordering of the surrounding text frames.
	sent := []string{"one", "two", "three", "four", "five"}
	for i, text := range sent {
		if i == 2 {
			if err := peer.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
				t.Fatalf("peer binary write failed: %v", err)
			}
		}
		if err := peer.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			t.Fatalf("peer write failed: %v", err)
		}
	}

	for i, want := range sent {
		select {
		case got := <-inbound:
			if got != want {
				t.Fatalf("frame %d = %q, want %q", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	select {
	case extra := <-inbound:
		t.Fatalf("unexpected extra frame %q (binary frame leaked through?)", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_Send(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		m := NewManager(Config{})
		if err := m.Send([]byte("hello")); !errors.Is(err, model.ErrNotConnected) {
			t.Errorf("Send() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("delivers a text frame", func(t *testing.T) {
		wsURL, cleanup := startRelay(t)
		defer cleanup()

		m := NewManager(Config{})
		defer m.Disconnect()

		peer, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("peer dial failed: %v", err)
		}
		defer peer.Close()

		states := trackStates(m)
		if err := m.Connect(wsURL); err != nil {
			t.Fatalf("Connect() unexpected error: %v", err)
		}
		waitForState(t, states, StateConnected)

		if err := m.Send([]byte("hello")); err != nil {
			t.Fatalf("Send() unexpected error: %v", err)
		}

		peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := peer.ReadMessage()
		if err != nil {
			t.Fatalf("peer read failed: %v", err)
		}
		if msgType != websocket.TextMessage {
			t.Errorf("frame type = %d, want text", msgType)
		}
		if string(data) != "hello" {
			t.Errorf("frame = %q, want %q", data, "hello")
		}
	})
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	ds := newDroppingServer(t)
	defer ds.close()

	m := NewManager(Config{ReconnectDelay: 50 * time.Millisecond})
	defer m.Disconnect()
	states := trackStates(m)

	if err := m.Connect(ds.url()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	ds.dropAll()
	waitForState(t, states, StateDisconnected)

	if m.LastError() != "connection lost" {
		t.Errorf("LastError() = %q, want %q", m.LastError(), "connection lost")
	}

	// The single scheduled attempt re-establishes the connection.
	waitForState(t, states, StateConnected)
	if got := ds.acceptedCount(); got != 2 {
		t.Errorf("server accepted %d connections, want 2", got)
	}
	if m.LastError() != "" {
		t.Errorf("LastError() = %q, want empty after reconnect", m.LastError())
	}

	// No further attempts without a new failure.
	time.Sleep(200 * time.Millisecond)
	if got := ds.acceptedCount(); got != 2 {
		t.Errorf("server accepted %d connections after settling, want 2", got)
	}
}

func TestManager_ManualRetrySkipsScheduledAttempt(t *testing.T) {
	ds := newDroppingServer(t)
	defer ds.close()

	m := NewManager(Config{ReconnectDelay: 250 * time.Millisecond})
	defer m.Disconnect()
	states := trackStates(m)

	if err := m.Connect(ds.url()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	ds.dropAll()
	waitForState(t, states, StateDisconnected)

	// Beat the timer with a manual retry.
	if err := m.Reconnect(); err != nil {
		t.Fatalf("Reconnect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	// When the scheduled attempt fires it must find the connection up
	// and skip dialing.
	time.Sleep(600 * time.Millisecond)
	if got := ds.acceptedCount(); got != 2 {
		t.Errorf("server accepted %d connections, want 2 (scheduled attempt must skip)", got)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %q, want connected", m.State())
	}
}

func TestManager_DisconnectCancelsRetry(t *testing.T) {
	ds := newDroppingServer(t)
	defer ds.close()

	m := NewManager(Config{ReconnectDelay: 100 * time.Millisecond})
	states := trackStates(m)

	if err := m.Connect(ds.url()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	ds.dropAll()
	waitForState(t, states, StateDisconnected)

	m.Disconnect()

	time.Sleep(400 * time.Millisecond)
	if got := ds.acceptedCount(); got != 1 {
		t.Errorf("server accepted %d connections, want 1 (retry must be cancelled)", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q, want disconnected", m.State())
	}

	// Idempotent.
	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q after second Disconnect, want disconnected", m.State())
	}
}

func TestManager_DisconnectStopsDelivery(t *testing.T) {
	wsURL, cleanup := startRelay(t)
	defer cleanup()

	m := NewManager(Config{ReconnectDelay: 50 * time.Millisecond})
	states := trackStates(m)

	if err := m.Connect(wsURL); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	waitForState(t, states, StateConnected)

	m.Disconnect()

	if err := m.Send([]byte("hello")); !errors.Is(err, model.ErrNotConnected) {
		t.Errorf("Send() after Disconnect error = %v, want ErrNotConnected", err)
	}

	// The dropped connection's read failure must not schedule a retry.
	time.Sleep(200 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q, want disconnected", m.State())
	}
}
