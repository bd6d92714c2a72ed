// Package channel maintains the persistent duplex connection to the
// remote controller: it receives commands targeting browser tabs,
// dispatches them, returns correlated results, and keeps the connection
// alive across transient failures with exponential-backoff reconnection.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// Status is the channel's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	// StatusClosed is the terminal state after an explicit Disconnect;
	// unlike StatusDisconnected it never triggers a reconnect.
	StatusClosed Status = "closed"
)

// Handler services one command and returns its result.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Result
}

// TabSource reports the currently active browser tab for the hello
// message sent after a successful open.
type TabSource interface {
	ActiveTabInfo(ctx context.Context) (TabInfo, error)
}

// StatusFunc observes connection status transitions.
type StatusFunc func(status Status, endpoint string)

// Manager owns the channel's process-wide connection state: the live
// connection, the reconnect-attempt counter, and the single pending
// reconnect timer. All three are private to the manager; there is at
// most one live connection and one pending timer at any time.
type Manager struct {
	handler    Handler
	tabs       TabSource
	onStatus   StatusFunc
	clientID   string
	dialer     websocket.Dialer
	backoff    func(attempt int) time.Duration
	cmdTimeout time.Duration

	mu       sync.Mutex
	endpoint string
	status   Status
	conn     *websocket.Conn
	attempts int
	timer    *time.Timer
	gen      int // connection generation; events from stale sockets are dropped

	writeMu sync.Mutex
}

// NewManager creates a channel manager. handler services inbound
// commands; tabs and onStatus may be nil.
func NewManager(cfg Config, handler Handler, tabs TabSource, onStatus StatusFunc) *Manager {
	return &Manager{
		handler:  handler,
		tabs:     tabs,
		onStatus: onStatus,
		clientID: uuid.NewString(),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.ResolveHandshakeTimeout(),
		},
		backoff:    cfg.ResolveBackoff(),
		cmdTimeout: cfg.ResolveCommandTimeout(),
		status:     StatusDisconnected,
	}
}

// Connect opens a connection to the endpoint. It is idempotent: if the
// channel is already open or connecting to the same endpoint it is a
// no-op. Otherwise any existing connection is torn down, the pending
// reconnect timer is cleared, the attempt counter reset, and a fresh
// dial started.
func (m *Manager) Connect(endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	m.mu.Lock()
	if m.endpoint == endpoint && (m.status == StatusOpen || m.status == StatusConnecting) {
		m.mu.Unlock()
		logging.L_debug("channel: already connected, ignoring", "endpoint", endpoint, "status", m.status)
		return nil
	}

	m.teardownLocked()
	m.endpoint = endpoint
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.mu.Unlock()

	logging.L_info("channel: connecting", "endpoint", endpoint)
	m.broadcast(StatusConnecting, endpoint)
	go m.dial(gen, endpoint)
	return nil
}

// Disconnect tears the channel down for good: it cancels any pending
// reconnect timer, resets the attempt counter, closes the live
// connection, and clears the stored endpoint. No automatic reconnection
// happens until Connect is called again; close events from the stale
// socket are ignored.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.attempts = 0
	m.endpoint = ""
	m.gen++
	m.status = StatusClosed
	m.mu.Unlock()

	logging.L_info("channel: disconnected")
	m.broadcast(StatusClosed, "")
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Endpoint returns the configured endpoint, empty after Disconnect.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Attempts returns the reconnect-attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// NotifyTabUpdate pushes a best-effort tab-activity notification when
// the channel is open. Failures are swallowed.
func (m *Manager) NotifyTabUpdate(info TabInfo) {
	if m.Status() != StatusOpen {
		return
	}
	msg := tabUpdateMessage{Type: "tabUpdate", TabID: info.ID, URL: info.URL, Title: info.Title}
	if err := m.sendJSON(msg); err != nil {
		logging.L_trace("channel: tab update dropped", "tab", info.ID, "error", err)
	}
}

// teardownLocked closes the live connection and clears the pending
// reconnect timer. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) dial(gen int, endpoint string) {
	wsURL := WebSocketURL(endpoint)
	conn, _, err := m.dialer.Dial(wsURL, nil) //nolint:bodyclose // upgrade response owned by gorilla/websocket
	if err != nil {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.status = StatusDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		logging.L_warn("channel: dial failed", "endpoint", endpoint, "error", err)
		m.broadcast(StatusDisconnected, endpoint)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.status = StatusOpen
	m.attempts = 0
	m.mu.Unlock()

	logging.L_info("channel: open", "endpoint", endpoint)
	m.broadcast(StatusOpen, endpoint)
	m.sendHello()
	go m.readLoop(gen, conn)
}

// readLoop consumes controller messages until the connection drops.
// Malformed payloads are logged and discarded; they never crash the
// channel. Each well-formed command is served on its own goroutine so a
// slow page action cannot stall the read loop.
func (m *Manager) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.L_warn("channel: read error", "error", err)
			}
			m.connLost(gen)
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logging.L_warn("channel: malformed message discarded", "error", err, "bytes", len(data))
			continue
		}
		if cmd.Type == "" {
			logging.L_warn("channel: message without type discarded")
			continue
		}

		go m.serve(cmd)
	}
}

// connLost handles an unexpected close. Stale sockets (superseded by a
// later Connect or an explicit Disconnect) are ignored so they cannot
// schedule spurious reconnects.
func (m *Manager) connLost(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	endpoint := m.endpoint
	m.status = StatusDisconnected
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	logging.L_info("channel: connection lost", "endpoint", endpoint)
	m.broadcast(StatusDisconnected, endpoint)
}

// scheduleReconnectLocked arms the reconnect timer, replacing any
// pending one first so at most one timer exists. The attempt counter
// increments on every failed/closed cycle and resets on open.
// Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.endpoint == "" {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	delay := m.backoff(m.attempts)
	m.attempts++
	gen := m.gen
	m.timer = time.AfterFunc(delay, func() { m.redial(gen) })
	logging.L_debug("channel: reconnect scheduled", "delay", delay, "attempt", m.attempts)
}

func (m *Manager) redial(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.endpoint == "" {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.gen++
	next := m.gen
	endpoint := m.endpoint
	m.status = StatusConnecting
	m.mu.Unlock()

	logging.L_debug("channel: reconnecting", "endpoint", endpoint)
	m.broadcast(StatusConnecting, endpoint)
	m.dial(next, endpoint)
}

// serve dispatches one command and writes its correlated result back
// over the channel. Results are fire-and-forget.
func (m *Manager) serve(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
	defer cancel()

	res := m.handler.Handle(ctx, cmd)
	if res.RequestID == "" {
		res.RequestID = cmd.RequestID
	}
	if err := m.sendJSON(res); err != nil {
		logging.L_warn("channel: result send failed", "requestId", cmd.RequestID, "error", err)
	}
}

// sendHello announces the client with the active tab's id/url/title.
// Falls back to a bare hello when the tab lookup fails.
func (m *Manager) sendHello() {
	hello := helloMessage{Type: "connected", ClientID: m.clientID}
	if m.tabs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if info, err := m.tabs.ActiveTabInfo(ctx); err == nil {
			id := info.ID
			hello.TabID = &id
			hello.URL = info.URL
			hello.Title = info.Title
		} else {
			logging.L_debug("channel: active tab lookup failed for hello", "error", err)
		}
	}
	if err := m.sendJSON(hello); err != nil {
		logging.L_warn("channel: hello send failed", "error", err)
	}
}

func (m *Manager) sendJSON(v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("channel not connected")
	}
	return conn.WriteJSON(v)
}

func (m *Manager) broadcast(status Status, endpoint string) {
	if m.onStatus != nil {
		m.onStatus(status, endpoint)
	}
}

// WebSocketURL converts an http(s) endpoint to its ws(s) equivalent.
// ws:// and wss:// endpoints pass through unchanged.
func WebSocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
