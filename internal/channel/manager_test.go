package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades inbound connections and exposes them on a channel so
// tests can drive the controller side of the protocol.
type wsServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	upgrades atomic.Int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.upgrades.Add(1)
		s.conns <- conn
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

type fakeHandler struct {
	fn func(cmd Command) Result
}

func (h *fakeHandler) Handle(ctx context.Context, cmd Command) Result {
	if h.fn != nil {
		return h.fn(cmd)
	}
	return Successful(cmd, nil)
}

type fakeTabs struct {
	info TabInfo
	err  error
}

func (f *fakeTabs) ActiveTabInfo(ctx context.Context) (TabInfo, error) {
	return f.info, f.err
}

func testConfig() Config {
	return Config{
		HandshakeTimeout: "2s",
		BackoffBase:      "20ms",
		BackoffMax:       "100ms",
		CommandTimeout:   "2s",
	}
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", m.Status(), want)
}

func TestConnectSendsHello(t *testing.T) {
	srv := newWSServer(t)
	tabs := &fakeTabs{info: TabInfo{ID: 3, URL: "https://example.com", Title: "Example"}}
	m := NewManager(testConfig(), &fakeHandler{}, tabs, nil)
	defer m.Disconnect()

	if err := m.Connect(srv.URL); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	conn := srv.accept(t)
	hello := readJSON(t, conn)
	if hello["type"] != "connected" {
		t.Errorf("hello type = %v", hello["type"])
	}
	if hello["clientId"] == "" || hello["clientId"] == nil {
		t.Error("hello carries no client id")
	}
	if hello["tabId"] != float64(3) {
		t.Errorf("hello tabId = %v, want 3", hello["tabId"])
	}
	if hello["url"] != "https://example.com" {
		t.Errorf("hello url = %v", hello["url"])
	}
	waitStatus(t, m, StatusOpen)
}

func TestConnectRequiresEndpoint(t *testing.T) {
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	if err := m.Connect(""); err == nil {
		t.Fatal("expected an error for an empty endpoint")
	}
}

func TestConnectIdempotent(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	srv.accept(t)
	waitStatus(t, m, StatusOpen)

	// A second connect to the same endpoint must not open a new socket.
	m.Connect(srv.URL)
	time.Sleep(100 * time.Millisecond)
	if n := srv.upgrades.Load(); n != 1 {
		t.Errorf("got %d connections, want 1", n)
	}
}

func TestCommandResultCorrelation(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{fn: func(cmd Command) Result {
		if cmd.Type != "navigate" || cmd.URL != "" {
			t.Errorf("unexpected command: %+v", cmd)
		}
		return Failure(cmd, "No URL provided")
	}}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	conn := srv.accept(t)
	readJSON(t, conn) // hello

	if err := conn.WriteJSON(map[string]interface{}{"type": "navigate", "requestId": "r1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	res := readJSON(t, conn)
	want := map[string]interface{}{
		"type":      "result",
		"requestId": "r1",
		"success":   false,
		"error":     "No URL provided",
	}
	for k, v := range want {
		if res[k] != v {
			t.Errorf("result[%q] = %v, want %v", k, res[k], v)
		}
	}
}

func TestMalformedMessagesDiscarded(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	conn := srv.accept(t)
	readJSON(t, conn) // hello

	// Garbage and typeless messages must be dropped without killing the
	// connection.
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	conn.WriteJSON(map[string]interface{}{"requestId": "r0"})
	conn.WriteJSON(map[string]interface{}{"type": "screenshot", "requestId": "r1"})

	res := readJSON(t, conn)
	if res["requestId"] != "r1" {
		t.Errorf("requestId = %v, want r1", res["requestId"])
	}
	waitStatus(t, m, StatusOpen)
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	conn := srv.accept(t)
	waitStatus(t, m, StatusOpen)

	conn.Close()
	// The manager must dial again on its own after the backoff delay.
	conn2 := srv.accept(t)
	defer conn2.Close()
	hello := readJSON(t, conn2)
	if hello["type"] != "connected" {
		t.Errorf("reconnect hello type = %v", hello["type"])
	}
	waitStatus(t, m, StatusOpen)
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)

	m.Connect(srv.URL)
	srv.accept(t)
	waitStatus(t, m, StatusOpen)

	m.Disconnect()
	if m.Status() != StatusClosed {
		t.Errorf("status = %s, want %s", m.Status(), StatusClosed)
	}
	if m.Endpoint() != "" {
		t.Errorf("endpoint = %q, want empty", m.Endpoint())
	}

	// The stale socket's close event and any timer from the old
	// generation must not dial again.
	time.Sleep(300 * time.Millisecond)
	if n := srv.upgrades.Load(); n != 1 {
		t.Errorf("got %d connections after disconnect, want 1", n)
	}
	if m.Status() != StatusClosed {
		t.Errorf("status = %s after disconnect, want %s", m.Status(), StatusClosed)
	}
}

func TestConnectAfterDisconnect(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	srv.accept(t)
	waitStatus(t, m, StatusOpen)

	m.Disconnect()
	m.Connect(srv.URL)
	srv.accept(t)
	waitStatus(t, m, StatusOpen)
	if m.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after clean connect", m.Attempts())
	}
}

func TestNotifyTabUpdate(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	defer m.Disconnect()

	m.Connect(srv.URL)
	conn := srv.accept(t)
	readJSON(t, conn) // hello
	waitStatus(t, m, StatusOpen)

	m.NotifyTabUpdate(TabInfo{ID: 4, URL: "https://example.com/next", Title: "Next"})

	msg := readJSON(t, conn)
	if msg["type"] != "tabUpdate" {
		t.Errorf("type = %v", msg["type"])
	}
	if msg["tabId"] != float64(4) {
		t.Errorf("tabId = %v, want 4", msg["tabId"])
	}
	if msg["url"] != "https://example.com/next" || msg["title"] != "Next" {
		t.Errorf("msg = %v", msg)
	}
}

func TestNotifyTabUpdateDroppedWhenNotOpen(t *testing.T) {
	m := NewManager(testConfig(), &fakeHandler{}, nil, nil)
	// Must be a silent no-op with no connection.
	m.NotifyTabUpdate(TabInfo{ID: 1, URL: "https://example.com", Title: "Example"})
	if m.Status() != StatusDisconnected {
		t.Errorf("status = %s", m.Status())
	}
}

func TestStatusBroadcasts(t *testing.T) {
	srv := newWSServer(t)
	statuses := make(chan Status, 16)
	m := NewManager(testConfig(), &fakeHandler{}, nil, func(status Status, endpoint string) {
		statuses <- status
	})

	m.Connect(srv.URL)
	srv.accept(t)
	waitStatus(t, m, StatusOpen)
	m.Disconnect()

	var seen []Status
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case s := <-statuses:
			seen = append(seen, s)
		case <-timeout:
			t.Fatalf("only saw %v", seen)
		}
	}
	want := []Status{StatusConnecting, StatusOpen, StatusClosed}
	for i, s := range want {
		if seen[i] != s {
			t.Errorf("transition %d = %s, want %s", i, seen[i], s)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://ctrl.local:9000/ws", "ws://ctrl.local:9000/ws"},
		{"https://ctrl.local/ws", "wss://ctrl.local/ws"},
		{"ws://ctrl.local/ws", "ws://ctrl.local/ws"},
		{"wss://ctrl.local/ws", "wss://ctrl.local/ws"},
	}
	for _, tt := range tests {
		if got := WebSocketURL(tt.in); got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
