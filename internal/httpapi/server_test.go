package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridcap/gridcap/internal/capture"
	"github.com/gridcap/gridcap/internal/channel"
)

type fakeRunner struct {
	summary CaptureSummary
	err     error
	got     CaptureRequest
}

func (f *fakeRunner) RunCapture(ctx context.Context, req CaptureRequest) (CaptureSummary, error) {
	f.got = req
	return f.summary, f.err
}

type fakeChannel struct {
	status     channel.Status
	endpoint   string
	attempts   int
	connectErr error

	connected    string
	disconnected bool
}

func (f *fakeChannel) Connect(endpoint string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = endpoint
	f.status = channel.StatusConnecting
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.disconnected = true
	f.status = channel.StatusClosed
}

func (f *fakeChannel) Status() channel.Status { return f.status }
func (f *fakeChannel) Endpoint() string       { return f.endpoint }
func (f *fakeChannel) Attempts() int          { return f.attempts }

type fakeTabControl struct {
	tabs      []TabDetails
	listErr   error
	activated int
	closed    int
	err       error
}

func (f *fakeTabControl) ListTabs(ctx context.Context) ([]TabDetails, error) {
	return f.tabs, f.listErr
}

func (f *fakeTabControl) ActivateTab(ctx context.Context, id int) error {
	if f.err != nil {
		return f.err
	}
	f.activated = id
	return nil
}

func (f *fakeTabControl) CloseTab(id int) error {
	if f.err != nil {
		return f.err
	}
	f.closed = id
	return nil
}

func testServer(runner *fakeRunner, ch *fakeChannel, token string) *httptest.Server {
	return testServerWithTabs(runner, ch, &fakeTabControl{}, token)
}

func testServerWithTabs(runner *fakeRunner, ch *fakeChannel, tabs *fakeTabControl, token string) *httptest.Server {
	s := NewServer(Config{Token: token}, runner, ch, tabs)
	return httptest.NewServer(s.setupRoutes())
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var obj map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return obj
}

func TestHandleCapture(t *testing.T) {
	runner := &fakeRunner{summary: CaptureSummary{
		SessionID: "s1",
		Mode:      "tiles",
		Grid:      capture.Grid{Columns: 1, Rows: 3},
		Tiles:     3,
		Endpoint:  "https://sink.example/batch",
	}}
	srv := testServer(runner, &fakeChannel{status: channel.StatusDisconnected}, "")
	defer srv.Close()

	body := `{"tabId": 2, "note": "hi", "hidden": true}`
	resp, err := http.Post(srv.URL+"/capture", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	obj := decodeBody(t, resp)
	if obj["sessionId"] != "s1" || obj["tiles"] != float64(3) {
		t.Errorf("body = %v", obj)
	}
	if runner.got.TabID != 2 || runner.got.Note != "hi" || !runner.got.Hidden {
		t.Errorf("request not forwarded: %+v", runner.got)
	}
}

func TestHandleCaptureSubmissionFailure(t *testing.T) {
	runner := &fakeRunner{err: &capture.EndpointSubmissionError{
		Endpoint:   "https://sink.example/batch",
		StatusCode: 503,
		Reason:     "503 Service Unavailable",
	}}
	srv := testServer(runner, &fakeChannel{}, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/capture", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	obj := decodeBody(t, resp)
	if obj["success"] != false {
		t.Errorf("body = %v", obj)
	}
}

func TestHandleCaptureOtherFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no capture endpoint configured")}
	srv := testServer(runner, &fakeChannel{}, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/capture", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandleCaptureMethodNotAllowed(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeChannel{}, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/capture")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	ch := &fakeChannel{status: channel.StatusOpen, endpoint: "https://ctrl.example/ws", attempts: 0}
	srv := testServer(&fakeRunner{}, ch, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	obj := decodeBody(t, resp)
	chObj, ok := obj["channel"].(map[string]interface{})
	if !ok {
		t.Fatalf("body = %v", obj)
	}
	if chObj["status"] != "open" || chObj["connected"] != true {
		t.Errorf("channel = %v", chObj)
	}
	if chObj["endpoint"] != "https://ctrl.example/ws" {
		t.Errorf("endpoint = %v", chObj["endpoint"])
	}
}

func TestHandleConnect(t *testing.T) {
	ch := &fakeChannel{status: channel.StatusDisconnected}
	srv := testServer(&fakeRunner{}, ch, "")
	defer srv.Close()

	body := `{"endpoint": "https://ctrl.example/ws"}`
	resp, err := http.Post(srv.URL+"/connect", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ch.connected != "https://ctrl.example/ws" {
		t.Errorf("connect endpoint = %q", ch.connected)
	}
}

func TestHandleConnectBadEndpoint(t *testing.T) {
	ch := &fakeChannel{connectErr: errors.New("endpoint is required")}
	srv := testServer(&fakeRunner{}, ch, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/connect", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleDisconnect(t *testing.T) {
	ch := &fakeChannel{status: channel.StatusOpen}
	srv := testServer(&fakeRunner{}, ch, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/disconnect", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if !ch.disconnected {
		t.Error("disconnect not forwarded")
	}
}

func TestHandleTabs(t *testing.T) {
	tabs := &fakeTabControl{tabs: []TabDetails{
		{ID: 1, URL: "https://example.com", Title: "Example", Active: false},
		{ID: 2, URL: "https://example.org", Title: "Org", Active: true},
	}}
	srv := testServerWithTabs(&fakeRunner{}, &fakeChannel{}, tabs, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tabs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	obj := decodeBody(t, resp)
	list, ok := obj["tabs"].([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("body = %v", obj)
	}
	second, _ := list[1].(map[string]interface{})
	if second["id"] != float64(2) || second["active"] != true {
		t.Errorf("tab = %v", second)
	}
}

func TestHandleTabActivate(t *testing.T) {
	tabs := &fakeTabControl{}
	srv := testServerWithTabs(&fakeRunner{}, &fakeChannel{}, tabs, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tabs/activate", "application/json", strings.NewReader(`{"id": 3}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if tabs.activated != 3 {
		t.Errorf("activated = %d, want 3", tabs.activated)
	}
}

func TestHandleTabClose(t *testing.T) {
	tabs := &fakeTabControl{}
	srv := testServerWithTabs(&fakeRunner{}, &fakeChannel{}, tabs, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tabs/close", "application/json", strings.NewReader(`{"id": 5}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if tabs.closed != 5 {
		t.Errorf("closed = %d, want 5", tabs.closed)
	}
}

func TestHandleTabRoutesRejectBadRequests(t *testing.T) {
	tabs := &fakeTabControl{err: errors.New("tab 9 not found")}
	srv := testServerWithTabs(&fakeRunner{}, &fakeChannel{}, tabs, "")
	defer srv.Close()

	// Missing id
	resp, err := http.Post(srv.URL+"/tabs/close", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// Unknown tab
	resp, err = http.Post(srv.URL+"/tabs/activate", "application/json", strings.NewReader(`{"id": 9}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	// Wrong method
	resp, err = http.Get(srv.URL + "/tabs/close")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeChannel{}, "sekret")
	defer srv.Close()

	// Missing token
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	// Correct token from a different client IP so the failure above does
	// not rate limit us.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	req.Header.Set("X-Forwarded-For", "10.1.1.2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthLimiter(t *testing.T) {
	l := NewAuthLimiter(time.Minute)
	if l.IsLimited("1.2.3.4") {
		t.Error("fresh IP should not be limited")
	}
	l.RecordFailure("1.2.3.4")
	if !l.IsLimited("1.2.3.4") {
		t.Error("IP should be limited after a failure")
	}
	if l.IsLimited("5.6.7.8") {
		t.Error("other IPs unaffected")
	}
	l.ClearFailure("1.2.3.4")
	if l.IsLimited("1.2.3.4") {
		t.Error("cleared IP should not be limited")
	}
}

func TestAuthLimitedRequestRejected(t *testing.T) {
	srv := testServer(&fakeRunner{}, &fakeChannel{}, "sekret")
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// Even the correct token is refused during the cooldown.
	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req2.Header.Set("Authorization", "Bearer sekret")
	req2.Header.Set("X-Forwarded-For", "10.9.9.9")
	resp, err = http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}
