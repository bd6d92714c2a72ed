package channel

import "encoding/json"

// Command types accepted from the controller.
const (
	CmdGetElements = "getElements"
	CmdGetContent  = "getContent"
	CmdClick       = "click"
	CmdType        = "type"
	CmdNavigate    = "navigate"
	CmdScreenshot  = "screenshot"
)

// Command is an inbound controller message targeting a browser tab.
type Command struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	TabID     int    `json:"tabId"`

	// Command-specific parameters
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	X        *int   `json:"x,omitempty"`
	Y        *int   `json:"y,omitempty"`
}

// Result is the correlated reply for a command. Every accepted command
// yields exactly one result carrying the same request id, sent back over
// the channel. Payload fields are flattened into the JSON object next to
// the fixed fields.
type Result struct {
	RequestID string
	Success   bool
	Error     string
	Payload   map[string]interface{}
}

// Failure builds an error result for a command.
func Failure(cmd Command, msg string) Result {
	return Result{RequestID: cmd.RequestID, Error: msg}
}

// Successful builds a success result with an optional payload.
func Successful(cmd Command, payload map[string]interface{}) Result {
	return Result{RequestID: cmd.RequestID, Success: true, Payload: payload}
}

// MarshalJSON renders {type:"result", requestId, success, error?, ...payload}.
func (r Result) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Payload)+4)
	for k, v := range r.Payload {
		obj[k] = v
	}
	obj["type"] = "result"
	obj["requestId"] = r.RequestID
	obj["success"] = r.Success
	if r.Error != "" {
		obj["error"] = r.Error
	}
	return json.Marshal(obj)
}

// TabInfo identifies a browser tab for hello and tabUpdate messages.
type TabInfo struct {
	ID    int
	URL   string
	Title string
}

// helloMessage announces the client after a successful open. Tab fields
// are omitted when the active tab lookup fails.
type helloMessage struct {
	Type     string `json:"type"` // "connected"
	ClientID string `json:"clientId,omitempty"`
	TabID    *int   `json:"tabId,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
}

// tabUpdateMessage is the best-effort tab-activity notification.
type tabUpdateMessage struct {
	Type  string `json:"type"` // "tabUpdate"
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}
