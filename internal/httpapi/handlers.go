package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gridcap/gridcap/internal/capture"
	"github.com/gridcap/gridcap/internal/channel"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// CaptureRequest triggers one capture run.
type CaptureRequest struct {
	TabID    int    `json:"tabId,omitempty"`    // Target tab (0 = active tab)
	URL      string `json:"url,omitempty"`      // Open/navigate to this URL first
	Note     string `json:"note,omitempty"`     // Annotation for tile text
	Hidden   bool   `json:"hidden,omitempty"`   // Hidden flag for the batch
	Mode     string `json:"mode,omitempty"`     // "tiles" (default) or "text"
	Endpoint string `json:"endpoint,omitempty"` // Override configured submit endpoint
}

// CaptureSummary reports a completed capture run.
type CaptureSummary struct {
	SessionID string       `json:"sessionId"`
	Mode      string       `json:"mode"`
	Grid      capture.Grid `json:"grid"`
	Tiles     int          `json:"tiles"`
	Endpoint  string       `json:"endpoint"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := s.runner.RunCapture(r.Context(), req)
	if err != nil {
		logging.L_error("httpapi: capture failed", "error", err)
		var submitErr *capture.EndpointSubmissionError
		status := http.StatusInternalServerError
		if errors.As(err, &submitErr) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.channel.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel": map[string]interface{}{
			"status":    status,
			"connected": status == channel.StatusOpen,
			"endpoint":  s.channel.Endpoint(),
			"attempts":  s.channel.Attempts(),
		},
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.channel.Connect(req.Endpoint); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.channel.Status()})
}

// TabDetails describes one open browser tab.
type TabDetails struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tabs, err := s.tabs.ListTabs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tabs": tabs})
}

func (s *Server) handleTabActivate(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeTabID(w, r)
	if !ok {
		return
	}

	if err := s.tabs.ActivateTab(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

func (s *Server) handleTabClose(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeTabID(w, r)
	if !ok {
		return
	}

	if err := s.tabs.CloseTab(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

// decodeTabID parses the {"id": n} body shared by the tab routes. On
// failure it writes the error response and returns ok=false.
func decodeTabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}

	var req struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return 0, false
	}
	if req.ID == 0 {
		writeError(w, http.StatusBadRequest, "tab id is required")
		return 0, false
	}
	return req.ID, true
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.channel.Disconnect()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": s.channel.Status()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L_warn("httpapi: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}
