package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logging "github.com/gridcap/gridcap/internal/logging"
)

// Record is one element of the outbound batch body.
type Record struct {
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"` // base64 PNG, screenshot mode only
	Hidden bool   `json:"hidden"`
}

// Assembler turns a completed capture session into one outbound
// submission. Delivery is all-or-nothing: either the server accepts the
// whole batch or the call fails with EndpointSubmissionError. Tiles are
// not cached for retry.
type Assembler struct {
	client     *http.Client
	maxTileDim int
}

// NewAssembler creates an assembler with a bounded HTTP timeout.
// maxTileDim bounds tile image dimensions; larger tiles are downscaled
// before encoding. 0 disables downscaling.
func NewAssembler(timeout time.Duration, maxTileDim int) *Assembler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Assembler{
		client:     &http.Client{Timeout: timeout},
		maxTileDim: maxTileDim,
	}
}

// Submit serializes the session's ordered tiles as one JSON array and
// POSTs it to the endpoint.
func (a *Assembler) Submit(ctx context.Context, endpoint string, s *Session) error {
	records := make([]Record, 0, len(s.Tiles))
	for _, tile := range s.Tiles {
		img := shrinkTile(tile.Image, a.maxTileDim)
		records = append(records, Record{
			Text:   tile.Text,
			Image:  base64.StdEncoding.EncodeToString(img),
			Hidden: tile.Hidden,
		})
	}
	logging.L_debug("capture: submitting batch", "endpoint", endpoint, "tiles", len(records))
	return a.post(ctx, endpoint, records)
}

// SubmitText submits a one-element batch carrying extracted page text
// instead of tiles.
func (a *Assembler) SubmitText(ctx context.Context, endpoint, text string, hidden bool) error {
	logging.L_debug("capture: submitting text batch", "endpoint", endpoint, "length", len(text))
	return a.post(ctx, endpoint, []Record{{Text: text, Hidden: hidden}})
}

func (a *Assembler) post(ctx context.Context, endpoint string, records []Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return &EndpointSubmissionError{Endpoint: endpoint, Err: fmt.Errorf("encode batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &EndpointSubmissionError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &EndpointSubmissionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := resp.Status
		if snippet := readSnippet(resp.Body); snippet != "" {
			reason = reason + ": " + snippet
		}
		return &EndpointSubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: reason}
	}

	logging.L_info("capture: batch accepted", "endpoint", endpoint, "records", len(records), "status", resp.StatusCode)
	return nil
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
