package capture

import (
	"context"
	"errors"
	"time"

	logging "github.com/gridcap/gridcap/internal/logging"
	"github.com/gridcap/gridcap/internal/retry"
)

// Target is the set of page primitives the engine needs from a tab.
type Target interface {
	// Metrics reports full page and viewport dimensions.
	Metrics(ctx context.Context) (Metrics, error)
	// ScrollTo scrolls the page so (x, y) is the viewport origin.
	ScrollTo(ctx context.Context, x, y int) error
	// ResetScroll returns the page to the origin.
	ResetScroll(ctx context.Context) error
	// CaptureViewport captures the visible viewport as PNG bytes.
	// A rate-limit rejection is reported as (a wrap of) ErrRateLimited.
	CaptureViewport(ctx context.Context) ([]byte, error)
}

// Progress is a best-effort per-tile progress notification.
type Progress struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// ProgressFunc receives progress notifications. Errors are swallowed:
// a missing listener never aborts a session.
type ProgressFunc func(Progress) error

// Engine produces an ordered row-major sequence of tiles covering the
// full scrollable area of a page. Tiles are captured strictly
// sequentially: the capture primitive and the scroll target are both
// tied to the one visible viewport.
type Engine struct {
	settle time.Duration
	policy retry.Policy
	notify ProgressFunc
}

// NewEngine creates an engine with the given settle delay and rate-limit
// retry policy. notify may be nil.
func NewEngine(settle time.Duration, policy retry.Policy, notify ProgressFunc) *Engine {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultCaptureAttempts
	}
	if policy.Backoff == nil {
		policy.Backoff = retry.Fixed(DefaultCaptureBackoff)
	}
	return &Engine{settle: settle, policy: policy, notify: notify}
}

// Run captures the full page of the target tab as an ordered tile
// sequence. On any failure the whole session is aborted; no partial
// result is returned. The page scroll position is reset to the origin
// before returning, success or not (best-effort on failure).
func (e *Engine) Run(ctx context.Context, tabID int, target Target, note string, hidden bool) (*Session, error) {
	m, err := target.Metrics(ctx)
	if err != nil {
		return nil, &DimensionQueryError{TabID: tabID, Err: err}
	}

	session := NewSession(tabID, m, note, hidden)
	total := session.Grid.Total()
	logging.L_info("capture: session started", "tab", tabID, "tiles", total, "pageWidth", m.PageWidth, "pageHeight", m.PageHeight)

	defer func() {
		if err := target.ResetScroll(context.WithoutCancel(ctx)); err != nil {
			logging.L_debug("capture: scroll reset failed", "tab", tabID, "error", err)
		}
	}()

	for row := 0; row < session.Grid.Rows; row++ {
		for col := 0; col < session.Grid.Columns; col++ {
			x := col * m.ViewportWidth
			y := row * m.ViewportHeight
			if err := target.ScrollTo(ctx, x, y); err != nil {
				return nil, err
			}
			if err := e.wait(ctx); err != nil {
				return nil, err
			}

			index := len(session.Tiles) + 1
			e.report(Progress{Index: index, Total: total})

			img, err := e.captureTile(ctx, target, index)
			if err != nil {
				return nil, err
			}
			session.Append(img, col, row)
			logging.L_debug("capture: tile captured", "tab", tabID, "index", index, "total", total, "col", col, "row", row, "bytes", len(img))
		}
	}

	logging.L_info("capture: session complete", "tab", tabID, "tiles", len(session.Tiles))
	return session, nil
}

// captureTile invokes the capture primitive, retrying only rate-limit
// rejections up to the policy bound. Any other error propagates
// immediately.
func (e *Engine) captureTile(ctx context.Context, target Target, index int) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		img, err := target.CaptureViewport(ctx)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		lastErr = err
		if e.policy.Exhausted(attempt + 1) {
			return nil, &RateLimitExceededError{Tile: index, Attempts: attempt + 1, Err: lastErr}
		}
		logging.L_warn("capture: rate limited, backing off", "tile", index, "attempt", attempt+1)
		if werr := e.policy.Wait(ctx, attempt); werr != nil {
			return nil, werr
		}
	}
}

// wait pauses for the settle delay so rendering stabilizes after a
// scroll. The delay also paces captures under the external rate limit.
func (e *Engine) wait(ctx context.Context) error {
	t := time.NewTimer(e.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) report(p Progress) {
	if e.notify == nil {
		return
	}
	if err := e.notify(p); err != nil {
		logging.L_trace("capture: progress notification dropped", "index", p.Index, "error", err)
	}
}
