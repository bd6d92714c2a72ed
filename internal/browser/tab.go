package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gridcap/gridcap/internal/capture"
	"github.com/gridcap/gridcap/internal/dispatch"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// Tab wraps one browser page and exposes the primitives the capture
// engine and dispatcher drive. All page work goes through CDP
// evaluations, so repeated calls are inherently idempotent.
type Tab struct {
	id      int
	mgr     *Manager
	page    *rod.Page
	timeout time.Duration
}

// TabInfo describes a tab for status and channel notifications.
type TabInfo struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ID returns the tab's registry id.
func (t *Tab) ID() int { return t.id }

// Info returns the tab's current URL and title.
func (t *Tab) Info(ctx context.Context) (TabInfo, error) {
	info, err := t.bound(ctx).Info()
	if err != nil {
		return TabInfo{}, fmt.Errorf("failed to get page info: %w", err)
	}
	return TabInfo{ID: t.id, URL: info.URL, Title: info.Title}, nil
}

// Metrics reports full page and viewport dimensions.
func (t *Tab) Metrics(ctx context.Context) (capture.Metrics, error) {
	res, err := t.bound(ctx).Eval(`() => ({
		pageWidth: Math.max(document.documentElement.scrollWidth, document.body ? document.body.scrollWidth : 0),
		pageHeight: Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0),
		viewportWidth: window.innerWidth,
		viewportHeight: window.innerHeight
	})`)
	if err != nil {
		return capture.Metrics{}, fmt.Errorf("dimension query failed: %w", err)
	}

	var m capture.Metrics
	if err := json.Unmarshal([]byte(res.Value.String()), &m); err != nil {
		return capture.Metrics{}, fmt.Errorf("dimension query returned invalid data: %w", err)
	}
	return m, nil
}

// ScrollTo scrolls the page so (x, y) is the viewport origin.
func (t *Tab) ScrollTo(ctx context.Context, x, y int) error {
	_, err := t.bound(ctx).Eval(`(x, y) => window.scrollTo(x, y)`, x, y)
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// ResetScroll returns the page to the origin.
func (t *Tab) ResetScroll(ctx context.Context) error {
	return t.ScrollTo(ctx, 0, 0)
}

// CaptureViewport captures the visible viewport as PNG bytes. A
// rate-limit rejection from the capture backend is reported as a wrap
// of capture.ErrRateLimited so the engine can retry it.
func (t *Tab) CaptureViewport(ctx context.Context) ([]byte, error) {
	img, err := t.bound(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %v", capture.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("failed to capture viewport: %w", err)
	}
	return img, nil
}

// isRateLimited recognizes capture-backend throttling errors, which are
// the only retryable capture failures.
func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many") || strings.Contains(msg, "rate limit")
}

// QueryElements enumerates interactive elements in one page-side pass.
func (t *Tab) QueryElements(ctx context.Context) ([]dispatch.Element, error) {
	res, err := t.bound(ctx).Eval(`() => {
		const selector = 'a, button, input, select, textarea, [role="button"], [role="link"], [onclick]';
		const nodeList = document.querySelectorAll(selector);
		const results = [];
		const len = Math.min(nodeList.length, 200);

		for (let i = 0; i < len; i++) {
			const el = nodeList[i];
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			if (rect.width <= 0 || rect.height <= 0 ||
				style.display === 'none' || style.visibility === 'hidden') {
				continue;
			}

			let label = (el.textContent || '').trim();
			if (label.length > 100) label = '';
			if (!label) {
				label = el.getAttribute('aria-label') ||
					el.getAttribute('title') ||
					el.getAttribute('placeholder') ||
					el.getAttribute('name') || '';
			}

			let sel = el.tagName.toLowerCase();
			if (el.id) sel = '#' + CSS.escape(el.id);

			results.push({
				ref: results.length + 1,
				tag: el.tagName.toLowerCase(),
				selector: sel,
				text: label.substring(0, 80).replace(/[\n\t]+/g, ' ').trim()
			});
		}
		return results;
	}`)
	if err != nil {
		return nil, fmt.Errorf("element query failed: %w", err)
	}

	var elements []dispatch.Element
	if err := json.Unmarshal([]byte(res.Value.String()), &elements); err != nil {
		return nil, fmt.Errorf("element query returned invalid data: %w", err)
	}
	return elements, nil
}

// Click clicks an element by selector, or clicks at page coordinates
// when no selector is given. One of the two must be present.
func (t *Tab) Click(ctx context.Context, selector string, x, y *int) error {
	if selector == "" && (x == nil || y == nil) {
		return errors.New("click requires a selector or coordinates")
	}

	page := t.bound(ctx)

	if selector != "" {
		el, err := page.Element(selector)
		if err != nil {
			return fmt.Errorf("element not found: %s", selector)
		}
		if err := el.ScrollIntoView(); err != nil {
			logging.L_warn("browser: failed to scroll into view", "selector", selector, "error", err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}
	} else {
		if err := page.Mouse.MoveTo(proto.NewPoint(float64(*x), float64(*y))); err != nil {
			return fmt.Errorf("mouse move failed: %w", err)
		}
		if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}
	}

	page.WaitStable(time.Second)
	logging.L_debug("browser: clicked", "tab", t.id, "selector", selector)
	return nil
}

// TypeText types text into the element matching selector, or into
// whatever element currently holds input focus when selector is empty.
func (t *Tab) TypeText(ctx context.Context, selector, text string) error {
	page := t.bound(ctx)

	if selector != "" {
		el, err := page.Element(selector)
		if err != nil {
			return fmt.Errorf("element not found: %s", selector)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("failed to focus element: %w", err)
		}
		if err := el.Input(text); err != nil {
			return fmt.Errorf("type failed: %w", err)
		}
		return nil
	}

	res, err := page.Eval(`() => {
		const el = document.activeElement;
		return !!(el && el !== document.body && el.tagName !== 'HTML');
	}`)
	if err != nil {
		return fmt.Errorf("focus check failed: %w", err)
	}
	if !res.Value.Bool() {
		return errors.New("No element is focused")
	}
	if err := page.InsertText(text); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

// Navigate updates the tab's location and waits for the load to finish.
// Only http and https URLs are accepted.
func (t *Tab) Navigate(ctx context.Context, urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("unsupported URL scheme: %s", urlStr)
	}

	page := t.bound(ctx)
	if err := page.Navigate(urlStr); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		logging.L_warn("browser: page load wait failed", "url", urlStr, "error", err)
	}
	logging.L_debug("browser: navigated", "tab", t.id, "url", urlStr)
	if t.mgr != nil {
		t.mgr.reportActivity(ctx, t)
	}
	return nil
}

// Activate brings the tab to the foreground and makes it the manager's
// active tab. The capture backend only sees the active tab.
func (t *Tab) Activate(ctx context.Context) error {
	if _, err := t.bound(ctx).Activate(); err != nil {
		return fmt.Errorf("failed to activate tab: %w", err)
	}
	if t.mgr != nil {
		t.mgr.markActive(ctx, t)
	}
	return nil
}

// bound returns the page bound to both ctx and the tab's own timeout.
func (t *Tab) bound(ctx context.Context) *rod.Page {
	return t.page.Context(ctx).Timeout(t.timeout)
}
