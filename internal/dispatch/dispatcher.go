// Package dispatch translates remote commands into concrete in-page
// actions and normalizes the results. A command failure is terminal only
// for that command's result, never for the channel.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gridcap/gridcap/internal/channel"
	. "github.com/gridcap/gridcap/internal/logging"
)

// Element is one interactive page element, as enumerated by the tab.
type Element struct {
	Ref      int    `json:"ref"`
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

// Tab is the set of page primitives the dispatcher drives. All methods
// are safe to call repeatedly; any page-side scripts they need are
// (re)injected idempotently by the implementation.
type Tab interface {
	QueryElements(ctx context.Context) ([]Element, error)
	ExtractContent(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string, x, y *int) error
	TypeText(ctx context.Context, selector, text string) error
	Navigate(ctx context.Context, url string) error
	Activate(ctx context.Context) error
	CaptureViewport(ctx context.Context) ([]byte, error)
}

// Tabs resolves a command's tab id to a live tab.
type Tabs interface {
	Lookup(ctx context.Context, id int) (Tab, error)
}

// Dispatcher maps command types to tab actions.
type Dispatcher struct {
	tabs   Tabs
	settle time.Duration // pause after activating a tab before capturing
}

// New creates a dispatcher. settle is the pause between foregrounding a
// tab and capturing it; <= 0 uses a 250ms default.
func New(tabs Tabs, settle time.Duration) *Dispatcher {
	if settle <= 0 {
		settle = 250 * time.Millisecond
	}
	return &Dispatcher{tabs: tabs, settle: settle}
}

// Handle services one command. Uncaught panics and all action errors are
// converted into {success:false, error} results so the channel never
// terminates because of a single command.
func (d *Dispatcher) Handle(ctx context.Context, cmd channel.Command) (res channel.Result) {
	defer func() {
		if r := recover(); r != nil {
			L_error("dispatch: panic servicing command", "type", cmd.Type, "requestId", cmd.RequestID, "panic", r)
			res = channel.Failure(cmd, fmt.Sprintf("internal error: %v", r))
		}
	}()

	L_debug("dispatch: command", "type", cmd.Type, "requestId", cmd.RequestID, "tab", cmd.TabID)

	// Parameter validation happens before any page action.
	switch cmd.Type {
	case channel.CmdClick:
		if cmd.Selector == "" && (cmd.X == nil || cmd.Y == nil) {
			return channel.Failure(cmd, "No selector or coordinates provided")
		}
	case channel.CmdNavigate:
		if cmd.URL == "" {
			return channel.Failure(cmd, "No URL provided")
		}
	}

	tab, err := d.tabs.Lookup(ctx, cmd.TabID)
	if err != nil {
		return channel.Failure(cmd, err.Error())
	}

	switch cmd.Type {
	case channel.CmdGetElements:
		elements, err := tab.QueryElements(ctx)
		if err != nil {
			return channel.Failure(cmd, err.Error())
		}
		return channel.Successful(cmd, map[string]interface{}{"elements": elements})

	case channel.CmdGetContent:
		markdown, err := tab.ExtractContent(ctx)
		if err != nil {
			return channel.Failure(cmd, err.Error())
		}
		return channel.Successful(cmd, map[string]interface{}{"markdown": markdown})

	case channel.CmdClick:
		if err := tab.Click(ctx, cmd.Selector, cmd.X, cmd.Y); err != nil {
			return channel.Failure(cmd, err.Error())
		}
		return channel.Successful(cmd, nil)

	case channel.CmdType:
		if err := tab.TypeText(ctx, cmd.Selector, cmd.Text); err != nil {
			return channel.Failure(cmd, err.Error())
		}
		return channel.Successful(cmd, nil)

	case channel.CmdNavigate:
		if err := tab.Navigate(ctx, cmd.URL); err != nil {
			return channel.Failure(cmd, err.Error())
		}
		return channel.Successful(cmd, nil)

	case channel.CmdScreenshot:
		return d.screenshot(ctx, cmd, tab)

	default:
		return channel.Failure(cmd, fmt.Sprintf("unknown command type: %s", cmd.Type))
	}
}

// screenshot foregrounds the tab (the capture primitive only sees the
// active tab), waits a short settle delay, then captures.
func (d *Dispatcher) screenshot(ctx context.Context, cmd channel.Command, tab Tab) channel.Result {
	if err := tab.Activate(ctx); err != nil {
		return channel.Failure(cmd, err.Error())
	}

	t := time.NewTimer(d.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return channel.Failure(cmd, ctx.Err().Error())
	case <-t.C:
	}

	img, err := tab.CaptureViewport(ctx)
	if err != nil {
		return channel.Failure(cmd, err.Error())
	}
	return channel.Successful(cmd, map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(img),
	})
}
