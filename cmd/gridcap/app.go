package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/gridcap/gridcap/internal/browser"
	"github.com/gridcap/gridcap/internal/capture"
	"github.com/gridcap/gridcap/internal/channel"
	"github.com/gridcap/gridcap/internal/config"
	"github.com/gridcap/gridcap/internal/dispatch"
	"github.com/gridcap/gridcap/internal/httpapi"
	. "github.com/gridcap/gridcap/internal/logging"
	"github.com/gridcap/gridcap/internal/retry"
)

// App wires the browser, capture engine, command channel and control API
// together and owns their lifecycles.
type App struct {
	cfg       *config.Config
	browser   *browser.Manager
	engine    *capture.Engine
	assembler *capture.Assembler
	channel   *channel.Manager
	api       *httpapi.Server
	cron      *cron.Cron
}

func newApp(cfg *config.Config) (*App, error) {
	mgr, err := browser.NewManager(cfg.Browser)
	if err != nil {
		return nil, fmt.Errorf("browser manager: %w", err)
	}

	app := &App{
		cfg:     cfg,
		browser: mgr,
		engine: capture.NewEngine(
			cfg.Capture.ResolveSettleDelay(),
			retry.Policy{
				MaxAttempts: cfg.Capture.CaptureAttempts,
				Backoff:     retry.Fixed(cfg.Capture.ResolveCaptureBackoff()),
			},
			func(p capture.Progress) error {
				L_debug("capture progress: tile %d/%d", p.Index, p.Total)
				return nil
			},
		),
		assembler: capture.NewAssembler(cfg.Capture.ResolveSubmitTimeout(), cfg.Capture.MaxTileDim),
	}

	dispatcher := dispatch.New(&tabResolver{mgr: mgr}, 0)
	app.channel = channel.NewManager(cfg.Channel, dispatcher, &tabSource{mgr: mgr},
		func(status channel.Status, endpoint string) {
			L_info("channel %s: %s", status, endpoint)
		})

	// Forward tab activity so the controller can track what the browser
	// is looking at.
	mgr.OnTabActivity(func(id int, url, title string) {
		app.channel.NotifyTabUpdate(channel.TabInfo{ID: id, URL: url, Title: title})
	})

	app.api = httpapi.NewServer(cfg.API, app, app.channel, &tabAdmin{mgr: mgr})

	if cfg.Capture.Schedule != "" {
		app.cron = cron.New()
		_, err := app.cron.AddFunc(cfg.Capture.Schedule, app.runScheduledCapture)
		if err != nil {
			return nil, fmt.Errorf("invalid capture schedule %q: %w", cfg.Capture.Schedule, err)
		}
	}

	return app, nil
}

// Start brings up the control API, the capture schedule, and (when an
// endpoint is configured) the command channel.
func (a *App) Start() error {
	if err := a.api.Start(); err != nil {
		return err
	}
	if a.cron != nil {
		a.cron.Start()
		L_info("capture schedule active: %s", a.cfg.Capture.Schedule)
	}
	if a.cfg.Channel.Endpoint != "" {
		if err := a.channel.Connect(a.cfg.Channel.Endpoint); err != nil {
			L_warn("channel connect failed: %v", err)
		}
	}
	return nil
}

// Stop tears everything down in reverse order.
func (a *App) Stop() {
	if a.cron != nil {
		ctx := a.cron.Stop()
		<-ctx.Done()
	}
	a.channel.Disconnect()
	if err := a.api.Stop(); err != nil {
		L_warn("api shutdown: %v", err)
	}
	a.browser.Close()
}

// RunCapture performs one capture run: resolve the target tab, capture
// it (tiled screenshots or extracted text), and submit the batch.
func (a *App) RunCapture(ctx context.Context, req httpapi.CaptureRequest) (httpapi.CaptureSummary, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = a.cfg.Capture.Endpoint
	}
	if endpoint == "" {
		return httpapi.CaptureSummary{}, errors.New("no capture endpoint configured")
	}

	tab, err := a.resolveTab(ctx, req)
	if err != nil {
		return httpapi.CaptureSummary{}, err
	}

	if req.Mode == "text" {
		text, err := tab.ExtractContent(ctx)
		if err != nil {
			return httpapi.CaptureSummary{}, fmt.Errorf("content extraction failed: %w", err)
		}
		if req.Note != "" {
			text = req.Note + "\n\n" + text
		}
		if err := a.assembler.SubmitText(ctx, endpoint, text, req.Hidden); err != nil {
			return httpapi.CaptureSummary{}, err
		}
		return httpapi.CaptureSummary{Mode: "text", Tiles: 1, Endpoint: endpoint}, nil
	}

	session, err := a.engine.Run(ctx, tab.ID(), tab, req.Note, req.Hidden)
	if err != nil {
		return httpapi.CaptureSummary{}, err
	}
	if err := a.assembler.Submit(ctx, endpoint, session); err != nil {
		return httpapi.CaptureSummary{}, err
	}

	return httpapi.CaptureSummary{
		SessionID: session.ID,
		Mode:      "tiles",
		Grid:      session.Grid,
		Tiles:     len(session.Tiles),
		Endpoint:  endpoint,
	}, nil
}

func (a *App) resolveTab(ctx context.Context, req httpapi.CaptureRequest) (*browser.Tab, error) {
	if req.URL != "" {
		return a.browser.OpenTab(ctx, req.URL)
	}
	if req.TabID != 0 {
		return a.browser.Tab(req.TabID)
	}
	return a.browser.ActiveTab()
}

func (a *App) runScheduledCapture() {
	cfg := a.cfg.Capture
	req := httpapi.CaptureRequest{
		URL:    cfg.ScheduleURL,
		Note:   cfg.Note,
		Hidden: cfg.Hidden,
		Mode:   cfg.Mode,
	}
	summary, err := a.RunCapture(context.Background(), req)
	if err != nil {
		L_error("scheduled capture failed: %v", err)
		return
	}
	L_info("scheduled capture done: session %s, %d tiles", summary.SessionID, summary.Tiles)
}

// tabSource adapts the browser manager to the channel's hello-message
// needs.
type tabSource struct {
	mgr *browser.Manager
}

func (s *tabSource) ActiveTabInfo(ctx context.Context) (channel.TabInfo, error) {
	tab, err := s.mgr.ActiveTab()
	if err != nil {
		return channel.TabInfo{}, err
	}
	info, err := tab.Info(ctx)
	if err != nil {
		return channel.TabInfo{}, err
	}
	return channel.TabInfo{ID: info.ID, URL: info.URL, Title: info.Title}, nil
}

// tabResolver adapts the browser manager to the dispatcher's tab lookup.
// Id 0 means the active tab.
type tabResolver struct {
	mgr *browser.Manager
}

func (r *tabResolver) Lookup(ctx context.Context, id int) (dispatch.Tab, error) {
	if id == 0 {
		return r.mgr.ActiveTab()
	}
	return r.mgr.Tab(id)
}

// tabAdmin adapts the browser manager to the control API's tab routes.
type tabAdmin struct {
	mgr *browser.Manager
}

func (a *tabAdmin) ListTabs(ctx context.Context) ([]httpapi.TabDetails, error) {
	infos, activeID := a.mgr.ListTabs(ctx)
	tabs := make([]httpapi.TabDetails, 0, len(infos))
	for _, info := range infos {
		tabs = append(tabs, httpapi.TabDetails{
			ID:     info.ID,
			URL:    info.URL,
			Title:  info.Title,
			Active: info.ID == activeID,
		})
	}
	return tabs, nil
}

func (a *tabAdmin) ActivateTab(ctx context.Context, id int) error {
	return a.mgr.SetActive(ctx, id)
}

func (a *tabAdmin) CloseTab(id int) error {
	return a.mgr.CloseTab(id)
}
