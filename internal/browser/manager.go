// Package browser drives a Chromium instance over CDP and exposes the
// page primitives the capture engine and dispatcher need: dimension
// query, scroll, viewport capture, content extraction, element
// enumeration, click, type, and navigation.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	logging "github.com/gridcap/gridcap/internal/logging"
)

// cleanupStaleLocks removes Chrome lock files left behind by crashed
// sessions. Chrome refuses to start if SingletonLock or friends exist.
func cleanupStaleLocks(profileDir string) {
	lockFiles := []string{
		"SingletonLock",
		"SingletonCookie",
		"SingletonSocket",
	}

	for _, lockFile := range lockFiles {
		lockPath := filepath.Join(profileDir, lockFile)
		if _, err := os.Stat(lockPath); err == nil {
			if err := os.Remove(lockPath); err != nil {
				logging.L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
			} else {
				logging.L_info("browser: removed stale lock file", "file", lockPath)
			}
		}
	}
}

// ActivityFunc observes tab activity: a tab opened, navigated, or
// brought to the foreground.
type ActivityFunc func(id int, url, title string)

// Manager owns the browser instance and the tab registry. The browser
// is launched lazily (or attached over CDP when chromeCDP is set) and
// reused for all tabs.
type Manager struct {
	config  Config
	homeDir string

	mu       sync.Mutex
	browser  *rod.Browser
	tabs     map[int]*Tab
	nextID   int
	activeID int

	onActivity ActivityFunc
}

// NewManager creates a browser manager. The browser itself is not
// started until the first tab is needed.
func NewManager(cfg Config) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Manager{
		config:  cfg,
		homeDir: homeDir,
		tabs:    make(map[int]*Tab),
		nextID:  1,
	}, nil
}

// OnTabActivity registers the tab-activity observer. Must be called
// before tabs are opened.
func (m *Manager) OnTabActivity(fn ActivityFunc) {
	m.onActivity = fn
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// browserLocked returns the live browser, launching or attaching on
// first use. Caller holds m.mu.
func (m *Manager) browserLocked() (*rod.Browser, error) {
	if m.browser != nil {
		// rod has no IsConnected; probe with a cheap call and recover
		// from a panic if the CDP client is already dead.
		connected := func() (ok bool) {
			defer func() {
				if r := recover(); r != nil {
					ok = false
				}
			}()
			_, err := m.browser.Call(nil, "", "Browser.getVersion", nil)
			return err == nil
		}()
		if connected {
			return m.browser, nil
		}
		logging.L_debug("browser: instance disconnected, relaunching")
		m.browser = nil
		m.tabs = make(map[int]*Tab)
		m.activeID = 0
	}

	var browser *rod.Browser
	var err error
	if m.config.ChromeCDP != "" {
		browser, err = m.attach()
	} else {
		browser, err = m.launch()
	}
	if err != nil {
		return nil, err
	}
	m.browser = browser
	return browser, nil
}

// launch starts a managed Chromium with the configured profile.
func (m *Manager) launch() (*rod.Browser, error) {
	profileDir := m.config.ResolveProfileDir(m.homeDir)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}
	cleanupStaleLocks(profileDir)

	logging.L_debug("browser: launching", "profileDir", profileDir, "headless", m.config.Headless)

	l := launcher.New().
		UserDataDir(profileDir).
		Headless(m.config.Headless).
		Set("disable-dev-shm-usage") // For Docker/limited memory

	if !m.config.Headless {
		// Headed Chrome defaults to a tiny window; force desktop layout.
		l = l.Set("window-size", "1920,1080").
			Set("start-maximized")
	}
	if m.config.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	if m.config.NoSandbox {
		l = l.Set("no-sandbox")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	// Rod defaults to LaptopWithMDPIScreen which constrains the viewport.
	browser.DefaultDevice(devices.Clear)

	logging.L_info("browser: launched", "controlURL", controlURL)
	return browser, nil
}

// attach connects to an already-running Chrome over its CDP endpoint.
func (m *Manager) attach() (*rod.Browser, error) {
	endpoint := m.config.ChromeCDP
	logging.L_info("browser: attaching to Chrome", "endpoint", endpoint)

	browser := rod.New().ControlURL(endpoint)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to attach to Chrome at %s: %w", endpoint, err)
	}
	return browser, nil
}

// OpenTab creates a new tab, optionally navigating it, registers it,
// and makes it the active tab.
func (m *Manager) OpenTab(ctx context.Context, url string) (*Tab, error) {
	m.mu.Lock()
	browser, err := m.browserLocked()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	var page *rod.Page
	if m.config.Stealth && m.config.ChromeCDP == "" {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	tab := &Tab{id: m.nextID, mgr: m, page: page, timeout: m.config.ResolveTimeout()}
	m.tabs[tab.id] = tab
	m.nextID++
	m.activeID = tab.id
	m.mu.Unlock()

	logging.L_info("browser: tab opened", "id", tab.id, "url", url)

	// Navigate reports activity itself once the load settles; a blank
	// tab has to be reported here.
	if url != "" {
		if err := tab.Navigate(ctx, url); err != nil {
			return nil, err
		}
	} else {
		m.reportActivity(ctx, tab)
	}
	return tab, nil
}

// Tab returns the registered tab with the given id.
func (m *Manager) Tab(id int) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("tab %d not found", id)
	}
	return tab, nil
}

// ActiveTab returns the currently active tab.
func (m *Manager) ActiveTab() (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[m.activeID]
	if !ok {
		return nil, fmt.Errorf("no active tab")
	}
	return tab, nil
}

// SetActive foregrounds a tab and makes it the active one.
func (m *Manager) SetActive(ctx context.Context, id int) error {
	tab, err := m.Tab(id)
	if err != nil {
		return err
	}
	return tab.Activate(ctx)
}

// markActive records a tab as active and reports the change. Called by
// Tab.Activate after the page is foregrounded.
func (m *Manager) markActive(ctx context.Context, tab *Tab) {
	m.mu.Lock()
	m.activeID = tab.id
	m.mu.Unlock()
	m.reportActivity(ctx, tab)
}

// ListTabs returns the registered tabs in id order plus the active tab
// id. Tabs whose info lookup fails are reported with their id only.
func (m *Manager) ListTabs(ctx context.Context) ([]TabInfo, int) {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		tabs = append(tabs, tab)
	}
	activeID := m.activeID
	m.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].id < tabs[j].id })

	infos := make([]TabInfo, 0, len(tabs))
	for _, tab := range tabs {
		info, err := tab.Info(ctx)
		if err != nil {
			logging.L_trace("browser: tab info lookup failed", "id", tab.id, "error", err)
			info = TabInfo{ID: tab.id}
		}
		infos = append(infos, info)
	}
	return infos, activeID
}

// CloseTab closes and unregisters a tab.
func (m *Manager) CloseTab(id int) error {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	if ok {
		delete(m.tabs, id)
		if m.activeID == id {
			m.activeID = 0
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %d not found", id)
	}
	tab.page.Close()
	logging.L_debug("browser: tab closed", "id", id)
	return nil
}

// Close shuts the browser down. Attached Chrome instances (chromeCDP)
// belong to the user and are left running.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return
	}
	if m.config.ChromeCDP != "" {
		logging.L_debug("browser: leaving attached Chrome running")
		m.browser = nil
		m.tabs = make(map[int]*Tab)
		return
	}
	m.browser.Close()
	m.browser = nil
	m.tabs = make(map[int]*Tab)
	logging.L_info("browser: closed")
}

// reportActivity pushes a best-effort tab-activity notification.
func (m *Manager) reportActivity(ctx context.Context, tab *Tab) {
	if m.onActivity == nil {
		return
	}
	info, err := tab.Info(ctx)
	if err != nil {
		logging.L_trace("browser: activity info lookup failed", "id", tab.id, "error", err)
		return
	}
	m.onActivity(info.ID, info.URL, info.Title)
}
