// Package tray provides a system tray interface for the Mudra hand tracker.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/tracking"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle    func(enabled bool)
	onDashboard func()
	onQuit      func()
	status      app.Status
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuMode     *systray.MenuItem
	menuFPS      *systray.MenuItem
	menuFallback *systray.MenuItem
}

// New creates a new Tray instance showing tracking as disabled until the
// first Update.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback function to be called when tracking is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback function to be called when the dashboard menu item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra Hand Tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleLabel(t.status.Enabled), "Toggle hand tracking")
	systray.AddSeparator()

	t.menuMode = systray.AddMenuItem(modeLabel(t.status.Stats), "Where detection runs")
	t.menuMode.Disable()
	t.menuFPS = systray.AddMenuItem(fpsLabel(t.status.Stats), "Delivered frame rate")
	t.menuFPS.Disable()
	t.menuFallback = systray.AddMenuItem(fallbackLabel(t.status.LastFallback), "Last worker fallback")
	t.menuFallback.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.RLock()
	enabled := !t.status.Enabled
	callback := t.onToggle
	t.mu.RUnlock()

	// The app reports the new state back through Update.
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Update refreshes the menu from an application status. It is safe to call
// before Run.
func (t *Tray) Update(status app.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	if t.menuToggle == nil {
		return
	}
	t.menuToggle.SetTitle(toggleLabel(status.Enabled))
	t.menuMode.SetTitle(modeLabel(status.Stats))
	t.menuFPS.SetTitle(fpsLabel(status.Stats))
	t.menuFallback.SetTitle(fallbackLabel(status.LastFallback))
}

// IsEnabled returns the last reported enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Enabled
}

func toggleLabel(enabled bool) string {
	if enabled {
		return "● Tracking"
	}
	return "○ Paused"
}

func modeLabel(stats tracking.Stats) string {
	if stats.Mode == "" {
		return "Mode: stopped"
	}
	if stats.Reason == "" {
		return "Mode: " + string(stats.Mode)
	}
	return fmt.Sprintf("Mode: %s (%s)", stats.Mode, stats.Reason)
}

func fpsLabel(stats tracking.Stats) string {
	if !stats.Running {
		return "FPS: -"
	}
	return fmt.Sprintf("FPS: %.1f (avg %.1f)", stats.FPS, stats.AverageFPS)
}

func fallbackLabel(reason string) string {
	if reason == "" {
		return "Fallback: none"
	}
	return "Fallback: " + reason
}
