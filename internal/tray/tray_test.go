package tray

import (
	"testing"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/tracking"
)

func TestLabels(t *testing.T) {
	tests := []struct {
		name  string
		got   string
		wants string
	}{
		{"toggle on", toggleLabel(true), "● Tracking"},
		{"toggle off", toggleLabel(false), "○ Paused"},
		{"stopped", modeLabel(tracking.Stats{}), "Mode: stopped"},
		{"worker", modeLabel(tracking.Stats{Mode: tracking.ModeWorker, Reason: tracking.ReasonDefaultWorker}), "Mode: worker (default)"},
		{"mode without reason", modeLabel(tracking.Stats{Mode: tracking.ModeMainThread}), "Mode: main-thread"},
		{"fps idle", fpsLabel(tracking.Stats{FPS: 12}), "FPS: -"},
		{"fps running", fpsLabel(tracking.Stats{Running: true, FPS: 29.96, AverageFPS: 30}), "FPS: 30.0 (avg 30.0)"},
		{"no fallback", fallbackLabel(""), "Fallback: none"},
		{"fallback", fallbackLabel("worker init timed out"), "Fallback: worker init timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.wants {
				t.Errorf("got %q, want %q", tt.got, tt.wants)
			}
		})
	}
}

func TestTray_UpdateBeforeRun(t *testing.T) {
	tr := New()
	if tr.IsEnabled() {
		t.Error("new tray should report tracking paused")
	}

	tr.Update(app.Status{Enabled: true, Stats: tracking.Stats{Mode: tracking.ModeWorker}})
	if !tr.IsEnabled() {
		t.Error("IsEnabled() should follow Update")
	}
}

func TestTray_ToggleRequestsOppositeState(t *testing.T) {
	tr := New()
	var got []bool
	tr.OnToggle(func(enabled bool) { got = append(got, enabled) })

	tr.handleToggle()
	tr.Update(app.Status{Enabled: true})
	tr.handleToggle()

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("toggle callbacks = %v, want [true false]", got)
	}
	if !tr.IsEnabled() {
		t.Error("toggle must not change state before the app reports it")
	}
}

func TestTray_Dashboard(t *testing.T) {
	tr := New()
	called := false
	tr.OnDashboard(func() { called = true })
	tr.handleDashboard()
	if !called {
		t.Error("dashboard callback not called")
	}
}
