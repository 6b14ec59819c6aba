// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling, and rendering
package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/tracker"
	tea "github.com/charmbracelet/bubbletea"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil) // Control is optional for testing

	if model.connected {
		t.Error("expected connected to be false initially")
	}

	if model.quality != tracker.QualityLost {
		t.Errorf("expected QualityLost initially, got %v", model.quality)
	}

	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestStatusMsgConnected(t *testing.T) {
	model := NewModel(nil)

	connected := true
	model.applyStatus(StatusMsg{
		Connected:  &connected,
		ServerName: "test-server",
		Role:       "relay",
		Transport:  "ws",
	})

	if !model.connected {
		t.Error("expected connected to be true after status update")
	}
	if model.serverName != "test-server" {
		t.Errorf("expected serverName 'test-server', got '%s'", model.serverName)
	}
	if model.role != "relay" {
		t.Errorf("expected role 'relay', got '%s'", model.role)
	}

	disconnected := false
	model.applyStatus(StatusMsg{Connected: &disconnected})
	if model.connected {
		t.Error("expected connected to be false after disconnect")
	}
	if model.serverName != "test-server" {
		t.Error("expected serverName to survive an update without one")
	}
}

func TestStatusMsgStats(t *testing.T) {
	model := NewModel(nil)
	at := time.Date(2024, 3, 1, 10, 30, 15, 0, time.UTC)

	model.applyStatus(StatusMsg{
		Stats: &tracker.Stats{
			Offset:    -1500,
			RawOffset: -1520,
			Drift:     2e-6,
			RoundTrip: 800,
			Quality:   tracker.QualityGood,
			Failures:  0,
			LastSync:  at,
		},
		Samples:  4,
		Rejected: 1,
		Attempts: 3,
	})

	if model.offset != -1500 || model.rawOffset != -1520 {
		t.Errorf("unexpected offsets %d/%d", model.offset, model.rawOffset)
	}
	if model.rtt != 800 {
		t.Errorf("expected rtt 800, got %d", model.rtt)
	}
	if model.quality != tracker.QualityGood {
		t.Errorf("expected QualityGood, got %v", model.quality)
	}
	if model.samples != 4 || model.rejected != 1 || model.attempts != 3 {
		t.Errorf("unexpected counters %d/%d/%d", model.samples, model.rejected, model.attempts)
	}
	if !model.lastSync.Equal(at) {
		t.Errorf("expected lastSync %v, got %v", at, model.lastSync)
	}
}

func TestStatusMsgError(t *testing.T) {
	model := NewModel(nil)

	model.applyStatus(StatusMsg{Stats: &tracker.Stats{Failures: 2, LastError: errors.New("dial tcp: refused")}})
	if model.lastError != "dial tcp: refused" || model.failures != 2 {
		t.Errorf("unexpected error state %q/%d", model.lastError, model.failures)
	}

	model.applyStatus(StatusMsg{Stats: &tracker.Stats{}})
	if model.lastError != "" {
		t.Errorf("expected error cleared, got %q", model.lastError)
	}
}

func TestViewLoading(t *testing.T) {
	model := NewModel(nil)
	if model.View() != "Loading..." {
		t.Errorf("expected Loading..., got %q", model.View())
	}
}

func TestViewRendersSync(t *testing.T) {
	model := NewModel(nil)
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	connected := true
	updated, _ = updated.Update(StatusMsg{
		Connected:  &connected,
		ServerName: "lab",
		Stats: &tracker.Stats{
			Offset:    2500,
			RoundTrip: 1200,
			Quality:   tracker.QualityGood,
			LastError: errors.New("upstream unavailable"),
		},
		Attempts: 7,
	})

	view := updated.View()
	for _, want := range []string{"Connected to lab", "+2.500ms", "1.200ms", "good", "Attempts: 7", "upstream unavailable"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "DEBUG") {
		t.Error("debug section shown before toggling")
	}
}

func TestKeyHandling(t *testing.T) {
	ctrl := NewControl()
	var model tea.Model = NewModel(ctrl)
	model, _ = model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !strings.Contains(model.View(), "DEBUG") {
		t.Error("expected debug section after pressing d")
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	select {
	case <-ctrl.SyncNow:
	default:
		t.Error("expected sync request after pressing s")
	}

	// a second press while one is pending does not block
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}
	select {
	case <-ctrl.Quit:
	default:
		t.Error("expected quit signal")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
	if got := truncate("a very long server name", 10); got != "a very ..." {
		t.Errorf("unexpected truncation %q", got)
	}
}
