// ABOUTME: Bubbletea model for the sync client TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/tracker"
	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	role       string
	transport  string

	// Sync
	offset    int64
	rawOffset int64
	drift     float64
	rtt       int64
	quality   tracker.Quality
	samples   int
	rejected  int
	lastSync  time.Time
	lastError string

	// Counters
	attempts int
	failures int

	// Debug
	showDebug bool

	control *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderSync()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection status
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", truncate(m.serverName, 32))
		if m.role != "" {
			connStatus += " (" + m.role + ")"
		}
	}

	return fmt.Sprintf(`┌─ Timesync Client ────────────────────────────────────┐
│ Status: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(connStatus, 44))
}

// renderSync renders the current offset and quality
func (m Model) renderSync() string {
	syncIcon := "✗"
	switch m.quality {
	case tracker.QualityGood:
		syncIcon = "✓"
	case tracker.QualityDegraded:
		syncIcon = "⚠"
	}

	last := "never"
	if !m.lastSync.IsZero() {
		last = m.lastSync.Format("15:04:05")
	}

	return fmt.Sprintf("│ Sync:   %s %-42s │\n"+
		"│ Offset: %-44s │\n"+
		"│ RTT:    %-44s │\n"+
		"│ Drift:  %-44s │\n"+
		"│ Last:   %-44s │\n",
		syncIcon, m.quality.String(),
		fmt.Sprintf("%+.3fms", float64(m.offset)/1000.0),
		fmt.Sprintf("%.3fms", float64(m.rtt)/1000.0),
		fmt.Sprintf("%+.2fppm", m.drift*1e6),
		last)
}

// renderStats renders attempt counters
func (m Model) renderStats() string {
	s := fmt.Sprintf("├──────────────────────────────────────────────────────┤\n"+
		"│ Stats:  %-44s │\n",
		fmt.Sprintf("Attempts: %d  Failed: %d  Samples: %d  Dropped: %d",
			m.attempts, m.failures, m.samples, m.rejected))
	if m.lastError != "" {
		s += fmt.Sprintf("│ Error:  %-44s │\n", truncate(m.lastError, 44))
	}
	s += "│                                                      │\n"
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ s:Sync now  d:Debug  q:Quit                          │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf("│ DEBUG:                                               │\n"+
		"│   Transport:  %-38s │\n"+
		"│   Raw Offset: %-38s │\n"+
		"│   Smoothed:   %-38s │\n",
		m.transport,
		fmt.Sprintf("%+dμs", m.rawOffset),
		fmt.Sprintf("%+dμs", m.offset))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			select {
			case m.control.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "s":
		if m.control != nil {
			select {
			case m.control.SyncNow <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Role != "" {
		m.role = msg.Role
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.Stats != nil {
		m.offset = msg.Stats.Offset
		m.rawOffset = msg.Stats.RawOffset
		m.drift = msg.Stats.Drift
		m.rtt = msg.Stats.RoundTrip
		m.quality = msg.Stats.Quality
		m.lastSync = msg.Stats.LastSync
		m.failures = msg.Stats.Failures
		m.lastError = ""
		if msg.Stats.LastError != nil {
			m.lastError = msg.Stats.LastError.Error()
		}
	}
	if msg.Samples != 0 || msg.Rejected != 0 {
		m.samples = msg.Samples
		m.rejected = msg.Rejected
	}
	if msg.Attempts != 0 {
		m.attempts = msg.Attempts
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Role       string
	Transport  string
	Stats      *tracker.Stats
	Samples    int
	Rejected   int
	Attempts   int
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}
