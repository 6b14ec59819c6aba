// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the sync client UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries key presses from the TUI back to the runner
type Control struct {
	SyncNow chan struct{}
	Quit    chan struct{}
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		SyncNow: make(chan struct{}, 1),
		Quit:    make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control) Model {
	return Model{
		control: ctrl,
	}
}

// Run creates the TUI program; the caller runs it
func Run(ctrl *Control) *tea.Program {
	return tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
}
