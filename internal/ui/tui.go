// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the clock-radio console
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/clockradio-go/internal/player"
)

// Options configures the console.
type Options struct {
	Name     string
	Alarm    Alarm
	AlarmCfg player.AlarmConfig
	Player   Player
}

// NewModel creates a new TUI model
func NewModel(ctrl Controller, opts Options) Model {
	m := Model{
		ctrl:     ctrl,
		alarm:    opts.Alarm,
		alarmCfg: opts.AlarmCfg,
		player:   opts.Player,
		name:     opts.Name,
	}
	if m.name == "" {
		m.name = "Clock Radio"
	}
	m.snap = ctrl.Snapshot()
	return m
}

// Run starts the TUI and blocks until the user quits
func Run(ctrl Controller, opts Options) error {
	p := tea.NewProgram(NewModel(ctrl, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
