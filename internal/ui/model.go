// ABOUTME: Bubbletea model for the clock-radio engine TUI
// ABOUTME: Polls engine snapshots and maps keys onto EQ, tones, spectrum and alarm controls
package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/clockradio-go/internal/player"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/eq"
	"github.com/Resonate-Protocol/clockradio-go/pkg/audio/tone"
	"github.com/Resonate-Protocol/clockradio-go/pkg/engine"
)

// RefreshInterval is how often the TUI polls the engine.
const RefreshInterval = 100 * time.Millisecond

const volumeStep = 5

// Controller is the engine surface the TUI drives.
type Controller interface {
	Snapshot() engine.Snapshot
	EqSetSteps(bass, treble uint8)
	SpectrumEnable(on bool)
	PlaySystemTone(t tone.SystemTone) bool
	ToneStop()
	SetVolume(v uint8)
}

// Alarm is optional; without it the alarm key does nothing.
type Alarm interface {
	Start(ctx context.Context, cfg player.AlarmConfig) error
	Stop()
	Active() bool
}

// Player is optional; without it the transport keys do nothing.
type Player interface {
	Play()
	Pause()
	Next()
	State() player.State
	Current() string
}

// TickMsg triggers a snapshot refresh.
type TickMsg time.Time

// Model represents the TUI state
type Model struct {
	ctrl     Controller
	alarm    Alarm
	alarmCfg player.AlarmConfig
	player   Player
	name     string

	snap       engine.Snapshot
	lastAction string

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case TickMsg:
		m.snap = m.ctrl.Snapshot()
		return m, tick()
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
	s += m.renderStream()
	s += m.renderControls()
	s += m.renderSpectrum()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders owner and Bluetooth status
func (m Model) renderHeader() string {
	bt := "idle"
	if m.snap.Bluetooth {
		bt = "streaming"
		if m.snap.Session != "" {
			bt = fmt.Sprintf("streaming (%s)", truncate(m.snap.Session, 8))
		}
	}

	return fmt.Sprintf(`┌─ %-51s┐
│ Owner:     %-42s │
│ Bluetooth: %-42s │
├──────────────────────────────────────────────────────┤
`, truncate(m.name, 50), m.snap.Owner, bt)
}

// renderStream renders jitter buffer and player state
func (m Model) renderStream() string {
	if !m.snap.RingReserved {
		s := "│ Ring: not reserved                                   │\n"
		return s + m.renderPlayer()
	}

	r := m.snap.Ring
	fill := renderBar(r.Count, r.Capacity, 20)
	s := fmt.Sprintf("│ Ring: [%s] %6d/%-6d %-11s │\n",
		fill, r.Count, r.Capacity, r.Mode)
	s += fmt.Sprintf("│ Errors: %-5d Resets: %-5d Stale: %-14d │\n",
		r.Errors, r.Resets, m.snap.Consumer.StaleCommits)
	return s + m.renderPlayer()
}

func (m Model) renderPlayer() string {
	if m.player == nil {
		return ""
	}
	status := m.player.State().String()
	if cur := m.player.Current(); cur != "" {
		status += " " + filepath.Base(cur)
	}
	return fmt.Sprintf("│ Player: %-44s │\n", truncate(status, 44))
}

// renderControls renders volume and EQ status
func (m Model) renderControls() string {
	eqState := "flat"
	if !m.snap.EQFlat {
		eqState = "active"
	}
	alarm := "off"
	if m.alarm != nil && m.alarm.Active() {
		alarm = "SOUNDING"
	}

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d   Rate: %-6d Hz%-5s │\n"+
		"│ Bass: %+5.1f dB Treble: %+5.1f dB EQ: %-6s Alarm: %-8s│\n",
		renderBar(int(m.snap.Volume), 255, 10), m.snap.Volume, m.snap.SampleRate, "",
		eq.StepToDB(m.snap.Bass), eq.StepToDB(m.snap.Treble), eqState, alarm)
}

// renderSpectrum renders the four band meters
func (m Model) renderSpectrum() string {
	if !m.snap.Spectrum {
		return "├──────────────────────────────────────────────────────┤\n" +
			"│ Spectrum: off                                        │\n"
	}
	s := "├──────────────────────────────────────────────────────┤\n"
	s += "│ Spectrum:"
	for _, level := range m.snap.Levels {
		s += fmt.Sprintf(" [%s]", renderBar(int(level), 3, 3))
	}
	s += fmt.Sprintf("%-23s │\n", "")
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	s := "│                                                      │\n"
	if m.lastAction != "" {
		s += fmt.Sprintf("│ > %-50s │\n", truncate(m.lastAction, 50))
	}
	return s + `│ b/B:Bass t/T:Treble ↑/↓:Vol s:Spectrum 1/2:Tones     │
│ a:Alarm x:Stop tones p:Pause n:Next d:Debug q:Quit   │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug counters
func (m Model) renderDebug() string {
	c := m.snap.Consumer
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Chunks: %-10d Bytes: %-12d Silence: %-6d│
│   Write failures: %-6d Owner refusals: %-12d│
│   Tones: %d played, %d dropped, %d pending%-13s│
│   Spectrum: %d updates, %d dropped%-20s│
`, c.Chunks, c.Bytes, c.Silence,
		m.snap.WriteFailures, m.snap.OwnerFailures,
		m.snap.TonesPlayed, m.snap.TonesDropped, m.snap.TonePending, "",
		m.snap.SpectrumUpdates, m.snap.SpectrumDropped, "")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "b", "B", "t", "T":
		m.adjustEQ(msg.String())
	case "up", "down":
		v := int(m.snap.Volume)
		if msg.String() == "up" {
			v = min(v+volumeStep, 255)
		} else {
			v = max(v-volumeStep, 0)
		}
		m.ctrl.SetVolume(uint8(v))
		m.snap.Volume = uint8(v)
		m.lastAction = fmt.Sprintf("volume %d", v)
	case "s":
		on := !m.snap.Spectrum
		m.ctrl.SpectrumEnable(on)
		m.snap.Spectrum = on
		m.lastAction = fmt.Sprintf("spectrum %v", on)
	case "1":
		m.lastAction = toneAction(tone.SystemToneBTConnect, m.ctrl.PlaySystemTone(tone.SystemToneBTConnect))
	case "2":
		m.lastAction = toneAction(tone.SystemToneBTDisconnect, m.ctrl.PlaySystemTone(tone.SystemToneBTDisconnect))
	case "x":
		m.ctrl.ToneStop()
		m.lastAction = "tones stopped"
	case "a":
		m.toggleAlarm()
	case "p":
		if m.player != nil {
			if m.player.State() == player.StatePlaying {
				m.player.Pause()
				m.lastAction = "paused"
			} else {
				m.player.Play()
				m.lastAction = "play"
			}
		}
	case "n":
		if m.player != nil {
			m.player.Next()
			m.lastAction = "next track"
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m *Model) adjustEQ(key string) {
	bass, treble := m.snap.Bass, m.snap.Treble
	switch key {
	case "b":
		bass = stepDown(bass)
	case "B":
		bass = stepUp(bass)
	case "t":
		treble = stepDown(treble)
	case "T":
		treble = stepUp(treble)
	}
	m.ctrl.EqSetSteps(bass, treble)
	m.snap.Bass, m.snap.Treble = bass, treble
	m.lastAction = fmt.Sprintf("bass %+.1f dB, treble %+.1f dB", eq.StepToDB(bass), eq.StepToDB(treble))
}

func (m *Model) toggleAlarm() {
	if m.alarm == nil {
		m.lastAction = "no alarm configured"
		return
	}
	if m.alarm.Active() {
		m.alarm.Stop()
		m.lastAction = "alarm stopped"
		return
	}
	if err := m.alarm.Start(context.Background(), m.alarmCfg); err != nil {
		m.lastAction = "alarm: " + err.Error()
		return
	}
	m.lastAction = "alarm started"
}

func toneAction(t tone.SystemTone, ok bool) string {
	if !ok {
		return fmt.Sprintf("%s refused", t)
	}
	return fmt.Sprintf("%s queued", t)
}

func stepUp(s uint8) uint8 {
	if s >= eq.MaxStep {
		return eq.MaxStep
	}
	return s + 1
}

func stepDown(s uint8) uint8 {
	if s == 0 {
		return 0
	}
	return s - 1
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
