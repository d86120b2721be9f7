package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/types"
)

// Controller is the engine surface the dashboard drives.
// *engine.Engine satisfies it.
type Controller interface {
	State() types.ConnectionState
	Snapshot() hrv.Snapshot
	RequestConnect(address string) error
	RequestDisconnect()
	SetTargetHRV(target float64) error
	SetBreathingRate(rate float64) error
}

type (
	eventMsg   struct{ event *types.Event }
	closedMsg  struct{}
	controlMsg struct{ err error }
)

// Model is the live session dashboard.
type Model struct {
	ctrl    Controller
	events  <-chan *types.Event
	address string

	state   types.ConnectionState
	status  string
	ibi     float64
	hrv     float64
	score   float64
	target  float64
	pacer   float64
	sensors []string
	err     error

	bar      progress.Model
	help     help.Model
	width    int
	quitting bool
}

// New creates a dashboard reading events and sending commands to ctrl.
// address is the sensor the connect key connects to.
func New(ctrl Controller, events <-chan *types.Event, address string) Model {
	snap := ctrl.Snapshot()
	return Model{
		ctrl:    ctrl,
		events:  events,
		address: address,
		state:   ctrl.State(),
		ibi:     float64(snap.LastIBI),
		hrv:     snap.SmoothedHRV,
		score:   snap.Score,
		target:  snap.Target,
		pacer:   snap.BreathingRate,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:    help.New(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan *types.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg{event: e}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(msg.event)
		return m, waitForEvent(m.events)

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case controlMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Connect):
		address := m.address
		return m, m.control(func() error { return m.ctrl.RequestConnect(address) })
	case key.Matches(msg, keys.Disconnect):
		return m, m.control(func() error {
			m.ctrl.RequestDisconnect()
			return nil
		})
	case key.Matches(msg, keys.TargetUp):
		return m, m.setTarget(m.target + types.HRVTargetStep)
	case key.Matches(msg, keys.TargetDown):
		return m, m.setTarget(m.target - types.HRVTargetStep)
	case key.Matches(msg, keys.PacerUp):
		return m, m.setPacer(m.pacer + types.BreathingRateStep)
	case key.Matches(msg, keys.PacerDown):
		return m, m.setPacer(m.pacer - types.BreathingRateStep)
	}
	return m, nil
}

func (m Model) setTarget(target float64) tea.Cmd {
	target = math.Min(math.Max(target, types.MinHRVTarget), types.MaxHRVTarget)
	if target == m.target {
		return nil
	}
	return m.control(func() error { return m.ctrl.SetTargetHRV(target) })
}

func (m Model) setPacer(rate float64) tea.Cmd {
	rate = hrv.ClampBreathingRate(rate)
	if rate == m.pacer {
		return nil
	}
	return m.control(func() error { return m.ctrl.SetBreathingRate(rate) })
}

// control runs fn off the update loop; engine commands block until the
// engine applies them.
func (m Model) control(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return controlMsg{err: fn()}
	}
}

func (m *Model) apply(e *types.Event) {
	switch e.Type {
	case types.EventTypeIBI:
		m.ibi = e.Value
	case types.EventTypeHRV:
		m.hrv = e.Value
	case types.EventTypeBiofeedback:
		m.score = e.Value
	case types.EventTypeTarget:
		m.target = e.Value
	case types.EventTypePacer:
		m.pacer = e.Value
	case types.EventTypeStatus:
		m.status = e.Message
	case types.EventTypeConnectionState:
		m.state = e.State
	case types.EventTypeSensors:
		m.sensors = e.Items
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("openhrv"))
	b.WriteString("\n")

	b.WriteString(LabelStyle.Render("State"))
	b.WriteString(StateStyle(m.state).Render(m.state.String()))
	if m.address != "" {
		b.WriteString(ValueStyle.Render("  " + m.address))
	}
	b.WriteString("\n\n")

	boxes := []string{
		renderStatBox("IBI (ms)", fmt.Sprintf("%.0f", m.ibi)),
		renderStatBox("HRV (ms)", fmt.Sprintf("%.1f", m.hrv)),
		renderStatBox("Target (ms)", fmt.Sprintf("%.0f", m.target)),
		renderStatBox("Pacer (bpm)", fmt.Sprintf("%.1f", m.pacer)),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(LabelStyle.Render("Biofeedback"))
	b.WriteString(m.bar.ViewAs(m.score))
	b.WriteString("\n")

	if len(m.sensors) > 0 {
		b.WriteString(LabelStyle.Render("Sensors"))
		b.WriteString(ValueStyle.Render(strings.Join(m.sensors, "; ")))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(LabelStyle.Render("Status"))
		b.WriteString(ValueStyle.Render(m.status))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	return b.String()
}

func renderStatBox(label, value string) string {
	content := StatLabelStyle.Render(label) + "\n" + StatValueStyle.Render(value)
	return StatBoxStyle.Render(content)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	TargetUp   key.Binding
	TargetDown key.Binding
	PacerUp    key.Binding
	PacerDown  key.Binding
}

// ShortHelp returns the bindings shown in the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Disconnect, k.TargetDown, k.TargetUp, k.PacerDown, k.PacerUp, k.Quit}
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Connect: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "connect"),
	),
	Disconnect: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "disconnect"),
	),
	TargetUp: key.NewBinding(
		key.WithKeys("+", "="),
		key.WithHelp("+", "target up"),
	),
	TargetDown: key.NewBinding(
		key.WithKeys("-"),
		key.WithHelp("-", "target down"),
	),
	PacerUp: key.NewBinding(
		key.WithKeys("]"),
		key.WithHelp("]", "pacer up"),
	),
	PacerDown: key.NewBinding(
		key.WithKeys("["),
		key.WithHelp("[", "pacer down"),
	),
}
