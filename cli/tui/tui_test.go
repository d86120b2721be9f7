package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/types"
)

type fakeController struct {
	mu          sync.Mutex
	connected   []string
	disconnects int
	targets     []float64
	rates       []float64
	err         error
}

func (f *fakeController) State() types.ConnectionState { return types.StateIdle }

func (f *fakeController) Snapshot() hrv.Snapshot {
	return hrv.Snapshot{Target: 200, BreathingRate: 7, SmoothedHRV: 1}
}

func (f *fakeController) RequestConnect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, address)
	return f.err
}

func (f *fakeController) RequestDisconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeController) SetTargetHRV(target float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

func (f *fakeController) SetBreathingRate(rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, rate)
	return f.err
}

func press(t *testing.T, m Model, s string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(Model), cmd
}

func send(t *testing.T, m Model, e *types.Event) Model {
	t.Helper()
	next, cmd := m.Update(eventMsg{event: e})
	if cmd == nil {
		t.Fatal("expected a follow-up wait command after an event")
	}
	return next.(Model)
}

func TestNew_SeedsFromSnapshot(t *testing.T) {
	m := New(&fakeController{}, make(chan *types.Event), "sim-1")
	if m.target != 200 || m.pacer != 7 || m.state != types.StateIdle {
		t.Errorf("unexpected seed: target=%v pacer=%v state=%v", m.target, m.pacer, m.state)
	}
}

func TestUpdate_AppliesEvents(t *testing.T) {
	m := New(&fakeController{}, make(chan *types.Event), "sim-1")
	now := time.Now()

	m = send(t, m, types.NewIBIUpdate(now, []float64{0}, []float64{950}))
	m = send(t, m, types.NewHRVUpdate(now, []float64{0}, []float64{42.5}))
	m = send(t, m, types.NewBiofeedback(now, 0.25))
	m = send(t, m, types.NewStateChange(now, types.StateListening))
	m = send(t, m, types.NewStatus(now, "Connected to sim-1"))
	m = send(t, m, types.NewSensorsUpdate(now, []string{"Polar H10, AA:BB"}))

	if m.ibi != 950 || m.hrv != 42.5 || m.score != 0.25 {
		t.Errorf("signal values not applied: ibi=%v hrv=%v score=%v", m.ibi, m.hrv, m.score)
	}
	view := m.View()
	for _, want := range []string{"listening", "950", "42.5", "Connected to sim-1", "Polar H10"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestUpdate_TargetKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, make(chan *types.Event), "")

	_, cmd := press(t, m, "+")
	if cmd == nil {
		t.Fatal("expected command for target up")
	}
	cmd()
	_, cmd = press(t, m, "-")
	cmd()

	if len(ctrl.targets) != 2 || ctrl.targets[0] != 210 || ctrl.targets[1] != 190 {
		t.Errorf("targets = %v, want [210 190]", ctrl.targets)
	}

	m = send(t, m, types.NewTargetUpdate(time.Now(), types.MaxHRVTarget))
	if _, cmd := press(t, m, "+"); cmd != nil {
		t.Error("target up at the maximum should be a no-op")
	}
}

func TestUpdate_PacerKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, make(chan *types.Event), "")

	if _, cmd := press(t, m, "]"); cmd != nil {
		t.Error("pacer up at the maximum should be a no-op")
	}
	_, cmd := press(t, m, "[")
	if cmd == nil {
		t.Fatal("expected command for pacer down")
	}
	cmd()
	if len(ctrl.rates) != 1 || ctrl.rates[0] != 6.5 {
		t.Errorf("rates = %v, want [6.5]", ctrl.rates)
	}
}

func TestUpdate_ConnectAndDisconnect(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, make(chan *types.Event), "AA:BB:CC:DD:EE:FF")

	_, cmd := press(t, m, "c")
	cmd()
	_, cmd = press(t, m, "d")
	cmd()

	if len(ctrl.connected) != 1 || ctrl.connected[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("connected = %v", ctrl.connected)
	}
	if ctrl.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ctrl.disconnects)
	}
}

func TestUpdate_ControlErrorShown(t *testing.T) {
	ctrl := &fakeController{err: errors.New("engine stopped")}
	m := New(ctrl, make(chan *types.Event), "")

	_, cmd := press(t, m, "c")
	next, _ := m.Update(cmd())
	m = next.(Model)
	if !strings.Contains(m.View(), "engine stopped") {
		t.Errorf("view should show control error:\n%s", m.View())
	}

	next, _ = m.Update(controlMsg{})
	if strings.Contains(next.(Model).View(), "engine stopped") {
		t.Error("successful command should clear the error")
	}
}

func TestUpdate_QuitsWhenEventsClose(t *testing.T) {
	events := make(chan *types.Event)
	close(events)
	m := New(&fakeController{}, events, "")

	msg := m.Init()()
	if _, ok := msg.(closedMsg); !ok {
		t.Fatalf("Init command returned %T, want closedMsg", msg)
	}
	next, cmd := m.Update(msg)
	if cmd == nil || !next.(Model).quitting {
		t.Error("expected quit after the event stream closes")
	}
	if next.(Model).View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestUpdate_QuitKey(t *testing.T) {
	m := New(&fakeController{}, make(chan *types.Event), "")
	next, cmd := press(t, m, "q")
	if cmd == nil || !next.quitting {
		t.Error("expected q to quit")
	}
}

func TestStateStyle(t *testing.T) {
	tests := []struct {
		state types.ConnectionState
		want  lipgloss.TerminalColor
	}{
		{types.StateListening, successColor},
		{types.StateConnecting, warningColor},
		{types.StateDisconnecting, warningColor},
		{types.StateIdle, ValueStyle.GetForeground()},
	}
	for _, tt := range tests {
		if got := StateStyle(tt.state).GetForeground(); got != tt.want {
			t.Errorf("StateStyle(%s) foreground = %v, want %v", tt.state, got, tt.want)
		}
	}
}
