package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/openhrv/types"
)

// Run shows the dashboard until the user quits, events is closed or ctx
// is cancelled.
func Run(ctx context.Context, ctrl Controller, events <-chan *types.Event, address string) error {
	p := tea.NewProgram(
		New(ctrl, events, address),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
