package internal

import (
	tea "github.com/charmbracelet/bubbletea"
)

// RunClient launches the Bubble Tea program for the workspace chat client.
func RunClient(opts ClientOptions) error {
	base, err := normalizeBaseURL(opts.ServerURL)
	if err != nil {
		return err
	}
	opts.ServerURL = base
	program := tea.NewProgram(NewTUIModel(opts), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
