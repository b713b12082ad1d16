package ui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"cilgpu/internal/pipeline"
)

// Run renders progress for files on out while work runs. work receives the
// sink to report through; the UI stops once work returns. A failing UI does
// not hide the work error.
func Run(out io.Writer, title string, files []string, work func(pipeline.ProgressSink) error) error {
	events := make(chan pipeline.Event, 256)
	outcome := make(chan error, 1)

	go func() {
		err := work(pipeline.ChannelSink{Ch: events})
		outcome <- err
		close(events)
	}()

	model := NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(out), tea.WithInput(nil))
	_, uiErr := program.Run()
	if uiErr != nil {
		// keep draining so work never blocks on a full channel
		go func() {
			for range events {
			}
		}()
	}
	err := <-outcome
	if err != nil {
		return err
	}
	return uiErr
}
