package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"cilgpu/internal/pipeline"
)

// stageInfo is how one pipeline stage shows up on screen.
type stageInfo struct {
	label    string
	fraction float64 // share of a file's work finished once the stage starts
}

var stageTable = map[pipeline.Stage]stageInfo{
	pipeline.StageLoad:        {label: "loading", fraction: 0.1},
	pipeline.StageInstantiate: {label: "specialising", fraction: 0.3},
	pipeline.StageCompile:     {label: "compiling", fraction: 0.6},
	pipeline.StageCodegen:     {label: "ptx", fraction: 0.85},
}

const (
	labelQueued = "queued"
	labelDone   = "done"
	labelError  = "error"
	statusWidth = 12
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	workingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

type progressModel struct {
	title      string
	events     <-chan pipeline.Event
	spinner    spinner.Model
	bar        progress.Model
	items      []fileItem
	index      map[string]int
	stageLabel string
	width      int
	done       bool
}

type fileItem struct {
	path    string
	status  string
	stage   pipeline.Stage
	err     string
	elapsed time.Duration
}

func (it fileItem) finished() bool {
	return it.status == labelDone || it.status == labelError
}

type eventMsg pipeline.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that follows build events for
// files until events is closed.
func NewProgressModel(title string, files []string, events <-chan pipeline.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = workingStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	m := &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		bar:     bar,
		items:   make([]fileItem, len(files)),
		index:   make(map[string]int, len(files)),
		width:   80,
	}
	for i, file := range files {
		m.items[i] = fileItem{path: file, status: labelQueued}
		m.index[file] = i
	}
	return m
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.apply(pipeline.Event(msg)), m.next())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		if bar, ok := model.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	header := m.title
	if m.stageLabel != "" {
		header += " (" + m.stageLabel + ")"
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(20, m.width-statusWidth-14)
	for _, it := range m.items {
		status := styleStatus(it.status).Render(fmt.Sprintf("%*s", statusWidth, it.status))
		fmt.Fprintf(&b, "  %s %s", status, truncate(it.path, nameWidth))
		if it.elapsed > 0 {
			b.WriteString(dimStyle.Render(" " + it.elapsed.Round(time.Millisecond).String()))
		}
		b.WriteByte('\n')
		if it.err != "" {
			b.WriteString("      ")
			b.WriteString(errorStyle.Render(truncate(it.err, nameWidth)))
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	if m.done {
		b.WriteString(m.bar.ViewAs(1.0))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render(m.summary()))
	b.WriteByte('\n')
	return b.String()
}

func (m *progressModel) summary() string {
	var built, failed int
	for _, it := range m.items {
		switch it.status {
		case labelDone:
			built++
		case labelError:
			failed++
		}
	}
	s := fmt.Sprintf("%d/%d built", built, len(m.items))
	if failed > 0 {
		s += fmt.Sprintf(", %d failed", failed)
	}
	return s
}

func (m *progressModel) next() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// apply folds ev into the model; events with no file set the header label.
func (m *progressModel) apply(ev pipeline.Event) tea.Cmd {
	label := statusLabel(ev.Stage, ev.Status)
	if ev.File == "" {
		if label != "" {
			m.stageLabel = label
		}
		return nil
	}
	idx, ok := m.index[ev.File]
	if !ok {
		return nil
	}
	it := &m.items[idx]
	if label != "" {
		it.status = label
		it.stage = ev.Stage
	}
	if ev.Err != nil {
		it.err = ev.Err.Error()
	}
	if ev.Elapsed > 0 {
		it.elapsed = ev.Elapsed
	}

	total := 0.0
	for _, item := range m.items {
		if item.finished() {
			total++
			continue
		}
		total += progressFromStage(item.stage)
	}
	return m.bar.SetPercent(total / float64(len(m.items)))
}

func progressFromStage(stage pipeline.Stage) float64 {
	return stageTable[stage].fraction
}

func statusLabel(stage pipeline.Stage, status pipeline.Status) string {
	switch status {
	case pipeline.StatusQueued:
		return labelQueued
	case pipeline.StatusDone:
		return labelDone
	case pipeline.StatusError:
		return labelError
	case pipeline.StatusWorking:
		return stageTable[stage].label
	}
	return ""
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case labelDone:
		return doneStyle
	case labelError:
		return errorStyle
	case labelQueued, "":
		return idleStyle
	}
	return workingStyle
}

// truncate cuts value to width terminal cells, marking the cut with "...".
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
