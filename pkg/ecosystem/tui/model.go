package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/msgrun/pkg/kernel/engine"
	kprogress "github.com/ormasoftchile/msgrun/pkg/kernel/progress"
	"github.com/ormasoftchile/msgrun/pkg/kernel/result"
	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
)

const (
	tickInterval = 100 * time.Millisecond
	sinkBuffer   = 256
	chromeLines  = 8 // header, progress, status and key bar
)

// Sink forwards engine events to the TUI. Emit blocks while the buffer is
// full until the TUI catches up or the sink is closed.
type Sink struct {
	ch   chan result.ScriptStepResult
	stop chan struct{}
	once sync.Once
}

// NewSink returns an open sink.
func NewSink() *Sink {
	return &Sink{ch: make(chan result.ScriptStepResult, sinkBuffer), stop: make(chan struct{})}
}

func (s *Sink) Emit(r result.ScriptStepResult) {
	select {
	case s.ch <- r:
	case <-s.stop:
	}
}

// Close drops all further events.
func (s *Sink) Close() { s.once.Do(func() { close(s.stop) }) }

// --- Messages ---

type eventMsg struct{ Event result.ScriptStepResult }

type tickMsg time.Time

type doneMsg struct{ Result *engine.RunResult }

// Model is the Bubble Tea model for a live run.
type Model struct {
	script      *schema.Script
	simulate    bool
	description string

	sink    *Sink
	tracker *kprogress.Tracker
	cancel  func()
	done    <-chan struct{}
	wait    func() *engine.RunResult

	events     []result.ScriptStepResult
	posted     int
	offset     int // lines scrolled up from the newest event
	snap       kprogress.Snapshot
	res        *engine.RunResult
	cancelling bool

	bar     progress.Model
	spinner spinner.Model
	width   int
	height  int
}

// NewModel creates a model following run. Events arrive through sink and
// progress through tracker, which must be the run's monitor.
func NewModel(sc *schema.Script, simulate bool, sink *Sink, tracker *kprogress.Tracker, run *engine.Run) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	m := Model{
		script:      sc,
		simulate:    simulate,
		description: RenderMarkdown(sc.Description, 78),
		sink:        sink,
		tracker:     tracker,
		bar:         progress.New(progress.WithDefaultGradient()),
		spinner:     sp,
		width:       80,
		height:      24,
	}
	if run != nil {
		m.cancel = run.Cancel
		m.done = run.Done()
		m.wait = run.Wait
	}
	return m
}

// Run starts sc on eng and shows it until the user quits. eng must emit to
// sink. Quitting while the run is active cancels it.
func Run(ctx context.Context, eng *engine.Engine, sink *Sink, sc *schema.Script, opts engine.RunOptions) (*engine.RunResult, error) {
	tracker := &kprogress.Tracker{}
	opts.Monitor = tracker
	run := eng.Execute(ctx, sc, opts)

	p := tea.NewProgram(NewModel(sc, opts.Simulation, sink, tracker, run), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	run.Cancel()
	sink.Close()
	res := run.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil // ctx was cancelled; the run reports it
	}
	return res, err
}

// Init starts the spinner, the progress poll and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.listen())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// listen waits for the next event, or the end of the run once every
// buffered event has been delivered.
func (m Model) listen() tea.Cmd {
	if m.sink == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case r := <-m.sink.ch:
			return eventMsg{r}
		case <-m.done:
			select {
			case r := <-m.sink.ch:
				return eventMsg{r}
			default:
			}
			return doneMsg{m.wait()}
		}
	}
}

func (m Model) running() bool { return m.res == nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.running() && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Cancel):
			if m.running() && m.cancel != nil && !m.cancelling {
				m.cancelling = true
				m.cancel()
			}
		case key.Matches(msg, keys.Up):
			if m.offset < len(m.events)-1 {
				m.offset++
			}
		case key.Matches(msg, keys.Down):
			if m.offset > 0 {
				m.offset--
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-30, 10)
		m.description = RenderMarkdown(m.script.Description, max(msg.Width-2, 20))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.tracker != nil {
			m.snap = m.tracker.Snapshot()
		}
		if m.running() {
			return m, tick()
		}

	case eventMsg:
		m.events = append(m.events, msg.Event)
		if msg.Event.Action == result.ActionStep && msg.Event.Kind == result.KindSuccess {
			m.posted++
		}
		if msg.Event.Posted > m.posted {
			m.posted = msg.Event.Posted
		}
		if m.offset > 0 {
			m.offset++ // keep the scrolled view still
		}
		return m, m.listen()

	case doneMsg:
		m.res = msg.Result
		if m.tracker != nil {
			m.snap = m.tracker.Snapshot()
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	// Header
	title := headerStyle.Render("msgrun: " + m.script.Name)
	if m.simulate {
		title += " " + simBadgeStyle.Render("SIMULATION")
	}
	b.WriteString(title + "\n")
	descLines := 0
	if m.description != "" {
		b.WriteString(m.description + "\n")
		descLines = strings.Count(m.description, "\n") + 1
	}

	// Progress
	b.WriteString(" " + m.bar.ViewAs(m.snap.Fraction()))
	b.WriteString(fmt.Sprintf("  %d/%d\n", m.snap.Worked, m.snap.Total))
	if m.snap.Task != "" {
		b.WriteString(taskStyle.Render(m.truncate(m.snap.Task, m.width-2)) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Event log
	rows := max(m.height-chromeLines-descLines, 3)
	end := len(m.events) - m.offset
	start := max(end-rows, 0)
	for _, ev := range m.events[start:end] {
		b.WriteString(m.eventLine(ev) + "\n")
	}
	for i := end - start; i < rows; i++ {
		b.WriteString("\n")
	}

	// Status
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(" " + keyBarText(m.running()))
	return b.String()
}

func (m Model) statusLine() string {
	if m.running() {
		status := "running"
		if m.cancelling {
			status = "cancelling"
		}
		return fmt.Sprintf(" %s %s  posted %d", m.spinner.View(), status, m.posted)
	}
	text := fmt.Sprintf("%s  posted %d  %s", m.res.State, m.res.Posted, m.res.Duration.Truncate(time.Millisecond))
	style := bannerStyle.BorderForeground(colorGreen).Foreground(colorGreen)
	switch m.res.State {
	case engine.StateValidationFail, engine.StateExecutionFailed:
		style = bannerStyle.BorderForeground(colorRed).Foreground(colorRed)
		if m.res.Failure != nil {
			text += "\n" + m.res.Failure.Error()
		} else if m.res.Err != nil {
			text += "\n" + m.res.Err.Error()
		}
	case engine.StateCancelled, engine.StateMaxReached:
		style = bannerStyle.BorderForeground(colorYellow).Foreground(colorYellow)
	}
	return style.Render(text)
}

func (m Model) eventLine(ev result.ScriptStepResult) string {
	glyph, style := eventGlyph(ev)
	line := fmt.Sprintf("%s %s %-18s %s", ev.Time.Format("15:04:05"), glyph, ev.Label(), ev.Name)
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	if ev.Err != nil {
		line += ": " + ev.Err.Error()
	}
	return " " + style.Render(m.truncate(line, m.width-2))
}

// truncate cuts s to width terminal cells.
func (m Model) truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
