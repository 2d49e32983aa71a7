// Package tui is the interactive terminal chat over the retrieval pipeline.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
)

// Asker streams answers (ISP: only AskStream from rag.Service).
type Asker interface {
	AskStream(ctx context.Context, question string, opts rag.AskOptions) (<-chan domain.StreamEvent, error)
}

// Options configures a chat session.
type Options struct {
	Title        string
	Memory       string // passed to every question
	HistoryTurns int    // earlier turns sent with each question, 0 = none
}

type turn struct {
	question string
	answer   strings.Builder
	sources  []string
	err      error
}

// stream lifecycle messages
type (
	streamStarted struct {
		events <-chan domain.StreamEvent
		cancel context.CancelFunc
	}
	streamEvent struct {
		ev domain.StreamEvent
		ok bool
	}
	streamFailed struct{ err error }
)

// Model is the Bubble Tea model of the chat.
type Model struct {
	ctx   context.Context
	asker Asker
	opts  Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	turns     []*turn
	history   []domain.Message
	events    <-chan domain.StreamEvent
	cancel    context.CancelFunc
	busy      bool
	cancelled bool
	ready     bool
	status    string
}

// New creates a chat model. ctx bounds every question.
func New(ctx context.Context, asker Asker, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "ragbot"
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the knowledge base and press Enter"
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		asker:    asker,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Esc cancels an answer, Ctrl+C quits.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles input, window and stream messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBox.GetFrameSize()
		_, ih := inputBox.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // title, status, input line, input frame
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.input.Width = max(10, msg.Width-8)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamStarted:
		m.events = msg.events
		m.cancel = msg.cancel
		return m, wait(m.events)

	case streamFailed:
		m.current().err = msg.err
		m.finish()
		return m, nil

	case streamEvent:
		if !msg.ok {
			m.finish()
			return m, nil
		}
		m.apply(msg.ev)
		m.refresh()
		return m, wait(m.events)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // only keys with chat-level meaning
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD:
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case tea.KeyEsc:
		if m.busy && m.cancel != nil {
			m.cancel()
			m.cancelled = true
		}
		return m, nil

	case tea.KeyEnter:
		q := strings.TrimSpace(m.input.Value())
		if q == "" || m.busy {
			return m, nil
		}
		m.input.Reset()
		m.turns = append(m.turns, &turn{question: q})
		m.busy = true
		m.cancelled = false
		m.status = "Thinking…"
		m.refresh()
		return m, tea.Batch(m.spinner.Tick, m.ask(q))

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask starts a stream. History excludes the new question.
func (m Model) ask(question string) tea.Cmd {
	opts := rag.AskOptions{Memory: m.opts.Memory, History: append([]domain.Message(nil), m.history...)}
	parent := m.ctx
	asker := m.asker
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(parent)
		events, err := asker.AskStream(ctx, question, opts)
		if err != nil {
			cancel()
			return streamFailed{err: err}
		}
		return streamStarted{events: events, cancel: cancel}
	}
}

func wait(events <-chan domain.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return streamEvent{ev: ev, ok: ok}
	}
}

func (m *Model) current() *turn {
	return m.turns[len(m.turns)-1]
}

func (m *Model) apply(ev domain.StreamEvent) {
	t := m.current()
	switch ev.Type {
	case domain.StreamSources:
		t.sources = domain.SourceNames(ev.Sources)
	case domain.StreamToken:
		t.answer.WriteString(ev.Token)
	case domain.StreamDone:
		t.answer.Reset()
		t.answer.WriteString(ev.Answer)
	case domain.StreamError:
		t.err = ev.Err
	}
}

// finish closes the active stream and records a completed turn in the history.
func (m *Model) finish() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.events = nil
	m.busy = false

	t := m.current()
	switch {
	case t.err != nil:
		m.status = "Failed."
	case m.cancelled:
		m.status = "Cancelled."
	default:
		m.status = "Esc cancels an answer, Ctrl+C quits."
		if answer := t.answer.String(); answer != "" && m.opts.HistoryTurns > 0 {
			m.history = append(m.history,
				domain.Message{Role: domain.RoleUser, Content: t.question},
				domain.Message{Role: domain.RoleAssistant, Content: answer},
			)
			if keep := m.opts.HistoryTurns * 2; len(m.history) > keep {
				m.history = m.history[len(m.history)-keep:]
			}
		}
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.turns) == 0 {
		return hintStyle.Render("No questions yet.")
	}
	width := max(20, m.viewport.Width)
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		if answer := t.answer.String(); answer != "" {
			b.WriteString(answerStyle.Width(width).Render(answer))
			b.WriteString("\n")
		}
		if len(t.sources) > 0 {
			b.WriteString(sourcesStyle.Render("Sources: " + strings.Join(t.sources, ", ")))
			b.WriteString("\n")
		}
		if t.err != nil {
			b.WriteString(errorStyle.Render("Error: " + t.err.Error()))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// View renders the transcript, the input line and the status.
func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(m.opts.Title),
		transcriptBox.Render(m.viewport.View()),
		inputBox.Render(m.input.View()),
		status,
	)
}

// Run starts the chat on the terminal and blocks until the user quits or ctx ends.
func Run(ctx context.Context, asker Asker, opts Options) error {
	p := tea.NewProgram(New(ctx, asker, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
