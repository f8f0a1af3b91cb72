// Package viewer is the terminal presentation of a running dialogue.
package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/duet/core"
	"github.com/koscakluka/duet/core/events"
)

const interjectTimeout = 10 * time.Second

// Source is the dialogue the viewer renders.
type Source interface {
	Conversation() orchestration.ConversationSnapshot
	Interject(ctx context.Context, text string) error
}

// Notifier coalesces orchestrator events into redraw requests. Notify never
// blocks, so it is safe to use as an event callback.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Notify(events.Event) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

type refreshMsg struct{}

type interjectedMsg struct{ err error }

type Model struct {
	source   Source
	notifier *Notifier
	names    Names
	theme    theme

	snapshot orchestration.ConversationSnapshot
	status   string
	width    int
	height   int
	ready    bool

	timeline viewport.Model
	spinner  spinner.Model
	input    textinput.Model
}

func New(source Source, notifier *Notifier, names Names) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Say something to both of them"
	input.CharLimit = 500
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Points))

	return Model{
		source:   source,
		notifier: notifier,
		names:    names,
		theme:    newTheme(),
		timeline: viewport.New(0, 0),
		spinner:  sp,
		input:    input,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		func() tea.Msg { return refreshMsg{} },
		m.waitForUpdate(),
	)
}

func (m Model) waitForUpdate() tea.Cmd {
	if m.notifier == nil {
		return nil
	}
	return func() tea.Msg {
		<-m.notifier.ch
		return refreshMsg{}
	}
}

func (m Model) interject(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), interjectTimeout)
		defer cancel()
		return interjectedMsg{err: m.source.Interject(ctx, text)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.status = "sending..."
			return m, m.interject(text)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = msg.Width
		m.timeline.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 1)
		m.ready = true
		m.render()

	case refreshMsg:
		m.snapshot = m.source.Conversation()
		m.render()
		cmds = append(cmds, m.waitForUpdate())

	case interjectedMsg:
		if msg.err != nil {
			m.status = "not sent: " + msg.err.Error()
		} else {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) render() {
	atBottom := m.timeline.AtBottom() || m.timeline.TotalLineCount() == 0
	m.timeline.SetContent(renderTurns(m.theme, m.snapshot.Turns, m.names, m.width))
	if atBottom {
		m.timeline.GotoBottom()
	}
}

func (m Model) header() string {
	session := m.snapshot.Session
	if session == nil {
		return m.theme.header.Render("duet")
	}
	return m.theme.header.Render(fmt.Sprintf("duet · %s · %s", session.DateKey, session.Topic))
}

func (m Model) statusLine() string {
	snapshot := m.snapshot
	switch {
	case m.status != "":
		return m.theme.status.Render(m.status)
	case snapshot.LastErr != nil:
		return m.theme.err.Render(snapshot.LastErr.Error())
	case snapshot.State.Phase == orchestration.PhaseLoading:
		return m.spinner.View() + m.theme.muted.Render(" loading today's dialogue")
	case snapshot.State.Is(orchestration.PhaseActive, orchestration.ModeDormant):
		return m.theme.muted.Render("they are resting, the dialogue resumes in the morning")
	case snapshot.Typing != "":
		return m.spinner.View() + m.theme.muted.Render(" "+m.names.For(snapshot.Typing)+" is typing")
	default:
		return ""
	}
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return strings.Join([]string{
		m.header(),
		m.timeline.View(),
		m.statusLine(),
		m.input.View(),
	}, "\n")
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, source Source, notifier *Notifier, names Names) error {
	program := tea.NewProgram(New(source, notifier, names), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
