package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/neai/internal/console"
	"github.com/felixgeelhaar/neai/internal/viewer"
)

// Actions is what the dashboard triggers; *console.Console implements it.
type Actions interface {
	UploadText(ctx context.Context, text string) error
	UploadFile(ctx context.Context, path string) error
	ExecuteIntent(ctx context.Context, text string) error
	ExecuteCommand(ctx context.Context, cmd string) error
	SendFeedback(ctx context.Context, id string, positive bool) error
	Refresh(ctx context.Context) error
}

// Bind forwards every viewer state change to the program.
func Bind(p *tea.Program, v *viewer.Viewer) {
	v.OnChange(func(s viewer.State) {
		p.Send(StateMsg(s))
	})
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))
)

// StateMsg carries a viewer state into the program.
type StateMsg viewer.State

// actionDoneMsg reports a finished console action.
type actionDoneMsg struct {
	kind  console.Kind
	err   error
	clear bool
}

type focus int

const (
	focusInput focus = iota
	focusList
)

// linesPerItem is how many list lines one memory item takes.
const linesPerItem = 3

type Model struct {
	ctx     context.Context
	actions Actions

	state     viewer.State
	cursor    int
	notice    string
	dismissed string
	focus     focus
	busy      int
	input     textinput.Model
	list      viewport.Model
	ready     bool
	quitting  bool
	width     int
	height    int
}

func NewModel(ctx context.Context, actions Actions) Model {
	ti := textinput.New()
	ti.Placeholder = "Type text, an intent, or a file path"
	ti.CharLimit = 4096
	ti.Focus()

	return Model{
		ctx:     ctx,
		actions: actions,
		input:   ti,
		list:    viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.run(console.Kind("refresh"), false, m.actions.Refresh))
}

// run executes an action off the update loop.
func (m Model) run(kind console.Kind, clear bool, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{kind: kind, err: fn(ctx), clear: clear}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.Width = msg.Width
		m.list.Height = max(msg.Height-10, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.syncList()

	case StateMsg:
		st := viewer.State(msg)
		if st.Snapshot.Seq < m.state.Snapshot.Seq {
			return m, nil
		}
		// The console clears the notice before each action, so every
		// prompt or failure arrives as a change; esc hides only the current one.
		if st.Notice != m.dismissed {
			m.notice = st.Notice
			m.dismissed = ""
		}
		m.state = st
		if n := st.Snapshot.Len(); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		m.syncList()

	case actionDoneMsg:
		m.busy = max(m.busy-1, 0)
		if msg.err == nil && msg.clear {
			m.input.SetValue("")
		}
	}

	var cmd tea.Cmd
	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focus == focusInput {
		text := m.input.Value()
		switch msg.String() {
		case "enter":
			return m.start(console.KindUploadText, true, func(ctx context.Context) error {
				return m.actions.UploadText(ctx, text)
			})
		case "ctrl+e":
			return m.start(console.KindExecuteIntent, true, func(ctx context.Context) error {
				return m.actions.ExecuteIntent(ctx, text)
			})
		case "ctrl+f":
			path := strings.TrimSpace(text)
			return m.start(console.KindUploadFile, true, func(ctx context.Context) error {
				return m.actions.UploadFile(ctx, path)
			})
		case "tab", "esc":
			m.focus = focusList
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "tab", "i":
		m.focus = focusInput
		return m, m.input.Focus()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.syncList()
		}
	case "down", "j":
		if m.cursor < m.state.Snapshot.Len()-1 {
			m.cursor++
			m.syncList()
		}
	case "+", "-":
		positive := msg.String() == "+"
		id := m.selectedID()
		return m.start(console.KindFeedback, false, func(ctx context.Context) error {
			return m.actions.SendFeedback(ctx, id, positive)
		})
	case "s":
		return m.start(console.KindExecuteCommand, false, func(ctx context.Context) error {
			return m.actions.ExecuteCommand(ctx, console.CommandStartStreaming)
		})
	case "x":
		return m.start(console.KindExecuteCommand, false, func(ctx context.Context) error {
			return m.actions.ExecuteCommand(ctx, console.CommandStopStreaming)
		})
	case "r":
		return m.start(console.Kind("refresh"), false, m.actions.Refresh)
	case "esc":
		m.dismissed = m.notice
		m.notice = ""
	}
	return m, nil
}

func (m Model) start(kind console.Kind, clear bool, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	m.busy++
	m.notice = ""
	return m, m.run(kind, clear, fn)
}

func (m Model) selectedID() string {
	items := m.state.Snapshot.Items
	if m.cursor < 0 || m.cursor >= len(items) {
		return ""
	}
	return items[m.cursor].ID
}

// syncList re-renders the list and keeps the cursor visible.
func (m *Model) syncList() {
	m.list.SetContent(m.renderList())
	top := m.cursor * linesPerItem
	if top < m.list.YOffset {
		m.list.SetYOffset(top)
	} else if bottom := top + linesPerItem; bottom > m.list.YOffset+m.list.Height {
		m.list.SetYOffset(bottom - m.list.Height)
	}
}

func (m Model) renderList() string {
	entries := viewer.Entries(m.state.Snapshot.Items)
	if len(entries) == 0 {
		return dimStyle.Render("No memory items yet.")
	}
	var sb strings.Builder
	for i, e := range entries {
		marker := "  "
		id := e.ID
		if i == m.cursor && m.focus == focusList {
			marker = "> "
			id = selectedStyle.Render(id)
		}
		fmt.Fprintf(&sb, "%s%s [%s] %s\n", marker, id, e.Type, e.Content)
		fmt.Fprintf(&sb, "    %s\n\n", dimStyle.Render(fmt.Sprintf("confidence %s  relevance %s  seen %s",
			e.Confidence, e.Relevance, e.TimesSeen)))
	}
	return sb.String()
}

func (m Model) View() string {
	if m.quitting {
		return "  Bye.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(" NE-AI Memory "))
	fmt.Fprintf(&sb, " %d items", m.state.Snapshot.Len())
	if m.busy > 0 {
		sb.WriteString(dimStyle.Render("  working..."))
	}
	sb.WriteString("\n")

	if m.state.Status != "" {
		sb.WriteString(infoStyle.Render(" Status: "+viewer.Sanitize(m.state.Status)) + "\n")
	}
	if m.state.Err != nil {
		sb.WriteString(errorStyle.Render(" View may be stale: "+viewer.Sanitize(m.state.Err.Error())) + "\n")
	}
	sb.WriteString("\n")

	if m.ready {
		sb.WriteString(m.list.View())
	} else {
		sb.WriteString(m.renderList())
	}
	sb.WriteString("\n")

	sb.WriteString(m.input.View() + "\n")
	if m.notice != "" {
		sb.WriteString(errorStyle.Render(" "+viewer.Sanitize(m.notice)) + "\n")
	}

	help := "enter send text  ctrl+e intent  ctrl+f upload file  tab list  ctrl+c quit"
	if m.focus == focusList {
		help = "↑/↓ select  + / - feedback  s start streaming  x stop streaming  r refresh  tab input  q quit"
	}
	sb.WriteString(dimStyle.Render(help))
	return sb.String()
}
