// Package tui is a terminal chat client driven by the event bus: it renders
// streamed fragments as they arrive and surfaces command approval prompts
// inline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/store"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	approvalStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
)

type Options struct {
	Profile        string
	ConversationID string
}

// Run blocks until the user quits or ctx is canceled.
func Run(ctx context.Context, b *bus.Bus, in io.Reader, out io.Writer, opts Options) error {
	if f, ok := out.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			return errors.New("stdout is not a TTY")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(b, opts)
	go m.pumpBus(ctx)

	prog := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	_, err := prog.Run()
	return err
}

type busMsg struct {
	Event bus.Event
}

type tickMsg struct{}

type model struct {
	bus    *bus.Bus
	events chan tea.Msg

	conversationID string
	profile        string

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	transcript []string
	streaming  strings.Builder
	busy       bool
	spinner    int

	pendingApproval *bus.ApprovalRequest
}

func newModel(b *bus.Bus, opts Options) *model {
	inp := textinput.New()
	inp.Placeholder = "Type a message…"
	inp.Prompt = "› "
	inp.CharLimit = 0
	inp.Focus()

	convID := strings.TrimSpace(opts.ConversationID)
	if convID == "" {
		convID = store.NewConversationID()
	}

	return &model{
		bus:            b,
		events:         make(chan tea.Msg, 256),
		conversationID: convID,
		profile:        strings.TrimSpace(opts.Profile),
		input:          inp,
		viewport:       viewport.New(0, 0),
	}
}

// pumpBus forwards this conversation's events into the tea loop.
func (m *model) pumpBus(ctx context.Context) {
	sub := m.bus.Subscribe(
		bus.KindStreamFragment, bus.KindStreamEnd, bus.KindAssistant,
		bus.KindToolStarted, bus.KindToolCompleted, bus.KindApprovalRequest,
	)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if eventConversation(ev) != m.conversationID {
				continue
			}
			select {
			case m.events <- busMsg{Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func eventConversation(ev bus.Event) string {
	switch ev.Kind {
	case bus.KindStreamFragment:
		return ev.StreamFragment.ConversationID
	case bus.KindStreamEnd:
		return ev.StreamEnd.ConversationID
	case bus.KindAssistant:
		return ev.Assistant.ConversationID
	case bus.KindToolStarted, bus.KindToolCompleted:
		return ev.Tool.ConversationID
	case bus.KindApprovalRequest:
		return ev.ApprovalRequest.ConversationID
	default:
		return ""
	}
}

func waitEventCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitEventCmd(m.events), tickCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.rerender()
		return m, nil

	case tickMsg:
		if m.busy {
			m.spinner = (m.spinner + 1) % len(spinnerFrames)
		}
		return m, tickCmd()

	case busMsg:
		m.handleEvent(msg.Event)
		m.rerender()
		return m, waitEventCmd(m.events)

	case tea.KeyMsg:
		if m.pendingApproval != nil {
			return m.handleApprovalKey(msg)
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			m.rerender()
			return m, nil
		case tea.KeyPgUp:
			m.viewport.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfViewDown()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleApprovalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch strings.ToLower(msg.String()) {
	case "y":
		m.resolveApproval(true)
	case "n", "esc":
		m.resolveApproval(false)
	case "ctrl+c":
		return m, tea.Quit
	}
	m.rerender()
	return m, nil
}

func (m *model) resolveApproval(approved bool) {
	req := m.pendingApproval
	if req == nil {
		return
	}
	m.pendingApproval = nil
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	m.transcript = append(m.transcript, dimStyle.Render(fmt.Sprintf("[command %s]", verdict)))
	m.bus.Publish(bus.Event{Kind: bus.KindApprovalResponse, ApprovalResponse: &bus.ApprovalResponse{
		InvocationID: req.InvocationID,
		Approved:     approved,
	}})
}

func (m *model) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return
	}
	m.input.Reset()
	m.transcript = append(m.transcript, userStyle.Render("you: ")+text)
	m.busy = true
	m.bus.Publish(bus.Event{Kind: bus.KindInbound, Inbound: &bus.Inbound{
		ConversationID: m.conversationID,
		Channel:        "tui",
		Profile:        m.profile,
		Content:        text,
	}})
}

func (m *model) handleEvent(ev bus.Event) {
	switch ev.Kind {
	case bus.KindStreamFragment:
		m.streaming.WriteString(ev.StreamFragment.Text)
	case bus.KindStreamEnd:
		m.busy = false
		if ev.StreamEnd.Error != "" {
			m.transcript = append(m.transcript, errorStyle.Render("error: "+ev.StreamEnd.Error))
		}
	case bus.KindAssistant:
		m.streaming.Reset()
		m.transcript = append(m.transcript, assistantStyle.Render("claw: ")+ev.Assistant.Content, "")
	case bus.KindToolStarted:
		m.transcript = append(m.transcript, toolStyle.Render(fmt.Sprintf("[tool %s…]", ev.Tool.Name)))
	case bus.KindToolCompleted:
		if ev.Tool.Error != "" {
			m.transcript = append(m.transcript, errorStyle.Render(fmt.Sprintf("[tool %s failed: %s]", ev.Tool.Name, ev.Tool.Error)))
		}
	case bus.KindApprovalRequest:
		m.pendingApproval = ev.ApprovalRequest
	}
}

func (m *model) resize() {
	m.viewport.Width = m.width
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	m.viewport.Height = h
	m.input.Width = m.width - 4
}

func (m *model) rerender() {
	var b strings.Builder
	for _, line := range m.transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if partial := m.streaming.String(); partial != "" {
		b.WriteString(assistantStyle.Render("claw: ") + partial)
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *model) View() string {
	header := dimStyle.Render(fmt.Sprintf(" conversation %s", m.conversationID))

	var bottom string
	switch {
	case m.pendingApproval != nil:
		bottom = approvalStyle.Render(fmt.Sprintf("Run command? %q  [y/n]", m.pendingApproval.Command))
	case m.busy:
		bottom = dimStyle.Render(spinnerFrames[m.spinner] + " thinking…")
	default:
		bottom = m.input.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), bottom)
}
