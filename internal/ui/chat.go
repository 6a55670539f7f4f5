package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const chatHistoryLimit = 500

// ChatUI runs the interactive room view. Incoming messages and system notes
// arrive through Message and System; outgoing text goes through the send
// callback from the input line.
type ChatUI struct {
	program *tea.Program
	events  chan chatEvent
}

type chatEvent struct {
	from   string
	text   string
	at     time.Time
	system bool
}

type sendResult struct{ err error }

// NewChat builds the chat for one room. self labels the local side's
// messages; send is called with each submitted line.
func NewChat(title, self string, send func(string) error) *ChatUI {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	events := make(chan chatEvent, 64)
	model := &chatModel{
		title:  title,
		self:   self,
		input:  input,
		events: events,
		send:   send,
	}
	return &ChatUI{
		// Inline mode keeps earlier terminal output visible.
		program: tea.NewProgram(model),
		events:  events,
	}
}

// Run blocks until the user leaves the chat.
func (ui *ChatUI) Run() error {
	_, err := ui.program.Run()
	return err
}

// Message queues an incoming peer message for display.
func (ui *ChatUI) Message(from, text string, at time.Time) {
	select {
	case ui.events <- chatEvent{from: from, text: text, at: at}:
	default:
	}
}

// System queues a status line, rendered muted.
func (ui *ChatUI) System(text string) {
	select {
	case ui.events <- chatEvent{text: text, at: time.Now(), system: true}:
	default:
	}
}

// Quit ends the chat from outside, for example when the room closes.
func (ui *ChatUI) Quit() {
	ui.program.Quit()
}

type chatModel struct {
	title  string
	self   string
	lines  []string
	input  textinput.Model
	events chan chatEvent
	send   func(string) error

	width    int
	quitting bool
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m *chatModel) listen() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.appendLine(m.renderLine(m.self, text, time.Now(), false))
			send := m.send
			return m, func() tea.Msg { return sendResult{err: send(text)} }
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-4)

	case chatEvent:
		if msg.system {
			m.appendLine(ChatSystemStyle.Render("· " + msg.text))
		} else {
			m.appendLine(m.renderLine(msg.from, msg.text, msg.at, true))
		}
		return m, m.listen()

	case sendResult:
		if msg.err != nil {
			m.appendLine(ChatSystemStyle.Render("· send failed: " + msg.err.Error()))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(ChatHeaderStyle.Render(m.title))
	b.WriteString("\n\n")
	if len(m.lines) == 0 {
		b.WriteString(ChatSystemStyle.Render("· no messages yet"))
	} else {
		b.WriteString(strings.Join(m.lines, "\n"))
	}
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render("enter to send · esc to leave"))
	b.WriteString("\n")
	return b.String()
}

func (m *chatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > chatHistoryLimit {
		m.lines = m.lines[len(m.lines)-chatHistoryLimit:]
	}
}

func (m *chatModel) renderLine(author, text string, at time.Time, peer bool) string {
	style := ChatSelfStyle
	if peer {
		style = ChatPeerStyle
	}
	return fmt.Sprintf("%s %s %s",
		ChatTimeStyle.Render(at.Local().Format("15:04")),
		style.Render(author+":"),
		text,
	)
}
