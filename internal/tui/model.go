package tui

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/ashureev/agent-chat/internal/turn"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
)

const (
	welcomeText  = "Ask the agent anything. Attach a file with /attach <path>."
	thinkingText = "Agent is thinking..."
	placeholder  = "Type a message... (Enter to send, Ctrl+C to exit)"
	revealCursor = "|"

	attachCommand = "/attach"
	detachCommand = "/detach"

	headerHeight = 2
	footerHeight = 2
	inputHeight  = 3
	chipHeight   = 1
)

// Options configures the chat view.
type Options struct {
	// GlamourStyle names a glamour standard style such as "dark", "light" or "notty".
	GlamourStyle string
	Title        string
	Logger       *slog.Logger
}

type snapshotMsg turn.Snapshot

// Model is the bubbletea model of the chat window.
type Model struct {
	ctrl    Controller
	updates <-chan turn.Snapshot

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	styles    Styles
	opts      Options
	logger    *slog.Logger

	snap   turn.Snapshot
	status string
	width  int
	height int

	// rendered caches glamour output of committed agent messages by id.
	rendered map[string]string
}

// NewModel creates the chat view.
func NewModel(ctrl Controller, updates <-chan turn.Snapshot, opts Options) Model {
	if opts.GlamourStyle == "" {
		opts.GlamourStyle = "dark"
	}
	if opts.Title == "" {
		opts.Title = "Agent Chat"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctrl:      ctrl,
		updates:   updates,
		textinput: ti,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		styles:    DefaultStyles(),
		opts:      opts,
		logger:    logger,
		rendered:  make(map[string]string),
	}
	m.renderer = m.newRenderer(76)
	return m
}

func (m Model) newRenderer(wrap int) *glamour.TermRenderer {
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.opts.GlamourStyle),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.logger.Warn("Failed to create markdown renderer", "style", m.opts.GlamourStyle, "error", err)
		return nil
	}
	return r
}

// Init starts the cursor blink and waits for the first snapshot.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForSnapshot(m.updates),
	)
}

func waitForSnapshot(updates <-chan turn.Snapshot) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

// Update handles keys, resizes, spinner ticks and snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleSubmit()
		}
		m.textinput, tiCmd = m.textinput.Update(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight-inputHeight-chipHeight, 3)
		m.textinput.Width = msg.Width - 8
		m.renderer = m.newRenderer(msg.Width - 6)
		m.rendered = make(map[string]string)
		m.refresh()

	case spinner.TickMsg:
		if m.snap.Sending() {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			m.refresh()
			return m, spCmd
		}
		return m, nil

	case snapshotMsg:
		wasSending := m.snap.Sending()
		m.snap = turn.Snapshot(msg)
		m.refresh()
		cmds := []tea.Cmd{waitForSnapshot(m.updates)}
		if m.snap.Sending() && !wasSending {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	m.status = ""

	switch {
	case input == detachCommand:
		if err := m.ctrl.Detach(); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.textinput.Reset()
		return m, nil

	case strings.HasPrefix(input, attachCommand+" "):
		path := strings.TrimSpace(strings.TrimPrefix(input, attachCommand))
		if _, err := m.ctrl.Attach(path); err != nil {
			m.status = fmt.Sprintf("Cannot attach: %v", err)
			return m, nil
		}
		m.textinput.Reset()
		return m, nil
	}

	if m.snap.Busy() {
		return m, nil
	}

	if err := m.ctrl.Submit(m.textinput.Value()); err != nil {
		switch {
		case errors.Is(err, turn.ErrEmptyInput):
		case errors.Is(err, turn.ErrBusy):
		default:
			m.status = err.Error()
		}
		return m, nil
	}
	m.textinput.Reset()
	return m, nil
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m Model) renderConversation() string {
	if len(m.snap.Messages) == 0 && !m.snap.Busy() {
		return m.styles.Welcome.Render(welcomeText)
	}

	var b strings.Builder
	for _, msg := range m.snap.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if m.snap.Sending() {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.styles.Thinking.Render(thinkingText))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg domain.Message) string {
	var b strings.Builder
	stamp := m.styles.Timestamp.Render(msg.CreatedAt.Format("15:04"))

	if msg.Role == domain.RoleUser {
		b.WriteString(m.styles.UserLabel.Render("You") + " " + stamp + "\n")
		if msg.Content != "" {
			b.WriteString(msg.Content + "\n")
		}
		if msg.Attachment != nil {
			b.WriteString(m.renderChip(msg.Attachment.Name, msg.Attachment.SizeBytes) + "\n")
		}
		return b.String()
	}

	b.WriteString(m.styles.AgentLabel.Render("Agent") + " " + stamp + "\n")
	if m.snap.Revealing() && msg.ID == m.snap.RevealID {
		b.WriteString(m.snap.RevealText + revealCursor + "\n")
		return b.String()
	}
	b.WriteString(m.renderMarkdown(msg))
	return b.String()
}

func (m Model) renderMarkdown(msg domain.Message) string {
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	if m.renderer == nil || msg.Content == "" {
		return msg.Content + "\n"
	}
	out, err := m.renderer.Render(msg.Content)
	if err != nil {
		m.logger.Debug("Markdown render failed", "message_id", msg.ID, "error", err)
		return msg.Content + "\n"
	}
	out = strings.Trim(out, "\n") + "\n"
	m.rendered[msg.ID] = out
	return out
}

func (m Model) renderChip(name string, size int64) string {
	return m.styles.Chip.Render(fmt.Sprintf("%s (%s)", name, humanize.IBytes(uint64(max(size, 0)))))
}

// View draws the window.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render(m.opts.Title))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if f := m.snap.Attachment; f != nil {
		b.WriteString(m.renderChip(f.Name, f.SizeBytes))
		b.WriteString(" ")
		b.WriteString(m.styles.Help.Render(detachCommand + " to remove"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Input.Render(m.textinput.View()))
	b.WriteString("\n")

	switch {
	case m.status != "":
		b.WriteString(m.styles.Status.Render(m.status))
	case m.snap.Busy():
		b.WriteString(m.styles.Help.Render("Waiting for the agent..."))
	default:
		b.WriteString(m.styles.Help.Render("Enter send • /attach <path> • /detach • Ctrl+C quit"))
	}
	return b.String()
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctrl Controller, updates <-chan turn.Snapshot, opts Options) error {
	p := tea.NewProgram(NewModel(ctrl, updates, opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat ui: %w", err)
	}
	return nil
}
