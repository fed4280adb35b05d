// Package tui renders a conversation.Controller as a full-screen terminal
// chat.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/oncolife/chatbot/internal/cli/ui"
	"github.com/oncolife/chatbot/internal/conversation"
	"github.com/oncolife/chatbot/internal/model/chat"
)

const (
	defaultWindowWidth  = 100
	defaultWindowHeight = 40
	inputCharLimit      = 2000
	headerHeight        = 2
	minContentHeight    = 5
	chatIDDisplayLength = 8
)

var (
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boldStyle      = lipgloss.NewStyle().Bold(true)
	accentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	selectedStyle  = lipgloss.NewStyle().Reverse(true).Bold(true)
	optionStyle    = lipgloss.NewStyle().Padding(0, 1)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusEndStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type (
	changedMsg     struct{}
	sessionDoneMsg struct{ err error }
	submitDoneMsg  struct{ err error }
)

// affordanceKey identifies the prompt the local selection state belongs to.
type affordanceKey struct {
	lastID int64
	kind   conversation.Kind
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx      context.Context
	ctrl     *conversation.Controller
	startNew bool
	now      func() time.Time

	snap      conversation.Snapshot
	key       affordanceKey
	cursor    int
	checklist *conversation.Checklist
	picker    *datePicker
	notice    string

	input    textinput.Model
	view     viewport.Model
	spin     spinner.Model
	spinning bool

	width  int
	height int
}

// NewModel builds the chat screen. When startNew is set the first load
// starts a fresh session instead of resuming today's.
func NewModel(ctx context.Context, ctrl *conversation.Controller, startNew bool, now func() time.Time) Model {
	if now == nil {
		now = time.Now
	}

	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = inputCharLimit
	input.Prompt = ""
	input.Width = defaultWindowWidth - 3

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = accentStyle

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		startNew: startNew,
		now:      now,
		input:    input,
		view:     viewport.New(defaultWindowWidth, defaultWindowHeight-headerHeight),
		spin:     spin,
		width:    defaultWindowWidth,
		height:   defaultWindowHeight,
		key:      affordanceKey{lastID: -1},
	}
	m.snap = ctrl.Snapshot()
	return m
}

// Init starts the session load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.sessionCmd(m.startNew))
}

// Update handles controller notifications and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 3
		m.refresh()

	case changedMsg, sessionDoneMsg:
		cmds = append(cmds, m.sync())

	case submitDoneMsg:
		if msg.err != nil {
			m.notice = describe(msg.err)
		}
		cmds = append(cmds, m.sync())

	case spinner.TickMsg:
		if m.spinning {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			m.refresh()
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// sync pulls a fresh snapshot and resets selection state when the prompt
// changed.
func (m *Model) sync() tea.Cmd {
	m.snap = m.ctrl.Snapshot()

	key := affordanceKey{lastID: -1, kind: m.snap.Affordance.Kind}
	if n := len(m.snap.Messages); n > 0 {
		key.lastID = m.snap.Messages[n-1].ID
	}
	if key != m.key {
		m.key = key
		m.cursor = 0
		m.checklist = nil
		if key.kind == conversation.KindChecklist {
			m.checklist = conversation.NewChecklist(m.snap.Affordance)
		}
	}
	if !m.snap.Affordance.AcceptsText() {
		m.picker = nil
	}

	var cmd tea.Cmd
	if m.snap.Affordance.AcceptsText() && m.picker == nil {
		cmd = m.input.Focus()
	} else {
		m.input.Blur()
	}

	busy := m.snap.Composing || m.snap.Phase == conversation.PhaseLoading
	if busy && !m.spinning {
		m.spinning = true
		cmd = tea.Batch(cmd, m.spin.Tick)
	} else if !busy {
		m.spinning = false
	}

	m.refresh()
	return cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.picker != nil {
			m.picker = nil
			m.refresh()
			return m, m.input.Focus()
		}
		return m, tea.Quit
	case tea.KeyCtrlN:
		m.notice = ""
		return m, m.sessionCmd(true)
	case tea.KeyCtrlR:
		if m.snap.Phase == conversation.PhaseFailed {
			m.notice = ""
			return m, m.sessionCmd(false)
		}
		return m, nil
	case tea.KeyCtrlD:
		if m.snap.Affordance.AcceptsText() && m.picker == nil {
			m.picker = newDatePicker(m.now())
			m.input.Blur()
			m.refresh()
		}
		return m, nil
	case tea.KeyPgUp:
		m.view.ViewUp()
		return m, nil
	case tea.KeyPgDown:
		m.view.ViewDown()
		return m, nil
	}

	if m.picker != nil {
		return m.handlePickerKey(msg)
	}

	switch m.snap.Affordance.Kind {
	case conversation.KindTextInput:
		return m.handleTextKey(msg)
	case conversation.KindButtons:
		return m.handleChoiceKey(msg, m.snap.Affordance.Options, func(option string) conversation.Interaction {
			return conversation.ButtonChoice{Option: option}
		})
	case conversation.KindFeelingPicker:
		return m.handleChoiceKey(msg, m.snap.Affordance.Options, func(option string) conversation.Interaction {
			return conversation.Feeling{Label: option}
		})
	case conversation.KindChecklist:
		return m.handleChecklistKey(msg)
	}
	return m, nil
}

func (m Model) handleTextKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		in := conversation.Text{Body: m.input.Value()}
		if in.Vacuous() {
			return m, nil
		}
		m.input.Reset()
		return m, m.submit(in)
	case tea.KeyUp:
		m.view.LineUp(1)
		return m, nil
	case tea.KeyDown:
		m.view.LineDown(1)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleChoiceKey(msg tea.KeyMsg, options []string, build func(string) conversation.Interaction) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyLeft, tea.KeyUp, tea.KeyShiftTab:
		m.cursor = wrapIndex(m.cursor-1, len(options))
	case tea.KeyRight, tea.KeyDown, tea.KeyTab:
		m.cursor = wrapIndex(m.cursor+1, len(options))
	case tea.KeyEnter:
		if m.cursor < len(options) {
			return m, m.submit(build(options[m.cursor]))
		}
	default:
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m Model) handleChecklistKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.checklist == nil {
		return m, nil
	}
	options := m.checklist.Options()

	switch msg.Type {
	case tea.KeyUp, tea.KeyShiftTab:
		m.cursor = wrapIndex(m.cursor-1, len(options))
	case tea.KeyDown, tea.KeyTab:
		m.cursor = wrapIndex(m.cursor+1, len(options))
	case tea.KeySpace:
		m.notice = ""
		if m.cursor < len(options) && !m.checklist.Toggle(options[m.cursor]) {
			m.notice = fmt.Sprintf("You can select at most %d.", m.checklist.Max())
		}
	case tea.KeyEnter:
		in, err := m.checklist.Submit()
		if err != nil {
			m.notice = describe(err)
			break
		}
		return m, m.submit(in)
	default:
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyLeft:
		m.picker.move(-1)
	case tea.KeyRight:
		m.picker.move(1)
	case tea.KeyUp:
		m.picker.move(-7)
	case tea.KeyDown:
		m.picker.move(7)
	case tea.KeyPgUp:
		m.picker.moveMonth(-1)
	case tea.KeyPgDown:
		m.picker.moveMonth(1)
	case tea.KeyEnter:
		day := m.picker.day
		m.picker = nil
		return m, m.submit(conversation.Date{Day: day})
	default:
		return m, nil
	}
	m.refresh()
	return m, nil
}

func (m *Model) submit(in conversation.Interaction) tea.Cmd {
	m.notice = ""
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submitDoneMsg{err: ctrl.Submit(ctx, in)}
	}
}

func (m Model) sessionCmd(fresh bool) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if fresh {
			return sessionDoneMsg{err: ctrl.StartNewSession(ctx)}
		}
		return sessionDoneMsg{err: ctrl.LoadSession(ctx)}
	}
}

func wrapIndex(i, n int) int {
	if n == 0 {
		return 0
	}
	return (i%n + n) % n
}

func describe(err error) string {
	switch {
	case errors.Is(err, conversation.ErrNoSelection):
		return "Select at least one option."
	case errors.Is(err, conversation.ErrNoSession):
		return "No session is loaded yet."
	case errors.Is(err, conversation.ErrComposing), errors.Is(err, conversation.ErrAwaitingReply):
		return "Please wait for the assistant to answer."
	default:
		return err.Error()
	}
}

// refresh re-lays out the screen and re-renders the transcript.
func (m *Model) refresh() {
	contentHeight := m.height - headerHeight - lipgloss.Height(m.footerView())
	if contentHeight < minContentHeight {
		contentHeight = minContentHeight
	}
	m.view.Width = m.width
	m.view.Height = contentHeight
	m.view.SetContent(m.transcriptView())
	m.view.GotoBottom()
}

func (m Model) transcriptView() string {
	width := m.width
	var b strings.Builder

	switch m.snap.Phase {
	case conversation.PhaseIdle, conversation.PhaseLoading:
		b.WriteString(m.spin.View() + " " + dimStyle.Render("Loading your check-in..."))
		return b.String()
	case conversation.PhaseFailed:
		b.WriteString(errorStyle.Render(wrapText(fmt.Sprintf("Could not load your session: %v", m.snap.Err), width)))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Press Ctrl+R to retry or Ctrl+N to start a new session."))
		return b.String()
	}

	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Sender == chat.SenderUser {
			b.WriteString(userStyle.Render("You"))
		} else {
			b.WriteString(accentStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(wrapText(ui.FormatContent(msg), width))
	}
	if m.snap.Composing {
		b.WriteString("\n\n")
		b.WriteString(m.spin.View() + " " + dimStyle.Render("Assistant is typing..."))
	}
	return b.String()
}

// View renders the UI (Bubble Tea interface)
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), "", m.view.View(), m.footerView())
}

func (m Model) headerView() string {
	status := boldStyle.Render("OncoLife check-in")
	if id := m.snap.ChatUUID; id != "" {
		if len(id) > chatIDDisplayLength {
			id = id[:chatIDDisplayLength]
		}
		status += dimStyle.Render(" • chat " + id)
	}
	if state := m.snap.State; state != "" {
		style := statusOKStyle
		if state == chat.StateEmergency {
			style = statusEndStyle
		}
		status += dimStyle.Render(" • ") + style.Render(string(state))
	}
	return status
}

func (m Model) footerView() string {
	parts := []string{m.affordanceView()}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	parts = append(parts, dimStyle.Render(m.helpText()))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) affordanceView() string {
	if m.picker != nil {
		return m.picker.View()
	}

	a := m.snap.Affordance
	switch a.Kind {
	case conversation.KindTextInput:
		return promptStyle.Render("> ") + m.input.View()
	case conversation.KindButtons:
		return m.choicesView(a.Options, func(s string) string { return s })
	case conversation.KindFeelingPicker:
		return m.choicesView(a.Options, func(s string) string {
			return conversation.FeelingEmoji(s) + " " + s
		})
	case conversation.KindChecklist:
		return m.checklistView()
	}

	if m.snap.Phase == conversation.PhaseReady {
		return dimStyle.Render("> Waiting for the assistant...")
	}
	return ""
}

func (m Model) choicesView(options []string, label func(string) string) string {
	cells := make([]string, len(options))
	for i, option := range options {
		style := optionStyle
		if i == m.cursor {
			style = style.Inherit(selectedStyle)
		}
		cells[i] = style.Render(label(option))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (m Model) checklistView() string {
	if m.checklist == nil {
		return ""
	}
	var lines []string
	for i, option := range m.checklist.Options() {
		pointer := "  "
		if i == m.cursor {
			pointer = promptStyle.Render("› ")
		}
		box := "[ ]"
		if m.checklist.Selected(option) {
			box = accentStyle.Render("[x]")
		}
		lines = append(lines, pointer+box+" "+option)
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("%d of at most %d selected", len(m.checklist.Selections()), m.checklist.Max())))
	return strings.Join(lines, "\n")
}

func (m Model) helpText() string {
	if m.picker != nil {
		return "←→ day • ↑↓ week • PgUp/PgDn month • Enter send • Esc cancel"
	}
	switch m.snap.Affordance.Kind {
	case conversation.KindTextInput:
		return "Enter send • Ctrl+D pick a date • ↑↓ scroll • Ctrl+N new session • Esc quit"
	case conversation.KindButtons, conversation.KindFeelingPicker:
		return "←→ choose • Enter send • Ctrl+N new session • Esc quit"
	case conversation.KindChecklist:
		return "↑↓ move • Space toggle • Enter send • Ctrl+N new session • Esc quit"
	}
	if m.snap.Phase == conversation.PhaseFailed {
		return "Ctrl+R retry • Ctrl+N new session • Esc quit"
	}
	return "Ctrl+N new session • Esc quit"
}
