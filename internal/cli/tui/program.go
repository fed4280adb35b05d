package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/oncolife/chatbot/internal/conversation"
)

// Notifier forwards controller change notifications into a running
// program. Pass Notify as conversation.Options.OnChange.
type Notifier struct {
	mu      sync.Mutex
	program *tea.Program
}

// Notify wakes the program. It is a no-op when no program is running.
func (n *Notifier) Notify() {
	n.mu.Lock()
	p := n.program
	n.mu.Unlock()
	if p != nil {
		p.Send(changedMsg{})
	}
}

func (n *Notifier) attach(p *tea.Program) {
	n.mu.Lock()
	n.program = p
	n.mu.Unlock()
}

// Run drives ctrl in a full-screen program until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, ctrl *conversation.Controller, n *Notifier, startNew bool) error {
	model := NewModel(ctx, ctrl, startNew, time.Now)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	n.attach(program)
	defer n.attach(nil)

	_, err := program.Run()
	return err
}
