// Package prompt implements the line-oriented chat used with --plain,
// one survey prompt per turn.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/oncolife/chatbot/internal/cli/ui"
	"github.com/oncolife/chatbot/internal/conversation"
)

// Slash commands accepted at the text prompt.
const (
	cmdQuit = "/quit"
	cmdNew  = "/new"
	cmdDate = "/date"
)

// Choices offered after a session fails to load.
const (
	choiceRetry = "Retry"
	choiceNew   = "Start a new session"
	choiceQuit  = "Quit"
)

// pushWait bounds how long line mode waits for a reply that arrives over
// the push channel.
const pushWait = 60 * time.Second

// Asker abstracts survey.AskOne for tests.
type Asker func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// Session runs a line-mode conversation.
type Session struct {
	ctrl    *conversation.Controller
	changed chan struct{}
	ask     Asker
	now     func() time.Time
	printed int
}

// NewSession returns a line-mode session. Pass Notify as the
// controller's OnChange.
func NewSession() *Session {
	return &Session{
		changed: make(chan struct{}, 1),
		ask:     survey.AskOne,
		now:     time.Now,
	}
}

// Notify records that the controller state changed.
func (s *Session) Notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Run loads a session and prompts until the user quits.
func (s *Session) Run(ctx context.Context, ctrl *conversation.Controller, startNew bool) error {
	s.ctrl = ctrl
	ui.PrintWelcomeBanner()

	if err := s.open(ctx, startNew); err != nil {
		return quitErr(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		s.flush()

		snap := ctrl.Snapshot()
		if snap.Affordance.Kind == conversation.KindNone {
			if !s.waitForReply(ctx) {
				ui.PrintWarning("No reply yet. Type /new to start over or /quit to leave.")
				if err := s.askText(ctx); err != nil {
					return quitErr(err)
				}
			}
			continue
		}

		if err := s.turn(ctx, snap.Affordance); err != nil {
			return quitErr(err)
		}
	}
}

var errQuit = errors.New("quit")

func quitErr(err error) error {
	if errors.Is(err, errQuit) || errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}

// open loads a session and, while loading fails, lets the user retry,
// start a new session or quit.
func (s *Session) open(ctx context.Context, fresh bool) error {
	for {
		err := s.load(ctx, fresh)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, conversation.ErrClosed), ctx.Err() != nil:
			return errQuit
		}

		var choice string
		p := &survey.Select{
			Message: "What would you like to do?",
			Options: []string{choiceRetry, choiceNew, choiceQuit},
			Default: choiceRetry,
		}
		if err := s.ask(p, &choice); err != nil {
			return err
		}
		switch choice {
		case choiceNew:
			fresh = true
		case choiceQuit:
			return errQuit
		}
	}
}

func (s *Session) load(ctx context.Context, fresh bool) error {
	s.printed = 0
	var err error
	if fresh {
		err = s.ctrl.StartNewSession(ctx)
	} else {
		err = s.ctrl.LoadSession(ctx)
	}
	if err != nil {
		ui.PrintError("could not load your session: %v", err)
		return err
	}
	snap := s.ctrl.Snapshot()
	if snap.IsNew {
		ui.PrintInfo("Started a new check-in.")
	} else {
		ui.PrintInfo("Resumed today's check-in.")
	}
	return nil
}

// flush prints transcript entries not printed yet.
func (s *Session) flush() {
	snap := s.ctrl.Snapshot()
	if s.printed > len(snap.Messages) {
		s.printed = 0
	}
	for _, m := range snap.Messages[s.printed:] {
		ui.PrintMessage(m)
	}
	s.printed = len(snap.Messages)
}

func (s *Session) waitForReply(ctx context.Context) bool {
	timer := time.NewTimer(pushWait)
	defer timer.Stop()
	for {
		if s.ctrl.Snapshot().Affordance.Kind != conversation.KindNone {
			return true
		}
		select {
		case <-s.changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		}
	}
}

func (s *Session) turn(ctx context.Context, a conversation.Affordance) error {
	switch a.Kind {
	case conversation.KindTextInput:
		return s.askText(ctx)

	case conversation.KindButtons:
		var choice string
		if err := s.ask(&survey.Select{Message: "Choose:", Options: a.Options}, &choice); err != nil {
			return err
		}
		return s.submit(ctx, conversation.ButtonChoice{Option: choice})

	case conversation.KindChecklist:
		var picked []string
		p := &survey.MultiSelect{
			Message: fmt.Sprintf("Select up to %d (space to toggle):", a.MaxSelections),
			Options: a.Options,
		}
		if err := s.ask(p, &picked, survey.WithValidator(survey.MinItems(1)), survey.WithValidator(survey.MaxItems(a.MaxSelections))); err != nil {
			return err
		}
		return s.submit(ctx, conversation.ChecklistSelections{Selections: picked})

	case conversation.KindFeelingPicker:
		labels := make([]string, len(a.Options))
		for i, option := range a.Options {
			labels[i] = conversation.FeelingEmoji(option) + " " + option
		}
		var idx int
		if err := s.ask(&survey.Select{Message: "How are you feeling?", Options: labels}, &idx); err != nil {
			return err
		}
		return s.submit(ctx, conversation.Feeling{Label: a.Options[idx]})
	}
	return nil
}

func (s *Session) askText(ctx context.Context) error {
	var line string
	p := &survey.Input{
		Message: "You:",
		Help:    "Type /date to pick a date, /new for a new session, /quit to leave",
	}
	if err := s.ask(p, &line); err != nil {
		return err
	}

	switch strings.TrimSpace(line) {
	case cmdQuit:
		return errQuit
	case cmdNew:
		return s.open(ctx, true)
	case cmdDate:
		day, err := s.askDate()
		if err != nil {
			return err
		}
		return s.submit(ctx, conversation.Date{Day: day})
	}

	in := conversation.Text{Body: line}
	if in.Vacuous() {
		return nil
	}
	return s.submit(ctx, in)
}

func (s *Session) askDate() (time.Time, error) {
	today := s.now()
	var raw string
	p := &survey.Input{
		Message: "Date (YYYY-MM-DD):",
		Default: today.Format(conversation.DateLayout),
	}
	if err := s.ask(p, &raw, survey.WithValidator(func(ans interface{}) error {
		_, err := ParseDate(fmt.Sprint(ans), today)
		return err
	})); err != nil {
		return time.Time{}, err
	}
	return ParseDate(raw, today)
}

// ParseDate parses a YYYY-MM-DD day in today's location and rejects days
// after today.
func ParseDate(raw string, today time.Time) (time.Time, error) {
	day, err := time.ParseInLocation(conversation.DateLayout, strings.TrimSpace(raw), today.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("use the YYYY-MM-DD format")
	}
	y, m, d := today.Date()
	if day.After(time.Date(y, m, d, 0, 0, 0, 0, today.Location())) {
		return time.Time{}, fmt.Errorf("the date cannot be in the future")
	}
	return day, nil
}

func (s *Session) submit(ctx context.Context, in conversation.Interaction) error {
	err := s.ctrl.Submit(ctx, in)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, conversation.ErrClosed):
		return errQuit
	default:
		ui.PrintWarning("%v", err)
		return nil
	}
}
