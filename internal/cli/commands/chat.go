package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/cli/config"
	"github.com/oncolife/chatbot/internal/cli/prompt"
	"github.com/oncolife/chatbot/internal/cli/tui"
	"github.com/oncolife/chatbot/internal/cli/ui"
	"github.com/oncolife/chatbot/internal/client"
	"github.com/oncolife/chatbot/internal/conversation"
	"github.com/oncolife/chatbot/pkg/logger"
)

var (
	chatPlain bool
	chatNew   bool
)

// chatCmd is the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "start or resume today's check-in",
	Long: `Start an interactive check-in with the symptom assistant.

By default today's session is resumed. The full-screen interface shows
buttons, checklists and a feeling picker whenever the assistant asks a
structured question; --plain switches to one prompt per line.`,
	Example: `  # Resume today's check-in
  $ oncochat chat

  # Keyboard controls:
  • Enter sends, arrows move between options, Space toggles a checklist item
  • Ctrl+D opens the date picker, Ctrl+N starts a new session
  • Esc quits`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.SilenceUsage = true
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "use line prompts instead of the full-screen interface")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "start a new session instead of resuming today's")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		ui.PrintError("failed to load config: %v", err)
		return fmt.Errorf("config load failed")
	}

	log, err := openLogger(cfg)
	if err != nil {
		ui.PrintError("failed to open log file: %v", err)
		return fmt.Errorf("logger setup failed")
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("chat client starting",
		zap.String("server", cfg.Server),
		zap.String("session_source", cfg.SessionSource),
		zap.String("send_via", cfg.SendVia),
		zap.Bool("push_enabled", cfg.PushEnabled),
		zap.Bool("plain", chatPlain),
	)

	if chatPlain {
		session := prompt.NewSession()
		ctrl := newController(cfg, log, session.Notify)
		defer ctrl.Close()
		return session.Run(ctx, ctrl, chatNew)
	}

	notifier := &tui.Notifier{}
	ctrl := newController(cfg, log, notifier.Notify)
	defer ctrl.Close()

	if err := tui.Run(ctx, ctrl, notifier, chatNew); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run chat TUI: %w", err)
	}
	return nil
}

// newController wires the session source, sender and push channel chosen
// by cfg.
func newController(cfg *config.Config, log *logger.Logger, onChange func()) *conversation.Controller {
	timeout, _ := cfg.Timeout()
	api := client.NewAPIClient(client.APIOptions{
		BaseURL:  cfg.Server,
		Token:    cfg.Token,
		Timezone: cfg.Timezone,
		Timeout:  timeout,
		Logger:   log,
	})

	opts := conversation.Options{
		Sessions: api,
		Sender:   api,
		Logger:   log,
		OnChange: onChange,
	}
	if cfg.SessionSource == config.SourceLocal {
		opts.Sessions = client.LocalSessions{}
	}
	if cfg.PushEnabled {
		push := client.NewPushClient(cfg.Server, cfg.Token, log)
		opts.Push = push
		if cfg.SendVia == config.SendPush {
			opts.Sender = push
		}
	}
	return conversation.NewController(opts)
}

func openLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.LogFile == "" {
		return logger.Nop(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, err
	}
	return logger.NewFile(cfg.LogLevel, cfg.LogFile)
}
