package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/oncolife/chatbot/internal/config"
	"github.com/oncolife/chatbot/internal/handler"
	"github.com/oncolife/chatbot/internal/service/ai"
	"github.com/oncolife/chatbot/internal/service/chat"
	"github.com/oncolife/chatbot/internal/service/push"
	"github.com/oncolife/chatbot/internal/service/triage"
	"github.com/oncolife/chatbot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if envErr != nil {
		log.Debug("no .env file loaded, using process environment", zap.Error(envErr))
	}
	if !cfg.Auth.Enabled() {
		log.Warn("JWT_SECRET not set, every request is treated as the default patient",
			zap.String("patient_id", cfg.Auth.DefaultPatientID))
	}

	chatService := chat.NewService(triage.Opening, chat.WithDefaultTimezone(cfg.Chat.DefaultTimezone))
	engine := triage.NewEngine(chatService, newGenerator(ctx, cfg, log), log)

	hub, err := newHub(cfg.Push, log)
	if err != nil {
		log.Fatal("failed to initialize push hub", zap.Error(err))
	}
	defer hub.Close()

	router := handler.NewRouter(handler.Dependencies{
		Config:  cfg,
		Logger:  log,
		ChatSvc: chatService,
		Engine:  engine,
		Hub:     hub,
	})

	startServer(ctx, cfg.Server, router, log)
}

// newGenerator picks the follow-up generator. Any provider failure falls
// back to the scripted questions.
func newGenerator(ctx context.Context, cfg *config.Config, log *logger.Logger) triage.Generator {
	switch cfg.AI.ResolvedProvider() {
	case config.ProviderArk:
		gen, err := ai.NewArkGenerator(ctx, cfg.AI, cfg.Chat.HistoryLimit, log)
		if err != nil {
			log.Warn("failed to initialize Ark generator, using scripted follow-ups", zap.Error(err))
			return triage.ScriptedGenerator{}
		}
		log.Info("follow-up generator ready", zap.String("provider", config.ProviderArk), zap.String("model", cfg.AI.Model))
		return gen
	case config.ProviderOpenAI:
		gen, err := ai.NewOpenAIGenerator(cfg.AI, cfg.Chat.HistoryLimit, log)
		if err != nil {
			log.Warn("failed to initialize OpenAI generator, using scripted follow-ups", zap.Error(err))
			return triage.ScriptedGenerator{}
		}
		log.Info("follow-up generator ready", zap.String("provider", config.ProviderOpenAI), zap.String("model", cfg.AI.OpenAIModel))
		return gen
	default:
		log.Info("no model credentials configured, using scripted follow-ups")
		return triage.ScriptedGenerator{}
	}
}

func newHub(cfg config.PushConfig, log *logger.Logger) (push.Hub, error) {
	if cfg.NATSURL == "" {
		log.Info("push hub ready", zap.String("hub", "memory"))
		return push.NewMemoryHub(), nil
	}

	hub, err := push.ConnectNATS(push.NATSConfig{
		URL:           cfg.NATSURL,
		Token:         cfg.NATSToken,
		SubjectPrefix: cfg.SubjectPrefix,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Info("push hub ready", zap.String("hub", "nats"), zap.String("url", cfg.NATSURL))
	return hub, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *logger.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("oncochat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
