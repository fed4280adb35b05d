package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oncolife/chatbot/internal/client"
	"github.com/oncolife/chatbot/internal/config"
	chatService "github.com/oncolife/chatbot/internal/service/chat"
	"github.com/oncolife/chatbot/internal/service/push"
	"github.com/oncolife/chatbot/internal/service/triage"
)

func newTestRouter(cfg *config.Config) http.Handler {
	r, _ := newTestRouterWithService(cfg)
	return r
}

func newTestRouterWithService(cfg *config.Config) (http.Handler, *chatService.Service) {
	chatSvc := chatService.NewService(triage.Opening)
	return NewRouter(Dependencies{
		Config:  cfg,
		ChatSvc: chatSvc,
		Engine:  triage.NewEngine(chatSvc, nil, nil),
		Hub:     push.NewMemoryHub(),
	}), chatSvc
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(&config.Config{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "api_requests_total") {
		t.Fatalf("unexpected metrics response %d", resp.Code)
	}
}

func TestChatRoutesRequireToken(t *testing.T) {
	r := newTestRouter(&config.Config{Auth: config.AuthConfig{JWTSecret: "s3cret"}})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/chat/session/today", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestChatRoutesMounted(t *testing.T) {
	r := newTestRouter(&config.Config{
		Auth:      config.AuthConfig{DefaultPatientID: "patient-1"},
		RateLimit: config.RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute},
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/chat/session/today", nil))
	if resp.Code != http.StatusOK || resp.Header().Get("X-Correlation-ID") == "" {
		t.Fatalf("unexpected response %d %v", resp.Code, resp.Header())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/chat/session/today", nil))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
}

func TestAPIClientAgainstRouter(t *testing.T) {
	r, chatSvc := newTestRouterWithService(&config.Config{
		Auth: config.AuthConfig{DefaultPatientID: "patient-1"},
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	api := client.NewAPIClient(client.APIOptions{BaseURL: srv.URL, Timezone: "Asia/Tokyo"})
	ctx := context.Background()

	today, err := api.LoadTodaySession(ctx)
	if err != nil {
		t.Fatalf("LoadTodaySession: %v", err)
	}
	fresh, err := api.StartNewSession(ctx)
	if err != nil {
		t.Fatalf("StartNewSession: %v", err)
	}
	if fresh.ChatUUID == today.ChatUUID || !fresh.IsNewSession {
		t.Fatalf("expected a fresh session, got %+v", fresh)
	}

	for _, id := range []string{today.ChatUUID, fresh.ChatUUID} {
		record, err := chatSvc.GetChat(ctx, id)
		if err != nil {
			t.Fatalf("GetChat(%s): %v", id, err)
		}
		if record.Timezone != "Asia/Tokyo" {
			t.Fatalf("chat %s stored timezone %q", id, record.Timezone)
		}
	}
}
