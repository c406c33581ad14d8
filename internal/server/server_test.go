package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/klarvia/pkg/reply"
)

type stubPredictor struct{ err error }

func (stubPredictor) Name() string { return "stub" }

func (p stubPredictor) Predict(context.Context, string) (string, error) {
	return "calm", p.err
}

func ruleService() *reply.Service {
	return reply.NewService(reply.NewResolver(reply.StaticLoader(reply.DefaultConfig())))
}

func classicService(err error) *reply.Service {
	cfg := reply.DefaultConfig()
	cfg.Hint = reply.HintClassic
	probe := reply.ProbeFuncs{
		K: reply.KindClassic,
		OpenFunc: func(context.Context, reply.Config) (reply.Strategy, error) {
			return reply.Classic{Predictor: stubPredictor{err: err}}, nil
		},
	}
	return reply.NewService(reply.NewResolver(reply.StaticLoader(cfg), probe))
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- /health ---

func TestHealth_ReportsReadiness(t *testing.T) {
	svc := classicService(nil)
	h := New(svc, Options{}).Handler()

	get := func() healthResponse {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		return decode[healthResponse](t, rec)
	}

	before := get()
	if before.Status != "ok" || before.InferenceReady || before.Strategy != "" {
		t.Errorf("unexpected health before first chat: %+v", before)
	}

	post(t, h, "/chat", `{"text":"hello"}`)

	after := get()
	if !after.InferenceReady || after.Strategy != "classic" {
		t.Errorf("unexpected health after first chat: %+v", after)
	}
}

func TestHealth_ReportsStats(t *testing.T) {
	stats := NewStats()
	cfg := reply.DefaultConfig()
	cfg.Hint = reply.HintClassic
	probe := reply.ProbeFuncs{
		K: reply.KindClassic,
		OpenFunc: func(context.Context, reply.Config) (reply.Strategy, error) {
			return reply.Classic{Predictor: stubPredictor{err: errors.New("model crashed")}}, nil
		},
	}
	svc := reply.NewService(reply.NewResolver(reply.StaticLoader(cfg), probe), reply.WithObserver(stats))
	h := New(svc, Options{Stats: stats}).Handler()

	post(t, h, "/chat", `{"text":"hello"}`)
	post(t, h, "/chat", `{"text":"   "}`)
	post(t, h, "/predict", `{"text":"help"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	got := decode[healthResponse](t, rec)
	if got.Replies == nil || *got.Replies != 2 {
		t.Errorf("expected 2 replies, got %v", got.Replies)
	}
	if got.Degraded == nil || *got.Degraded != 2 {
		t.Errorf("expected 2 degraded replies, got %v", got.Degraded)
	}
}

func TestHealth_OmitsStatsWhenUnset(t *testing.T) {
	rec := httptest.NewRecorder()
	New(ruleService(), Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if strings.Contains(rec.Body.String(), "replies") {
		t.Errorf("unexpected stats in %s", rec.Body.String())
	}
}

// --- /chat ---

func TestChat(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantReply  string
		wantDetail string
	}{
		{name: "greeting", path: "/chat", body: `{"text":"Hi there"}`, wantStatus: 200, wantReply: reply.GreetingReply},
		{name: "predict alias", path: "/predict", body: `{"text":"I need help"}`, wantStatus: 200, wantReply: reply.SupportReply},
		{name: "echo trims", path: "/chat", body: `{"text":"  xyz123  "}`, wantStatus: 200, wantReply: "You said: 'xyz123'. Tell me more about that."},
		{name: "numeric text", path: "/chat", body: `{"text":42}`, wantStatus: 200, wantReply: reply.NonTextReply},
		{name: "empty text", path: "/chat", body: `{"text":"   "}`, wantStatus: 400, wantDetail: "text is required"},
		{name: "missing text", path: "/chat", body: `{}`, wantStatus: 400, wantDetail: "text is required"},
		{name: "null text", path: "/chat", body: `{"text":null}`, wantStatus: 400, wantDetail: "text is required"},
		{name: "malformed", path: "/chat", body: `{"text":`, wantStatus: 400, wantDetail: "invalid JSON body"},
	}

	h := New(ruleService(), Options{}).Handler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if got := decode[chatResponse](t, rec); got.Reply != tt.wantReply {
					t.Errorf("reply = %q, want %q", got.Reply, tt.wantReply)
				}
				return
			}
			if got := decode[errorResponse](t, rec); got.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", got.Detail, tt.wantDetail)
			}
		})
	}
}

func TestChat_BackendFailureStillReplies(t *testing.T) {
	h := New(classicService(errors.New("model crashed")), Options{}).Handler()

	rec := post(t, h, "/chat", `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[chatResponse](t, rec); got.Reply != reply.GreetingReply {
		t.Errorf("expected rule-based fallback, got %q", got.Reply)
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	h := New(ruleService(), Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

// --- Middleware ---

func TestRequestID(t *testing.T) {
	h := New(ruleService(), Options{}).Handler()

	rec := post(t, h, "/chat", `{"text":"hi"}`)
	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("expected generated UUID, got %q", rec.Header().Get("X-Request-ID"))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != id {
		t.Errorf("expected incoming request ID to be reused")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid\nspoofed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "not-a-uuid\nspoofed" {
		t.Error("invalid incoming request ID should be replaced")
	}
}

func TestCORS(t *testing.T) {
	h := New(ruleService(), Options{}).Handler()

	tests := []struct {
		origin  string
		allowed bool
	}{
		{origin: "http://localhost:5173", allowed: true},
		{origin: "http://127.0.0.1:8080", allowed: true},
		{origin: "https://evil.example", allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "content-type")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Errorf("expected origin to be allowed, got %q", got)
			}
			if tt.allowed && rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected credentials to be allowed")
			}
			if !tt.allowed && got != "" {
				t.Errorf("expected origin to be rejected, got %q", got)
			}
		})
	}
}

func TestCORS_CustomOrigins(t *testing.T) {
	h := New(ruleService(), Options{AllowedOrigins: []string{"https://app.klarvia.test"}}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.klarvia.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.klarvia.test" {
		t.Error("expected custom origin to be allowed")
	}
}

// --- Serve ---

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(ruleService(), Options{ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/chat", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Klarvia") {
		t.Errorf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_BadAddr(t *testing.T) {
	s := New(ruleService(), Options{Addr: "256.0.0.1:99999"})
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Error("expected listen error")
	}
}
