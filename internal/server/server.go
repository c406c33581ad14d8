// Package server exposes the reply service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8001"

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 64 << 10

// DefaultAllowedOrigins are the local front-end origins allowed by CORS.
var DefaultAllowedOrigins = []string{
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://localhost:5500",
	"http://127.0.0.1:5500",
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// Options configures a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string

	// Stats, when set, is reported by /health. Register it as an observer
	// of the same service.
	Stats *Stats

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = DefaultAllowedOrigins
	}
	if o.ReadHeaderTimeout == 0 {
		o.ReadHeaderTimeout = 5 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 2 * time.Minute
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	return o
}

// Server serves /health, /chat and /predict.
type Server struct {
	svc     *reply.Service
	opts    Options
	handler http.Handler
}

// New creates a Server for svc.
func New(svc *reply.Service, opts Options) *Server {
	s := &Server{svc: svc, opts: opts.withDefaults()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /predict", s.handleChat)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	s.handler = requestID(c.Handler(mux))
	return s
}

// Handler returns the HTTP handler, including CORS and request IDs.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log := logger.Component("server")
	log.Info("listening", "addr", ln.Addr().String(), "endpoints", []string{"/health", "/chat", "/predict"})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status         string `json:"status"`
	InferenceReady bool   `json:"inference_ready"`
	Strategy       string `json:"strategy"`
	Replies        *int64 `json:"replies,omitempty"`
	Degraded       *int64 `json:"degraded,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", InferenceReady: s.svc.Ready()}
	if st := s.svc.Resolver().Strategy(); st != nil {
		resp.Strategy = st.Kind().String()
	}
	if st := s.opts.Stats; st != nil {
		replies, degraded := st.Replies(), st.Degraded()
		resp.Replies, resp.Degraded = &replies, &degraded
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context())

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON body"})
		return
	}

	raw, ok := body["text"]
	if !ok || raw == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "text is required"})
		return
	}

	var input any = raw
	if text, isString := raw.(string); isString {
		text = strings.TrimSpace(text)
		if text == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "text is required"})
			return
		}
		input = text
	}

	log.InfoContext(r.Context(), "chat received", "path", r.URL.Path, "text", input)
	out := s.svc.Reply(r.Context(), input)
	log.InfoContext(r.Context(), "chat replied", "reply", out)

	writeJSON(w, http.StatusOK, chatResponse{Reply: out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey struct{}

// requestID tags each request with an ID, reusing a valid incoming
// X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func requestLogger(ctx context.Context) *slog.Logger {
	return logger.Component("server").With("request_id", RequestID(ctx))
}
