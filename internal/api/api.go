// Package api provides the HTTP surface of VendaFlow: the Telegram webhook
// ingress, the operator admin endpoints and the health probe.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/turn"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	APIKey             string
	TelegramConfigured bool
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIKey requires the given key in the X-API-Key header on admin
// endpoints. Empty disables the check.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTelegramConfigured tells the health probe whether a bot token is set.
func WithTelegramConfigured(ok bool) Option {
	return func(o *Opts) { o.TelegramConfigured = ok }
}

// Server is the VendaFlow HTTP server.
type Server struct {
	store      store.Store
	ingress    *turn.Ingress
	apiKey     string
	telegramOK bool
	http       *http.Server
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(st store.Store, ingress *turn.Ingress, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = defaultAddr
	}

	s := &Server{store: st, ingress: ingress, apiKey: o.APIKey, telegramOK: o.TelegramConfigured}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/telegram", s.webhookHandler)
	mux.HandleFunc("POST /admin/force-sale", s.requireAPIKey(s.forceSaleHandler))
	mux.HandleFunc("POST /admin/conversations/{id}/status", s.requireAPIKey(s.statusHandler))
	mux.HandleFunc("GET /healthz", s.healthHandler)
	s.http = &http.Server{
		Addr:              o.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("Server.Run: shut down cleanly")
	return nil
}

// Handler exposes the configured routes for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			slog.Warn("Server.requireAPIKey: rejected request", "path", r.URL.Path)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
