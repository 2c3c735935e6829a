package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/receipt-vault/internal/pipeline"
	"github.com/zombor/receipt-vault/internal/receipt"
)

// Ingester runs the pipeline over a batch of images
type Ingester interface {
	RunAll(ctx context.Context, images []receipt.Image) ([]pipeline.Result, error)
}

// Server handles HTTP requests for receipt ingestion and browsing
type Server struct {
	ingester  Ingester
	storage   receipt.Storage
	basicAuth BasicAuth
	mux       *http.ServeMux
	logger    *slog.Logger
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(ingester Ingester, storage receipt.Storage, basicAuth BasicAuth) *Server {
	return NewServerWithMux(ingester, storage, basicAuth, http.NewServeMux(), nil)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(ingester Ingester, storage receipt.Storage, basicAuth BasicAuth, mux *http.ServeMux, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ingester:  ingester,
		storage:   storage,
		basicAuth: basicAuth,
		mux:       mux,
		logger:    logger.With("component", "server"),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Vault"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/months/{month}/{name}", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("GET /api/months/{month}", s.requireAuth(s.handleListMonth))
	s.mux.HandleFunc("GET /api/months", s.requireAuth(s.handleListMonths))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleUploadReceipts))
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

const shutdownTimeout = 30 * time.Second

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
