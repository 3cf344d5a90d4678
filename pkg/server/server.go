// Package server exposes proof verification over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const readHeaderTimeout = 10 * time.Second

// Server handles verification requests
//
// Endpoints:
//
//	POST /verify             {proof, document} -> verification result
//	GET  /health             liveness plus store health
//	GET  /batches/{id}       batch record and its certificates
type Server struct {
	verifier   *proof.Verifier
	store      persistence.IBatchPersistence
	limiter    *rate.Limiter
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a server. store may be nil, in which case batch lookups return 404.
func NewServer(cfg *config.ServerConfig, verifier *proof.Verifier, store persistence.IBatchPersistence, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}

	s := &Server{
		verifier: verifier,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.rateLimit(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// rateLimit rejects requests beyond the token bucket with 429
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Sugar().Debugw("Rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
