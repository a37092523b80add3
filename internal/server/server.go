// Package server exposes the wagering ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/server/handler"
	"github.com/openwager/wagerd/internal/server/middleware"
	"github.com/openwager/wagerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // if zero, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Wagers   *handler.WagerHandler
	Votes    *handler.VoteHandler
	Keepers  *handler.KeeperHandler
	Disputes *handler.DisputeHandler
	Fees     *handler.FeesHandler
	Events   *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required beyond the global chain).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Wager lifecycle.
	mux.HandleFunc("POST /api/wagers", handlers.Wagers.CreateWager)
	mux.HandleFunc("GET /api/wagers", handlers.Wagers.ListWagers)
	mux.HandleFunc("POST /api/wagers/settle", handlers.Wagers.SettleBatch)
	mux.HandleFunc("POST /api/wagers/sweep", handlers.Wagers.SweepExpired)
	mux.HandleFunc("GET /api/wagers/{id}", handlers.Wagers.GetWager)
	mux.HandleFunc("DELETE /api/wagers/{id}", handlers.Wagers.CancelWager)
	mux.HandleFunc("POST /api/wagers/{id}/fills", handlers.Wagers.FillWager)
	mux.HandleFunc("POST /api/wagers/{id}/settle", handlers.Wagers.SettleWager)

	// Outcome voting and consensus.
	mux.HandleFunc("POST /api/wagers/{id}/votes", handlers.Votes.ReportVote)
	mux.HandleFunc("GET /api/wagers/{id}/consensus", handlers.Votes.GetConsensus)

	// Dispute arbitration.
	mux.HandleFunc("POST /api/wagers/{id}/dispute", handlers.Disputes.RaiseDispute)
	mux.HandleFunc("POST /api/wagers/{id}/dispute/resolve", handlers.Disputes.ResolveDispute)

	// Keeper governance.
	mux.HandleFunc("GET /api/keepers", handlers.Keepers.ListKeepers)
	mux.HandleFunc("GET /api/keepers/proposals", handlers.Keepers.ListProposals)
	mux.HandleFunc("POST /api/keepers/proposals", handlers.Keepers.ProposeKeeper)
	mux.HandleFunc("POST /api/keepers/proposals/{id}/votes", handlers.Keepers.VoteOnProposal)
	mux.HandleFunc("POST /api/keepers/proposals/{id}/execute", handlers.Keepers.ExecuteProposal)

	// Platform fees.
	mux.HandleFunc("GET /api/fees", handlers.Fees.GetFees)
	mux.HandleFunc("POST /api/fees/withdraw", handlers.Fees.WithdrawFees)

	// Event replay.
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
