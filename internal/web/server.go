package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/scheduler"
	"github.com/camuig/autopilot/internal/storage"
)

type SettingsStore interface {
	ListSettings(ctx context.Context) ([]domain.StrategySettings, error)
	GetSettings(ctx context.Context, accountID string) (domain.StrategySettings, error)
	SetActive(ctx context.Context, accountID string, active bool) error
}

// Scheduler arms and disarms per-account cycle loops.
type Scheduler interface {
	Start(ctx context.Context, accountID string) bool
	Stop(accountID string) bool
	Status(accountID string) scheduler.Status
}

// PriceBook returns the last market price seen for a symbol.
type PriceBook interface {
	LastPrice(symbol string) (float64, bool)
}

type CycleLog interface {
	RecentCycles(ctx context.Context, accountID string, limit int) ([]storage.CycleLog, error)
	GetLatestSnapshot(ctx context.Context, accountID string) (*storage.PortfolioSnapshot, error)
}

type Deps struct {
	Ledger    *ledger.Ledger
	Settings  SettingsStore
	Scheduler Scheduler
	Prices    PriceBook
	Cycles    CycleLog
	Events    *events.Broadcaster
	Metrics   *metrics.Metrics
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	upgrader   websocket.Upgrader
	// base outlives requests; loops started over the API are bound to it.
	base   context.Context
	port   int
	logger *logger.Logger
}

func NewServer(base context.Context, deps Deps, cfg config.WebConfig, log *logger.Logger) *Server {
	s := &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		base:   base,
		port:   cfg.Port,
		logger: log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/accounts/{id}/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/accounts/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/accounts/{id}/cycles", s.handleCycles)
	mux.HandleFunc("POST /api/accounts/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/accounts/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
