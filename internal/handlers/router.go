package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/timesheet-sync/internal/middleware"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// RouterConfig wires the control API.
type RouterConfig struct {
	Control *ControlHandler
	Health  *HealthChecker
	Logger  *zap.Logger
	// ServiceName enables otelmux tracing when set.
	ServiceName string
	// TriggerRate limits run triggers, e.g. "10-M".
	TriggerRate    string
	RequestTimeout time.Duration
	RunTimeout     time.Duration
	MaxRequestSize int64
}

// NewRouter builds the control API router.
func NewRouter(cfg RouterConfig) (*mux.Router, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = middleware.DefaultRequestTimeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = middleware.DefaultRunTimeout
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = middleware.DefaultMaxRequestSize
	}
	if cfg.TriggerRate == "" {
		cfg.TriggerRate = middleware.DefaultTriggerRate
	}

	r := mux.NewRouter()
	if cfg.ServiceName != "" {
		r.Use(otelmux.Middleware(cfg.ServiceName))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.ErrorHandler(logger))
	r.Use(middleware.JSONBody(cfg.MaxRequestSize))

	if cfg.Health != nil {
		r.Handle("/healthz", middleware.Timeout(cfg.RequestTimeout)(http.HandlerFunc(cfg.Health.HealthCheck))).Methods(http.MethodGet)
	}

	if cfg.Control == nil {
		return r, nil
	}

	limit, err := middleware.RateLimit(cfg.TriggerRate, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure trigger rate limit: %w", err)
	}
	read := middleware.Timeout(cfg.RequestTimeout)
	run := func(h http.HandlerFunc) http.Handler {
		return limit(middleware.Timeout(cfg.RunTimeout)(h))
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/pending", read(http.HandlerFunc(cfg.Control.ListPending))).Methods(http.MethodGet)
	api.Handle("/plan", read(http.HandlerFunc(cfg.Control.PlanDate))).Methods(http.MethodGet)
	api.Handle("/runs/last", read(http.HandlerFunc(cfg.Control.LastRuns))).Methods(http.MethodGet)
	// Manual entries wait for the run lock, so they get the run timeout.
	api.Handle("/entries", run(cfg.Control.CreateEntry)).Methods(http.MethodPost)
	api.Handle("/runs/ingest", run(cfg.Control.TriggerIngest)).Methods(http.MethodPost)
	api.Handle("/runs/process", run(cfg.Control.TriggerProcess)).Methods(http.MethodPost)

	return r, nil
}
