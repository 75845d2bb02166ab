// Package api provides the admin HTTP surface of ispbot and the process
// wiring that connects the store, the conversation engine and the messaging
// transport.
//
// The router exposes health and Prometheus endpoints, a simulate-message
// entry point into the engine, session administration, the flow catalogue,
// the audit log and (for the Twilio transport) the inbound webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabelnet/ispbot/internal/flow"
	"github.com/kabelnet/ispbot/internal/store"
)

// DefaultHealthTimeout bounds the store ping done by the health endpoint.
const DefaultHealthTimeout = 5 * time.Second

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies of the admin HTTP handlers.
type Server struct {
	engine  *flow.Engine
	audit   store.AuditRepo
	health  Pinger
	metrics http.Handler
	webhook http.HandlerFunc
	started time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuditRepo enables GET /api/audit.
func WithAuditRepo(repo store.AuditRepo) ServerOption {
	return func(s *Server) { s.audit = repo }
}

// WithHealthCheck adds a dependency ping to GET /health.
func WithHealthCheck(p Pinger) ServerOption {
	return func(s *Server) { s.health = p }
}

// WithGatherer serves GET /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		if g != nil {
			s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) ServerOption {
	return func(s *Server) { s.webhook = h }
}

// NewServer creates a Server around engine.
func NewServer(engine *flow.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine:  engine,
		metrics: promhttp.Handler(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router for every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.messageHandler)
		r.Get("/sessions", s.listSessionsHandler)
		r.Get("/sessions/{userID}", s.getSessionHandler)
		r.Delete("/sessions/{userID}", s.deleteSessionHandler)
		r.Get("/flows", s.flowsHandler)
		r.Get("/audit", s.auditHandler)
	})

	if s.webhook != nil {
		r.Post("/webhooks/twilio", s.webhook)
	}
	return r
}
