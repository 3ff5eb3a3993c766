package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/authz"
	"github.com/dukerupert/babylog/internal/event"
	"github.com/dukerupert/babylog/internal/family"
	"github.com/dukerupert/babylog/internal/handler"
	"github.com/dukerupert/babylog/internal/metrics"
	"github.com/dukerupert/babylog/internal/middleware"
	"github.com/dukerupert/babylog/internal/store"
	"github.com/dukerupert/babylog/internal/summary"
)

// Config carries the collaborators and settings the server does not build
// itself.
type Config struct {
	Tokens         *auth.Tokens
	Metrics        *metrics.Metrics
	SummaryCache   summary.Cache
	IdempotencyTTL time.Duration
	CORSOrigins    []string
	Limits         middleware.Limits
}

type Server struct {
	db          *sql.DB
	familyH     *handler.FamilyHandler
	eventH      *handler.EventHandler
	summaryH    *handler.SummaryHandler
	events      *event.Service
	tokens      *auth.Tokens
	userStore   *store.UserStore
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	corsOrigins []string
	limits      middleware.Limits
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	familyStore := store.NewFamilyStore(db)
	babyStore := store.NewBabyStore(db)
	eventStore := store.NewEventStore(db)
	idempotencyStore := store.NewIdempotencyStore(db)

	kernel := authz.NewKernel(familyStore, babyStore)

	eventOpts := []event.Option{
		event.WithMetrics(cfg.Metrics),
		event.WithLogger(logger),
	}
	if cfg.IdempotencyTTL > 0 {
		eventOpts = append(eventOpts, event.WithIdempotencyTTL(cfg.IdempotencyTTL))
	}
	eventSvc := event.NewService(kernel, eventStore, idempotencyStore, eventOpts...)

	summaryOpts := []summary.Option{
		summary.WithMetrics(cfg.Metrics),
		summary.WithLogger(logger),
	}
	if cfg.SummaryCache != nil {
		summaryOpts = append(summaryOpts, summary.WithCache(cfg.SummaryCache))
	}
	engine := summary.NewEngine(kernel, eventStore, summaryOpts...)

	familySvc := family.NewService(kernel, userStore, familyStore, babyStore, logger)

	return &Server{
		db:          db,
		familyH:     handler.NewFamilyHandler(familySvc, logger.With("component", "family_handler")),
		eventH:      handler.NewEventHandler(eventSvc, logger.With("component", "event_handler")),
		summaryH:    handler.NewSummaryHandler(engine, logger.With("component", "summary_handler")),
		events:      eventSvc,
		tokens:      cfg.Tokens,
		userStore:   userStore,
		rateLimiter: middleware.NewRateLimiter(),
		metrics:     cfg.Metrics,
		corsOrigins: cfg.CORSOrigins,
		limits:      cfg.Limits,
		logger:      logger,
	}
}

// EventService returns the event service for the idempotency sweeper.
func (s *Server) EventService() *event.Service {
	return s.events
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.registerProtectedRoutes(mux)

	var h http.Handler = middleware.SecurityHeaders(mux)
	if len(s.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", handler.IdempotencyHeader},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         600,
		}).Handler(h)
	}

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"), s.metrics)(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// protect applies bearer auth and then the per-caller rate limit, so an
// authenticated caller is limited by user rather than by address.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	requireAuth := middleware.RequireAuth(s.tokens, s.userStore, s.logger.With("component", "auth"))
	rateLimit := middleware.RateLimit(s.rateLimiter, middleware.CallerKey, s.limits, s.metrics)
	return requireAuth(rateLimit(h))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Families and membership
	mux.Handle("POST /api/families", s.protect(s.familyH.Create))
	mux.Handle("GET /api/families", s.protect(s.familyH.List))
	mux.Handle("GET /api/families/{familyID}/members", s.protect(s.familyH.ListMembers))
	mux.Handle("POST /api/families/{familyID}/members", s.protect(s.familyH.AddMember))
	mux.Handle("PUT /api/families/{familyID}/members/{userID}", s.protect(s.familyH.ChangeRole))
	mux.Handle("DELETE /api/families/{familyID}/members/{userID}", s.protect(s.familyH.RemoveMember))

	// Babies
	mux.Handle("POST /api/families/{familyID}/babies", s.protect(s.familyH.CreateBaby))
	mux.Handle("GET /api/families/{familyID}/babies", s.protect(s.familyH.ListBabies))
	mux.Handle("DELETE /api/babies/{babyID}", s.protect(s.familyH.RemoveBaby))

	// Events
	mux.Handle("POST /api/babies/{babyID}/events", s.protect(s.eventH.Create))
	mux.Handle("GET /api/babies/{babyID}/events", s.protect(s.eventH.List))
	mux.Handle("GET /api/events/{eventID}", s.protect(s.eventH.Get))
	mux.Handle("PATCH /api/events/{eventID}", s.protect(s.eventH.Update))
	mux.Handle("DELETE /api/events/{eventID}", s.protect(s.eventH.Delete))

	// Summaries
	mux.Handle("GET /api/babies/{babyID}/summary/daily", s.protect(s.summaryH.Daily))
	mux.Handle("GET /api/babies/{babyID}/summary/range", s.protect(s.summaryH.Range))
}
