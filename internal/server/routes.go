package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/handler"
	"github.com/cortexai/text2sql/internal/middleware"
)

func (s *Server) setupRoutes() http.Handler {
	cfg := s.cfg
	c := s.components

	if cfg.EnableAuth && len(cfg.APIKeys) == 0 {
		log.Warn().Msg("WARNING: auth enabled but no API keys configured - all API requests will be rejected")
	}

	// ─── Handlers ────────────────────────────────────────────────────────────────
	healthH := handler.NewHealthHandler().Register("database", c.DB)
	if c.AuditES != nil {
		healthH.Register("elasticsearch", c.AuditES)
	}
	askH := handler.NewAskHandler(c.Pipeline, cfg.AskTimeout)
	queryH := handler.NewQueryHandler(c.Pipeline)
	validateH := handler.NewValidateHandler(c.Pipeline)
	schemaH := handler.NewSchemaHandler(c.Pipeline)

	// ─── Router ──────────────────────────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(c.Metrics.Middleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins, cfg.APIKeyHeader)))

	// Public routes
	r.Get("/health", healthH.Health)
	r.Get("/", healthH.Health)
	r.Handle("/metrics", c.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(cfg.APIKeyHeader))
		if cfg.EnableAuth {
			r.Use(middleware.Auth(cfg.APIKeys, cfg.APIKeyHeader))
		}

		r.Route(cfg.APIPrefix, func(r chi.Router) {
			r.Post("/ask", askH.Ask)
			r.Post("/query", queryH.Execute)
			r.Post("/validate", validateH.Validate)
			r.Get("/schema", schemaH.Describe)
			r.Get("/schema/tables/{table}", schemaH.Table)
			if c.AuditES != nil {
				r.Get("/audit", handler.NewAuditHandler(c.AuditES).Recent)
			}
		})
	})

	return r
}
