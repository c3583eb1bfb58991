package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortexai/text2sql/internal/config"
	"github.com/cortexai/text2sql/internal/middleware"
)

type Server struct {
	cfg        *config.Config
	components *Components
	limiter    *middleware.RateLimiter
	http       *http.Server
}

// New builds the HTTP server around already-built components. The server
// takes ownership of them and closes them on shutdown.
func New(cfg *config.Config, c *Components) *Server {
	s := &Server{
		cfg:        cfg,
		components: c,
		limiter:    middleware.NewRateLimiter(cfg.RateLimitPerMinute),
	}

	// write timeout must outlast the longest ask
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.AskTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Run(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("graceful shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.http.Shutdown(shutdownCtx)
		if closeErr := s.components.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing database")
		} else {
			log.Info().Msg("database closed")
		}
		return err
	case err := <-errCh:
		s.components.Close()
		return err
	}
}
