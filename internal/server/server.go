package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dlshelf/internal/api"
	"dlshelf/internal/config"
)

type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	handler    *api.Handler
}

func New(cfg *config.Config, logger zerolog.Logger, handler *api.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handler.Health)

		r.Get("/works", s.handler.GetCatalog)
		r.Get("/works/{id}", s.handler.GetWork)
		r.Delete("/works/{id}/metadata", s.handler.DeleteWorkMetadata)
		r.Put("/works/{id}/rating", s.handler.SetRating)
		r.Put("/works/{id}/tags", s.handler.SetTags)
		r.Get("/works/{id}/cover", s.handler.GetCover)
		r.Get("/works/{id}/sample/{n}", s.handler.GetSample)
		r.Post("/works/{id}/launch", s.handler.LaunchWork)
		r.Post("/works/{id}/sessions", s.handler.RecordSession)
		r.Delete("/works/{id}/playtime", s.handler.ResetPlayTime)

		r.Get("/catalog/genres", s.handler.GetGenres)
		r.Get("/catalog/categories", s.handler.GetCategories)

		r.Get("/settings", s.handler.GetSettings)
		r.Put("/settings", s.handler.PutSettings)

		r.Post("/scan", s.handler.TriggerScan)
		r.Get("/scan", s.handler.ScanStatus)
	})
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
