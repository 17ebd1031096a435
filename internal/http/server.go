package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
)

// Server is the engine's read-only status surface: run history, validation
// reports and live orphan lists. Mutations happen only through the cutover
// CLI; this server never writes.
type Server struct {
	cfg           config.Config
	logger        Logger
	store         *db.Handle
	runHandler    *RunHandler
	orphanHandler *OrphanHandler
}

func New(cfg config.Config, logger Logger, store *db.Handle) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		runHandler:    NewRunHandler(store, logger),
		orphanHandler: NewOrphanHandler(store, logger),
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Method(http.MethodGet, "/healthz", HealthHandler{Store: s.store})
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.runHandler.List)
		r.Get("/runs/{runID}", s.runHandler.Get)
		r.Get("/runs/{runID}/report", s.runHandler.Report)
		r.Get("/orphans", s.orphanHandler.List)
	})
	return r
}
