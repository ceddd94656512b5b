package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"mdetl/internal/config"
	"mdetl/internal/infrastructure"
	"mdetl/internal/pipeline"
)

// healthPinger reports warehouse reachability.
type healthPinger interface {
	Ping(ctx context.Context) error
}

// OpsServer serves health, metrics and run-status endpoints on a
// dedicated port, separate from anything data-bearing.
type OpsServer struct {
	server  *http.Server
	store   healthPinger
	tracker *pipeline.Tracker
	logger  *slog.Logger
}

// NewOpsServer builds the ops endpoint.
func NewOpsServer(cfg config.OpsConfig, store healthPinger, tracker *pipeline.Tracker, metrics *infrastructure.Metrics, logger *slog.Logger) *OpsServer {
	s := &OpsServer{store: store, tracker: tracker, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/healthz", s.health)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/latest", s.latestRun)
	r.Handle("/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start blocks serving until Stop or a listen failure.
func (s *OpsServer) Start() error {
	s.logger.Info("ops server listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *OpsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *OpsServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		status = "degraded: " + err.Error()
		code = http.StatusServiceUnavailable
	}
	render.Status(r, code)
	render.JSON(w, r, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *OpsServer) latestRun(w http.ResponseWriter, r *http.Request) {
	run := s.tracker.Latest()
	if run == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]interface{}{"error": "no runs recorded"})
		return
	}
	render.JSON(w, r, run.Snapshot())
}

func (s *OpsServer) listRuns(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"runs": s.tracker.Snapshots(),
	})
}
