// Package server exposes the webhook ingress and the read API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/internal/store"
)

// Runner scores a single lead. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, leadID string, source model.RunSource) (*model.ScoredRecord, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Port          int    `yaml:"port" mapstructure:"port"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`

	// ScoreTimeout bounds each async scoring run kicked off by a webhook.
	ScoreTimeout time.Duration `yaml:"score_timeout" mapstructure:"score_timeout"`
}

// Server wires the pipeline and store behind HTTP handlers.
type Server struct {
	cfg      Config
	pipeline Runner
	store    store.Store
	log      *zap.Logger

	httpSrv *http.Server
}

// New creates a Server. The webhook secret must be set; unsigned ingress is
// not supported.
func New(cfg Config, pipeline Runner, st store.Store) (*Server, error) {
	if cfg.WebhookSecret == "" {
		return nil, eris.New("server: webhook secret is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 2 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		store:    st,
		log:      zap.L().Named("server"),
	}, nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-HubSpot-Signature"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhook", s.handleWebhook)
	r.Get("/scores", s.handleListScores)
	r.Get("/scores/{leadID}", s.handleGetScore)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
