package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/recommend"
	"go.uber.org/zap"
)

const (
	DefaultListen          = ":8000"
	DefaultWorkers         = 8
	DefaultRequestTimeout  = 60 * time.Second
	DefaultRateLimitPerMin = 60

	shutdownTimeout = 10 * time.Second
)

type Config struct {
	Listen          string        `mapstructure:"listen"`
	Workers         int           `mapstructure:"workers"`
	RequestTimeout  time.Duration `mapstructure:"request-timeout"`
	RateLimitPerMin int           `mapstructure:"rate-limit-per-min"`
	CORSOrigins     []string      `mapstructure:"cors-origins"`
}

// Recommender serves recommendation requests.
type Recommender interface {
	RecommendWithLogger(ctx context.Context, log *zap.Logger, q string, maxResults int) (*recommend.Result, error)
}

var _ Recommender = (*recommend.Pipeline)(nil)

// Server exposes the recommender over HTTP. Pipeline runs happen on a
// bounded worker pool.
type Server struct {
	cfg         Config
	recommender Recommender
	pool        *ants.Pool
	logger      *zap.Logger
	ready       func(ctx context.Context) error
}

type Option func(*Server)

// WithReadiness sets the check behind /health.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

func NewServer(cfg Config, recommender Recommender, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = DefaultRateLimitPerMin
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		recommender: recommender,
		pool:        pool,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router builds the HTTP handler with all middlewares and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.recoverer)
	r.Use(s.accessLog)
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseOrigins(s.cfg.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(s.cfg.RateLimitPerMin, time.Minute))
		wr.Get("/recommend", s.recommendHandler)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases the worker pool.
func (s *Server) Close() {
	s.pool.Release()
}

func parseOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
