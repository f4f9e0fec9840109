package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/edgegate/edgegate"
	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/security"
)

const (
	// DefaultIngestRate and DefaultIngestBurst bound how fast remote
	// instances can push incidents. The ingest endpoint writes to the
	// incident store, so it gets its own budget independent of the edge
	// limiter.
	DefaultIngestRate  = rate.Limit(50)
	DefaultIngestBurst = 100

	// maxIngestBodySize bounds an ingest payload. Incidents are small;
	// anything near this size is malformed or hostile.
	maxIngestBodySize = 64 << 10
)

// Config holds the internal API configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8443".
	Addr string

	// SharedSecret authenticates /internal callers. When empty the
	// internal routes answer 401 unconditionally; in production an empty
	// secret is a configuration error.
	SharedSecret string

	// Production tightens validation.
	Production bool

	// IngestRate and IngestBurst tune the ingest budget. Zero values use
	// the defaults.
	IngestRate  rate.Limit
	IngestBurst int

	// Logger for structured logging. Nil uses slog.Default.
	Logger *slog.Logger

	// Instrumentation enables metric and span recording for the internal
	// API and its store operations. Nil disables both.
	Instrumentation *instrumentation.Instrumentation

	// StorageBackend names the incident store implementation for
	// telemetry attributes ("postgres", "sqlite", "memory").
	StorageBackend string

	// Clock overrides the time source (tests only).
	Clock incident.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Server is the internal operator API.
type Server struct {
	cfg        Config
	store      incident.Store
	aggregator *incident.Aggregator
	reporter   *incident.Reporter
	logger     *slog.Logger
	clock      incident.Clock

	secretDigest  [sha256.Size]byte
	ingestLimiter *rate.Limiter

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	backend string

	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithReporter wires a reporter so authentication failures on the internal
// API are recorded as incidents themselves.
func WithReporter(r *incident.Reporter) Option {
	return func(s *Server) { s.reporter = r }
}

// New creates the internal API over the given incident store.
func New(cfg Config, store incident.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("incident store is required")
	}
	if cfg.Production && cfg.SharedSecret == "" {
		return nil, fmt.Errorf("internal api shared secret is required in production")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = DefaultIngestRate
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = DefaultIngestBurst
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "memory"
	}

	s := &Server{
		cfg:           cfg,
		store:         store,
		aggregator:    incident.NewAggregator(store),
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		secretDigest:  sha256.Sum256([]byte(cfg.SharedSecret)),
		ingestLimiter: rate.NewLimiter(cfg.IngestRate, cfg.IngestBurst),
		backend:       cfg.StorageBackend,
	}
	if cfg.Instrumentation != nil {
		s.metrics = cfg.Instrumentation.Metrics()
		s.tracer = cfg.Instrumentation.Tracer("server")
	}
	s.aggregator.SetClock(cfg.Clock)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Router builds the chi router serving the API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(s.telemetry)

	r.Get("/healthz", s.handleHealth)

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireSharedSecret)
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", s.handleIngest)
			r.Get("/", s.handleList)
			r.Post("/{id}/resolve", s.handleResolve)
		})
		r.Get("/dashboard", s.handleDashboard)
	})

	return r
}

// Start runs the API until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("internal api listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("internal api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// telemetry opens a span per request and stamps it with the HTTP outcome.
// A nil tracer makes this a passthrough.
func (s *Server) telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tracer == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx, span := s.tracer.Start(r.Context(), "internal.request")
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		instrumentation.AddHTTPAttributes(span, r.Method, r.URL.Path, sw.status)
		if sw.status >= http.StatusBadRequest {
			instrumentation.SetSpanError(span, http.StatusText(sw.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	})
}

// statusWriter captures the status code written downstream.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// storeOp wraps one incident-store call with span and metric recording, so
// every persistence path reports its latency and outcome under a uniform
// operation name.
func (s *Server) storeOp(ctx context.Context, operation string, fn func(context.Context) error) error {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "store."+operation)
		defer span.End()
	}
	instrumentation.AddStorageAttributes(span, operation, s.backend)

	start := time.Now()
	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrStorageResult, result))
	if s.metrics != nil {
		s.metrics.RecordStorageOperation(ctx, operation, result,
			float64(time.Since(start))/float64(time.Millisecond))
	}
	return err
}

// requireSharedSecret authenticates internal callers. The comparison is
// constant time over fixed-size digests so neither the secret's content
// nor its length leaks through timing.
func (s *Server) requireSharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SharedSecret == "" {
			edgegate.WriteError(w, edgegate.ErrUnauthorized("internal api disabled"))
			return
		}

		presented := sha256.Sum256([]byte(r.Header.Get(incident.SharedSecretHeader)))
		if subtle.ConstantTimeCompare(presented[:], s.secretDigest[:]) != 1 {
			s.reportAuthFailure(r)
			edgegate.WriteError(w, edgegate.ErrUnauthorized("invalid credentials"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// reportAuthFailure records a failed internal authentication attempt. A
// wrong secret on the operator API is a strong compromise signal.
func (s *Server) reportAuthFailure(r *http.Request) {
	s.logger.Warn("internal api auth failure",
		"path", r.URL.Path,
		"request_id", security.RequestIDFromContext(r.Context()))
	if s.reporter == nil {
		return
	}
	rctx := incident.ContextFromRequest(r, false, 0)
	s.reporter.Report(incident.TypeIngestAuthFailure, incident.SeverityHigh, rctx)
}
