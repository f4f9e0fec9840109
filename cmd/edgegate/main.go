// Command edgegate runs the edge gateway in front of an upstream service
// together with the internal operator API.
//
// Configuration comes from the environment (a .env file is honored in
// development):
//
//	ENVIRONMENT             development or production
//	LISTEN_ADDR             public gateway listen address (default :8080)
//	INTERNAL_ADDR           internal API listen address (default :8443)
//	UPSTREAM_URL            origin the gateway proxies to; unset serves 404s
//	DATABASE_URL            postgres DSN; takes precedence over SQLITE_PATH
//	SQLITE_PATH             sqlite database file; unset with no DATABASE_URL
//	                        falls back to the in-memory store
//	IP_HASH_SALT            salt for privacy-preserving client identifiers
//	INCIDENT_SHARED_SECRET  shared secret for the internal API
//	SIGNATURES_PATH         optional YAML signature file, hot-reloaded
//	TRUST_PROXY             "true" behind a trusted reverse proxy
//	TRUSTED_PROXY_COUNT     proxies to trust in X-Forwarded-For
//	ALLOWED_ORIGINS         comma-separated CORS allow-list
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/edgegate/edgegate"
	"github.com/edgegate/edgegate/guard"
	"github.com/edgegate/edgegate/incident"
	"github.com/edgegate/edgegate/instrumentation"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/server"
	"github.com/edgegate/edgegate/session"
	"github.com/edgegate/edgegate/storage/memory"
	"github.com/edgegate/edgegate/storage/postgres"
	"github.com/edgegate/edgegate/storage/sqlite"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("edgegate exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	env := envOr("ENVIRONMENT", "development")
	production := env == "production"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "edgegate",
		Enabled:     true,
	})
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(sctx); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	store, backend, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher := security.NewIPHasher(os.Getenv("IP_HASH_SALT"))
	reporter := incident.NewReporterWithConfig(incident.NewStoreSink(store), hasher,
		incident.ReporterConfig{Metrics: inst.Metrics()}, logger)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := reporter.Close(dctx); err != nil {
			logger.Warn("incident queue did not drain", "error", err)
		}
	}()

	classifier := guard.NewClassifier()
	if path := os.Getenv("SIGNATURES_PATH"); path != "" {
		watcher, err := guard.WatchSignatures(classifier, path, logger)
		if err != nil {
			return fmt.Errorf("load signatures from %s: %w", path, err)
		}
		defer watcher.Close()
		logger.Info("signature file loaded", "path", path)
	}

	cfg := edgegate.Config{
		Environment:          env,
		IPHashSalt:           os.Getenv("IP_HASH_SALT"),
		TrustProxy:           os.Getenv("TRUST_PROXY") == "true",
		TrustedProxyCount:    envInt("TRUSTED_PROXY_COUNT", 0),
		AllowedOrigins:       splitNonEmpty(os.Getenv("ALLOWED_ORIGINS")),
		PolicyVersion:        envOr("POLICY_VERSION", "1"),
		IncidentSharedSecret: os.Getenv("INCIDENT_SHARED_SECRET"),
		Logger:               logger,
	}
	gw, err := edgegate.NewGateway(cfg,
		edgegate.WithReporter(reporter),
		edgegate.WithClassifier(classifier),
		edgegate.WithInstrumentation(inst),
	)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := inst.RegisterLimiterSizeCallback(func() int64 {
		return int64(gw.Limiter().Stats().CurrentEntries)
	}); err != nil {
		logger.Warn("register limiter gauge failed", "error", err)
	}
	if err := inst.RegisterQueueSizeCallback(func() int64 {
		return int64(reporter.Stats().QueueLen)
	}); err != nil {
		logger.Warn("register queue gauge failed", "error", err)
	}

	// Session hygiene runs in the background regardless of traffic.
	tracker := session.NewTracker(store, logNotifier{logger: logger}, reporter, logger)
	tracker.SetMetrics(inst.Metrics())
	sessions := session.NewManager(store, tracker, session.DefaultSessionTTL, logger)
	go sessions.RunSweeper(ctx, session.DefaultSweepInterval)

	upstream, err := upstreamHandler(os.Getenv("UPSTREAM_URL"))
	if err != nil {
		return err
	}

	public := &http.Server{
		Addr:              envOr("LISTEN_ADDR", ":8080"),
		Handler:           gw.Middleware(gw.CORSMiddleware(upstream)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	internal, err := server.New(server.Config{
		Addr:            envOr("INTERNAL_ADDR", ":8443"),
		SharedSecret:    cfg.IncidentSharedSecret,
		Production:      production,
		Logger:          logger,
		Instrumentation: inst,
		StorageBackend:  backend,
	}, store, server.WithReporter(reporter))
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway listening", "addr", public.Addr, "environment", env)
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server: %w", err)
		}
	}()
	go func() {
		if err := internal.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := public.Shutdown(sctx); err != nil {
		logger.Warn("public server shutdown failed", "error", err)
	}
	if err := internal.Shutdown(sctx); err != nil {
		logger.Warn("internal server shutdown failed", "error", err)
	}
	return nil
}

// combinedStore is what every backend implements: all three persistence
// ports behind one value.
type combinedStore interface {
	incident.Store
	session.Store
	ratelimit.Store
}

// openStore selects the storage backend from the environment and runs
// migrations. Precedence: postgres, then sqlite, then in-memory. The
// returned name labels storage telemetry.
func openStore(ctx context.Context, logger *slog.Logger) (combinedStore, string, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		st, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return nil, "", nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := st.Migrate(); err != nil {
			st.Close()
			return nil, "", nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("storage backend ready", "backend", "postgres")
		return st, "postgres", func() { st.Close() }, nil
	}

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		st, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, "", nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := st.Migrate(); err != nil {
			st.Close()
			return nil, "", nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("storage backend ready", "backend", "sqlite", "path", path)
		return st, "sqlite", func() { st.Close() }, nil
	}

	logger.Warn("no database configured, incidents and sessions are not persisted")
	return memory.New(), "memory", func() {}, nil
}

// upstreamHandler builds the handler the gateway protects: a reverse proxy
// when an upstream is configured, otherwise the canonical not-found
// responder.
func upstreamHandler(raw string) (http.Handler, error) {
	if raw == "" {
		return edgegate.NotFoundHandler(), nil
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse UPSTREAM_URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("UPSTREAM_URL must be an absolute URL")
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

// logNotifier is the default notification channel: structured log records
// an operator can route onward.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(ctx context.Context, userID string, note session.Notification) error {
	n.logger.Info("session notification",
		"user_id", userID,
		"priority", note.Priority.String(),
		"title", note.Title)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using fallback", "key", key, "value", v)
		return fallback
	}
	return n
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
