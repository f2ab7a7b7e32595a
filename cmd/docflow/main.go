// Package main is the entry point for the docflow server. It wires all
// dependencies together and starts the HTTP server, or with -check validates
// the configured workflows and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/capability"
	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/internal/integrity"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/transport"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	checkOnly := flag.Bool("check", false, "validate workflow definitions and exit")
	flag.Parse()

	if *checkOnly {
		return runCheck(*configPath)
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "docflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the role policy.
	resolver, err := buildResolver(cfg.Roles)
	if err != nil {
		logger.Error("role policy load failed", zap.Error(err))
		return 1
	}

	// Step 5: Load definitions, check integrity, build registry.
	registry, err := loadRegistry(cfg.Definitions, resolver, logger, metrics)
	if err != nil {
		logger.Error("workflow loading failed", zap.Error(err))
		return 1
	}

	// Step 6: Load the API description used for request validation.
	api, err := openapi.Load()
	if err != nil {
		logger.Error("OpenAPI description load failed", zap.Error(err))
		return 1
	}

	// Step 7: Initialize the document store.
	store, storeCloser, err := buildDocumentStore(ctx, cfg.Workflow.Store, logger)
	if err != nil {
		logger.Error("document store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Initialize the idempotency store (optional).
	idem, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 9: Build the service.
	svc := workflow.NewService(
		workflow.NewExecutor(registry, resolver),
		resolver,
		store,
		workflow.ServiceOptions{
			Idempotency:    idem,
			IdempotencyTTL: cfg.Idempotency.Store.DefaultTTL,
			MaxCASAttempts: cfg.Workflow.MaxCASAttempts,
			Logger:         logger,
			Metrics:        metrics,
		},
	)

	// Step 10: Build HTTP router.
	jwks := transport.NewJWKSClientWithLogger(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		WorkflowsLoaded: func() bool { return registry.Len() > 0 },
		APISpecLoaded:   func() bool { return len(api.OperationIDs()) > 0 },
	}
	if p, ok := store.(observability.Pinger); ok {
		readiness.DocumentStore = p
	}
	if p, ok := idem.(observability.Pinger); ok {
		readiness.IdempotencyStore = p
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Verifier:  transport.NewJWTVerifier(cfg.Identity, jwks),
		Roles:     resolver,
		Service:   svc,
		Checker:   integrity.NewChecker(resolver),
		API:       api,
		Metrics:   metrics,
		Logger:    logger,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", registry.Len()),
		zap.String("checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildResolver loads the configured role policy, or the embedded default
// when none is configured.
func buildResolver(cfg config.RolesConfig) (*capability.Resolver, error) {
	if cfg.PolicyFile == "" {
		return capability.DefaultResolver()
	}
	return capability.LoadPolicyFile(cfg.PolicyFile)
}

// loadDefinitions returns the built-in definitions (when enabled) followed by
// every definition found under the configured directories.
func loadDefinitions(cfg config.DefinitionsConfig) ([]model.WorkflowDefinition, error) {
	loader := definition.NewLoader()
	var defs []model.WorkflowDefinition
	if cfg.IncludeBuiltin {
		builtin, err := loader.LoadBuiltin()
		if err != nil {
			return nil, fmt.Errorf("built-in definitions: %w", err)
		}
		defs = append(defs, builtin...)
	}
	if len(cfg.Directories) > 0 {
		loaded, err := loader.LoadAll(cfg.Directories)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// loadRegistry loads definitions, rejects any with integrity errors, and
// compiles the rest into a Registry. Warnings are logged and counted.
func loadRegistry(cfg config.DefinitionsConfig, resolver *capability.Resolver, logger *zap.Logger, metrics *observability.Metrics) (*definition.Registry, error) {
	defs, err := loadDefinitions(cfg)
	if err != nil {
		return nil, err
	}

	checker := integrity.NewChecker(resolver)
	failed := 0
	for _, def := range defs {
		report := checker.Validate(def)
		metrics.SetIntegrityFindings(def.EntityType, len(report.Errors), len(report.Warnings))
		for _, w := range report.Warnings {
			logger.Warn("workflow integrity warning", zap.String("entity_type", def.EntityType), zap.String("finding", w))
		}
		for _, e := range report.Errors {
			logger.Error("workflow integrity error", zap.String("entity_type", def.EntityType), zap.String("finding", e))
		}
		if !report.Valid {
			failed++
		}
	}
	if failed > 0 {
		return nil, fmt.Errorf("%d workflow definition(s) failed integrity checks", failed)
	}

	registry, err := definition.NewRegistry(resolver, defs)
	if err != nil {
		return nil, err
	}
	warnings := registry.ConsistencyCheck()
	for _, w := range warnings {
		logger.Warn("workflow consistency warning", zap.String("finding", w))
	}
	metrics.SetConsistencyWarnings(len(warnings))
	metrics.SetWorkflowsLoaded(registry.Len())
	return registry, nil
}

// buildDocumentStore creates the document store based on config.
func buildDocumentStore(ctx context.Context, cfg config.WorkflowStoreConfig, logger *zap.Logger) (workflow.DocumentStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory document store")
		return workflow.NewMemoryDocumentStore(), nil, nil
	case config.DriverPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("document store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("document store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("document store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("document store: ping: %w", err)
		}

		store := workflow.NewPgDocumentStore(pool)
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("document store: migrate: %w", err)
			}
		}
		logger.Info("using postgres document store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported document store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config. It
// returns a nil store when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil, nil
	case config.DriverRedis:
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return workflow.NewRedisIdempotencyStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
