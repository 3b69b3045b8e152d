// Package main runs the inventory back-office API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inventory/internal/access"
	"inventory/internal/api"
	"inventory/internal/assets"
	"inventory/internal/config"
	"inventory/internal/dsl"
	"inventory/internal/events"
	"inventory/internal/logging"
	"inventory/internal/metrics"
	"inventory/internal/pg"
	"inventory/internal/records"
	"inventory/internal/reference"
	"inventory/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.Build(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("inventory stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	logger.Info("starting inventory",
		zap.String("port", cfg.Port),
		zap.Bool("postgres", cfg.DBURL != ""),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
	)

	// 1. entity catalog
	schemaFS, schemaRoot := assets.SchemaSource(cfg.DSLDir)
	loadSchema := func() (*dsl.Catalog, error) { return dsl.LoadFS(schemaFS, schemaRoot) }
	catalog, err := loadSchema()
	if err != nil {
		return fmt.Errorf("load DSL: %w", err)
	}
	if issues := catalog.Lint(); len(issues) > 0 {
		for _, it := range issues {
			logger.Error("schema issue", zap.String("issue", it.String()))
		}
		return fmt.Errorf("schema has %d blocking issues", len(issues))
	}
	logger.Info("catalog loaded", zap.Int("entities", catalog.Len()))

	// 2. storage: postgres when configured, in-memory otherwise
	var (
		st     store.Store
		grants access.GrantStore
	)
	if cfg.DBURL != "" {
		db, err := pg.Open(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			ddl, err := pg.GenerateDDL(catalog)
			if err != nil {
				return fmt.Errorf("generate DDL: %w", err)
			}
			if err := pg.ApplyDDL(ctx, db, ddl, logger.Named("migrate")); err != nil {
				return fmt.Errorf("apply DDL: %w", err)
			}
			logger.Info("schema migrated")
		}
		st = pg.NewStore(db, catalog)
		grants = pg.NewGrantStore(db)
	} else {
		logger.Warn("no database url configured, records live in memory")
		st = store.NewMemory(catalog)
		grants = access.NewMemory()
	}
	defer func() { _ = st.Close() }()

	// 3. change events
	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
	}

	var pub events.Publisher = events.NewLog(logger)
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger, m.RecordPublishFailure)
	}
	defer func() { _ = pub.Close() }()

	svc := records.New(catalog, st,
		records.WithPublisher(pub),
		records.WithMetrics(m),
		records.WithLogger(logger),
	)
	checker := access.NewChecker(grants, cfg.SuperuserRole, api.ModulesOf(catalog))

	// 4. reference data
	if cfg.Seed {
		if err := seed(ctx, cfg, svc, checker, logger); err != nil {
			return err
		}
	}

	auth := access.NewAuthenticator(cfg.JWTSecret, cfg.DefaultRole)
	if auth.DevMode() {
		logger.Warn("no jwt secret configured, trusting X-Role/X-User headers",
			zap.String("default_role", cfg.DefaultRole))
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(svc, checker, auth,
		api.WithLogger(logger),
		api.WithMetrics(m),
		api.WithReadiness(st),
		api.WithSchemaSource(loadSchema),
		api.WithCORS(cfg.CORSOrigins),
	)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	logger.Info("HTTP server started", zap.String("addr", httpServer.Addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}
	logger.Info("inventory shutdown complete")
	return nil
}

func seed(ctx context.Context, cfg config.Config, svc *records.Service, checker *access.Checker, logger *zap.Logger) error {
	refFS, refRoot := assets.ReferenceSource(cfg.ReferenceDir)
	bundle, err := reference.Load(refFS, refRoot)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	results, err := svc.Seed(ctx, bundle.Seeds)
	if err != nil {
		return fmt.Errorf("seed records: %w", err)
	}
	for _, r := range results {
		logger.Info("reference data", zap.String("entity", r.Entity), zap.Int("created", r.Created), zap.Int("existing", r.Existing))
	}
	n, err := checker.Seed(ctx, bundle.Roles)
	if err != nil {
		return fmt.Errorf("seed grants: %w", err)
	}
	logger.Info("role grants seeded", zap.Int("added", n))
	return nil
}
