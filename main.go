package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fenceworks/sqlfence/pkg/audit"
	"github.com/fenceworks/sqlfence/pkg/config"
	"github.com/fenceworks/sqlfence/pkg/database"
	"github.com/fenceworks/sqlfence/pkg/gateway"
	"github.com/fenceworks/sqlfence/pkg/guard"
	"github.com/fenceworks/sqlfence/pkg/handlers"
	"github.com/fenceworks/sqlfence/pkg/logging"
	"github.com/fenceworks/sqlfence/pkg/mcp"
	"github.com/fenceworks/sqlfence/pkg/mcp/tools"
	"github.com/fenceworks/sqlfence/pkg/middleware"
	"github.com/fenceworks/sqlfence/pkg/profiler"
	"github.com/fenceworks/sqlfence/pkg/repositories"
	"github.com/fenceworks/sqlfence/pkg/retry"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	shutdownTimeout    = 10 * time.Second
	auditPruneInterval = 24 * time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled),
		zap.Duration("query_timeout", cfg.Guard.QueryTimeout()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The pool is the process-wide execution path; main owns its lifecycle.
	// Transient dial errors during orchestration are retried with backoff.
	db, err := retry.DoWithResult(ctx, nil, func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("error", logging.SanitizeError(err)))
	}

	if err := database.RunMigrations(cfg.Database.URL(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations",
			zap.String("error", logging.SanitizeError(err)))
	}

	classifier := guard.NewTableClassifier()
	if cfg.Guard.TablesConfigPath != "" {
		tableCfg, err := guard.LoadTableConfig(cfg.Guard.TablesConfigPath)
		if err != nil {
			logger.Fatal("Failed to load table config",
				zap.String("path", cfg.Guard.TablesConfigPath), zap.Error(err))
		}
		classifier.AddSystemTables(tableCfg.SystemTables...)
	}

	var sink audit.EventSink
	var auditRepo repositories.AuditLogRepository
	if cfg.Guard.PersistAuditEvents {
		auditRepo = repositories.NewAuditLogRepository(db)
		sink = auditRepo
	}
	auditor := audit.NewSecurityAuditor(logger, sink)

	if auditRepo != nil && cfg.Guard.AuditRetentionDays > 0 {
		scheduler := repositories.NewAuditRetentionScheduler(auditRepo, cfg.Guard.AuditRetention(), logger)
		scheduler.Run(ctx, auditPruneInterval)
	}

	g := guard.New(classifier, logger, auditor)
	prof := profiler.New(cfg.Profiler.Capacity)
	gw := gateway.New(db, g, prof, logger, gateway.Config{
		QueryTimeout:     cfg.Guard.QueryTimeout(),
		SetSessionTenant: cfg.Guard.SetSessionTenant,
	})

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, db, prof, logger)
	healthHandler.RegisterRoutes(mux)

	if cfg.MCP.Enabled {
		observer := mcp.NewObserver(logger)
		mcpServer := mcp.NewServer("sqlfence", cfg.Version, logger, observer)
		tools.RegisterExecuteTools(mcpServer.MCP(), &tools.ExecuteToolDeps{
			Gateway: gw,
			Logger:  logger,
		})
		tools.RegisterProfilerTools(mcpServer.MCP(), &tools.ProfilerToolDeps{
			Profiler:           prof,
			SlowQueryThreshold: cfg.Profiler.SlowQueryThreshold(),
			Logger:             logger,
		})
		tools.RegisterAuditTools(mcpServer.MCP(), &tools.AuditToolDeps{
			Repo:   auditRepo,
			Logger: logger,
		})
		mcpHandler := handlers.NewMCPHandler(mcpServer, logger, cfg.MCP)
		mcpHandler.RegisterRoutes(mux)
	}

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting sqlfence",
			zap.String("addr", addr), zap.String("version", cfg.Version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		stop()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}

	// Drain the pool last so in-flight statements finish first.
	db.Close()
	logger.Info("Server stopped")
}
