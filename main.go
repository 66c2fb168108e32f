package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/audit"
	"github.com/empiworks/empi-engine/pkg/auth"
	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/handlers"
	"github.com/empiworks/empi-engine/pkg/logging"
	"github.com/empiworks/empi-engine/pkg/middleware"
	"github.com/empiworks/empi-engine/pkg/repositories"
	"github.com/empiworks/empi-engine/pkg/services"
	"github.com/empiworks/empi-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "0.1.0"

func main() {
	cfgPath := os.Getenv("EMPI_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("api_prefix", cfg.APIPrefix()),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("match_mode", cfg.Matching.Mode),
		zap.Bool("auth", cfg.Auth.Enabled()),
		zap.Bool("bulletin_feed", cfg.Redis.Host != ""))

	ctx := context.Background()

	db, err := database.NewConnection(ctx, cfg.Database.URL(), cfg.Database.MaxConnections)
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	// Migrations run over database/sql; the pool stays on native pgx.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection",
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations",
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	var feed services.BulletinPublisher
	if redisClient != nil {
		feed = services.NewRedisBulletinFeed(redisClient, cfg.Redis.Channel)
		defer redisClient.Close() //nolint:errcheck
		logger.Info("Bulletin feed enabled", zap.String("channel", cfg.Redis.Channel))
	}

	ids := repositories.NewIDRepository(db, cfg.Version)
	audits := repositories.NewAuditRepository(db)
	demographics := repositories.NewDemographicRepository(db)
	telecoms := repositories.NewTelecomRepository(db)
	enterprise := repositories.NewEnterpriseRepository(db)
	actionLogs := repositories.NewActionLogRepository(db)
	crosswalks := repositories.NewCrosswalkRepository(db)
	queries := repositories.NewQueryRepository(db)
	batteries := repositories.NewBatteryRepository(db)

	engine := services.NewMatchEngine(demographics, batteries, cfg.Matching, logger)
	cursor := services.NewGraphCursor(ids, enterprise, feed, cfg.Matching.Threshold, cfg.Graph.ExportDir, logger)
	procs := services.NewProcessors(ids, demographics, telecoms, enterprise, actionLogs,
		crosswalks, queries, engine, cursor, cfg.Matching.Threshold, logger)
	auditor := services.NewAuditor(ids, audits, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledGraphStrategy(cfg.Queue.Workers)),
		workqueue.WithTaskTimeout(cfg.Queue.BatchDeadline))

	var guard *auth.Middleware
	if cfg.Auth.Enabled() {
		verifier := auth.NewHMACVerifier(cfg.Auth.Secret)
		guard = auth.NewMiddleware(auth.NewAuthService(verifier, logger))
		logger.Info("Bearer auth enabled")
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, queue, logger).RegisterRoutes(mux)
	handlers.NewEndpointsHandler(auditor, procs, queue,
		audit.NewSecurityAuditor(logger), cfg, logger).RegisterRoutes(mux, guard)

	server := &http.Server{
		Addr:         cfg.BindAddr + ":" + cfg.Port,
		Handler:      middleware.RequestLogger(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting empi-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Accepted batches finish and seal their audit trails before exit.
	// Wait cancels whatever is still running when the deadline passes.
	if err := queue.Wait(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Batches still running at deadline, cancelled")
		} else {
			logger.Warn("A batch finished with an error during drain", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}
