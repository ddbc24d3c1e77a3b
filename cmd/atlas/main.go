package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-retail/atlas-pos/internal/app"
	"github.com/atlas-retail/atlas-pos/internal/audit"
	"github.com/atlas-retail/atlas-pos/internal/debt"
	"github.com/atlas-retail/atlas-pos/internal/inventory"
	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/observability"
	"github.com/atlas-retail/atlas-pos/internal/platform/cache"
	"github.com/atlas-retail/atlas-pos/internal/platform/db"
	"github.com/atlas-retail/atlas-pos/internal/returns"
	"github.com/atlas-retail/atlas-pos/internal/sales"
	"github.com/atlas-retail/atlas-pos/internal/shared"
	"github.com/atlas-retail/atlas-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	verifier := shared.NewTokenVerifier(cfg.AuthSecret)
	auditLogger := shared.NewAuditLogger(pool)
	locks := shared.NewKeyedMutex()
	pairLocks := cache.NewLocker(redisClient, 30*time.Second)
	idempotency := shared.NewIdempotencyStore(pool)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, locks, pairLocks, logger, metrics)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), ledgerService, auditLogger, logger)
	salesService := sales.NewService(sales.NewRepository(pool), inventoryService, ledgerService, idempotency, auditLogger, logger)

	debtCache := debt.NewCache(redisClient, cfg.DebtCacheTTL)
	debtService := debt.NewService(debt.NewRepository(pool), ledgerService, debtCache, locks, auditLogger, logger)

	returnsService := returns.NewService(returns.NewRepository(pool), salesService, inventoryService, ledgerService, auditLogger, logger, metrics)

	auditService := audit.NewService(audit.NewRepository(pool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Verifier:         verifier,
		LedgerHandler:    ledger.NewHandler(logger, ledgerService),
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		SalesHandler:     sales.NewHandler(logger, salesService),
		CustomerDebts:    debt.NewHandler(logger, debtService, debt.KindCustomer),
		SupplierDebts:    debt.NewHandler(logger, debtService, debt.KindSupplier),
		ReturnsHandler:   returns.NewHandler(logger, returnsService),
		AuditHandler:     audit.NewHandler(logger, auditService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
