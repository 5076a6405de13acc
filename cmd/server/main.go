package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parametriq/settlement-core/internal/adapter/http/controller"
	"github.com/parametriq/settlement-core/internal/adapter/http/middleware"
	"github.com/parametriq/settlement-core/internal/adapter/http/router"
	"github.com/parametriq/settlement-core/internal/adapter/payout"
	"github.com/parametriq/settlement-core/internal/adapter/remoteledger"
	"github.com/parametriq/settlement-core/internal/adapter/repository/implementations"
	"github.com/parametriq/settlement-core/internal/config"
	"github.com/parametriq/settlement-core/internal/logger"
	"github.com/parametriq/settlement-core/internal/usecase/services"
	"github.com/parametriq/settlement-core/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := implementations.RunMigrations(migrateCtx, cfg.DatabaseDSN, cfg.MigrationsDir); err != nil {
		cancel()
		log.Fatalf("run migrations: %v", err)
	}
	cancel()

	db, err := implementations.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ledgerRepo := implementations.NewLedgerRepository(db)
	treasuryRepo := implementations.NewTreasuryRepository(db)

	ledgerService := services.NewLedgerService(ledgerRepo)
	treasuryService := services.NewTreasuryService(treasuryRepo)
	captureService := services.NewCaptureService(ledgerService)
	remittanceService := services.NewRemittanceService(ledgerService, treasuryService)

	remoteClient := remoteledger.NewHTTPClient(cfg.RemoteLedgerURL)
	railExecutor := payout.NewRailExecutor("default")
	settlementService := services.NewSettlementService(
		remoteClient,
		ledgerService,
		treasuryService,
		railExecutor,
		cfg.ProducerName,
		cfg.DefaultPoolID,
		cfg.FundLockTTL,
		cfg.PayoutApprovalThresholdMicros,
	)

	authMiddleware := middleware.ChannelAuth(cfg.ChannelID, cfg.ChannelKeyHash)
	mux := router.New(
		controller.NewWebhookController(captureService),
		controller.NewRemittanceController(remittanceService),
		controller.NewTreasuryController(treasuryService, ledgerService),
		controller.NewPayoutController(settlementService),
		authMiddleware,
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	settlementRunner := worker.NewRunner("settlement-reconciliation", cfg.SettlementPollInterval, settlementService.RunCycle)
	sweepRunner := worker.NewRunner("lock-sweep", cfg.LockSweepInterval, func(ctx context.Context) error {
		_, err := treasuryService.SweepExpiredLocks(ctx)
		return err
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("http server listening", logger.Fields{"addr": cfg.HTTPAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return settlementRunner.Run(groupCtx)
	})

	group.Go(func() error {
		return sweepRunner.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		settlementRunner.Stop()
		sweepRunner.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}

	logger.Info("server stopped", nil)
}
