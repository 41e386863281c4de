package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/eventbooking/config"
	"github.com/Domenick1991/eventbooking/internal/bootstrap"
	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/repository"
	"github.com/Domenick1991/eventbooking/internal/service/inventory"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	defer producer.Close()

	ledger := inventory.NewLedger(
		repository.NewInventoryRepository(pool),
		logger,
		inventory.WithThresholds(inventory.Thresholds{WarningPct: cfg.Inventory.WarningPct, CriticalPct: cfg.Inventory.CriticalPct}),
		inventory.WithAlerts(producer, cfg.Kafka.AlertsTopic),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ConfirmationsTopic, logger)
	defer consumer.Close()

	apply := func(ctx context.Context, event kafka.ConfirmationEvent) error {
		_, err := ledger.ApplyConfirmation(ctx, event.EventID, event.BookingID, event.Delta)
		return err
	}

	go func() {
		if err := consumer.Consume(ctx, kafka.ConfirmationHandler(logger, apply, skippable)); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Confirmation consumer stopped")
			stop()
		}
	}()

	sweepTicker := time.NewTicker(cfg.Inventory.SweepInterval())
	defer sweepTicker.Stop()

	for {
		select {
		case <-sweepTicker.C:
			published, err := ledger.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("Inventory sweep failed")
			}
			if published > 0 {
				logger.WithField("alerts", published).Info("Inventory alerts published")
			}
		case <-ctx.Done():
			logger.Info("Shutting down worker")
			return
		}
	}
}

// skippable marks confirmations that can never succeed on replay.
func skippable(err error) bool {
	return errors.Is(err, domain.ErrReconciliationConflict) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInventoryNotFound)
}
