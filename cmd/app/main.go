package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/eventbooking/config"
	"github.com/Domenick1991/eventbooking/internal/bootstrap"
	"github.com/Domenick1991/eventbooking/internal/cache"
	"github.com/Domenick1991/eventbooking/internal/kafka"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/Domenick1991/eventbooking/internal/provider"
	"github.com/Domenick1991/eventbooking/internal/repository"
	"github.com/Domenick1991/eventbooking/internal/service/bookings"
	"github.com/Domenick1991/eventbooking/internal/service/budget"
	"github.com/Domenick1991/eventbooking/internal/service/flights"
	"github.com/Domenick1991/eventbooking/internal/service/hotels"
	"github.com/Domenick1991/eventbooking/internal/service/inventory"
	"github.com/Domenick1991/eventbooking/internal/service/pipeline"
	"github.com/Domenick1991/eventbooking/migrations"
	"github.com/gin-gonic/gin"
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
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logger.Fatalf("parse postgres config: %v", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.SessionTTL())
	defer redisCache.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	defer producer.Close()

	m := metrics.New()

	bookingRepo := repository.NewBookingRepository(pool)
	inventoryLedger := inventory.NewLedger(
		repository.NewInventoryRepository(pool),
		logger,
		inventory.WithThresholds(inventory.Thresholds{WarningPct: cfg.Inventory.WarningPct, CriticalPct: cfg.Inventory.CriticalPct}),
		inventory.WithMetrics(m),
		inventory.WithAlerts(producer, cfg.Kafka.AlertsTopic),
	)
	budgetLedger := budget.NewLedger(
		repository.NewBudgetRepository(pool),
		logger,
		budget.WithMetrics(m),
		budget.WithDecisions(producer, cfg.Kafka.BudgetTopic),
	)

	recorder := pipeline.NewRecorder(
		bookingRepo,
		inventoryLedger,
		logger,
		pipeline.WithEvents(producer, cfg.Kafka.BookingEventsTopic),
		pipeline.WithMetrics(m),
	)
	gate := pipeline.NewGate(redisCache, cfg.Booking.SessionLockTTL(), logger)
	retry := pipeline.RetryPolicy{Retries: cfg.Provider.SafeStepRetries, Backoff: cfg.Provider.RetryBackoff()}

	clientOpts := []provider.ClientOption{
		provider.WithRateLimit(cfg.Provider.RatePerSecond, cfg.Provider.Burst),
		provider.WithObserver(m),
	}
	flightClient := provider.NewFlightClient(cfg.Provider.FlightsURL, cfg.Provider.APIKey, cfg.Provider.CallTimeout(), logger, clientOpts...)
	hotelClient := provider.NewHotelClient(cfg.Provider.HotelsURL, cfg.Provider.APIKey, cfg.Provider.CallTimeout(), logger, clientOpts...)

	flightService := flights.NewOrchestrator(
		flightClient,
		recorder,
		logger,
		flights.WithSessions(redisCache),
		flights.WithGate(gate),
		flights.WithRetry(retry),
		flights.WithSyntheticOffers(cfg.Booking.SyntheticOffers),
		flights.WithMetrics(m),
	)
	hotelService := hotels.NewOrchestrator(
		hotelClient,
		recorder,
		logger,
		hotels.WithSessions(redisCache),
		hotels.WithGate(gate),
		hotels.WithRetry(retry),
	)
	bookingService := bookings.NewBookingService(
		bookingRepo,
		logger,
		bookings.WithEvents(producer, cfg.Kafka.BookingEventsTopic),
		bookings.WithInventory(inventoryLedger),
	)

	services := bootstrap.Services{
		Flights:   flightService,
		Hotels:    hotelService,
		Bookings:  bookingService,
		Inventory: inventoryLedger,
		Budget:    budgetLedger,
		Metrics:   m,
		Checks: map[string]bootstrap.Pinger{
			"postgres": pool,
			"redis":    redisCache,
			"kafka":    bootstrap.PingerFunc(producer.CheckConnection),
		},
	}

	if err := bootstrap.Run(ctx, cfg, services, logger); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}
