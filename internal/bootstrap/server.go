package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Domenick1991/eventbooking/api"
	"github.com/Domenick1991/eventbooking/config"
	"github.com/Domenick1991/eventbooking/internal/metrics"
	"github.com/Domenick1991/eventbooking/internal/service/bookings"
	"github.com/Domenick1991/eventbooking/internal/service/budget"
	"github.com/Domenick1991/eventbooking/internal/service/flights"
	"github.com/Domenick1991/eventbooking/internal/service/hotels"
	"github.com/Domenick1991/eventbooking/internal/service/inventory"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const shutdownTimeout = 5 * time.Second

// Pinger is a dependency whose health is reported on /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Services is everything the HTTP surface dispatches to.
type Services struct {
	Flights   flights.FlightUseCase
	Hotels    hotels.HotelUseCase
	Bookings  bookings.BookingUseCase
	Inventory inventory.LedgerUseCase
	Budget    budget.LedgerUseCase
	Metrics   *metrics.Metrics
	// Checks maps a dependency name to its health check.
	Checks map[string]Pinger
}

// Run starts the HTTP server and, when grpc.address is set, the gRPC health
// server next to it. It blocks until ctx is canceled or a server fails.
func Run(ctx context.Context, cfg *config.Config, svc Services, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           NewRouter(cfg, svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	var grpcSrv *grpc.Server
	if cfg.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
		}
		var hs *health.Server
		grpcSrv, hs = newGRPCServer()
		refreshHealth(ctx, hs, svc.Checks)
		go watchHealth(ctx, hs, svc.Checks, logger)

		go func() {
			logger.WithField("address", lis.Addr().String()).Info("gRPC server listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		logger.WithField("address", cfg.HTTP.Address).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		_ = srv.Close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
			logger.Info("gRPC server stopped")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	}
}

// NewRouter wires every handler onto a gin engine.
func NewRouter(cfg *config.Config, svc Services, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/healthz", healthCheck(svc.Checks))
	if svc.Metrics != nil {
		router.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	booking := router.Group("/booking")
	api.NewFlightHandler(svc.Flights).Register(booking)
	api.NewHotelHandler(svc.Hotels).Register(booking)

	api.NewBookingHandler(svc.Bookings).Register(router.Group("/bookings"))
	api.NewInventoryHandler(svc.Inventory).Register(router.Group("/inventory"))
	api.NewBudgetHandler(svc.Budget).Register(router.Group("/budget"))

	if cfg.HTTP.SwaggerDir != "" {
		router.Static("/swagger", cfg.HTTP.SwaggerDir)
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/admin.swagger.json"))))
	}

	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Debug("Request served")
		}
	}
}

func healthCheck(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				deps[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "healthy"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		c.JSON(status, gin.H{"status": overall, "dependencies": deps})
	}
}
