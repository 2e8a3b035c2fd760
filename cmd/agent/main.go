package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickbite/courier-nav/internal/activedelivery"
	"github.com/quickbite/courier-nav/internal/arrival"
	"github.com/quickbite/courier-nav/internal/backend"
	"github.com/quickbite/courier-nav/internal/location"
	"github.com/quickbite/courier-nav/internal/navigation"
	"github.com/quickbite/courier-nav/internal/realtime"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/logger"
	redisClient "github.com/quickbite/courier-nav/pkg/redis"
	"go.uber.org/zap"
)

const (
	serviceName = "courier-nav-agent"
	version     = "1.0.0"

	reconcileTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(serviceName, cfg.Agent.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting courier navigation agent",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	if cfg.Agent.CourierID == "" {
		logger.Fatal("COURIER_ID is required")
	}

	redis, err := redisClient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	orch := navigation.New(navigation.Deps{
		Backend:  backend.NewClient(&cfg.Backend),
		Realtime: realtime.NewChannel(&cfg.Realtime),
		Store:    activedelivery.NewStore(redis, cfg.ActiveDelivery),
		Detector: arrival.NewDetector(cfg.Arrival),
		Source:   location.NewRedisSource(redis, cfg.Agent.CourierID),
		Location: cfg.Location,
		Arrival:  cfg.Arrival,
	})

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconcileCtx, cancelReconcile := context.WithTimeout(rootCtx, reconcileTimeout)
	delivery, err := orch.Reconcile(reconcileCtx)
	cancelReconcile()
	if err != nil {
		logger.Fatal("Startup reconciliation failed", zap.Error(err))
	}

	if delivery == nil {
		logger.Info("No active delivery, agent idle until next start")
		return
	}

	logger.Info("Resuming navigation",
		zap.String("tracking_id", delivery.ID.String()),
		zap.String("order_id", delivery.OrderID.String()),
		zap.String("status", string(delivery.Status)),
		zap.Bool("degraded", orch.Degraded()),
	)

	if err := orch.Start(rootCtx); err != nil {
		logger.Fatal("Failed to start navigation", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down courier navigation agent")
	orch.Stop()
}
