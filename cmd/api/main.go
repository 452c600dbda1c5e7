// cmd/api is the HTTP edge: the WhatsApp webhook, the retailer-app
// image-upload path, and the order-action endpoints C6's state machine
// performs. It does no order-orchestration itself — every handler either
// records a durable event for cmd/worker to process, or drives the state
// machine directly for an already-decided admin action.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/eventstore"
	"github.com/arvind-mehta/orderflow-core/internal/httpapi"
	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/platform/config"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery/consul"
	"github.com/arvind-mehta/orderflow-core/internal/platform/logging"
	platformmetrics "github.com/arvind-mehta/orderflow-core/internal/platform/metrics"
	"github.com/arvind-mehta/orderflow-core/internal/platform/redisx"
	"github.com/arvind-mehta/orderflow-core/internal/platform/tracing"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
	"github.com/arvind-mehta/orderflow-core/internal/storage/postgres"
)

const serviceName = "api"

func main() {
	log := logging.New(serviceName)

	env, err := config.Load()
	if err != nil {
		log.Error("invalid environment", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, serviceName)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		return
	}
	defer shutdownTracing()

	db, err := postgres.Connect(env.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		return
	}
	defer db.Close()

	redisClient, err := redisx.Connect(env.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return
	}

	registry, err := consul.NewRegistry(config.GetEnv("CONSUL_ADDR", "localhost:8500"))
	if err != nil {
		log.Error("failed to create consul registry", "error", err)
		return
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	hostPort := config.GetEnv("ADVERTISE_ADDR", "localhost:"+env.Port)
	if err := registry.Register(ctx, instanceID, serviceName, hostPort); err != nil {
		log.Error("failed to register with consul", "error", err)
		return
	}
	defer registry.Deregister(context.Background(), instanceID, serviceName)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := registry.HealthCheck(ctx, instanceID, serviceName); err != nil {
					log.Error("consul health check failed", "error", err)
				}
			}
		}
	}()

	zapLog, err := zap.NewProduction()
	if err != nil {
		log.Error("failed to init zap logger", "error", err)
		return
	}
	defer zapLog.Sync()

	events := eventstore.New(db, log)
	orders := postgres.NewOrderStore(db)
	led := ledger.New(db, log)
	sc := scorer.New(db, redisClient, scorer.DefaultConfig(), zapLog)
	sm := statemachine.New(db, led, sc)
	metrics := platformmetrics.NewHTTP(serviceName)

	server := httpapi.NewServer(events, orders, sm, metrics, log)

	httpServer := &http.Server{
		Addr:              ":" + env.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting http server", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server failed", "error", err)
	}
}
