// cmd/worker is where every background concern this system has lives: C8's
// dispatcher (driven by C10's recovery loop claiming webhook events), C10's
// vendor-timeout and stale-workflow sweeps, C11's notification delivery
// consumer, and C11's quick-reorder sweep. cmd/api only ever writes a
// durable row; this process is what turns that row into a side effect.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/admission"
	"github.com/arvind-mehta/orderflow-core/internal/collaborators/catalog"
	"github.com/arvind-mehta/orderflow-core/internal/collaborators/gateway"
	"github.com/arvind-mehta/orderflow-core/internal/collaborators/ocr"
	"github.com/arvind-mehta/orderflow-core/internal/dispatcher"
	"github.com/arvind-mehta/orderflow-core/internal/eventstore"
	"github.com/arvind-mehta/orderflow-core/internal/httpapi"
	"github.com/arvind-mehta/orderflow-core/internal/intent"
	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/notifier"
	"github.com/arvind-mehta/orderflow-core/internal/platform/broker"
	"github.com/arvind-mehta/orderflow-core/internal/platform/config"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery/consul"
	"github.com/arvind-mehta/orderflow-core/internal/platform/logging"
	"github.com/arvind-mehta/orderflow-core/internal/platform/redisx"
	"github.com/arvind-mehta/orderflow-core/internal/platform/tracing"
	"github.com/arvind-mehta/orderflow-core/internal/recovery"
	"github.com/arvind-mehta/orderflow-core/internal/reorder"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
	"github.com/arvind-mehta/orderflow-core/internal/selector"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
	"github.com/arvind-mehta/orderflow-core/internal/storage/postgres"
	"github.com/arvind-mehta/orderflow-core/internal/workflow"
)

const serviceName = "worker"

// recoveryCycleInterval is how often cmd/worker runs recovery.Cycle: claim
// pending webhook events, time out stale vendor assignments, and surface
// stale workflows and stalled orders to the admin queue.
const recoveryCycleInterval = 15 * time.Second

// reorderSweepInterval is how often the quick-reorder sweep scans for idle
// retailers; daily is plenty given IdleThreshold is measured in weeks.
const reorderSweepInterval = 24 * time.Hour

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

	ch, closeBroker, err := broker.Connect(
		config.GetEnv("RABBITMQ_USER", "guest"),
		config.GetEnv("RABBITMQ_PASS", "guest"),
		config.GetEnv("RABBITMQ_HOST", "localhost"),
		config.GetEnv("RABBITMQ_PORT", "5672"),
	)
	if err != nil {
		log.Error("failed to connect to broker", "error", err)
		return
	}
	defer func() {
		_ = closeBroker()
		_ = ch.Close()
	}()

	registry, err := consul.NewRegistry(config.GetEnv("CONSUL_ADDR", "localhost:8500"))
	if err != nil {
		log.Error("failed to create consul registry", "error", err)
		return
	}
	instanceID := discovery.GenerateInstanceID(serviceName)
	if err := registry.Register(ctx, instanceID, serviceName, config.GetEnv("ADVERTISE_ADDR", "localhost:0")); err != nil {
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

	catalogClient := catalog.New(config.GetEnv("CATALOG_BASE_URL", "http://localhost:9001"))
	gatewayClient := gateway.New(config.GetEnv("WHATSAPP_GATEWAY_URL", "http://localhost:9002"), config.MustGetEnv("WHATSAPP_API_KEY"))
	ocrClient := ocr.New(config.GetEnv("OCR_BASE_URL", "http://localhost:9003"), config.MustGetEnv("OCR_API_KEY"))

	led := ledger.New(db, log)
	sc := scorer.New(db, redisClient, scorer.DefaultConfig(), zapLog)
	sm := statemachine.New(db, led, sc)
	admissionController := admission.New(db, led, admission.DefaultLimits())
	sel := selector.New(db, redisClient, sc, selector.StrategyLeastLoaded, log)
	journal := workflow.New(db)
	events := eventstore.New(db, log)
	adminq := adminqueue.New(db)
	notify := notifier.New(db, ch)

	retailers := postgres.NewRetailerStore(db)
	orders := postgres.NewOrderStore(db)
	parser := intent.New(catalogClient)

	disp := dispatcher.New(db, journal, admissionController, sel, sc, sm, notify, retailers, catalogClient)
	intake := httpapi.NewIntake(parser, disp, retailers, orders, ocrClient, notify, log)

	worker := recovery.New(db, events, journal, adminq, sc, disp, intake, log)

	notifyConsumer := notifier.NewConsumer(ch, gatewayClient, notifier.DefaultGatewayConcurrency, log)
	reorderSweeper := reorder.New(retailers, orders, catalogClient, notify, log)

	go func() {
		if err := worker.Run(ctx, recoveryCycleInterval); err != nil && ctx.Err() == nil {
			log.Error("recovery worker stopped", "error", err)
		}
	}()

	go func() {
		if err := notifyConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("notification consumer stopped", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(reorderSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reorderSweeper.Run(ctx); err != nil {
					log.Error("reorder sweep failed", "error", err)
				}
			}
		}
	}()

	log.Info("worker started")
	<-ctx.Done()
	log.Info("worker shutting down")
}
