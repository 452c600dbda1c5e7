// cmd/admin exposes the hand-rolled gRPC surface operators use to see
// what C10's recovery loop could not resolve on its own, inspect a
// vendor's current scorer.VendorScoreSnapshot, force a recompute, and
// requeue a dead-lettered event or a stalled order.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/arvind-mehta/orderflow-core/internal/adminqueue"
	"github.com/arvind-mehta/orderflow-core/internal/adminrpc"
	"github.com/arvind-mehta/orderflow-core/internal/admission"
	"github.com/arvind-mehta/orderflow-core/internal/collaborators/catalog"
	"github.com/arvind-mehta/orderflow-core/internal/dispatcher"
	"github.com/arvind-mehta/orderflow-core/internal/eventstore"
	"github.com/arvind-mehta/orderflow-core/internal/ledger"
	"github.com/arvind-mehta/orderflow-core/internal/notifier"
	"github.com/arvind-mehta/orderflow-core/internal/platform/broker"
	"github.com/arvind-mehta/orderflow-core/internal/platform/config"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery"
	"github.com/arvind-mehta/orderflow-core/internal/platform/discovery/consul"
	"github.com/arvind-mehta/orderflow-core/internal/platform/logging"
	"github.com/arvind-mehta/orderflow-core/internal/platform/redisx"
	"github.com/arvind-mehta/orderflow-core/internal/platform/tracing"
	"github.com/arvind-mehta/orderflow-core/internal/scorer"
	"github.com/arvind-mehta/orderflow-core/internal/selector"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
	"github.com/arvind-mehta/orderflow-core/internal/storage/postgres"
	"github.com/arvind-mehta/orderflow-core/internal/workflow"
)

const serviceName = "admin"

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
	grpcAddr := config.GetEnv("ADMIN_GRPC_ADDR", ":9090")
	if err := registry.Register(ctx, instanceID, serviceName, config.GetEnv("ADVERTISE_ADDR", "localhost"+grpcAddr)); err != nil {
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

	led := ledger.New(db, log)
	sc := scorer.New(db, redisClient, scorer.DefaultConfig(), zapLog)
	sm := statemachine.New(db, led, sc)
	admissionController := admission.New(db, led, admission.DefaultLimits())
	sel := selector.New(db, redisClient, sc, selector.StrategyLeastLoaded, log)
	journal := workflow.New(db)
	retailers := postgres.NewRetailerStore(db)
	notify := notifier.New(db, ch)
	catalogClient := catalog.New(config.GetEnv("CATALOG_BASE_URL", "http://localhost:9001"))

	events := eventstore.New(db, log)
	adminq := adminqueue.New(db)

	disp := dispatcher.New(db, journal, admissionController, sel, sc, sm, notify, retailers, catalogClient)

	svc := adminrpc.NewService(adminq, sc, events, disp, log)
	grpcServer := adminrpc.NewGRPCServer(adminrpc.NewServer(svc))

	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("failed to listen", "addr", grpcAddr, "error", err)
		return
	}

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	log.Info("admin grpc server started", "addr", grpcAddr)
	if err := grpcServer.Serve(listener); err != nil {
		log.Error("grpc server failed", "error", err)
	}
}
