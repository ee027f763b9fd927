package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ordershop/pkg/actor"
	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/discovery"
	"github.com/example/ordershop/pkg/events"
	"github.com/example/ordershop/pkg/grpc"
	"github.com/example/ordershop/pkg/logger"
	"github.com/example/ordershop/pkg/metrics"
	"github.com/example/ordershop/pkg/order"
	"github.com/example/ordershop/pkg/pricing"
	"github.com/example/ordershop/pkg/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load config
	configPath := "config/order-config.yaml"
	if p := os.Getenv("ORDERSHOP_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver))

	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open order storage", zap.Error(err))
	}
	defer closeRepo()

	publisher, audit, closePublishers, err := openPublishers(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open event publishers", zap.Error(err))
	}
	defer closePublishers()

	serializer := actor.NewSerializer(cfg.Actor.RequestTimeout, log.Named("actor"))
	defer serializer.Shutdown()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []order.Option{
		order.WithSerializer(serializer),
		order.WithPublisher(publisher),
		order.WithPublishTimeout(cfg.Events.PublishTimeout),
		order.WithMetrics(metrics.NewOrderMetrics(registry)),
	}
	if audit != nil {
		opts = append(opts, order.WithAuditTrail(audit))
	}
	service := order.NewService(repo, pricing.NewCalculator(cfg.Order), cfg.Order, log.Named("orders"), opts...)
	server := grpc.NewOrderServer(service, log.Named("grpc"))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		log.Fatal("Failed to listen", zap.Error(err))
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil {
			serverErr <- err
		}
	}()

	// Register service
	instance := &discovery.ServiceInstance{
		Name: cfg.Server.Name,
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}
	var sd *discovery.ServiceDiscovery
	if cfg.Etcd.Enabled {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, log)
		if err != nil {
			log.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer sd.Close()

		if err := sd.Register(ctx, instance); err != nil {
			log.Fatal("Failed to register service", zap.Error(err))
		}
		log.Info("Service registered in etcd",
			zap.String("name", instance.Name),
			zap.String("address", instance.Address()))
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Fatal("Server error", zap.Error(err))
	}

	// Deregister service
	if sd != nil {
		if err := sd.Deregister(ctx, instance); err != nil {
			log.Error("Failed to deregister service", zap.Error(err))
		}
	}
	server.Stop()

	log.Info("Service stopped")
}

// openRepository builds the order store, wrapped in the Redis read-through
// cache when enabled.
func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.OrderRepository, func(), error) {
	var repo repository.OrderRepository
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("Using in-memory order storage")
		repo = repository.NewMemoryOrderRepository()
	case "mysql", "":
		db, err := repository.OpenMySQL(&cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("MySQL connected successfully")
		repo = repository.NewGormOrderRepository(db)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if !cfg.Cache.Enabled {
		return repo, func() {}, nil
	}

	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	if err := redisRepo.Ping(ctx); err != nil {
		log.Warn("Redis connection failed, order cache reads will fall through", zap.Error(err))
	} else {
		log.Info("Redis connected successfully")
	}
	cached := repository.NewCachedOrderRepository(repo, redisRepo, cfg.Cache.OrderTTL, log.Named("cache"))
	return cached, func() {
		if err := redisRepo.Close(); err != nil {
			log.Warn("Failed to close redis", zap.Error(err))
		}
	}, nil
}

// openPublishers combines the configured broker with the Mongo audit trail.
// The audit repository is nil when MongoDB is disabled.
func openPublishers(ctx context.Context, cfg *config.Config, log *zap.Logger) (events.Publisher, *repository.MongoRepository, func(), error) {
	var (
		publishers events.Multi
		closers    []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Events.Driver {
	case "kafka":
		p, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return nil, nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, func() { _ = p.Close() })
	case "rabbitmq":
		p, err := events.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			return nil, nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, func() { _ = p.Close() })
	case "none", "":
	default:
		return nil, nil, nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}

	var audit *repository.MongoRepository
	if cfg.MongoDB.Enabled {
		mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		if err := mongoRepo.Ping(ctx); err != nil {
			log.Warn("MongoDB ping failed, audit writes may fail", zap.Error(err))
		}
		publishers = append(publishers, mongoRepo)
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoRepo.Close(shutdownCtx)
		})
		audit = mongoRepo
	}

	if len(publishers) == 0 {
		return events.Nop{}, audit, closeAll, nil
	}
	return publishers, audit, closeAll, nil
}
