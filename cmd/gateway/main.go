package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ordershop/gateway"
	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/discovery"
	"github.com/example/ordershop/pkg/grpc"
	"github.com/example/ordershop/pkg/logger"
	"github.com/example/ordershop/pkg/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load config
	configPath := "config/config.yaml"
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

	log.Info("Starting API Gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host))

	// Setup service discovery
	var sd *discovery.ServiceDiscovery
	if cfg.Etcd.Enabled {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, log)
		if err != nil {
			log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
			sd = nil
		}
	}

	clients := grpc.NewClientManager(&cfg.Gateway, log, sd)
	if err := clients.Connect(); err != nil {
		log.Fatal("Failed to create order service client", zap.Error(err))
	}
	defer clients.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Create gateway
	gw := gateway.NewGateway(gateway.Options{
		Config:     &cfg.Gateway,
		Orders:     clients.OrderClient(),
		Calculator: pricing.NewCalculator(cfg.Order),
		Registry:   registry,
		ConnState:  clients.OrderConnState,
	}, log.Named("gateway"))
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	log.Info("Gateway started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-gwErr:
		log.Fatal("Gateway error", zap.Error(err))
	}

	if sd != nil {
		sd.Close()
	}

	log.Info("Gateway stopped")
}
