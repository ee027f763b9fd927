package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/discovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientManager manages the gateway's connection to the order service
type ClientManager struct {
	config    *config.GatewayConfig
	discovery *discovery.ServiceDiscovery
	logger    *zap.Logger

	orderClient OrderServiceClient
	orderConn   *grpc.ClientConn
}

// NewClientManager creates a new gRPC client manager. disc may be nil.
func NewClientManager(cfg *config.GatewayConfig, logger *zap.Logger, disc *discovery.ServiceDiscovery) *ClientManager {
	return &ClientManager{
		config:    cfg,
		discovery: disc,
		logger:    logger,
	}
}

func (m *ClientManager) Connect() error {
	if err := m.connectOrderService(); err != nil {
		return fmt.Errorf("failed to connect to order service: %w", err)
	}
	return nil
}

// resolveOrderService prefers an etcd-registered instance over the static address.
func (m *ClientManager) resolveOrderService() string {
	target := m.config.OrderServiceAddr

	if m.discovery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		instances, err := m.discovery.Discover(ctx, m.config.OrderServiceName)
		if err == nil && len(instances) > 0 {
			target = instances[0].Address()
			m.logger.Info("Discovered order service", zap.String("address", target))
		} else {
			m.logger.Info("Using default address for order service", zap.String("address", target), zap.Error(err))
		}
	}
	return target
}

func (m *ClientManager) connectOrderService() error {
	target := m.resolveOrderService()
	m.logger.Info("Connecting to order service", zap.String("target", target))

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return err
	}
	conn.Connect()

	m.orderConn = conn
	m.orderClient = NewOrderServiceClient(conn)
	return nil
}

// OrderClient returns the order service gRPC client
func (m *ClientManager) OrderClient() OrderServiceClient {
	return m.orderClient
}

// OrderConnState reports the connectivity state of the order service channel.
func (m *ClientManager) OrderConnState() string {
	if m.orderConn == nil {
		return "NOT_CONNECTED"
	}
	return m.orderConn.GetState().String()
}

func (m *ClientManager) Close() error {
	if m.orderConn != nil {
		if err := m.orderConn.Close(); err != nil {
			return fmt.Errorf("order connection close error: %w", err)
		}
	}
	return nil
}
