package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/example/ordershop/pkg/actor"
	"github.com/example/ordershop/pkg/order"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// OrderServer exposes order.Service over gRPC and enforces caller roles.
type OrderServer struct {
	service *order.Service
	logger  *zap.Logger
	server  *grpc.Server
}

func NewOrderServer(service *order.Service, logger *zap.Logger) *OrderServer {
	s := &OrderServer{
		service: service,
		logger:  logger,
	}
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)))
	RegisterOrderServiceServer(s.server, s)
	return s
}

// Serve blocks until the listener fails or Stop is called.
func (s *OrderServer) Serve(lis net.Listener) error {
	s.logger.Info("Order service started", zap.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
}

func (s *OrderServer) Stop() {
	s.server.GracefulStop()
}

func (s *OrderServer) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	created, err := s.service.Create(order.WithActor(ctx, id.UserID), id.UserID, req.Order)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderResponse{Order: created}, nil
}

func (s *OrderServer) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	found, err := s.service.FindOne(ctx, req.ID, id.OwnerScope())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderResponse{Order: found}, nil
}

func (s *OrderServer) GetOrderByNumber(ctx context.Context, req *GetOrderByNumberRequest) (*OrderResponse, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	found, err := s.service.FindByOrderNumber(ctx, req.OrderNumber, id.OwnerScope())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderResponse{Order: found}, nil
}

func (s *OrderServer) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	filter := order.Filter{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		UserID:        req.UserID,
		OrderNumber:   req.OrderNumber,
	}
	page, err := s.service.FindAll(ctx, filter, req.Page, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return page, nil
}

func (s *OrderServer) ListUserOrders(ctx context.Context, req *ListUserOrdersRequest) (*ListOrdersResponse, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.service.FindUserOrders(ctx, id.UserID, req.Page, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return page, nil
}

func (s *OrderServer) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*OrderResponse, error) {
	id, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	updated, err := s.service.UpdateStatus(order.WithActor(ctx, id.UserID), req.ID, req.Update)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderResponse{Order: updated}, nil
}

func (s *OrderServer) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	id, err := identityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.service.CancelOrder(order.WithActor(ctx, id.UserID), req.ID, id.UserID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderResponse{Order: cancelled}, nil
}

func (s *OrderServer) DeleteOrder(ctx context.Context, req *DeleteOrderRequest) (*DeleteOrderResponse, error) {
	id, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.service.Remove(order.WithActor(ctx, id.UserID), req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &DeleteOrderResponse{}, nil
}

func (s *OrderServer) GetStatistics(ctx context.Context, _ *GetStatisticsRequest) (*StatisticsResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	stats, err := s.service.GetStatistics(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return stats, nil
}

func (s *OrderServer) GetOrderHistory(ctx context.Context, req *GetOrderHistoryRequest) (*OrderHistoryResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	entries, err := s.service.History(ctx, req.ID, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &OrderHistoryResponse{Entries: entries}, nil
}

// toStatus maps service errors onto gRPC codes. Rejected transitions also
// carry both statuses in the trailer.
func (s *OrderServer) toStatus(ctx context.Context, err error) error {
	var transition *order.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		if terr := grpc.SetTrailer(ctx, metadata.Pairs(
			TrailerCurrentStatus, string(transition.Current),
			TrailerRequestedStatus, string(transition.Requested),
		)); terr != nil {
			s.logger.Warn("Failed to set trailer", zap.Error(terr))
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, order.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, order.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, order.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, order.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, order.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, order.ErrUnavailable):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, actor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		s.logger.Error("Order operation failed", zap.Error(err))
		return status.Error(codes.Internal, "order service dependency failure")
	}
}

// LoggingInterceptor logs every unary call with its code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch code {
		case codes.OK:
			logger.Info("gRPC request", fields...)
		case codes.Internal, codes.Unknown, codes.DeadlineExceeded:
			logger.Error("gRPC request failed", append(fields, zap.Error(err))...)
		default:
			logger.Warn("gRPC request rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
