package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/order"
	"github.com/example/ordershop/pkg/pricing"
	"github.com/example/ordershop/pkg/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	alice = Identity{UserID: "alice", Role: RoleCustomer}
	bob   = Identity{UserID: "bob", Role: RoleCustomer}
	admin = Identity{UserID: "ops", Role: RoleAdmin}
)

func newTestClient(t *testing.T, opts ...order.Option) OrderServiceClient {
	t.Helper()
	cfg := config.OrderConfig{DefaultTaxRate: 0.20, DefaultPageSize: 10, MaxPageSize: 100, ConflictRetries: 3}
	svc := order.NewService(repository.NewMemoryOrderRepository(), pricing.NewCalculator(cfg), cfg, zap.NewNop(), opts...)
	srv := NewOrderServer(svc, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewOrderServiceClient(conn)
}

func as(id Identity) context.Context {
	return WithIdentity(context.Background(), id)
}

func createReq() *CreateOrderRequest {
	return &CreateOrderRequest{Order: order.CreateRequest{
		Items: []order.ItemInput{{
			ProductID:   "prod-1",
			SKU:         "SKU-1",
			ProductName: "Kettle",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("100.00"),
		}},
		ShippingAddress: models.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
	}}
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), err.Error())
}

func TestCreateAndGetOrder(t *testing.T) {
	client := newTestClient(t)

	created, err := client.CreateOrder(as(alice), createReq())
	require.NoError(t, err)
	require.Equal(t, "alice", created.Order.UserID)
	require.Equal(t, "240.00", created.Order.Total.String())
	require.Equal(t, models.OrderStatusPending, created.Order.Status)
	require.Len(t, created.Order.Items, 1)

	got, err := client.GetOrder(as(alice), &GetOrderRequest{ID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, created.Order.OrderNumber, got.Order.OrderNumber)

	_, err = client.GetOrder(as(bob), &GetOrderRequest{ID: created.Order.ID})
	requireCode(t, err, codes.NotFound)

	got, err = client.GetOrder(as(admin), &GetOrderRequest{ID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, created.Order.ID, got.Order.ID)

	byNumber, err := client.GetOrderByNumber(as(alice), &GetOrderByNumberRequest{OrderNumber: created.Order.OrderNumber})
	require.NoError(t, err)
	require.Equal(t, created.Order.ID, byNumber.Order.ID)
}

func TestRequiresIdentity(t *testing.T) {
	client := newTestClient(t)

	_, err := client.CreateOrder(context.Background(), createReq())
	requireCode(t, err, codes.Unauthenticated)

	_, err = client.ListUserOrders(WithIdentity(context.Background(), Identity{Role: RoleAdmin}), &ListUserOrdersRequest{})
	requireCode(t, err, codes.Unauthenticated)
}

func TestAdminOnlyMethods(t *testing.T) {
	client := newTestClient(t)
	created, err := client.CreateOrder(as(alice), createReq())
	require.NoError(t, err)

	_, err = client.ListOrders(as(alice), &ListOrdersRequest{})
	requireCode(t, err, codes.PermissionDenied)
	_, err = client.GetStatistics(as(alice), &GetStatisticsRequest{})
	requireCode(t, err, codes.PermissionDenied)
	_, err = client.DeleteOrder(as(alice), &DeleteOrderRequest{ID: created.Order.ID})
	requireCode(t, err, codes.PermissionDenied)
	confirmed := models.OrderStatusConfirmed
	_, err = client.UpdateOrderStatus(as(alice), &UpdateOrderStatusRequest{ID: created.Order.ID, Update: order.StatusUpdate{Status: &confirmed}})
	requireCode(t, err, codes.PermissionDenied)

	list, err := client.ListOrders(as(admin), &ListOrdersRequest{Page: 1, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, order.PageMeta{Total: 1, Page: 1, Limit: 5, TotalPages: 1}, list.Meta)

	stats, err := client.GetStatistics(as(admin), &GetStatisticsRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, "0.00", stats.TotalRevenue.String())

	_, err = client.DeleteOrder(as(admin), &DeleteOrderRequest{ID: created.Order.ID})
	require.NoError(t, err)
	_, err = client.DeleteOrder(as(admin), &DeleteOrderRequest{ID: created.Order.ID})
	requireCode(t, err, codes.NotFound)
}

type staticTrail []*repository.AuditLog

func (s staticTrail) GetAuditLogs(_ context.Context, entityID string, limit int64) ([]*repository.AuditLog, error) {
	var out []*repository.AuditLog
	for _, entry := range s {
		if entry.EntityID == entityID && int64(len(out)) < limit {
			out = append(out, entry)
		}
	}
	return out, nil
}

func TestGetOrderHistory(t *testing.T) {
	t.Run("without audit trail", func(t *testing.T) {
		client := newTestClient(t)
		_, err := client.GetOrderHistory(as(admin), &GetOrderHistoryRequest{ID: "o-1"})
		requireCode(t, err, codes.Unimplemented)
	})

	t.Run("admin only", func(t *testing.T) {
		client := newTestClient(t, order.WithAuditTrail(staticTrail{}))
		_, err := client.GetOrderHistory(as(alice), &GetOrderHistoryRequest{ID: "o-1"})
		requireCode(t, err, codes.PermissionDenied)
		_, err = client.GetOrderHistory(as(admin), &GetOrderHistoryRequest{})
		requireCode(t, err, codes.InvalidArgument)
	})

	t.Run("newest first", func(t *testing.T) {
		trail := staticTrail{
			{Action: "order.cancelled", EntityID: "o-1", ActorID: "alice", Data: map[string]any{"current_status": "CANCELLED"}},
			{Action: "order.created", EntityID: "o-1", ActorID: "alice"},
			{Action: "order.created", EntityID: "o-2"},
		}
		client := newTestClient(t, order.WithAuditTrail(trail))

		resp, err := client.GetOrderHistory(as(admin), &GetOrderHistoryRequest{ID: "o-1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, resp.Entries, 1)
		require.Equal(t, "order.cancelled", resp.Entries[0].Action)
		require.Equal(t, "CANCELLED", resp.Entries[0].Data["current_status"])

		resp, err = client.GetOrderHistory(as(admin), &GetOrderHistoryRequest{ID: "o-3"})
		require.NoError(t, err)
		require.Empty(t, resp.Entries)
	})
}

func TestUpdateOrderStatusErrors(t *testing.T) {
	client := newTestClient(t)
	created, err := client.CreateOrder(as(alice), createReq())
	require.NoError(t, err)

	shipped := models.OrderStatusShipped
	var trailer metadata.MD
	_, err = client.UpdateOrderStatus(as(admin), &UpdateOrderStatusRequest{
		ID:     created.Order.ID,
		Update: order.StatusUpdate{Status: &shipped},
	}, grpc.Trailer(&trailer))
	requireCode(t, err, codes.FailedPrecondition)
	require.Equal(t, []string{"PENDING"}, trailer.Get(TrailerCurrentStatus))
	require.Equal(t, []string{"SHIPPED"}, trailer.Get(TrailerRequestedStatus))

	_, err = client.UpdateOrderStatus(as(admin), &UpdateOrderStatusRequest{ID: created.Order.ID})
	requireCode(t, err, codes.InvalidArgument)

	paid := models.PaymentStatusPaid
	updated, err := client.UpdateOrderStatus(as(admin), &UpdateOrderStatusRequest{
		ID:     created.Order.ID,
		Update: order.StatusUpdate{PaymentStatus: &paid},
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, updated.Order.Status)
	require.NotNil(t, updated.Order.PaidAt)
}

func TestCancelOrderOverGRPC(t *testing.T) {
	client := newTestClient(t)
	created, err := client.CreateOrder(as(alice), createReq())
	require.NoError(t, err)

	_, err = client.CancelOrder(as(bob), &CancelOrderRequest{ID: created.Order.ID})
	requireCode(t, err, codes.PermissionDenied)

	cancelled, err := client.CancelOrder(as(alice), &CancelOrderRequest{ID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, cancelled.Order.Status)

	_, err = client.CancelOrder(as(alice), &CancelOrderRequest{ID: created.Order.ID})
	requireCode(t, err, codes.FailedPrecondition)
}

func TestCreateOrderValidation(t *testing.T) {
	client := newTestClient(t)
	req := createReq()
	req.Order.Items = nil

	_, err := client.CreateOrder(as(alice), req)
	requireCode(t, err, codes.InvalidArgument)

	mine, err := client.ListUserOrders(as(alice), &ListUserOrdersRequest{})
	require.NoError(t, err)
	require.Zero(t, mine.Meta.Total)
}

func TestNormalizeRole(t *testing.T) {
	require.Equal(t, RoleAdmin, NormalizeRole(" Admin "))
	require.Equal(t, RoleCustomer, NormalizeRole("superuser"))
	require.Equal(t, RoleCustomer, NormalizeRole(""))
}
