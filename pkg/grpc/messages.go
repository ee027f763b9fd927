package grpc

import (
	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/order"
	"github.com/example/ordershop/pkg/repository"
)

type CreateOrderRequest struct {
	Order order.CreateRequest `json:"order"`
}

type OrderResponse struct {
	Order *models.Order `json:"order"`
}

type GetOrderRequest struct {
	ID string `json:"id"`
}

type GetOrderByNumberRequest struct {
	OrderNumber string `json:"orderNumber"`
}

type ListOrdersRequest struct {
	Status        *models.OrderStatus   `json:"status,omitempty"`
	PaymentStatus *models.PaymentStatus `json:"paymentStatus,omitempty"`
	UserID        string                `json:"userId,omitempty"`
	OrderNumber   string                `json:"orderNumber,omitempty"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
}

type ListUserOrdersRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type ListOrdersResponse = order.Page

type UpdateOrderStatusRequest struct {
	ID     string             `json:"id"`
	Update order.StatusUpdate `json:"update"`
}

type CancelOrderRequest struct {
	ID string `json:"id"`
}

type DeleteOrderRequest struct {
	ID string `json:"id"`
}

type DeleteOrderResponse struct{}

type GetStatisticsRequest struct{}

type StatisticsResponse = order.Statistics

type GetOrderHistoryRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

type OrderHistoryResponse struct {
	Entries []*repository.AuditLog `json:"entries"`
}
