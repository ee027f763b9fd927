package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "github.com/example/ordershop/gateway/docs"
	"github.com/example/ordershop/pkg/config"
	ordergrpc "github.com/example/ordershop/pkg/grpc"
	"github.com/example/ordershop/pkg/metrics"
	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/order"
	"github.com/example/ordershop/pkg/pricing"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	identityKey = "identity"
)

type Options struct {
	Config     *config.GatewayConfig
	Orders     ordergrpc.OrderServiceClient
	Calculator *pricing.Calculator
	// Registry receives the gateway's HTTP metrics and backs /metrics.
	Registry *prometheus.Registry
	// ConnState reports the order service channel state for /health. Optional.
	ConnState func() string
}

type Gateway struct {
	config     *config.GatewayConfig
	orders     ordergrpc.OrderServiceClient
	calculator *pricing.Calculator
	registry   *prometheus.Registry
	metrics    *metrics.ServerMetrics
	connState  func() string
	logger     *zap.Logger
	router     *gin.Engine
}

func NewGateway(opts Options, logger *zap.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	serverMetrics := metrics.NewServerMetrics(registry, "gateway")
	router.Use(metricsMiddleware(serverMetrics))

	return &Gateway{
		config:     opts.Config,
		orders:     opts.Orders,
		calculator: opts.Calculator,
		registry:   registry,
		metrics:    serverMetrics,
		connState:  opts.ConnState,
		logger:     logger,
		router:     router,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", g.health)
	g.router.GET("/metrics", gin.WrapH(metrics.Handler(g.registry)))

	// API v1 routes
	v1 := g.router.Group("/api/v1")
	v1.Use(identityMiddleware())
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", g.createOrder)
			orders.GET("/me", g.listMyOrders)
			orders.GET("/number/:orderNumber", g.getOrderByNumber)
			orders.GET("/:id", g.getOrder)
			orders.POST("/:id/cancel", g.cancelOrder)

			orders.GET("", adminOnly(), g.listOrders)
			orders.GET("/statistics", adminOnly(), g.getStatistics)
			orders.PATCH("/:id/status", adminOnly(), g.updateOrderStatus)
			orders.DELETE("/:id", adminOnly(), g.deleteOrder)
			orders.GET("/:id/history", adminOnly(), g.getOrderHistory)
		}

		v1.POST("/pricing/quote", g.quote)
	}

	// Swagger
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Addr() string {
	return fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
}

func (g *Gateway) Start() error {
	addr := g.Addr()
	g.logger.Info("Gateway starting", zap.String("address", addr))
	return g.router.Run(addr)
}

func (g *Gateway) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if g.connState != nil {
		body["orderService"] = g.connState()
	}
	c.JSON(http.StatusOK, body)
}

// callContext bounds the upstream call and forwards the caller identity.
func (g *Gateway) callContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx := c.Request.Context()
	cancel := context.CancelFunc(func() {})
	if g.config != nil && g.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
	}
	return ordergrpc.WithIdentity(ctx, callerIdentity(c)), cancel
}

// createOrder godoc
// @Summary Create an order for the caller
// @Tags orders
// @Accept json
// @Produce json
// @Success 201 {object} models.Order
// @Router /orders [post]
func (g *Gateway) createOrder(c *gin.Context) {
	var req order.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.CreateOrder(ctx, &ordergrpc.CreateOrderRequest{Order: req})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, resp.Order)
}

func (g *Gateway) listMyOrders(c *gin.Context) {
	page, limit, err := pageParams(c)
	if err != nil {
		writeValidationError(c, err)
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.ListUserOrders(ctx, &ordergrpc.ListUserOrdersRequest{Page: page, Limit: limit})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) listOrders(c *gin.Context) {
	page, limit, err := pageParams(c)
	if err != nil {
		writeValidationError(c, err)
		return
	}
	req := &ordergrpc.ListOrdersRequest{
		UserID:      c.Query("userId"),
		OrderNumber: c.Query("orderNumber"),
		Page:        page,
		Limit:       limit,
	}
	if raw := c.Query("status"); raw != "" {
		s, err := models.ParseOrderStatus(raw)
		if err != nil {
			writeValidationError(c, err)
			return
		}
		req.Status = &s
	}
	if raw := c.Query("paymentStatus"); raw != "" {
		s, err := models.ParsePaymentStatus(raw)
		if err != nil {
			writeValidationError(c, err)
			return
		}
		req.PaymentStatus = &s
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.ListOrders(ctx, req)
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) getOrder(c *gin.Context) {
	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.GetOrder(ctx, &ordergrpc.GetOrderRequest{ID: c.Param("id")})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp.Order)
}

func (g *Gateway) getOrderByNumber(c *gin.Context) {
	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.GetOrderByNumber(ctx, &ordergrpc.GetOrderByNumberRequest{OrderNumber: c.Param("orderNumber")})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp.Order)
}

// updateOrderStatus also serves as the relay for payment processor callbacks,
// which only set paymentStatus.
func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var update order.StatusUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		writeValidationError(c, err)
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	var trailer metadata.MD
	resp, err := g.orders.UpdateOrderStatus(ctx, &ordergrpc.UpdateOrderStatusRequest{ID: c.Param("id"), Update: update}, grpc.Trailer(&trailer))
	if err != nil {
		g.writeError(c, err, trailer)
		return
	}
	c.JSON(http.StatusOK, resp.Order)
}

func (g *Gateway) cancelOrder(c *gin.Context) {
	ctx, cancel := g.callContext(c)
	defer cancel()
	var trailer metadata.MD
	resp, err := g.orders.CancelOrder(ctx, &ordergrpc.CancelOrderRequest{ID: c.Param("id")}, grpc.Trailer(&trailer))
	if err != nil {
		g.writeError(c, err, trailer)
		return
	}
	c.JSON(http.StatusOK, resp.Order)
}

func (g *Gateway) deleteOrder(c *gin.Context) {
	ctx, cancel := g.callContext(c)
	defer cancel()
	if _, err := g.orders.DeleteOrder(ctx, &ordergrpc.DeleteOrderRequest{ID: c.Param("id")}); err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) getStatistics(c *gin.Context) {
	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.GetStatistics(ctx, &ordergrpc.GetStatisticsRequest{})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getOrderHistory returns the audit trail of an order, newest first.
func (g *Gateway) getOrderHistory(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeValidationError(c, err)
		return
	}

	ctx, cancel := g.callContext(c)
	defer cancel()
	resp, err := g.orders.GetOrderHistory(ctx, &ordergrpc.GetOrderHistoryRequest{ID: c.Param("id"), Limit: limit})
	if err != nil {
		g.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Entries})
}

type quoteItem struct {
	ProductID string          `json:"productId,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

type quoteRequest struct {
	Items []quoteItem `json:"items"`
}

// quote prices a cart with the same calculator the order service uses.
func (g *Gateway) quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	items := make([]pricing.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = pricing.LineItem{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	breakdown, err := g.calculator.Quote(items)
	if err != nil {
		writeValidationError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func pageParams(c *gin.Context) (int, int, error) {
	page, err := intQuery(c, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("query parameter %s must be a non-negative integer", name)
	}
	return v, nil
}

type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, code int, kind, message string, details map[string]any) {
	c.AbortWithStatusJSON(code, errorResponse{Error: kind, Message: message, Status: code, Details: details})
}

func writeValidationError(c *gin.Context, err error) {
	abortWithError(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
}

// writeError maps an order service status onto the HTTP error envelope.
func (g *Gateway) writeError(c *gin.Context, err error, trailer metadata.MD) {
	st, ok := status.FromError(err)
	if !ok {
		st = status.New(codes.Unknown, err.Error())
	}

	switch st.Code() {
	case codes.InvalidArgument:
		abortWithError(c, http.StatusBadRequest, "validation_error", st.Message(), nil)
	case codes.Unauthenticated:
		abortWithError(c, http.StatusUnauthorized, "unauthenticated", st.Message(), nil)
	case codes.NotFound:
		abortWithError(c, http.StatusNotFound, "not_found", st.Message(), nil)
	case codes.PermissionDenied:
		abortWithError(c, http.StatusForbidden, "forbidden", st.Message(), nil)
	case codes.FailedPrecondition:
		abortWithError(c, http.StatusConflict, "invalid_transition", st.Message(), transitionDetails(trailer))
	case codes.Aborted:
		abortWithError(c, http.StatusConflict, "conflict", st.Message(), nil)
	case codes.DeadlineExceeded:
		abortWithError(c, http.StatusGatewayTimeout, "timeout", st.Message(), nil)
	case codes.Unimplemented:
		abortWithError(c, http.StatusNotImplemented, "not_implemented", st.Message(), nil)
	default:
		g.logger.Error("Order service call failed",
			zap.String("path", c.FullPath()),
			zap.String("code", st.Code().String()),
			zap.Error(err))
		abortWithError(c, http.StatusBadGateway, "dependency_error", "order service unavailable", nil)
	}
}

func transitionDetails(trailer metadata.MD) map[string]any {
	current := first(trailer.Get(ordergrpc.TrailerCurrentStatus))
	requested := first(trailer.Get(ordergrpc.TrailerRequestedStatus))
	if current == "" {
		return nil
	}
	allowed := []string{}
	for _, s := range order.AllowedTransitions(models.OrderStatus(current)) {
		allowed = append(allowed, string(s))
	}
	return map[string]any{
		"current":   current,
		"requested": requested,
		"allowed":   allowed,
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// identityMiddleware trusts the identity headers set by the upstream auth layer.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthenticated", "missing "+HeaderUserID+" header", nil)
			return
		}
		c.Set(identityKey, ordergrpc.Identity{
			UserID: userID,
			Role:   ordergrpc.NormalizeRole(c.GetHeader(HeaderUserRole)),
		})
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerIdentity(c).IsAdmin() {
			abortWithError(c, http.StatusForbidden, "forbidden", "admin role required", nil)
			return
		}
		c.Next()
	}
}

func callerIdentity(c *gin.Context) ordergrpc.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return ordergrpc.Identity{}
	}
	id, _ := v.(ordergrpc.Identity)
	return id
}

func metricsMiddleware(m *metrics.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(handler, c.Request.Method).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := callerIdentity(c); id.UserID != "" {
			fields = append(fields, zap.String("user_id", id.UserID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(errors.New(c.Errors.String())))
		}
		logger.Info("HTTP request", fields...)
	}
}
