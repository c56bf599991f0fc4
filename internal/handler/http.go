package handler

import (
	"errors"
	"market-engine/internal/database"
	"market-engine/internal/domain"
	"market-engine/internal/metrics"
	"market-engine/internal/repo"
	"market-engine/internal/service"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	checkout  *service.CheckoutService
	callbacks *service.CallbackService
	admin     *service.AdminService
	store     repo.OrderStore
	health    database.Service
	metrics   *metrics.EngineMetrics
	log       *zap.Logger
}

func New(
	checkout *service.CheckoutService,
	callbacks *service.CallbackService,
	admin *service.AdminService,
	store repo.OrderStore,
	health database.Service,
	engineMetrics *metrics.EngineMetrics,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		checkout:  checkout,
		callbacks: callbacks,
		admin:     admin,
		store:     store,
		health:    health,
		metrics:   engineMetrics,
		log:       log,
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(metrics.Handler(nil)))
	}

	r.GET("/health", h.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/checkout", h.handleCheckout)
		// Provider-facing and deliberately unauthenticated; FastPay does not
		// carry marketplace credentials.
		api.POST("/payments/fastpay/callback", h.handleCallback)
		api.GET("/orders/:id", h.handleGetOrder)
		api.POST("/admin/orders/:id/cancel", h.handleAdminCancel)
	}

	return r
}

type checkoutItem struct {
	OfferID  string `json:"offer_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

type checkoutRequest struct {
	BuyerID string         `json:"buyer_id" binding:"required"`
	Items   []checkoutItem `json:"items"`
}

type checkoutResponse struct {
	OrderID            string `json:"order_id"`
	PaymentRedirectURL string `json:"payment_redirect_url"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
}

func (h *Handler) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed checkout payload"})
		return
	}
	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_buyer_id", "message": "buyer_id must be a uuid"})
		return
	}

	items := make([]service.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		offerID, err := uuid.Parse(it.OfferID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offer_id", "message": "offer_id must be a uuid"})
			return
		}
		items = append(items, service.CartItem{OfferID: offerID, Quantity: it.Quantity})
	}

	result, err := h.checkout.Checkout(c.Request.Context(), buyerID, items)
	if err != nil {
		if h.metrics != nil {
			h.metrics.Checkouts.WithLabelValues("error").Inc()
		}
		h.writeError(c, "checkout", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Checkouts.WithLabelValues("success").Inc()
	}

	c.JSON(http.StatusCreated, checkoutResponse{
		OrderID:            result.OrderID.String(),
		PaymentRedirectURL: result.PaymentRedirect,
		Status:             string(result.Status),
		CreatedAt:          result.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

type callbackRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Status        string `json:"status" binding:"required"`
}

func (h *Handler) handleCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed callback payload"})
		return
	}
	transactionID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		h.writeError(c, "callback", domain.ErrTransactionNotFound)
		return
	}

	status, err := h.callbacks.HandleCallback(c.Request.Context(), transactionID, req.Status)
	if err != nil {
		if h.metrics != nil {
			h.metrics.Callbacks.WithLabelValues("error").Inc()
		}
		h.writeError(c, "callback", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Callbacks.WithLabelValues(req.Status).Inc()
	}

	c.JSON(http.StatusOK, gin.H{"order_status": string(status)})
}

type orderResponse struct {
	ID        string `json:"id"`
	BuyerID   string `json:"buyer_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.writeError(c, "get_order", domain.ErrOrderNotFound)
		return
	}
	order, err := h.store.FindOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get_order", err)
		return
	}
	if order == nil {
		h.writeError(c, "get_order", domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleAdminCancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.writeError(c, "admin_cancel", domain.ErrOrderNotFound)
		return
	}

	// Authenticated admin identity is validated upstream; the header only
	// feeds the audit trail.
	adminID, err := uuid.Parse(c.GetHeader("X-Admin-ID"))
	if err != nil {
		adminID = uuid.Nil
	}

	order, err := h.admin.CancelOrder(c.Request.Context(), id, adminID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.Cancels.WithLabelValues("error").Inc()
		}
		h.writeError(c, "admin_cancel", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Cancels.WithLabelValues("success").Inc()
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := h.health.Health()
	code := http.StatusOK
	if stats["status"] != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, stats)
}

func toOrderResponse(order *domain.Order) orderResponse {
	return orderResponse{
		ID:        order.ID.String(),
		BuyerID:   order.BuyerID.String(),
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// writeError maps domain sentinels to stable error kinds. Internal detail is
// logged, never returned.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	type mapping struct {
		status int
		kind   string
		msg    string
	}
	var m mapping
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		m = mapping{http.StatusBadRequest, "empty_cart", "cart must contain at least one item"}
	case errors.Is(err, domain.ErrInvalidStatus):
		m = mapping{http.StatusBadRequest, "invalid_status", "status must be success, fail or cancelled"}
	case errors.Is(err, domain.ErrOfferNotFound):
		m = mapping{http.StatusNotFound, "offer_not_found", "offer does not exist"}
	case errors.Is(err, domain.ErrOrderNotFound):
		m = mapping{http.StatusNotFound, "order_not_found", "order does not exist"}
	case errors.Is(err, domain.ErrTransactionNotFound):
		m = mapping{http.StatusNotFound, "transaction_not_found", "transaction does not exist"}
	case errors.Is(err, domain.ErrOfferNotAvailable):
		m = mapping{http.StatusConflict, "offer_not_available", "offer is not available for purchase"}
	case errors.Is(err, domain.ErrInsufficientStock):
		m = mapping{http.StatusConflict, "insufficient_quantity", "requested quantity exceeds available stock"}
	case errors.Is(err, domain.ErrCannotCancel):
		m = mapping{http.StatusConflict, "cannot_cancel", "order is already in a terminal state"}
	case errors.Is(err, domain.ErrOrderCreationFailed):
		m = mapping{http.StatusInternalServerError, "order_creation_failed", "order could not be created, no charge was made"}
	default:
		m = mapping{http.StatusInternalServerError, "internal", "internal error"}
	}

	if m.status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	c.JSON(m.status, gin.H{"error": m.kind, "message": m.msg})
}
