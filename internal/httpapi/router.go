// Package httpapi also wires the four mutating endpoints named by the
// engine's consumer contract onto gin. DTOs are kept minimal — the
// contract's value is in requiring X-Tenant-Id/X-Idempotency-Key and the
// shared {isSuccess, code, message, result} envelope, not in REST
// resource modeling, which is out of this engine's scope.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jsoonworld/fluxpay-engine/internal/domain/order"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/idempotency"
	"github.com/jsoonworld/fluxpay-engine/internal/metrics"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/paymentapp"
	"github.com/jsoonworld/fluxpay-engine/internal/pgadapter"
	"github.com/jsoonworld/fluxpay-engine/internal/refundapp"
	"github.com/jsoonworld/fluxpay-engine/internal/repository"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// Deps bundles the composition root's services onto the router.
type Deps struct {
	Gate        *idempotency.Gate
	PaymentSaga *paymentapp.Service
	Refunds     *refundapp.Service
	OrderRepo   order.Repository
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with tenant + idempotency middleware
// in front of the mutating routes and a health/readiness/metrics surface
// behind them.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	api.Use(RequestLoggerMiddleware(deps.Logger))
	api.Use(TenantMiddleware())
	api.Use(IdempotencyMiddleware(deps.Gate))
	{
		api.POST("/orders", postOrder(deps))
		api.PUT("/orders/:id/cancel", cancelOrder(deps))
		api.POST("/payments", postPayment(deps))
		api.POST("/refunds", postRefund(deps))
	}
	return r
}

type lineItemDTO struct {
	ProductID string `json:"productId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Qty       int    `json:"qty" binding:"required,gt=0"`
	UnitPrice string `json:"unitPrice" binding:"required"`
}

type createOrderRequest struct {
	UserID    string        `json:"userId" binding:"required"`
	Currency  string        `json:"currency" binding:"required"`
	LineItems []lineItemDTO `json:"lineItems" binding:"required,min=1"`
	Metadata  map[string]string `json:"metadata"`
}

// postOrder creates a standalone order (CREATE_ORDER step run outside a
// saga), for callers that want to create an order before later launching
// a payment against it via POST /payments.
func postOrder(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
			return
		}
		tenantID, err := tenant.RequireFromContext(c.Request.Context())
		if err != nil {
			writeDomainError(c, err.(*domainerr.Error))
			return
		}

		items := make([]order.LineItem, 0, len(req.LineItems))
		for _, li := range req.LineItems {
			price, err := money.Parse(li.UnitPrice, req.Currency)
			if err != nil {
				writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
				return
			}
			item, err := order.NewLineItem(li.ProductID, li.Name, li.Qty, price)
			if err != nil {
				writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
				return
			}
			items = append(items, item)
		}

		ord, err := order.New(tenantID, req.UserID, items, req.Currency, req.Metadata)
		if err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
			return
		}
		if err := deps.OrderRepo.Save(c.Request.Context(), ord); err != nil {
			writeDomainError(c, domainerr.NewInternalError(err))
			return
		}
		writeSuccess(c, http.StatusCreated, orderResult(ord))
	}
}

func cancelOrder(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, "invalid order id")
			return
		}
		ord, err := deps.OrderRepo.FindByID(c.Request.Context(), id)
		if err != nil {
			writeDomainError(c, domainerr.NewNotFoundError("Order", id.String()))
			return
		}
		// idempotent cancellation: an already-cancelled order is a no-op success.
		if ord.Status() != order.StatusCancelled {
			if err := ord.Cancel(); err != nil {
				if derr, ok := domainerr.As(err); ok {
					writeDomainError(c, derr)
					return
				}
				writeDomainError(c, domainerr.NewInternalError(err))
				return
			}
			ord.IncrementVersion()
			if err := deps.OrderRepo.Update(c.Request.Context(), ord); err != nil {
				writeDomainError(c, domainerr.NewInternalError(err))
				return
			}
		}
		writeSuccess(c, http.StatusOK, orderResult(ord))
	}
}

type checkoutLineItemDTO struct {
	ProductID string `json:"productId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Qty       int    `json:"qty" binding:"required,gt=0"`
	UnitPrice string `json:"unitPrice" binding:"required"`
}

type checkoutRequest struct {
	UserID             string                `json:"userId" binding:"required"`
	Currency           string                `json:"currency" binding:"required"`
	Method             string                `json:"method" binding:"required"`
	LineItems          []checkoutLineItemDTO `json:"lineItems" binding:"required,min=1"`
	Metadata           map[string]string     `json:"metadata"`
	ConfirmImmediately bool                  `json:"confirmImmediately"`
}

// postPayment launches the payment saga: CREATE_ORDER -> PROCESS_PAYMENT
// -> optional CONFIRM_PAYMENT, keyed by the idempotency key so retries
// never launch a second saga instance.
func postPayment(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
			return
		}
		tenantID, err := tenant.RequireFromContext(c.Request.Context())
		if err != nil {
			writeDomainError(c, err.(*domainerr.Error))
			return
		}

		items := make([]paymentapp.LineItemInput, 0, len(req.LineItems))
		for _, li := range req.LineItems {
			price, err := money.Parse(li.UnitPrice, req.Currency)
			if err != nil {
				writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
				return
			}
			items = append(items, paymentapp.LineItemInput{
				ProductID: li.ProductID, Name: li.Name, Qty: li.Qty, UnitPrice: price,
			})
		}

		correlationID := c.GetHeader(IdempotencyKeyHeader)
		instance, err := deps.PaymentSaga.Checkout(c.Request.Context(), correlationID, paymentapp.CheckoutRequest{
			TenantID: tenantID, UserID: req.UserID, Currency: req.Currency,
			LineItems: items, Method: pgadapter.Method(req.Method),
			Metadata: req.Metadata, ConfirmImmediately: req.ConfirmImmediately,
		})
		if err != nil {
			if derr, ok := domainerr.As(err); ok {
				writeDomainError(c, derr)
				return
			}
			writeDomainError(c, domainerr.NewInternalError(err))
			return
		}
		writeSuccess(c, http.StatusCreated, gin.H{
			"sagaId": instance.ID, "status": instance.Status, "data": instance.Data,
		})
	}
}

type createRefundRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

func postRefund(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
			return
		}
		tenantID, err := tenant.RequireFromContext(c.Request.Context())
		if err != nil {
			writeDomainError(c, err.(*domainerr.Error))
			return
		}
		paymentID, err := uuid.Parse(req.PaymentID)
		if err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, "invalid payment id")
			return
		}
		amount, err := money.Parse(req.Amount, req.Currency)
		if err != nil {
			writeError(c, http.StatusBadRequest, domainerr.CodeInternal, err.Error())
			return
		}

		ref, err := deps.Refunds.RequestRefund(c.Request.Context(), tenantID, paymentID, amount, req.Reason)
		if err != nil {
			if derr, ok := domainerr.As(err); ok {
				writeDomainError(c, derr)
				return
			}
			writeError(c, http.StatusUnprocessableEntity, domainerr.CodeInternal, err.Error())
			return
		}
		writeSuccess(c, http.StatusCreated, gin.H{
			"refundId": ref.ID(), "status": ref.Status(), "pgRefundId": ref.PGRefundID(),
		})
	}
}

func orderResult(ord *order.Order) gin.H {
	return gin.H{
		"orderId": ord.ID(), "status": ord.Status(), "totalAmount": ord.TotalAmount().String(),
	}
}

func writeSuccess(c *gin.Context, status int, result interface{}) {
	c.JSON(status, gin.H{"isSuccess": true, "code": "OK", "message": "", "result": result})
}

func writeError(c *gin.Context, status int, code domainerr.Code, message string) {
	c.JSON(status, gin.H{"isSuccess": false, "code": code, "message": message, "result": nil})
}
