// Package paymentapp wires the domain aggregates, the PG adapter, and the
// outbox into the concrete payment saga: CREATE_ORDER, PROCESS_PAYMENT,
// and an optional CONFIRM_PAYMENT step, with compensations that cancel
// the order and fail the payment. Grounded on the teacher's
// internal/saga/payment_saga.go composition (service-level orchestration
// of order+payment+PG) rewired onto the generic internal/saga
// orchestrator instead of a single hand-rolled saga struct.
package paymentapp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/domain/order"
	"github.com/jsoonworld/fluxpay-engine/internal/domain/payment"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/events"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/pgadapter"
	"github.com/jsoonworld/fluxpay-engine/internal/repository"
	"github.com/jsoonworld/fluxpay-engine/internal/saga"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// DefinitionName is the registered name the composition root looks up in
// the orchestrator when launching a checkout.
const DefinitionName = "PAYMENT_SAGA"

// LineItemInput describes one requested line item before the Order
// aggregate exists.
type LineItemInput struct {
	ProductID string
	Name      string
	Qty       int
	UnitPrice money.Money
}

// CheckoutRequest is the saga's initial context: everything needed to
// create the order and request PG approval.
type CheckoutRequest struct {
	TenantID  string
	UserID    string
	Currency  string
	LineItems []LineItemInput
	Method    pgadapter.Method
	Metadata  map[string]string
	// ConfirmImmediately runs the optional CONFIRM_PAYMENT step so the
	// saga leaves the payment CONFIRMED rather than APPROVED.
	ConfirmImmediately bool
}

// Service builds the payment saga definition and exposes Checkout as the
// single entry point the HTTP layer calls.
type Service struct {
	db           *gorm.DB
	orchestrator *saga.Orchestrator
	pg           pgadapter.Adapter
}

func NewService(db *gorm.DB, orchestrator *saga.Orchestrator, pg pgadapter.Adapter) *Service {
	svc := &Service{db: db, orchestrator: orchestrator, pg: pg}
	orchestrator.Register(svc.definition())
	return svc
}

// Checkout starts a new payment saga instance for the given request,
// keyed by the caller-supplied correlation id (the idempotency key, so
// two requests with the same key cannot launch two sagas).
func (s *Service) Checkout(ctx context.Context, correlationID string, req CheckoutRequest) (*saga.Instance, error) {
	data := map[string]interface{}{
		"tenant_id": req.TenantID,
		"user_id":   req.UserID,
		"currency":  req.Currency,
		"method":    string(req.Method),
		"confirm":   req.ConfirmImmediately,
	}
	items := make([]interface{}, len(req.LineItems))
	for i, li := range req.LineItems {
		items[i] = map[string]interface{}{
			"product_id": li.ProductID,
			"name":       li.Name,
			"qty":        li.Qty,
			"unit_price": li.UnitPrice.Amount().String(),
		}
	}
	data["line_items"] = items
	if req.Metadata != nil {
		data["metadata"] = req.Metadata
	}
	return s.orchestrator.Execute(ctx, DefinitionName, correlationID, req.TenantID, data)
}

func (s *Service) definition() *saga.Definition {
	return saga.NewDefinition(DefinitionName,
		saga.Step{Name: "CREATE_ORDER", Execute: s.createOrder, Compensate: s.cancelOrder},
		saga.Step{Name: "PROCESS_PAYMENT", Execute: s.processPayment, Compensate: s.failPayment},
		saga.Step{Name: "CONFIRM_PAYMENT", Execute: s.confirmPayment, Compensate: s.noopCompensate},
	)
}

func (s *Service) scopedCtx(data map[string]interface{}) context.Context {
	tenantID, _ := data["tenant_id"].(string)
	return tenant.WithID(context.Background(), tenantID)
}

// asInt64 coerces a saga context numeric value to int64. Values set by
// the current process carry their native Go type (int, int64); values
// reloaded from a persisted instance come back as float64 after the
// round trip through JSON, so both forms must be accepted.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// createOrder builds the Order aggregate from the saga's initial context
// and persists it with its outbox event in one transaction.
func (s *Service) createOrder(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	ctx = s.scopedCtx(data)
	tenantID := data["tenant_id"].(string)
	userID, _ := data["user_id"].(string)
	currency := data["currency"].(string)

	rawItems, _ := data["line_items"].([]interface{})
	lineItems := make([]order.LineItem, 0, len(rawItems))
	for _, raw := range rawItems {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("paymentapp: malformed line item in saga context")
		}
		productID, _ := m["product_id"].(string)
		name, _ := m["name"].(string)
		qty := int(asInt64(m["qty"]))
		unitPriceStr, _ := m["unit_price"].(string)
		unitPrice, err := money.Parse(unitPriceStr, currency)
		if err != nil {
			return nil, err
		}
		li, err := order.NewLineItem(productID, name, qty, unitPrice)
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, li)
	}

	var metadata map[string]string
	if raw, ok := data["metadata"].(map[string]interface{}); ok {
		metadata = map[string]string{}
		for k, v := range raw {
			if str, ok := v.(string); ok {
				metadata[k] = str
			}
		}
	}

	ord, err := order.New(tenantID, userID, lineItems, currency, metadata)
	if err != nil {
		return nil, err
	}

	err = tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := repository.SaveOrderTx(tx, ord); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypeOrderCreated, map[string]interface{}{
			"orderId":     ord.ID().String(),
			"userId":      ord.UserID(),
			"totalAmount": ord.TotalAmount().String(),
			"currency":    ord.Currency(),
		})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Order", ord.ID().String(), ce, 5)
	})
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}

	return map[string]interface{}{
		"order_id":     ord.ID().String(),
		"amount_minor": ord.TotalAmount().MinorUnits(),
	}, nil
}

// cancelOrder compensates CREATE_ORDER by transitioning the order to
// CANCELLED and appending the corresponding outbox event.
func (s *Service) cancelOrder(ctx context.Context, data map[string]interface{}) error {
	ctx = s.scopedCtx(data)
	tenantID := data["tenant_id"].(string)
	orderIDStr, ok := data["order_id"].(string)
	if !ok {
		return nil
	}
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return err
	}
	return tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		ord, err := repository.FindOrderByIDTx(tx, orderID)
		if err != nil {
			return err
		}
		if err := ord.Cancel(); err != nil {
			return err
		}
		ord.IncrementVersion()
		if err := repository.UpdateOrderTx(tx, ord); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypeOrderCancelled, map[string]interface{}{"orderId": ord.ID().String()})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Order", ord.ID().String(), ce, 5)
	})
}

// processPayment requests PG approval for the order created in the
// previous step. A PG decline marks the payment FAILED and fails this
// step, driving the orchestrator into compensation (order cancellation).
func (s *Service) processPayment(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	ctx = s.scopedCtx(data)
	tenantID := data["tenant_id"].(string)
	currency := data["currency"].(string)
	method := pgadapter.Method(data["method"].(string))
	orderIDStr := data["order_id"].(string)
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return nil, err
	}
	amountMinor := asInt64(data["amount_minor"])
	amount := money.FromMinorUnits(amountMinor, currency)

	pay, err := payment.New(tenantID, orderID, amount, string(method))
	if err != nil {
		return nil, err
	}
	if err := pay.StartProcessing(); err != nil {
		return nil, err
	}

	if err := tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		return repository.SavePaymentTx(tx, pay)
	}); err != nil {
		return nil, domainerr.NewInternalError(err)
	}

	result, err := s.pg.RequestApproval(ctx, orderID, amountMinor, currency, method)
	if err != nil {
		return nil, domainerr.NewPGClientError("paymentapp: PG approval call failed", err)
	}
	if !result.Success {
		_ = tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
			if ferr := pay.Fail(result.ErrorMessage); ferr != nil {
				return ferr
			}
			pay.IncrementVersion()
			return repository.UpdatePaymentTx(tx, pay)
		})
		return nil, fmt.Errorf("paymentapp: PG declined approval: %s", result.ErrorMessage)
	}

	if err := pay.Approve(result.TransactionID, result.PaymentKey); err != nil {
		return nil, err
	}

	err = tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		pay.IncrementVersion()
		if err := repository.UpdatePaymentTx(tx, pay); err != nil {
			return err
		}
		ord, err := repository.FindOrderByIDTx(tx, orderID)
		if err != nil {
			return err
		}
		if err := ord.MarkPaid(); err != nil {
			return err
		}
		ord.IncrementVersion()
		if err := repository.UpdateOrderTx(tx, ord); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypePaymentApproved, map[string]interface{}{
			"paymentId": pay.ID().String(), "orderId": orderID.String(), "paymentKey": pay.PGPaymentKey(),
		})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Payment", pay.ID().String(), ce, 5)
	})
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}

	return map[string]interface{}{
		"payment_id":  pay.ID().String(),
		"payment_key": pay.PGPaymentKey(),
	}, nil
}

// failPayment compensates PROCESS_PAYMENT: the payment row is already
// FAILED when the PG declined, so this only covers the path where a
// later step fails after approval, reversing an APPROVED payment.
func (s *Service) failPayment(ctx context.Context, data map[string]interface{}) error {
	ctx = s.scopedCtx(data)
	tenantID := data["tenant_id"].(string)
	paymentIDStr, ok := data["payment_id"].(string)
	if !ok {
		return nil
	}
	paymentID, err := uuid.Parse(paymentIDStr)
	if err != nil {
		return err
	}
	return tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		pay, err := repository.FindPaymentByIDTx(tx, paymentID)
		if err != nil {
			return err
		}
		if pay.Status().IsTerminal() {
			return nil
		}
		paymentKey := pay.PGPaymentKey()
		if paymentKey != "" {
			if _, err := s.pg.CancelPayment(ctx, paymentKey, "saga compensation"); err != nil {
				return domainerr.NewPGClientError("paymentapp: PG cancel call failed", err)
			}
		}
		if err := pay.Fail("saga compensated: downstream step failed"); err != nil {
			return err
		}
		pay.IncrementVersion()
		if err := repository.UpdatePaymentTx(tx, pay); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypePaymentFailed, map[string]interface{}{"paymentId": pay.ID().String()})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Payment", pay.ID().String(), ce, 5)
	})
}

// confirmPayment is the optional third step: it calls the PG's confirm
// operation and transitions the payment APPROVED -> CONFIRMED.
func (s *Service) confirmPayment(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	confirm, _ := data["confirm"].(bool)
	if !confirm {
		return map[string]interface{}{}, nil
	}
	ctx = s.scopedCtx(data)
	tenantID := data["tenant_id"].(string)
	paymentIDStr := data["payment_id"].(string)
	paymentID, err := uuid.Parse(paymentIDStr)
	if err != nil {
		return nil, err
	}
	orderIDStr := data["order_id"].(string)
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return nil, err
	}

	var pay *payment.Payment
	if err := tenant.ScopedRead(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		pay, err = repository.FindPaymentByIDTx(tx, paymentID)
		return err
	}); err != nil {
		return nil, domainerr.NewInternalError(err)
	}

	result, err := s.pg.ConfirmPayment(ctx, pay.PGPaymentKey(), orderID, pay.Amount().MinorUnits())
	if err != nil {
		return nil, domainerr.NewPGClientError("paymentapp: PG confirm call failed", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("paymentapp: PG declined confirmation: %s", result.ErrorMessage)
	}

	return nil, tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		p, err := repository.FindPaymentByIDTx(tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Confirm(); err != nil {
			return err
		}
		p.IncrementVersion()
		if err := repository.UpdatePaymentTx(tx, p); err != nil {
			return err
		}
		ord, err := repository.FindOrderByIDTx(tx, orderID)
		if err != nil {
			return err
		}
		if err := ord.Complete(); err != nil {
			return err
		}
		ord.IncrementVersion()
		if err := repository.UpdateOrderTx(tx, ord); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypePaymentConfirmed, map[string]interface{}{
			"paymentId": p.ID().String(), "orderId": orderID.String(),
		})
		if err != nil {
			return err
		}
		if err := repository.AppendOutboxEventTx(tx, tenantID, "Payment", p.ID().String(), ce, 5); err != nil {
			return err
		}
		ce2, err := events.New(tenantID, events.TypeOrderCompleted, map[string]interface{}{"orderId": ord.ID().String()})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Order", ord.ID().String(), ce2, 5)
	})
}

func (s *Service) noopCompensate(ctx context.Context, data map[string]interface{}) error {
	return nil
}
