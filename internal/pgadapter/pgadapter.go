// Package pgadapter is the anti-corruption layer around the external
// payment gateway: requestApproval/confirmPayment/cancelPayment, each
// reported as a uniform success/failure result so the saga orchestrator
// never has to branch on transport details. Grounded on the teacher's
// StripeAdapter (interface + MockStripeAdapter), generalized from
// Stripe's PaymentIntent vocabulary to the gateway-neutral contract.
package pgadapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the uniform shape every adapter operation returns: non-200
// responses and connection faults are reported as Success=false with a
// structured ErrorCode rather than surfaced as a transport error, so the
// saga can treat "declined" and "gateway unreachable" the same way.
type Result struct {
	Success       bool
	TransactionID string
	PaymentKey    string
	ErrorCode     string
	ErrorMessage  string
}

// Method is the payment method requested for approval.
type Method string

const (
	MethodCard      Method = "CARD"
	MethodTransfer  Method = "TRANSFER"
	MethodWallet    Method = "WALLET"
)

// Adapter is the external PG contract. Timeouts and retries are the
// caller's responsibility; every method takes ctx and must honor its
// deadline rather than retry internally.
type Adapter interface {
	RequestApproval(ctx context.Context, orderID uuid.UUID, amountMinor int64, currency string, method Method) (Result, error)
	ConfirmPayment(ctx context.Context, paymentKey string, orderID uuid.UUID, amountMinor int64) (Result, error)
	CancelPayment(ctx context.Context, paymentKey string, reason string) (Result, error)
}

// MockAdapter is a development/testing Adapter that never makes a real
// network call. Unless FailApproval is set it approves every request, so
// the saga and outbox paths can be exercised end to end without a live
// gateway.
type MockAdapter struct {
	logger *zap.Logger
	// FailApproval, when set, makes RequestApproval report a decline
	// instead of approving, which exercises the PG-failure-rollback path.
	FailApproval bool
}

func NewMockAdapter(logger *zap.Logger) *MockAdapter {
	return &MockAdapter{logger: logger}
}

func (m *MockAdapter) RequestApproval(ctx context.Context, orderID uuid.UUID, amountMinor int64, currency string, method Method) (Result, error) {
	if m.FailApproval {
		m.logger.Info("[MOCK PG] approval declined",
			zap.String("order_id", orderID.String()), zap.Int64("amount_minor", amountMinor))
		return Result{Success: false, ErrorCode: "DECLINED", ErrorMessage: "mock gateway declined the request"}, nil
	}

	paymentKey := fmt.Sprintf("pgkey_%s", uuid.New().String()[:12])
	transactionID := fmt.Sprintf("txn_%s", uuid.New().String()[:12])

	m.logger.Info("[MOCK PG] approval requested",
		zap.String("order_id", orderID.String()), zap.Int64("amount_minor", amountMinor),
		zap.String("currency", currency), zap.String("method", string(method)),
		zap.String("payment_key", paymentKey))

	return Result{Success: true, TransactionID: transactionID, PaymentKey: paymentKey}, nil
}

func (m *MockAdapter) ConfirmPayment(ctx context.Context, paymentKey string, orderID uuid.UUID, amountMinor int64) (Result, error) {
	m.logger.Info("[MOCK PG] payment confirmed",
		zap.String("payment_key", paymentKey), zap.String("order_id", orderID.String()))
	return Result{Success: true, TransactionID: fmt.Sprintf("txn_confirm_%s", uuid.New().String()[:12]), PaymentKey: paymentKey}, nil
}

func (m *MockAdapter) CancelPayment(ctx context.Context, paymentKey string, reason string) (Result, error) {
	m.logger.Info("[MOCK PG] payment cancelled",
		zap.String("payment_key", paymentKey), zap.String("reason", reason))
	return Result{Success: true, PaymentKey: paymentKey}, nil
}
