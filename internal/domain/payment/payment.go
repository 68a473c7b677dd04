// Package payment implements the Payment aggregate: a 1:1 relation to an
// Order, an explicit state machine, and the external PG identifiers the
// saga orchestrator populates as it progresses. Grounded on the teacher's
// Payment aggregate (private fields + getters, Reconstitute for storage
// restoration, IncrementVersion for optimistic locking) generalized from
// an escrow-specific status set to the engine's READY/PROCESSING/
// APPROVED/CONFIRMED/FAILED/REFUNDED machine.
package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
)

type Status string

const (
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

var allowedTransitions = map[Status][]Status{
	StatusReady:      {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusApproved, StatusFailed},
	StatusApproved:   {StatusConfirmed, StatusFailed},
	StatusConfirmed:  {StatusRefunded},
}

func (s Status) canTransitionTo(target Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment is the aggregate root for a single payment against an order.
type Payment struct {
	id              uuid.UUID
	tenantID        string
	orderID         uuid.UUID
	amount          money.Money
	status          Status
	method          string
	pgTransactionID string
	pgPaymentKey    string
	failureReason   string
	version         int64
	createdAt       time.Time
	updatedAt       time.Time
}

// New creates a Payment in the READY state for the given order and amount.
func New(tenantID string, orderID uuid.UUID, amount money.Money, method string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, domainerr.NewInvalidStateError("Payment", "none", "READY")
	}
	now := time.Now().UTC()
	return &Payment{
		id:        uuid.New(),
		tenantID:  tenantID,
		orderID:   orderID,
		amount:    amount,
		status:    StatusReady,
		method:    method,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (p *Payment) ID() uuid.UUID           { return p.id }
func (p *Payment) TenantID() string        { return p.tenantID }
func (p *Payment) OrderID() uuid.UUID      { return p.orderID }
func (p *Payment) Amount() money.Money     { return p.amount }
func (p *Payment) Status() Status          { return p.status }
func (p *Payment) Method() string          { return p.method }
func (p *Payment) PGTransactionID() string { return p.pgTransactionID }
func (p *Payment) PGPaymentKey() string    { return p.pgPaymentKey }
func (p *Payment) FailureReason() string   { return p.failureReason }
func (p *Payment) Version() int64          { return p.version }
func (p *Payment) CreatedAt() time.Time    { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time    { return p.updatedAt }

func (p *Payment) transition(target Status) error {
	if !p.status.canTransitionTo(target) {
		return domainerr.NewInvalidStateError("Payment", string(p.status), string(target))
	}
	return nil
}

// StartProcessing transitions READY -> PROCESSING, recording the PG
// request was dispatched.
func (p *Payment) StartProcessing() error {
	if err := p.transition(StatusProcessing); err != nil {
		return err
	}
	p.status = StatusProcessing
	p.updatedAt = time.Now().UTC()
	return nil
}

// Approve transitions PROCESSING -> APPROVED, recording the PG's returned
// transaction id and payment key.
func (p *Payment) Approve(pgTransactionID, pgPaymentKey string) error {
	if err := p.transition(StatusApproved); err != nil {
		return err
	}
	p.status = StatusApproved
	p.pgTransactionID = pgTransactionID
	p.pgPaymentKey = pgPaymentKey
	p.updatedAt = time.Now().UTC()
	return nil
}

// Confirm transitions APPROVED -> CONFIRMED.
func (p *Payment) Confirm() error {
	if err := p.transition(StatusConfirmed); err != nil {
		return err
	}
	p.status = StatusConfirmed
	p.updatedAt = time.Now().UTC()
	return nil
}

// Fail transitions READY, PROCESSING or APPROVED to FAILED, recording the
// reason.
func (p *Payment) Fail(reason string) error {
	if err := p.transition(StatusFailed); err != nil {
		return err
	}
	p.status = StatusFailed
	p.failureReason = reason
	p.updatedAt = time.Now().UTC()
	return nil
}

// Refund transitions CONFIRMED -> REFUNDED.
func (p *Payment) Refund() error {
	if err := p.transition(StatusRefunded); err != nil {
		return err
	}
	p.status = StatusRefunded
	p.updatedAt = time.Now().UTC()
	return nil
}

func (p *Payment) IncrementVersion() {
	p.version++
	p.updatedAt = time.Now().UTC()
}

// Reconstitute rebuilds a Payment from persisted data.
func Reconstitute(
	id uuid.UUID, tenantID string, orderID uuid.UUID, amount money.Money,
	status Status, method, pgTransactionID, pgPaymentKey, failureReason string,
	version int64, createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		id:              id,
		tenantID:        tenantID,
		orderID:         orderID,
		amount:          amount,
		status:          status,
		method:          method,
		pgTransactionID: pgTransactionID,
		pgPaymentKey:    pgPaymentKey,
		failureReason:   failureReason,
		version:         version,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}
