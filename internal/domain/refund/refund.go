// Package refund implements the Refund aggregate: a request against a
// CONFIRMED payment, carrying its own short state machine independent of
// the Payment that spawned it. Styled after the Order and Payment
// aggregates in this module (private fields, getters, flat
// canTransitionTo edge table, Reconstitute for storage restoration).
package refund

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
)

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var allowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
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
	return s == StatusCompleted || s == StatusFailed
}

// NewID generates a refund identity in the engine's `ref_<16hex>` form,
// distinct from the UUIDs used for Order/Payment identity.
func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("ref_%s", hex.EncodeToString(b[:]))
}

// Refund is the aggregate root for a refund request against a payment.
type Refund struct {
	id            string
	tenantID      string
	paymentID     uuid.UUID
	amount        money.Money
	reason        string
	status        Status
	pgRefundID    string
	failureReason string
	version       int64
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates a Refund in the REQUESTED state. The caller is responsible
// for having verified the referenced payment is CONFIRMED before calling
// New; that invariant lives at the service layer, where both aggregates
// are in scope together.
func New(tenantID string, paymentID uuid.UUID, amount money.Money, reason string) (*Refund, error) {
	if !amount.IsPositive() {
		return nil, domainerr.NewInvalidStateError("Refund", "none", "REQUESTED")
	}
	now := time.Now().UTC()
	return &Refund{
		id:        NewID(),
		tenantID:  tenantID,
		paymentID: paymentID,
		amount:    amount,
		reason:    reason,
		status:    StatusRequested,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (r *Refund) ID() string                { return r.id }
func (r *Refund) TenantID() string         { return r.tenantID }
func (r *Refund) PaymentID() uuid.UUID     { return r.paymentID }
func (r *Refund) Amount() money.Money      { return r.amount }
func (r *Refund) Reason() string           { return r.reason }
func (r *Refund) Status() Status           { return r.status }
func (r *Refund) PGRefundID() string       { return r.pgRefundID }
func (r *Refund) FailureReason() string    { return r.failureReason }
func (r *Refund) Version() int64           { return r.version }
func (r *Refund) CreatedAt() time.Time     { return r.createdAt }
func (r *Refund) UpdatedAt() time.Time     { return r.updatedAt }

func (r *Refund) transition(target Status) error {
	if !r.status.canTransitionTo(target) {
		return domainerr.NewInvalidStateError("Refund", string(r.status), string(target))
	}
	return nil
}

// StartProcessing transitions REQUESTED -> PROCESSING.
func (r *Refund) StartProcessing() error {
	if err := r.transition(StatusProcessing); err != nil {
		return err
	}
	r.status = StatusProcessing
	r.updatedAt = time.Now().UTC()
	return nil
}

// Complete transitions PROCESSING -> COMPLETED, recording the PG's refund
// identifier.
func (r *Refund) Complete(pgRefundID string) error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.status = StatusCompleted
	r.pgRefundID = pgRefundID
	r.updatedAt = time.Now().UTC()
	return nil
}

// Fail transitions REQUESTED or PROCESSING -> FAILED.
func (r *Refund) Fail(reason string) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	r.status = StatusFailed
	r.failureReason = reason
	r.updatedAt = time.Now().UTC()
	return nil
}

func (r *Refund) IncrementVersion() {
	r.version++
	r.updatedAt = time.Now().UTC()
}

// Reconstitute rebuilds a Refund from persisted data.
func Reconstitute(
	id string, tenantID string, paymentID uuid.UUID, amount money.Money,
	reason string, status Status, pgRefundID, failureReason string,
	version int64, createdAt, updatedAt time.Time,
) *Refund {
	return &Refund{
		id:            id,
		tenantID:      tenantID,
		paymentID:     paymentID,
		amount:        amount,
		reason:        reason,
		status:        status,
		pgRefundID:    pgRefundID,
		failureReason: failureReason,
		version:       version,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}
