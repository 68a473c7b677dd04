// Package order implements the Order aggregate: identity, an owned list of
// line items, and an explicit state machine. Transitions are exhaustive
// edges over a flat Status value, grounded on the teacher's Payment
// aggregate style (private fields, getters, a Reconstitute path for
// storage restoration) and on eCo13rus's canTransitionTo allowed-edge
// tables for Order/Payment domains.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// allowedTransitions is the exhaustive edge table driving canTransitionTo;
// kept flat rather than modeled via enum-method inheritance.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:    {StatusCompleted, StatusCancelled, StatusFailed},
}

func (s Status) canTransitionTo(target Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// LineItem is a child entity owned exclusively by an Order.
type LineItem struct {
	id          uuid.UUID
	productID   string
	name        string
	qty         int
	unitPrice   money.Money
	totalPrice  money.Money
}

func NewLineItem(productID, name string, qty int, unitPrice money.Money) (LineItem, error) {
	if qty <= 0 {
		return LineItem{}, fmt.Errorf("order: line item qty must be > 0, got %d", qty)
	}
	total, err := unitPrice.Mul(decimal.NewFromInt(int64(qty)))
	if err != nil {
		return LineItem{}, err
	}
	return LineItem{
		id:         uuid.New(),
		productID:  productID,
		name:       name,
		qty:        qty,
		unitPrice:  unitPrice,
		totalPrice: total,
	}, nil
}

func (li LineItem) ID() uuid.UUID          { return li.id }
func (li LineItem) ProductID() string      { return li.productID }
func (li LineItem) Name() string           { return li.name }
func (li LineItem) Qty() int               { return li.qty }
func (li LineItem) UnitPrice() money.Money { return li.unitPrice }
func (li LineItem) TotalPrice() money.Money { return li.totalPrice }

// Order is the aggregate root: an identity, an owned set of line items, and
// a state machine over Status.
type Order struct {
	id          uuid.UUID
	tenantID    string
	userID      string
	lineItems   []LineItem
	currency    string
	totalAmount money.Money
	status      Status
	metadata    map[string]string
	version     int64
	createdAt   time.Time
	updatedAt   time.Time
	paidAt      *time.Time
	completedAt *time.Time
}

// New creates a pending Order from at least one line item, deriving the
// total as Σ unit × qty.
func New(tenantID, userID string, lineItems []LineItem, currency string, metadata map[string]string) (*Order, error) {
	if len(lineItems) == 0 {
		return nil, fmt.Errorf("order: at least one line item is required")
	}
	totals := make([]money.Money, len(lineItems))
	for i, li := range lineItems {
		if li.totalPrice.Currency() != currency {
			return nil, fmt.Errorf("order: line item currency %s does not match order currency %s", li.totalPrice.Currency(), currency)
		}
		totals[i] = li.totalPrice
	}
	total, err := money.Sum(totals)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Order{
		id:          uuid.New(),
		tenantID:    tenantID,
		userID:      userID,
		lineItems:   lineItems,
		currency:    currency,
		totalAmount: total,
		status:      StatusPending,
		metadata:    metadata,
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

func (o *Order) ID() uuid.UUID               { return o.id }
func (o *Order) TenantID() string            { return o.tenantID }
func (o *Order) UserID() string              { return o.userID }
func (o *Order) LineItems() []LineItem       { return o.lineItems }
func (o *Order) Currency() string            { return o.currency }
func (o *Order) TotalAmount() money.Money    { return o.totalAmount }
func (o *Order) Status() Status              { return o.status }
func (o *Order) Metadata() map[string]string { return o.metadata }
func (o *Order) Version() int64              { return o.version }
func (o *Order) CreatedAt() time.Time        { return o.createdAt }
func (o *Order) UpdatedAt() time.Time        { return o.updatedAt }
func (o *Order) PaidAt() *time.Time          { return o.paidAt }
func (o *Order) CompletedAt() *time.Time     { return o.completedAt }

func (o *Order) transition(target Status) error {
	if !o.status.canTransitionTo(target) {
		return domainerr.NewInvalidStateError("Order", string(o.status), string(target))
	}
	return nil
}

// MarkPaid transitions PENDING -> PAID, setting paidAt inside the transition.
func (o *Order) MarkPaid() error {
	if err := o.transition(StatusPaid); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.status = StatusPaid
	o.paidAt = &now
	o.updatedAt = now
	return nil
}

// Complete transitions PAID -> COMPLETED, setting completedAt.
func (o *Order) Complete() error {
	if err := o.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.status = StatusCompleted
	o.completedAt = &now
	o.updatedAt = now
	return nil
}

// Cancel transitions PENDING or PAID -> CANCELLED.
func (o *Order) Cancel() error {
	if err := o.transition(StatusCancelled); err != nil {
		return err
	}
	o.status = StatusCancelled
	o.updatedAt = time.Now().UTC()
	return nil
}

// Fail transitions PENDING or PAID -> FAILED.
func (o *Order) Fail() error {
	if err := o.transition(StatusFailed); err != nil {
		return err
	}
	o.status = StatusFailed
	o.updatedAt = time.Now().UTC()
	return nil
}

func (o *Order) IncrementVersion() {
	o.version++
	o.updatedAt = time.Now().UTC()
}

// Reconstitute rebuilds an Order from persisted data and revalidates the
// structural invariants storage must never violate (e.g. PAID implies
// paidAt set), failing loudly if the persisted row is inconsistent.
func Reconstitute(
	id uuid.UUID, tenantID, userID string, lineItems []LineItem,
	currency string, totalAmount money.Money, status Status,
	metadata map[string]string, version int64,
	createdAt, updatedAt time.Time, paidAt, completedAt *time.Time,
) (*Order, error) {
	if (status == StatusPaid || status == StatusCompleted) && paidAt == nil {
		return nil, fmt.Errorf("order: inconsistent persisted state: status %s requires paidAt set", status)
	}
	if status == StatusCompleted && completedAt == nil {
		return nil, fmt.Errorf("order: inconsistent persisted state: status COMPLETED requires completedAt set")
	}
	return &Order{
		id:          id,
		tenantID:    tenantID,
		userID:      userID,
		lineItems:   lineItems,
		currency:    currency,
		totalAmount: totalAmount,
		status:      status,
		metadata:    metadata,
		version:     version,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
		paidAt:      paidAt,
		completedAt: completedAt,
	}, nil
}
