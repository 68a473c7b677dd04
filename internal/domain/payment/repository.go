package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for Payment aggregates,
// scoped to the tenant carried on ctx by the caller's RLS transaction
// wrapper. Grounded on the teacher's PaymentRepository shape, reworked
// from a booking-keyed lookup to the engine's 1:1 order-keyed lookup.
type Repository interface {
	// FindByID retrieves a payment by its unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// FindByOrderID retrieves the payment associated with an order.
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)

	// Save persists a newly created payment aggregate.
	Save(ctx context.Context, p *Payment) error

	// Update persists changes to an existing payment aggregate, rejecting
	// the write with domainerr.CodeConflict if the stored version has
	// moved since FindByID/FindByOrderID.
	Update(ctx context.Context, p *Payment) error
}
