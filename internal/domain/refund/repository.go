package refund

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for Refund aggregates.
type Repository interface {
	// FindByID retrieves a refund by its `ref_<16hex>` identity.
	FindByID(ctx context.Context, id string) (*Refund, error)

	// FindByPaymentID lists every refund issued against a payment, most
	// recent first.
	FindByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)

	Save(ctx context.Context, r *Refund) error

	// Update persists changes with optimistic locking, rejecting the
	// write with domainerr.CodeConflict if the stored version has moved.
	Update(ctx context.Context, r *Refund) error
}
