package order

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence contract for Order aggregates.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	Save(ctx context.Context, o *Order) error

	// Update persists changes with optimistic locking, rejecting the
	// write with domainerr.CodeConflict if the stored version has moved.
	Update(ctx context.Context, o *Order) error
}
