// Package tenant carries the request-scoped tenant identifier through
// asynchronous work and projects it onto the database session so
// row-level security can enforce per-tenant visibility without relying on
// application-level filtering.
//
// The tenant identifier travels in a context.Context value, never in a
// thread-local or package-level singleton: see the "Global mutable state"
// design note this engine follows.
package tenant

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
)

type ctxKey struct{}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// HeaderName is the required HTTP header carrying the tenant identifier.
const HeaderName = "X-Tenant-Id"

// WithID returns a context carrying the given tenant identifier.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the tenant identifier carried by ctx, and whether one
// was set. No tenant set is a valid, distinct state — callers must not
// default it to an empty-string bypass.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RequireFromContext is FromContext plus the TENANT_MISSING domain error the
// HTTP boundary and background workers both need when a tenant is absent.
func RequireFromContext(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", domainerr.NewTenantMissingError()
	}
	return id, nil
}

// Validate reports whether id is an acceptable tenant identifier. The
// engine accepts any non-empty UUID-shaped string; callers reject blank
// values at the boundary per the tenant-context contract.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("tenant: id must not be empty")
	}
	if !uuidPattern.MatchString(id) {
		return fmt.Errorf("tenant: id %q is not a valid UUID", id)
	}
	return nil
}
