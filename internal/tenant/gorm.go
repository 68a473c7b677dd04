package tenant

import (
	"context"

	"gorm.io/gorm"
)

// ScopedTx runs fn inside a database transaction with the session variable
// app.tenant_id set to the context's tenant for the lifetime of that
// transaction only. `set_config(..., true)` scopes the setting to the
// current transaction, so it is torn down automatically on commit or
// rollback — it can never leak onto a pooled connection the way a plain
// `SET` (session-scoped) statement would. See the engine's tenant-context
// contract: a pooled connection handed out to a second request must never
// observe the first request's tenant.
func ScopedTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tenantID, err := RequireFromContext(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID).Error; err != nil {
			return err
		}
		return fn(tx)
	})
}

// ScopedRead runs fn with the tenant session variable set for a single
// read-only statement batch, using a short-lived transaction for the same
// leak-proofing reason as ScopedTx.
func ScopedRead(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tenantID, err := RequireFromContext(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID).Error; err != nil {
			return err
		}
		return fn(tx)
	})
}

// AdminScope runs fn without setting a tenant session variable, for the
// reserved admin identity (migrations, cross-tenant maintenance). No
// application request path may use this.
func AdminScope(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}
