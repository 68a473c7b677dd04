package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/idempotency"
)

// IdempotencyModel is the GORM persistence model for the idempotency_keys
// table. The unique constraint on (tenant_id, method_path, key) is the
// durable layer's conflict-detection mechanism per the gate's
// acquire-lock protocol.
type IdempotencyModel struct {
	TenantID       string `gorm:"type:uuid;primaryKey"`
	MethodPath     string `gorm:"primaryKey;type:varchar(150)"`
	Key            string `gorm:"primaryKey;type:varchar(64)"`
	RequestHash    string `gorm:"type:varchar(64);not null"`
	Status         string `gorm:"type:varchar(20);not null"`
	ResponseStatus int
	ResponseBody   []byte `gorm:"type:jsonb"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null"`
	CompletedAt    *time.Time `gorm:"type:timestamptz"`
	ExpiresAt      time.Time `gorm:"type:timestamptz;not null;index"`
}

func (IdempotencyModel) TableName() string { return "idempotency_keys" }

// IdempotencyDurableStore is the GORM-backed idempotency.DurableStore.
// It deliberately does not run inside tenant.ScopedTx/ScopedRead: the
// idempotency gate runs before the tenant-scoped business transaction,
// so instead of the session-variable policy its lookups, completions and
// deletes carry an explicit tenant_id column predicate.
type IdempotencyDurableStore struct {
	db *gorm.DB
}

func NewIdempotencyDurableStore(db *gorm.DB) *IdempotencyDurableStore {
	return &IdempotencyDurableStore{db: db}
}

func toIdempotencyModel(r *idempotency.Record, ttl time.Duration) *IdempotencyModel {
	expiresAt := r.CreatedAt.Add(ttl)
	if !r.ExpiresAt.IsZero() {
		expiresAt = r.ExpiresAt
	}
	return &IdempotencyModel{
		TenantID: r.TenantID, MethodPath: r.MethodPath, Key: r.Key,
		RequestHash: r.RequestHash, Status: string(r.Status),
		ResponseStatus: r.ResponseStatus, ResponseBody: r.ResponseBody,
		CreatedAt: r.CreatedAt, CompletedAt: r.CompletedAt, ExpiresAt: expiresAt,
	}
}

func toIdempotencyRecord(m *IdempotencyModel) *idempotency.Record {
	return &idempotency.Record{
		TenantID: m.TenantID, MethodPath: m.MethodPath, Key: m.Key,
		RequestHash: m.RequestHash, Status: idempotency.Status(m.Status),
		ResponseStatus: m.ResponseStatus, ResponseBody: m.ResponseBody,
		CreatedAt: m.CreatedAt, CompletedAt: m.CompletedAt, ExpiresAt: m.ExpiresAt,
	}
}

func (s *IdempotencyDurableStore) Insert(ctx context.Context, rec *idempotency.Record, ttl time.Duration) error {
	m := toIdempotencyModel(rec, ttl)
	return s.db.WithContext(ctx).Create(m).Error
}

// Get returns the record for the key, filtering out expired rows (an
// expired row is treated as absent, per the TTL policy).
func (s *IdempotencyDurableStore) Get(ctx context.Context, tenantID, methodPath, key string) (*idempotency.Record, error) {
	var m IdempotencyModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND method_path = ? AND key = ? AND expires_at > ?", tenantID, methodPath, key, time.Now().UTC()).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toIdempotencyRecord(&m), nil
}

func (s *IdempotencyDurableStore) Complete(ctx context.Context, tenantID, methodPath, key string, statusCode int, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&IdempotencyModel{}).
		Where("tenant_id = ? AND method_path = ? AND key = ?", tenantID, methodPath, key).
		Updates(map[string]interface{}{
			"status":          string(idempotency.StatusCompleted),
			"response_status": statusCode,
			"response_body":   body,
			"completed_at":    now,
			"expires_at":      now.Add(ttl),
		}).Error
}

func (s *IdempotencyDurableStore) Delete(ctx context.Context, tenantID, methodPath, key string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND method_path = ? AND key = ?", tenantID, methodPath, key).
		Delete(&IdempotencyModel{}).Error
}

// PurgeExpired deletes rows past their expiry, the periodic purge the
// TTL policy calls for.
func (s *IdempotencyDurableStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&IdempotencyModel{})
	return result.RowsAffected, result.Error
}
