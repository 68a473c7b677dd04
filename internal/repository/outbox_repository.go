package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/events"
	"github.com/jsoonworld/fluxpay-engine/internal/outbox"
)

// OutboxModel is the GORM persistence model for the outbox_events table.
type OutboxModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      string    `gorm:"type:uuid;not null;index"`
	AggregateType string    `gorm:"type:varchar(50);not null"`
	AggregateID   string    `gorm:"type:varchar(64);not null;index"`
	EventType     string    `gorm:"type:varchar(100);not null"`
	Topic         string    `gorm:"type:varchar(100);not null"`
	PartitionKey  string    `gorm:"type:varchar(150);not null"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	Status        string    `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	RetryCount    int       `gorm:"not null;default:0"`
	MaxRetries    int       `gorm:"not null;default:3"`
	LastError     string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;default:now();index"`
	ProcessedAt   *time.Time `gorm:"type:timestamptz"`
	PublishedAt   *time.Time `gorm:"type:timestamptz"`
}

func (OutboxModel) TableName() string { return "outbox_events" }

func toOutboxDomain(m *OutboxModel) *outbox.Event {
	return &outbox.Event{
		ID: m.ID, TenantID: m.TenantID, AggregateType: m.AggregateType,
		AggregateID: m.AggregateID, EventType: m.EventType, Topic: m.Topic,
		PartitionKey: m.PartitionKey, Payload: m.Payload,
		Status: outbox.Status(m.Status), RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries, LastError: m.LastError,
		CreatedAt: m.CreatedAt, ProcessedAt: m.ProcessedAt, PublishedAt: m.PublishedAt,
	}
}

// AppendOutboxEventTx appends a pending outbox row within the caller's
// transaction, so it commits atomically with the aggregate write it
// describes. The caller's transaction must already be tenant-scoped.
func AppendOutboxEventTx(tx *gorm.DB, tenantID, aggregateType, aggregateID string, ce events.CloudEvent, maxRetries int) error {
	payload, err := ce.Marshal()
	if err != nil {
		return domainerr.NewInternalError(err)
	}
	m := &OutboxModel{
		ID:            uuid.New(),
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     ce.Type,
		Topic:         events.Topic(aggregateType),
		PartitionKey:  events.PartitionKey(tenantID, aggregateID),
		Payload:       payload,
		Status:        string(outbox.StatusPending),
		MaxRetries:    maxRetries,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.Create(m).Error; err != nil {
		return domainerr.NewPGClientError("failed to append outbox event", err)
	}
	return nil
}

// OutboxRepository is the GORM-backed store the publisher polls. It
// operates outside any tenant scope: its queries run on the plain db
// handle with no tenant session variable set and no tenant_id predicate,
// so a single poll loop drains every tenant's pending rows.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ClaimPending locks up to limit PENDING rows with SKIP LOCKED so
// multiple publisher instances never claim the same row, marks them
// PROCESSING, and returns them for dispatch.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var claimed []*outbox.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []OutboxModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", string(outbox.StatusPending)).
			Order("created_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(models))
		for i, m := range models {
			ids[i] = m.ID
		}
		if err := tx.Model(&OutboxModel{}).Where("id IN ?", ids).Update("status", string(outbox.StatusProcessing)).Error; err != nil {
			return err
		}
		claimed = make([]*outbox.Event, len(models))
		for i := range models {
			models[i].Status = string(outbox.StatusProcessing)
			claimed[i] = toOutboxDomain(&models[i])
		}
		return nil
	})
	if err != nil {
		return nil, domainerr.NewPGClientError("failed to claim outbox events", err)
	}
	return claimed, nil
}

// MarkPublished marks a claimed row PUBLISHED.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&OutboxModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       string(outbox.StatusPublished),
		"processed_at": now,
		"published_at": now,
	}).Error
}

// MarkFailed records a dispatch failure. If the row has exhausted its
// retry budget it becomes FAILED (dead-letter); otherwise it returns to
// PENDING with retryCount incremented so a future poll can retry it.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount, maxRetries int) error {
	now := time.Now().UTC()
	nextStatus := string(outbox.StatusPending)
	if retryCount >= maxRetries {
		nextStatus = string(outbox.StatusFailed)
	}
	return r.db.WithContext(ctx).Model(&OutboxModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       nextStatus,
		"retry_count":  retryCount + 1,
		"last_error":   errMsg,
		"processed_at": now,
	}).Error
}

// DeadLetters returns FAILED rows for operator inspection (the dead-letter
// read-path).
func (r *OutboxRepository) DeadLetters(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var models []OutboxModel
	if err := r.db.WithContext(ctx).Where("status = ?", string(outbox.StatusFailed)).
		Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, domainerr.NewPGClientError("failed to list dead-lettered events", err)
	}
	result := make([]*outbox.Event, len(models))
	for i := range models {
		result[i] = toOutboxDomain(&models[i])
	}
	return result, nil
}

// PurgePublished deletes PUBLISHED rows older than the retention window.
func (r *OutboxRepository) PurgePublished(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := r.db.WithContext(ctx).Where("status = ? AND published_at < ?", string(outbox.StatusPublished), cutoff).Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, domainerr.NewPGClientError("failed to purge published outbox events", result.Error)
	}
	return result.RowsAffected, nil
}
