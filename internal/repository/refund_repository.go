package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	refundDomain "github.com/jsoonworld/fluxpay-engine/internal/domain/refund"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// RefundModel is the GORM persistence model for the refunds table. ID is
// the engine's `ref_<16hex>` identity, not a UUID.
type RefundModel struct {
	ID            string    `gorm:"type:varchar(20);primaryKey"`
	TenantID      string    `gorm:"type:uuid;not null;index"`
	PaymentID     uuid.UUID `gorm:"type:uuid;not null;index"`
	AmountMinor   int64     `gorm:"not null"`
	Currency      string    `gorm:"type:varchar(3);not null"`
	Reason        string    `gorm:"type:text"`
	Status        string    `gorm:"type:varchar(20);not null;default:'REQUESTED'"`
	PGRefundID    string    `gorm:"type:varchar(255)"`
	FailureReason string    `gorm:"type:text"`
	Version       int64     `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (RefundModel) TableName() string { return "refunds" }

func toRefundDomain(m *RefundModel) *refundDomain.Refund {
	amount := money.FromMinorUnits(m.AmountMinor, m.Currency)
	return refundDomain.Reconstitute(
		m.ID, m.TenantID, m.PaymentID, amount, m.Reason,
		refundDomain.Status(m.Status), m.PGRefundID, m.FailureReason,
		m.Version, m.CreatedAt, m.UpdatedAt,
	)
}

func toRefundModel(r *refundDomain.Refund) *RefundModel {
	return &RefundModel{
		ID:            r.ID(),
		TenantID:      r.TenantID(),
		PaymentID:     r.PaymentID(),
		AmountMinor:   r.Amount().MinorUnits(),
		Currency:      r.Amount().Currency(),
		Reason:        r.Reason(),
		Status:        string(r.Status()),
		PGRefundID:    r.PGRefundID(),
		FailureReason: r.FailureReason(),
		Version:       r.Version(),
		CreatedAt:     r.CreatedAt(),
		UpdatedAt:     r.UpdatedAt(),
	}
}

func FindRefundByIDTx(tx *gorm.DB, id string) (*refundDomain.Refund, error) {
	var m RefundModel
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerr.NewNotFoundError("Refund", id)
		}
		return nil, domainerr.NewPGClientError("failed to load refund", err)
	}
	return toRefundDomain(&m), nil
}

func FindRefundsByPaymentIDTx(tx *gorm.DB, paymentID uuid.UUID) ([]*refundDomain.Refund, error) {
	var models []RefundModel
	if err := tx.Where("payment_id = ?", paymentID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, domainerr.NewPGClientError("failed to list refunds", err)
	}
	refunds := make([]*refundDomain.Refund, len(models))
	for i := range models {
		refunds[i] = toRefundDomain(&models[i])
	}
	return refunds, nil
}

func SaveRefundTx(tx *gorm.DB, r *refundDomain.Refund) error {
	if err := tx.Create(toRefundModel(r)).Error; err != nil {
		return domainerr.NewPGClientError("failed to save refund", err)
	}
	return nil
}

func UpdateRefundTx(tx *gorm.DB, r *refundDomain.Refund) error {
	m := toRefundModel(r)
	previousVersion := r.Version() - 1
	result := tx.Model(&RefundModel{}).
		Where("id = ? AND version = ?", m.ID, previousVersion).
		Updates(m)
	if result.Error != nil {
		return domainerr.NewPGClientError("failed to update refund", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerr.NewConflictError("refund was modified by another transaction")
	}
	return nil
}

// RefundRepository is the GORM-backed implementation of refund.Repository
// for single-statement call sites.
type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) FindByID(ctx context.Context, id string) (*refundDomain.Refund, error) {
	var result *refundDomain.Refund
	err := tenant.ScopedRead(ctx, r.db, func(tx *gorm.DB) error {
		ref, err := FindRefundByIDTx(tx, id)
		result = ref
		return err
	})
	return result, err
}

func (r *RefundRepository) FindByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*refundDomain.Refund, error) {
	var result []*refundDomain.Refund
	err := tenant.ScopedRead(ctx, r.db, func(tx *gorm.DB) error {
		refunds, err := FindRefundsByPaymentIDTx(tx, paymentID)
		result = refunds
		return err
	})
	return result, err
}

func (r *RefundRepository) Save(ctx context.Context, ref *refundDomain.Refund) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return SaveRefundTx(tx, ref)
	})
}

func (r *RefundRepository) Update(ctx context.Context, ref *refundDomain.Refund) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return UpdateRefundTx(tx, ref)
	})
}
