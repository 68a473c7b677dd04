package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	paymentDomain "github.com/jsoonworld/fluxpay-engine/internal/domain/payment"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// PaymentModel is the GORM persistence model for the payments table,
// generalized from the teacher's escrow-specific PaymentModel to the
// engine's 1:1 order-keyed payment with PG-adapter identifiers.
type PaymentModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID        string    `gorm:"type:uuid;not null;index"`
	OrderID         uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	AmountMinor     int64     `gorm:"not null"`
	Currency        string    `gorm:"type:varchar(3);not null"`
	Status          string    `gorm:"type:varchar(20);not null;default:'READY'"`
	Method          string    `gorm:"type:varchar(50)"`
	PGTransactionID string    `gorm:"type:varchar(255)"`
	PGPaymentKey    string    `gorm:"type:varchar(255)"`
	FailureReason   string    `gorm:"type:text"`
	Version         int64     `gorm:"not null;default:1"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (PaymentModel) TableName() string { return "payments" }

func toPaymentDomain(m *PaymentModel) *paymentDomain.Payment {
	amount := money.FromMinorUnits(m.AmountMinor, m.Currency)
	return paymentDomain.Reconstitute(
		m.ID, m.TenantID, m.OrderID, amount,
		paymentDomain.Status(m.Status), m.Method, m.PGTransactionID,
		m.PGPaymentKey, m.FailureReason, m.Version, m.CreatedAt, m.UpdatedAt,
	)
}

func toPaymentModel(p *paymentDomain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:              p.ID(),
		TenantID:        p.TenantID(),
		OrderID:         p.OrderID(),
		AmountMinor:     p.Amount().MinorUnits(),
		Currency:        p.Amount().Currency(),
		Status:          string(p.Status()),
		Method:          p.Method(),
		PGTransactionID: p.PGTransactionID(),
		PGPaymentKey:    p.PGPaymentKey(),
		FailureReason:   p.FailureReason(),
		Version:         p.Version(),
		CreatedAt:       p.CreatedAt(),
		UpdatedAt:       p.UpdatedAt(),
	}
}

// FindPaymentByIDTx, SavePaymentTx, UpdatePaymentTx operate against an
// already tenant-scoped transaction, for composition inside saga steps.

func FindPaymentByIDTx(tx *gorm.DB, id uuid.UUID) (*paymentDomain.Payment, error) {
	var m PaymentModel
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerr.NewNotFoundError("Payment", id.String())
		}
		return nil, domainerr.NewPGClientError("failed to load payment", err)
	}
	return toPaymentDomain(&m), nil
}

func FindPaymentByOrderIDTx(tx *gorm.DB, orderID uuid.UUID) (*paymentDomain.Payment, error) {
	var m PaymentModel
	if err := tx.Where("order_id = ?", orderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerr.NewNotFoundError("Payment", orderID.String())
		}
		return nil, domainerr.NewPGClientError("failed to load payment", err)
	}
	return toPaymentDomain(&m), nil
}

func SavePaymentTx(tx *gorm.DB, p *paymentDomain.Payment) error {
	if err := tx.Create(toPaymentModel(p)).Error; err != nil {
		return domainerr.NewPGClientError("failed to save payment", err)
	}
	return nil
}

func UpdatePaymentTx(tx *gorm.DB, p *paymentDomain.Payment) error {
	m := toPaymentModel(p)
	previousVersion := p.Version() - 1
	result := tx.Model(&PaymentModel{}).
		Where("id = ? AND version = ?", m.ID, previousVersion).
		Updates(m)
	if result.Error != nil {
		return domainerr.NewPGClientError("failed to update payment", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerr.NewConflictError("payment was modified by another transaction")
	}
	return nil
}

// PaymentRepository is the GORM-backed implementation of payment.Repository
// for single-statement call sites.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*paymentDomain.Payment, error) {
	var result *paymentDomain.Payment
	err := tenant.ScopedRead(ctx, r.db, func(tx *gorm.DB) error {
		p, err := FindPaymentByIDTx(tx, id)
		result = p
		return err
	})
	return result, err
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*paymentDomain.Payment, error) {
	var result *paymentDomain.Payment
	err := tenant.ScopedRead(ctx, r.db, func(tx *gorm.DB) error {
		p, err := FindPaymentByOrderIDTx(tx, orderID)
		result = p
		return err
	})
	return result, err
}

func (r *PaymentRepository) Save(ctx context.Context, p *paymentDomain.Payment) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return SavePaymentTx(tx, p)
	})
}

func (r *PaymentRepository) Update(ctx context.Context, p *paymentDomain.Payment) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return UpdatePaymentTx(tx, p)
	})
}
