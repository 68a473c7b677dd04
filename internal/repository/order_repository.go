package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/domain/order"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// OrderModel is the GORM persistence model for the orders table.
type OrderModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID       string     `gorm:"type:uuid;not null;index"`
	UserID         string     `gorm:"type:varchar(64);not null"`
	LineItemsJSON  string     `gorm:"column:line_items;type:jsonb;not null"`
	Currency       string     `gorm:"type:varchar(3);not null"`
	TotalAmountMin int64      `gorm:"column:total_amount_minor;not null"`
	Status         string     `gorm:"type:varchar(20);not null;default:'PENDING'"`
	MetadataJSON   string     `gorm:"column:metadata;type:jsonb"`
	Version        int64      `gorm:"not null;default:1"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	PaidAt         *time.Time `gorm:"type:timestamptz"`
	CompletedAt    *time.Time `gorm:"type:timestamptz"`
}

func (OrderModel) TableName() string { return "orders" }

type lineItemRow struct {
	ID              uuid.UUID `json:"id"`
	ProductID       string    `json:"product_id"`
	Name            string    `json:"name"`
	Qty             int       `json:"qty"`
	UnitPriceMinor  int64     `json:"unit_price_minor"`
	TotalPriceMinor int64     `json:"total_price_minor"`
}

func toOrderDomain(m *OrderModel) (*order.Order, error) {
	var rows []lineItemRow
	if err := json.Unmarshal([]byte(m.LineItemsJSON), &rows); err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	items := make([]order.LineItem, 0, len(rows))
	for _, row := range rows {
		unit := money.FromMinorUnits(row.UnitPriceMinor, m.Currency)
		li, err := order.NewLineItem(row.ProductID, row.Name, row.Qty, unit)
		if err != nil {
			return nil, domainerr.NewInternalError(err)
		}
		items = append(items, li)
	}
	var metadata map[string]string
	if m.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(m.MetadataJSON), &metadata); err != nil {
			return nil, domainerr.NewInternalError(err)
		}
	}
	total := money.FromMinorUnits(m.TotalAmountMin, m.Currency)
	return order.Reconstitute(
		m.ID, m.TenantID, m.UserID, items, m.Currency, total,
		order.Status(m.Status), metadata, m.Version,
		m.CreatedAt, m.UpdatedAt, m.PaidAt, m.CompletedAt,
	)
}

func toOrderModel(o *order.Order) (*OrderModel, error) {
	rows := make([]lineItemRow, 0, len(o.LineItems()))
	for _, li := range o.LineItems() {
		rows = append(rows, lineItemRow{
			ID:              li.ID(),
			ProductID:       li.ProductID(),
			Name:            li.Name(),
			Qty:             li.Qty(),
			UnitPriceMinor:  li.UnitPrice().MinorUnits(),
			TotalPriceMinor: li.TotalPrice().MinorUnits(),
		})
	}
	lineItemsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	metadataJSON, err := json.Marshal(o.Metadata())
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	return &OrderModel{
		ID:             o.ID(),
		TenantID:       o.TenantID(),
		UserID:         o.UserID(),
		LineItemsJSON:  string(lineItemsJSON),
		Currency:       o.Currency(),
		TotalAmountMin: o.TotalAmount().MinorUnits(),
		Status:         string(o.Status()),
		MetadataJSON:   string(metadataJSON),
		Version:        o.Version(),
		CreatedAt:      o.CreatedAt(),
		UpdatedAt:      o.UpdatedAt(),
		PaidAt:         o.PaidAt(),
		CompletedAt:    o.CompletedAt(),
	}, nil
}

// FindOrderByIDTx retrieves an order by id against an already tenant-scoped
// transaction (see tenant.ScopedTx/ScopedRead), for composition inside a
// saga step or another multi-aggregate transaction.
func FindOrderByIDTx(tx *gorm.DB, id uuid.UUID) (*order.Order, error) {
	var m OrderModel
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerr.NewNotFoundError("Order", id.String())
		}
		return nil, domainerr.NewPGClientError("failed to load order", err)
	}
	return toOrderDomain(&m)
}

// SaveOrderTx inserts a new order row within a tenant-scoped transaction.
func SaveOrderTx(tx *gorm.DB, o *order.Order) error {
	m, err := toOrderModel(o)
	if err != nil {
		return err
	}
	if err := tx.Create(m).Error; err != nil {
		return domainerr.NewPGClientError("failed to save order", err)
	}
	return nil
}

// UpdateOrderTx persists changes to an order with optimistic locking,
// within a tenant-scoped transaction.
func UpdateOrderTx(tx *gorm.DB, o *order.Order) error {
	m, err := toOrderModel(o)
	if err != nil {
		return err
	}
	previousVersion := o.Version() - 1
	result := tx.Model(&OrderModel{}).
		Where("id = ? AND version = ?", m.ID, previousVersion).
		Updates(m)
	if result.Error != nil {
		return domainerr.NewPGClientError("failed to update order", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainerr.NewConflictError("order was modified by another transaction")
	}
	return nil
}

// OrderRepository is the GORM-backed implementation of order.Repository for
// single-statement call sites; each method opens its own tenant-scoped
// transaction. Multi-aggregate call sites (the saga orchestrator, the
// outbox writer) use the Tx-suffixed free functions directly so several
// aggregates commit atomically inside one transaction.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var result *order.Order
	err := tenant.ScopedRead(ctx, r.db, func(tx *gorm.DB) error {
		o, err := FindOrderByIDTx(tx, id)
		result = o
		return err
	})
	return result, err
}

func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return SaveOrderTx(tx, o)
	})
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	return tenant.ScopedTx(ctx, r.db, func(tx *gorm.DB) error {
		return UpdateOrderTx(tx, o)
	})
}
