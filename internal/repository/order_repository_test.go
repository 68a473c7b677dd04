package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jsoonworld/fluxpay-engine/internal/domain/order"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

// setupMockDB wires go-sqlmock behind GORM's postgres dialector, the same
// pattern eCo13rus-order_system's repository tests use for MySQL.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{Conn: db, PreferSimpleProtocol: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func sampleOrder(t *testing.T, tenantID string) *order.Order {
	t.Helper()
	price, err := money.Parse("19.99", "USD")
	require.NoError(t, err)
	item, err := order.NewLineItem("sku-1", "Widget", 2, price)
	require.NoError(t, err)
	o, err := order.New(tenantID, "user-1", []order.LineItem{item}, "USD", nil)
	require.NoError(t, err)
	return o
}

func TestOrderRepository_FindByID_ScopesTenantAndReturnsOrder(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)
	tenantID := uuid.New().String()
	orderID := uuid.New()
	now := time.Now().Truncate(time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.tenant_id', $1, true)")).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "user_id", "line_items", "currency", "total_amount_minor",
		"status", "metadata", "version", "created_at", "updated_at", "paid_at", "completed_at",
	}).AddRow(orderID, tenantID, "user-1",
		`[{"id":"`+uuid.New().String()+`","product_id":"sku-1","name":"Widget","qty":2,"unit_price_minor":1999,"total_price_minor":3998}]`,
		"USD", 3998, "PENDING", "{}", 1, now, now, nil, nil)
	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE id = \$1`).
		WillReturnRows(rows)
	mock.ExpectCommit()

	ctx := tenant.WithID(context.Background(), tenantID)
	got, err := repo.FindByID(ctx, orderID)

	require.NoError(t, err)
	assert.Equal(t, orderID, got.ID())
	assert.Equal(t, order.StatusPending, got.Status())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_FindByID_NoTenantInContext_ReturnsTenantMissing(t *testing.T) {
	gormDB, _, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)
	_, err := repo.FindByID(context.Background(), uuid.New())
	require.Error(t, err, "a request with no tenant in context must never reach the database")
	derr, ok := domainerr.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerr.CodeTenantMissing, derr.Code)
}

func TestOrderRepository_Save_InsertsOrderRow(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)
	tenantID := uuid.New().String()
	o := sampleOrder(t, tenantID)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.tenant_id', $1, true)")).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := tenant.WithID(context.Background(), tenantID)
	err := repo.Save(ctx, o)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Update_NoRowsAffected_ReturnsConflict(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewOrderRepository(gormDB)
	tenantID := uuid.New().String()
	o := sampleOrder(t, tenantID)
	o.IncrementVersion()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.tenant_id', $1, true)")).
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := tenant.WithID(context.Background(), tenantID)
	err := repo.Update(ctx, o)

	require.Error(t, err)
	derr, ok := domainerr.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerr.CodeConflict, derr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
