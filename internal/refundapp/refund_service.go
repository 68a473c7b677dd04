// Package refundapp implements the refund flow: only issuable against a
// CONFIRMED payment, it drives the Refund aggregate REQUESTED ->
// PROCESSING -> {COMPLETED, FAILED}, calls the PG adapter's cancel
// operation to reverse the captured funds, and transitions the Payment
// aggregate CONFIRMED -> REFUNDED on success. Grounded on the teacher's
// service-layer composition style (application service wrapping a
// repository + an external adapter inside one transaction).
package refundapp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	refunddomain "github.com/jsoonworld/fluxpay-engine/internal/domain/refund"
	paymentdomain "github.com/jsoonworld/fluxpay-engine/internal/domain/payment"
	"github.com/jsoonworld/fluxpay-engine/internal/domainerr"
	"github.com/jsoonworld/fluxpay-engine/internal/events"
	"github.com/jsoonworld/fluxpay-engine/internal/money"
	"github.com/jsoonworld/fluxpay-engine/internal/pgadapter"
	"github.com/jsoonworld/fluxpay-engine/internal/repository"
	"github.com/jsoonworld/fluxpay-engine/internal/tenant"
)

type Service struct {
	db *gorm.DB
	pg pgadapter.Adapter
}

func NewService(db *gorm.DB, pg pgadapter.Adapter) *Service {
	return &Service{db: db, pg: pg}
}

// RequestRefund creates a Refund row against a CONFIRMED payment and
// immediately drives it to completion or failure, emitting
// RefundRequested with the new row and then, in a second transaction,
// RefundCompleted or RefundFailed on the fluxpay.refund.events topic, partitioned by
// <tenant>:<paymentId>.
func (s *Service) RequestRefund(ctx context.Context, tenantID string, paymentID uuid.UUID, amount money.Money, reason string) (*refunddomain.Refund, error) {
	ctx = tenant.WithID(ctx, tenantID)

	var pay *paymentAggregate
	var ref *refunddomain.Refund

	err := tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		p, err := repository.FindPaymentByIDTx(tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status() != paymentdomain.StatusConfirmed {
			return domainerr.NewInvalidStateError("Refund", "none", "REQUESTED")
		}
		pay = &paymentAggregate{id: p.ID(), pgPaymentKey: p.PGPaymentKey()}

		r, err := refunddomain.New(tenantID, paymentID, amount, reason)
		if err != nil {
			return err
		}
		if err := repository.SaveRefundTx(tx, r); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypeRefundRequested, map[string]interface{}{
			"refundId": r.ID(), "paymentId": paymentID.String(), "amount": amount.String(),
		})
		if err != nil {
			return err
		}
		if err := repository.AppendOutboxEventTx(tx, tenantID, "Refund", paymentID.String(), ce, 5); err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := ref.StartProcessing(); err != nil {
		return nil, err
	}
	if err := tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		ref.IncrementVersion()
		return repository.UpdateRefundTx(tx, ref)
	}); err != nil {
		return nil, domainerr.NewInternalError(err)
	}

	result, err := s.pg.CancelPayment(ctx, pay.pgPaymentKey, reason)
	if err != nil {
		return nil, domainerr.NewPGClientError("refundapp: PG cancel call failed", err)
	}

	if !result.Success {
		return s.failRefund(ctx, tenantID, ref, paymentID, fmt.Sprintf("PG refund declined: %s", result.ErrorMessage))
	}
	return s.completeRefund(ctx, tenantID, ref, paymentID, result.TransactionID)
}

type paymentAggregate struct {
	id           uuid.UUID
	pgPaymentKey string
}

func (s *Service) completeRefund(ctx context.Context, tenantID string, ref *refunddomain.Refund, paymentID uuid.UUID, pgRefundID string) (*refunddomain.Refund, error) {
	err := tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := ref.Complete(pgRefundID); err != nil {
			return err
		}
		ref.IncrementVersion()
		if err := repository.UpdateRefundTx(tx, ref); err != nil {
			return err
		}
		p, err := repository.FindPaymentByIDTx(tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Refund(); err != nil {
			return err
		}
		p.IncrementVersion()
		if err := repository.UpdatePaymentTx(tx, p); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypeRefundCompleted, map[string]interface{}{
			"refundId": ref.ID(), "paymentId": paymentID.String(), "pgRefundId": pgRefundID,
		})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Refund", paymentID.String(), ce, 5)
	})
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	return ref, nil
}

func (s *Service) failRefund(ctx context.Context, tenantID string, ref *refunddomain.Refund, paymentID uuid.UUID, reason string) (*refunddomain.Refund, error) {
	err := tenant.ScopedTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := ref.Fail(reason); err != nil {
			return err
		}
		ref.IncrementVersion()
		if err := repository.UpdateRefundTx(tx, ref); err != nil {
			return err
		}
		ce, err := events.New(tenantID, events.TypeRefundFailed, map[string]interface{}{
			"refundId": ref.ID(), "paymentId": paymentID.String(), "reason": reason,
		})
		if err != nil {
			return err
		}
		return repository.AppendOutboxEventTx(tx, tenantID, "Refund", paymentID.String(), ce, 5)
	})
	if err != nil {
		return nil, domainerr.NewInternalError(err)
	}
	return ref, fmt.Errorf("refundapp: %s", reason)
}
