package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/payment"
)

const reconcileBatchSize = 50

// ReconciliationService дожимает возвраты по списаниям, для которых бронь так и не сохранилась,
// и выясняет исход списаний, которые шлюз не подтвердил
type ReconciliationService struct {
	items    ReconciliationStore
	payments PaymentCoordinator
	logger   *zap.Logger
}

func NewReconciliationService(items ReconciliationStore, payments PaymentCoordinator, logger *zap.Logger) *ReconciliationService {
	return &ReconciliationService{items: items, payments: payments, logger: logger}
}

// Reconcile выполняет один проход сверки по всем видам записей
func (s *ReconciliationService) Reconcile(ctx context.Context) (int, error) {
	ambiguous, err := s.ReconcileAmbiguousCharges(ctx)
	if err != nil {
		return ambiguous, err
	}
	orphans, err := s.ReconcileOrphanCharges(ctx)
	return ambiguous + orphans, err
}

// ReconcileAmbiguousCharges повторяет неподтверждённое списание с тем же ключом и теми же параметрами:
// шлюз вернёт исход первой попытки, если она дошла. Прошедшее списание тут же возвращается,
// брони под ним нет. Отказ значит, что денег не списывали.
func (s *ReconciliationService) ReconcileAmbiguousCharges(ctx context.Context) (int, error) {
	items, err := s.items.ListOpen(ctx, model.ReconciliationAmbiguousCharge, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list ambiguous charges: %w", err)
	}

	resolved := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		booking := &model.Booking{
			ID:          item.BookingID,
			PropertyID:  item.PropertyID,
			UserID:      item.UserID,
			TotalAmount: item.Amount,
			Currency:    item.Currency,
		}
		charge, err := s.payments.Charge(ctx, chargeRequest(booking, item.PaymentMethod))
		if err != nil {
			if model.KindOf(err) != model.ErrPaymentFailed {
				s.markAttempt(ctx, item, err)
				continue
			}
			if err := s.items.Resolve(ctx, item.IdempotencyKey, ""); err != nil {
				return resolved, fmt.Errorf("resolve reconciliation item %d: %w", item.ID, err)
			}
			resolved++
			s.logger.Info("Ambiguous charge was not captured",
				zap.Int64("item_id", item.ID),
				zap.String("booking_id", item.BookingID.String()),
			)
			continue
		}

		refund, err := s.payments.Refund(ctx, payment.RefundRequest{
			PaymentID:      charge.PaymentID,
			Amount:         item.Amount,
			IdempotencyKey: payment.RefundKey(item.BookingID),
		})
		if err != nil {
			s.markAttempt(ctx, item, err)
			continue
		}

		if err := s.items.Resolve(ctx, item.IdempotencyKey, refund.RefundID); err != nil {
			return resolved, fmt.Errorf("resolve reconciliation item %d: %w", item.ID, err)
		}
		resolved++

		s.logger.Info("Ambiguous charge refunded",
			zap.Int64("item_id", item.ID),
			zap.String("booking_id", item.BookingID.String()),
			zap.String("payment_id", charge.PaymentID),
			zap.String("refund_id", refund.RefundID),
			zap.Int64("amount", item.Amount),
		)
	}

	return resolved, nil
}

func (s *ReconciliationService) markAttempt(ctx context.Context, item *model.ReconciliationItem, cause error) {
	s.logger.Error("Reconciliation attempt failed",
		zap.Int64("item_id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.String("booking_id", item.BookingID.String()),
		zap.String("payment_id", item.PaymentID),
		zap.Int64("amount", item.Amount),
		zap.Int("attempts", item.Attempts+1),
		zap.Error(cause),
	)
	if err := s.items.MarkAttempt(ctx, item.ID, cause.Error()); err != nil {
		s.logger.Warn("Failed to mark reconciliation attempt", zap.Int64("item_id", item.ID), zap.Error(err))
	}
}

// ReconcileOrphanCharges повторяет возвраты с исходным ключом идемпотентности.
// Возвраты при отмене не трогает: их повторяет сам пользователь через отмену брони.
func (s *ReconciliationService) ReconcileOrphanCharges(ctx context.Context) (int, error) {
	items, err := s.items.ListOpen(ctx, model.ReconciliationOrphanCharge, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list open reconciliation items: %w", err)
	}

	resolved := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		res, err := s.payments.Refund(ctx, payment.RefundRequest{
			PaymentID:      item.PaymentID,
			Amount:         item.Amount,
			IdempotencyKey: item.IdempotencyKey,
		})
		if err != nil {
			s.markAttempt(ctx, item, err)
			continue
		}

		if err := s.items.Resolve(ctx, item.IdempotencyKey, res.RefundID); err != nil {
			return resolved, fmt.Errorf("resolve reconciliation item %d: %w", item.ID, err)
		}
		resolved++

		s.logger.Info("Orphan charge refunded",
			zap.Int64("item_id", item.ID),
			zap.String("payment_id", item.PaymentID),
			zap.String("refund_id", res.RefundID),
			zap.Int64("amount", item.Amount),
		)
	}

	return resolved, nil
}
