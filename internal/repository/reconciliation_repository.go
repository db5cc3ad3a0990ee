package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/repository/base"
)

type ReconciliationRepository struct {
	*base.Repository
}

func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{Repository: base.NewRepository(pool)}
}

// Record создаёт открытую запись сверки до компенсирующего действия.
// Повторная запись с тем же ключом переоткрывает её, счётчик попыток не меняется.
func (r *ReconciliationRepository) Record(ctx context.Context, item *model.ReconciliationItem) error {
	query := `
		INSERT INTO reconciliation_items (
			kind, status, booking_id, property_id, user_id, payment_id, payment_method,
			amount, currency, idempotency_key, attempts, last_error
		)
		VALUES ($1, 'open', $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET last_error = EXCLUDED.last_error,
		    status = 'open',
		    updated_at = NOW()
		RETURNING id, status, attempts, created_at, updated_at
	`

	err := r.QueryRow(ctx, query,
		item.Kind,
		item.BookingID,
		item.PropertyID,
		item.UserID,
		item.PaymentID,
		item.PaymentMethod,
		item.Amount,
		item.Currency,
		item.IdempotencyKey,
		item.LastError,
	).Scan(&item.ID, &item.Status, &item.Attempts, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record reconciliation item: %w", err)
	}

	return nil
}

// ListOpen получает открытые записи заданного вида, старые первыми
func (r *ReconciliationRepository) ListOpen(ctx context.Context, kind model.ReconciliationKind, limit int) ([]*model.ReconciliationItem, error) {
	query := `
		SELECT id, kind, status, booking_id, property_id, user_id, payment_id, payment_method, refund_id, amount, currency,
		       idempotency_key, attempts, last_error, created_at, updated_at
		FROM reconciliation_items
		WHERE status = 'open' AND kind = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list open reconciliation items: %w", err)
	}
	defer rows.Close()

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.ReconciliationItem, error) {
		var it model.ReconciliationItem
		err := row.Scan(
			&it.ID,
			&it.Kind,
			&it.Status,
			&it.BookingID,
			&it.PropertyID,
			&it.UserID,
			&it.PaymentID,
			&it.PaymentMethod,
			&it.RefundID,
			&it.Amount,
			&it.Currency,
			&it.IdempotencyKey,
			&it.Attempts,
			&it.LastError,
			&it.CreatedAt,
			&it.UpdatedAt,
		)
		return &it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan reconciliation item: %w", err)
	}

	return items, nil
}

// MarkAttempt фиксирует очередную неудачную попытку
func (r *ReconciliationRepository) MarkAttempt(ctx context.Context, id int64, lastErr string) error {
	query := `
		UPDATE reconciliation_items
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.ExecAffected(ctx, query, id, lastErr); err != nil {
		return fmt.Errorf("mark reconciliation attempt: %w", err)
	}
	return nil
}

// Resolve закрывает открытую запись по ключу. Отсутствие записи не ошибка.
func (r *ReconciliationRepository) Resolve(ctx context.Context, idempotencyKey, refundID string) error {
	query := `
		UPDATE reconciliation_items
		SET status = 'resolved', refund_id = $2, last_error = '', updated_at = NOW()
		WHERE idempotency_key = $1 AND status = 'open'
	`

	if _, err := r.ExecAffected(ctx, query, idempotencyKey, refundID); err != nil {
		return fmt.Errorf("resolve reconciliation item: %w", err)
	}
	return nil
}
