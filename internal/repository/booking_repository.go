package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/repository/base"
	"github.com/Freeeeeet/space_booking/internal/service"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(pool)}
}

const bookingColumns = `
	id, property_id, user_id, start_time, end_time, status, number_of_dogs, dog_names,
	special_requirements, contact_address, payment_id, refund_id, total_amount, currency,
	created_at, updated_at`

// BeginPropertyTx открывает транзакцию и берёт advisory-блокировку площадки.
// Блокировка держится до конца транзакции, поэтому проверка пересечений и вставка
// для одной площадки выполняются строго по очереди.
func (r *BookingRepository) BeginPropertyTx(ctx context.Context, propertyID uuid.UUID) (service.PropertyTx, error) {
	tx, err := r.Begin(ctx)
	if err != nil {
		return nil, err
	}

	if err := lockProperty(ctx, tx, propertyID); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, err
	}

	return &propertyTx{tx: tx, propertyID: propertyID}, nil
}

// lockProperty берёт advisory-блокировку площадки до конца транзакции tx.
// Её же берёт замена правил доступности, так что бронь не проходит по удалённому окну.
func lockProperty(ctx context.Context, tx pgx.Tx, propertyID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, propertyID.String())
	if err != nil {
		return fmt.Errorf("lock property: %w", err)
	}
	return nil
}

// BeginBookingTx открывает транзакцию и блокирует строку брони (SELECT ... FOR UPDATE)
func (r *BookingRepository) BeginBookingTx(ctx context.Context, bookingID uuid.UUID) (service.BookingTx, error) {
	tx, err := r.Begin(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	booking, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if base.IsNotFound(err) {
			return nil, model.NewNotFoundError(fmt.Sprintf("booking %s not found", bookingID))
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}

	return &bookingTx{tx: tx, booking: booking}, nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return booking, nil
}

// ListByUser получает все бронирования арендатора
func (r *BookingRepository) ListByUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY start_time DESC`

	bookings, err := r.list(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings by user: %w", err)
	}
	return bookings, nil
}

// ListByProperty получает бронирования площадки любого статуса, пересекающие [from, to)
func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE property_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`

	bookings, err := r.list(ctx, query, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings by property: %w", err)
	}
	return bookings, nil
}

// ListActiveInRange получает pending/confirmed брони площадки, пересекающие [from, to)
func (r *BookingRepository) ListActiveInRange(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE property_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`

	bookings, err := r.list(ctx, query, propertyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	result := make([]model.Booking, 0, len(bookings))
	for _, b := range bookings {
		result = append(result, *b)
	}
	return result, nil
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.PropertyID,
		&b.UserID,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.NumberOfDogs,
		&b.DogNames,
		&b.SpecialRequirements,
		&b.ContactAddress,
		&b.PaymentID,
		&b.RefundID,
		&b.TotalAmount,
		&b.Currency,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// propertyTx - транзакция под advisory-блокировкой площадки
type propertyTx struct {
	tx         pgx.Tx
	propertyID uuid.UUID
}

func (t *propertyTx) PropertyID() uuid.UUID {
	return t.propertyID
}

// HasActiveOverlap проверяет, занят ли [start, end) активной бронью
func (t *propertyTx) HasActiveOverlap(ctx context.Context, start, end time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE property_id = $1
			  AND status IN ('pending', 'confirmed')
			  AND start_time < $3 AND end_time > $2
		)
	`

	var exists bool
	if err := t.tx.QueryRow(ctx, query, t.propertyID, start, end).Scan(&exists); err != nil {
		return false, fmt.Errorf("check booking overlap: %w", err)
	}
	return exists, nil
}

// Insert сохраняет бронь. Пересечение, пойманное ограничением БД, возвращается как SlotUnavailable.
func (t *propertyTx) Insert(ctx context.Context, b *model.Booking) error {
	if b.PropertyID != t.propertyID {
		return fmt.Errorf("insert booking: property %s is not locked by this transaction", b.PropertyID)
	}

	query := `
		INSERT INTO bookings (
			id, property_id, user_id, start_time, end_time, status, number_of_dogs, dog_names,
			special_requirements, contact_address, payment_id, total_amount, currency
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	dogNames := b.DogNames
	if dogNames == nil {
		dogNames = []string{}
	}

	err := t.tx.QueryRow(ctx, query,
		b.ID,
		b.PropertyID,
		b.UserID,
		b.StartTime,
		b.EndTime,
		b.Status,
		b.NumberOfDogs,
		dogNames,
		b.SpecialRequirements,
		b.ContactAddress,
		b.PaymentID,
		b.TotalAmount,
		b.Currency,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if base.IsExclusionViolation(err) {
			return model.NewSlotUnavailableError(b.PropertyID, b.StartTime, b.EndTime)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	return nil
}

func (t *propertyTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}
	return nil
}

func (t *propertyTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// bookingTx - транзакция с заблокированной строкой брони
type bookingTx struct {
	tx      pgx.Tx
	booking *model.Booking
}

func (t *bookingTx) Booking() *model.Booking {
	return t.booking
}

// UpdateStatus меняет статус заблокированной брони и, если передан, сохраняет ID возврата
func (t *bookingTx) UpdateStatus(ctx context.Context, status model.BookingStatus, refundID *string) error {
	query := `
		UPDATE bookings
		SET status = $2, refund_id = COALESCE($3, refund_id), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query, t.booking.ID, status, refundID).Scan(&t.booking.UpdatedAt)
	if err != nil {
		if base.IsExclusionViolation(err) {
			return model.NewSlotUnavailableError(t.booking.PropertyID, t.booking.StartTime, t.booking.EndTime)
		}
		return fmt.Errorf("update booking status: %w", err)
	}

	t.booking.Status = status
	if refundID != nil {
		t.booking.RefundID = refundID
	}
	return nil
}

func (t *bookingTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking status: %w", err)
	}
	return nil
}

func (t *bookingTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
