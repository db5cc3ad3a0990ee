package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/notification"
	"github.com/Freeeeeet/space_booking/internal/payment"
)

// PropertyStore - хранилище площадок. GetByID возвращает nil, nil если площадки нет.
type PropertyStore interface {
	Create(ctx context.Context, p *model.Property) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Property, error)
	ListByHost(ctx context.Context, hostID string) ([]*model.Property, error)
}

// RuleStore - хранилище недельных правил доступности
type RuleStore interface {
	ListByProperty(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error)
	ReplaceForProperty(ctx context.Context, propertyID uuid.UUID, rules []model.AvailabilityRule) error
}

// BookingStore - хранилище бронирований
type BookingStore interface {
	// BeginPropertyTx открывает транзакцию, эксклюзивную для площадки до Commit/Rollback
	BeginPropertyTx(ctx context.Context, propertyID uuid.UUID) (PropertyTx, error)
	// BeginBookingTx открывает транзакцию с блокировкой строки брони; ErrNotFound если брони нет
	BeginBookingTx(ctx context.Context, bookingID uuid.UUID) (BookingTx, error)

	GetByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Booking, error)
	ListByProperty(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]*model.Booking, error)
	// ListActiveInRange возвращает pending/confirmed брони, пересекающие [from, to)
	ListActiveInRange(ctx context.Context, propertyID uuid.UUID, from, to time.Time) ([]model.Booking, error)
}

// PropertyTx - атомарная область площадки: проверка пересечений и вставка видят одно состояние
type PropertyTx interface {
	PropertyID() uuid.UUID
	HasActiveOverlap(ctx context.Context, start, end time.Time) (bool, error)
	Insert(ctx context.Context, b *model.Booking) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BookingTx держит блокировку одной брони
type BookingTx interface {
	Booking() *model.Booking
	UpdateStatus(ctx context.Context, status model.BookingStatus, refundID *string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReconciliationStore - журнал компенсирующих действий над платежами
type ReconciliationStore interface {
	// Record создаёт открытую запись до попытки возврата; повтор с тем же ключом переоткрывает её
	Record(ctx context.Context, item *model.ReconciliationItem) error
	ListOpen(ctx context.Context, kind model.ReconciliationKind, limit int) ([]*model.ReconciliationItem, error)
	// MarkAttempt фиксирует неудачную попытку возврата
	MarkAttempt(ctx context.Context, id int64, lastErr string) error
	Resolve(ctx context.Context, idempotencyKey, refundID string) error
}

// PaymentCoordinator проводит списания и возвраты
type PaymentCoordinator interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (payment.PaymentResult, error)
	Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error)
}

// Notifier ставит уведомление в очередь доставки, не блокируя
type Notifier interface {
	Dispatch(msg notification.Message) bool
}
