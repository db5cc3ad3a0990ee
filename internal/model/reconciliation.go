package model

import (
	"time"

	"github.com/google/uuid"
)

type ReconciliationKind string

const (
	// Списание прошло, а бронь не сохранилась
	ReconciliationOrphanCharge ReconciliationKind = "orphan_charge_refund"
	// Возврат при отмене не прошёл, статус не изменён
	ReconciliationCancellationRefund ReconciliationKind = "cancellation_refund"
	// Шлюз не подтвердил списание: повторяем его тем же ключом и возвращаем деньги, если оно прошло
	ReconciliationAmbiguousCharge ReconciliationKind = "ambiguous_charge"
)

type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

// ReconciliationItem фиксирует компенсирующее действие над платежом
type ReconciliationItem struct {
	ID             int64                `json:"id"`
	Kind           ReconciliationKind   `json:"kind"`
	Status         ReconciliationStatus `json:"status"`
	BookingID      uuid.UUID            `json:"booking_id"`
	PropertyID     uuid.UUID            `json:"property_id"`
	UserID         string               `json:"user_id,omitempty"`
	PaymentMethod  string               `json:"payment_method,omitempty"` // нужен для повтора неподтверждённого списания
	PaymentID      string               `json:"payment_id"`
	RefundID       string               `json:"refund_id,omitempty"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	IdempotencyKey string               `json:"idempotency_key"`
	Attempts       int                  `json:"attempts"`
	LastError      string               `json:"last_error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}
