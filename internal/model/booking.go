package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Оплачено, ждёт подтверждения хоста
	BookingStatusConfirmed BookingStatus = "confirmed" // Подтверждено хостом
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено, терминальный статус
)

// Valid проверяет что статус известен
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}

// IsActive возвращает true для статусов, которые занимают слот
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// CanTransitionTo описывает граф переходов: pending -> confirmed|cancelled, confirmed -> cancelled
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled
	case BookingStatusConfirmed:
		return next == BookingStatusCancelled
	}
	return false
}

type Booking struct {
	ID                  uuid.UUID     `json:"id"`
	PropertyID          uuid.UUID     `json:"property_id"`
	UserID              string        `json:"user_id"`
	StartTime           time.Time     `json:"start_time"`
	EndTime             time.Time     `json:"end_time"`
	Status              BookingStatus `json:"status"`
	NumberOfDogs        int           `json:"number_of_dogs"`
	DogNames            []string      `json:"dog_names"`
	SpecialRequirements *string       `json:"special_requirements,omitempty"`
	ContactAddress      string        `json:"contact_address"`
	PaymentID           string        `json:"payment_id"`
	RefundID            *string       `json:"refund_id,omitempty"` // nil пока возврат не выполнен
	TotalAmount         int64         `json:"total_amount"`        // в минорных единицах
	Currency            string        `json:"currency"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`

	// Не из БД, заполняется для уведомлений
	Property *Property `json:"property,omitempty"`
}

// Overlaps проверяет пересечение полуинтервалов [start, end)
func (b *Booking) Overlaps(start, end time.Time) bool {
	return Overlaps(b.StartTime, b.EndTime, start, end)
}

// NeedsRefund - есть списание и возврат ещё не оформлен
func (b *Booking) NeedsRefund() bool {
	return b.PaymentID != "" && b.RefundID == nil && b.TotalAmount > 0
}

// BookingDetails - данные от арендатора, не влияющие на конфликт слотов
type BookingDetails struct {
	NumberOfDogs        int      `json:"number_of_dogs"`
	DogNames            []string `json:"dog_names"`
	SpecialRequirements *string  `json:"special_requirements,omitempty"`
	ContactAddress      string   `json:"contact_address"`
	PaymentMethod       string   `json:"payment_method"`
}

// Overlaps: интервалы пересекаются iff aStart < bEnd && bStart < aEnd
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
