package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Виды ошибок движка бронирования. Сопоставляются через errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrSlotUnavailable    = errors.New("slot unavailable")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrBookingPersistFail = errors.New("booking persist failed")
	ErrRefundFailed       = errors.New("refund failed")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrExternalService    = errors.New("external service error")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
)

// RefundOutcome прикладывается к ошибкам, после которых пытались вернуть деньги
type RefundOutcome struct {
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	RefundID  string `json:"refund_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BookingError несёт контекст для ручной сверки: бронь, платёж, сумма
type BookingError struct {
	Kind       error
	Message    string
	BookingID  uuid.UUID
	PaymentID  string
	Amount     int64
	RetryAfter time.Duration
	Refund     *RefundOutcome
	// PaymentStatus = "unknown": шлюз не подтвердил списание, деньги могли быть удержаны
	PaymentStatus string
	Err           error
}

func (e *BookingError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.BookingID != uuid.Nil {
		msg += fmt.Sprintf(" (booking=%s)", e.BookingID)
	}
	if e.PaymentID != "" {
		msg += fmt.Sprintf(" (payment=%s amount=%d)", e.PaymentID, e.Amount)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BookingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewValidationError(msg string) *BookingError {
	return &BookingError{Kind: ErrValidation, Message: msg}
}

func NewNotFoundError(msg string) *BookingError {
	return &BookingError{Kind: ErrNotFound, Message: msg}
}

func NewForbiddenError(msg string) *BookingError {
	return &BookingError{Kind: ErrForbidden, Message: msg}
}

func NewSlotUnavailableError(propertyID uuid.UUID, start, end time.Time) *BookingError {
	return &BookingError{
		Kind:    ErrSlotUnavailable,
		Message: fmt.Sprintf("property %s is already booked between %s and %s", propertyID, start.Format(time.RFC3339), end.Format(time.RFC3339)),
	}
}

func NewRateLimitError(key string, retryAfter time.Duration) *BookingError {
	return &BookingError{
		Kind:       ErrRateLimitExceeded,
		Message:    fmt.Sprintf("too many attempts for %s", key),
		RetryAfter: retryAfter,
	}
}

func NewInvalidTransitionError(bookingID uuid.UUID, from, to BookingStatus) *BookingError {
	return &BookingError{
		Kind:      ErrInvalidTransition,
		Message:   fmt.Sprintf("cannot move booking from %s to %s", from, to),
		BookingID: bookingID,
	}
}

// ExternalError помечает сбой сети/таймаут внешнего сервиса - такие ошибки можно повторять
func ExternalError(service string, err error) *BookingError {
	return &BookingError{Kind: ErrExternalService, Message: service, Err: err}
}

// KindOf возвращает вид ошибки или nil если ошибка не из таксономии.
// Для вложенных BookingError решает внешняя.
func KindOf(err error) error {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	for _, kind := range []error{
		ErrValidation, ErrSlotUnavailable, ErrPaymentFailed, ErrBookingPersistFail, ErrRefundFailed,
		ErrRateLimitExceeded, ErrExternalService, ErrInvalidTransition, ErrNotFound, ErrForbidden,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable: повторять имеет смысл только сбои внешних сервисов
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == ErrExternalService
}
