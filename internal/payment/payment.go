// Package payment координирует списания и возвраты через внешний платёжный шлюз.
//
// Все вызовы шлюза проходят через retry.Executor и несут ключ идемпотентности,
// поэтому повтор запроса с тем же ключом не приводит ко второму списанию.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// Статусы ответа шлюза
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown" // шлюз не ответил, списание могло пройти
)

// ChargeRequest - запрос на списание. Amount в минорных единицах валюты.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest - запрос на возврат по ранее проведённому платежу
type RefundRequest struct {
	PaymentID      string
	Amount         int64
	IdempotencyKey string
}

// GatewayResponse - ответ шлюза на списание или возврат
type GatewayResponse struct {
	ID     string
	Status string
}

// Gateway - внешний платёжный шлюз.
// Отказ по карте возвращается как *DeclinedError, сетевые сбои - как model.ExternalError.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (GatewayResponse, error)
	Refund(ctx context.Context, req RefundRequest) (GatewayResponse, error)
}

type PaymentResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DeclinedError - окончательный отказ шлюза, повторять бессмысленно
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("declined: %s", e.Message)
	}
	return fmt.Sprintf("declined (%s): %s", e.Code, e.Message)
}

// IsDeclined - ошибка является окончательным отказом шлюза
func IsDeclined(err error) bool {
	var d *DeclinedError
	return errors.As(err, &d)
}

// ChargeKey и RefundKey формируют ключи идемпотентности операций по брони
func ChargeKey(bookingID fmt.Stringer) string {
	return "charge:" + bookingID.String()
}

func RefundKey(bookingID fmt.Stringer) string {
	return "refund:" + bookingID.String()
}
