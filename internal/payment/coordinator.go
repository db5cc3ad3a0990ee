package payment

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/retry"
)

// Coordinator проводит списания и возвраты не более одного раза на ключ идемпотентности
type Coordinator struct {
	gateway Gateway
	exec    *retry.Executor
	store   IdempotencyStore
	group   singleflight.Group
	logger  *zap.Logger
}

func NewCoordinator(gateway Gateway, exec *retry.Executor, store IdempotencyStore, logger *zap.Logger) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Coordinator{
		gateway: gateway,
		exec:    exec,
		store:   store,
		logger:  logger,
	}
}

// Charge списывает сумму. Повторный вызов с тем же ключом возвращает прежний итог без обращения к шлюзу.
func (c *Coordinator) Charge(ctx context.Context, req ChargeRequest) (PaymentResult, error) {
	if err := validateCharge(req); err != nil {
		return PaymentResult{Error: err.Error()}, err
	}

	rec, err := c.execute(ctx, req.IdempotencyKey, "payment.charge", true, func(ctx context.Context) (GatewayResponse, error) {
		return c.gateway.Charge(ctx, req)
	})
	if err != nil {
		// Шлюз мог провести списание до сбоя: исход неизвестен, пока его не повторят с тем же ключом
		c.logger.Error("Charge outcome unknown",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("amount", req.Amount),
			zap.String("currency", req.Currency),
			zap.Error(err),
		)
		return PaymentResult{Status: StatusUnknown, Error: err.Error()}, &model.BookingError{
			Kind:          model.ErrExternalService,
			Message:       "payment gateway did not confirm the charge",
			Amount:        req.Amount,
			PaymentStatus: StatusUnknown,
			Err:           err,
		}
	}

	if !rec.Success {
		c.logger.Info("Charge declined",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("reason", rec.Error),
		)
		return PaymentResult{Status: rec.Status, Error: rec.Error}, &model.BookingError{
			Kind:    model.ErrPaymentFailed,
			Message: rec.Error,
			Amount:  req.Amount,
		}
	}

	c.logger.Info("Charge succeeded",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("payment_id", rec.ID),
		zap.Int64("amount", req.Amount),
	)
	return PaymentResult{Success: true, PaymentID: rec.ID, Status: rec.Status}, nil
}

// Refund возвращает сумму по платежу. Повторный вызов с тем же ключом не создаёт второй возврат.
func (c *Coordinator) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := validateRefund(req); err != nil {
		return RefundResult{Error: err.Error()}, err
	}

	rec, err := c.execute(ctx, req.IdempotencyKey, "payment.refund", false, func(ctx context.Context) (GatewayResponse, error) {
		return c.gateway.Refund(ctx, req)
	})
	if err == nil && !rec.Success {
		err = &DeclinedError{Message: rec.Error}
	}
	if err != nil {
		c.logger.Error("Refund failed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("payment_id", req.PaymentID),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return RefundResult{Error: err.Error()}, &model.BookingError{
			Kind:      model.ErrRefundFailed,
			PaymentID: req.PaymentID,
			Amount:    req.Amount,
			Err:       err,
		}
	}

	c.logger.Info("Refund succeeded",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("payment_id", req.PaymentID),
		zap.String("refund_id", rec.ID),
		zap.Int64("amount", req.Amount),
	)
	return RefundResult{Success: true, RefundID: rec.ID, Status: rec.Status}, nil
}

// execute вызывает шлюз с повторами. Одновременные вызовы с одним ключом схлопываются.
// Успех запоминается всегда, отказ - только при cacheFailures: неудачный возврат
// должен дойти до шлюза при следующей попытке с тем же ключом.
func (c *Coordinator) execute(ctx context.Context, key, op string, cacheFailures bool, call func(ctx context.Context) (GatewayResponse, error)) (Record, error) {
	if rec, ok := c.lookup(ctx, key); ok {
		return rec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if rec, ok := c.lookup(ctx, key); ok {
			return rec, nil
		}

		resp, err := retry.Do(ctx, c.exec, op, call)
		if err != nil {
			if !IsDeclined(err) {
				return Record{}, err
			}
			rec := Record{Status: StatusFailed, Error: err.Error()}
			if cacheFailures {
				c.remember(ctx, key, rec)
			}
			return rec, nil
		}

		rec := Record{ID: resp.ID, Status: resp.Status, Success: resp.Status != StatusFailed}
		if rec.Success || cacheFailures {
			c.remember(ctx, key, rec)
		}
		return rec, nil
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (c *Coordinator) lookup(ctx context.Context, key string) (Record, bool) {
	rec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Idempotency store read failed", zap.String("key", key), zap.Error(err))
		return Record{}, false
	}
	return rec, ok
}

func (c *Coordinator) remember(ctx context.Context, key string, rec Record) {
	if err := c.store.Put(context.WithoutCancel(ctx), key, rec); err != nil {
		c.logger.Warn("Idempotency store write failed", zap.String("key", key), zap.Error(err))
	}
}

func validateCharge(req ChargeRequest) error {
	switch {
	case req.Amount <= 0:
		return model.NewValidationError("charge amount must be positive")
	case strings.TrimSpace(req.Currency) == "":
		return model.NewValidationError("currency is required")
	case strings.TrimSpace(req.PaymentMethod) == "":
		return model.NewValidationError("payment method is required")
	case req.IdempotencyKey == "":
		return model.NewValidationError("idempotency key is required")
	}
	return nil
}

func validateRefund(req RefundRequest) error {
	switch {
	case req.PaymentID == "":
		return model.NewValidationError("payment id is required for refund")
	case req.Amount <= 0:
		return model.NewValidationError("refund amount must be positive")
	case req.IdempotencyKey == "":
		return model.NewValidationError("idempotency key is required")
	}
	return nil
}
