package retry

import (
	"context"
	"errors"
	"time"

	gretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/model"
)

// Policy описывает повторы одного внешнего вызова
type Policy struct {
	MaxAttempts int           // всего попыток, включая первую
	BaseDelay   time.Duration // базовая задержка стратегии
	MaxDelay    time.Duration // потолок задержки, по умолчанию 30s
	Strategy    Strategy
	Timeout     time.Duration // таймаут одной попытки, 0 - без таймаута
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    DefaultMaxDelay,
		Strategy:    StrategyExponential,
		Timeout:     10 * time.Second,
	}
}

// Classifier решает, стоит ли повторять ошибку
type Classifier func(err error) bool

// DefaultClassifier повторяет сбои внешних сервисов и таймауты попытки
func DefaultClassifier(err error) bool {
	return model.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}

// Executor - единая точка повторов для платежей, уведомлений и прочих внешних вызовов
type Executor struct {
	policy     Policy
	classifier Classifier
	logger     *zap.Logger
}

func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	return &Executor{
		policy:     policy,
		classifier: DefaultClassifier,
		logger:     logger,
	}
}

// WithClassifier возвращает копию исполнителя с другим классификатором
func (e *Executor) WithClassifier(c Classifier) *Executor {
	cp := *e
	cp.classifier = c
	return &cp
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Run выполняет op с политикой по умолчанию
func (e *Executor) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return e.RunWithPolicy(ctx, name, e.policy, op)
}

// RunWithPolicy выполняет op, повторяя повторяемые ошибки по стратегии policy.
// Неповторяемая ошибка возвращается сразу. После исчерпания попыток возвращается последняя ошибка.
func (e *Executor) RunWithPolicy(ctx context.Context, name string, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	policy.MaxDelay = normalizeMax(policy.MaxDelay)

	backoff := gretry.WithCappedDuration(policy.MaxDelay,
		gretry.WithMaxRetries(uint64(policy.MaxAttempts-1), backoffFor(policy)))

	attempt := 0
	return gretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		err := e.attempt(ctx, policy.Timeout, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !e.classifier(err) {
			return err
		}

		e.logger.Warn("Retryable failure",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err),
		)
		return gretry.RetryableError(err)
	})
}

func (e *Executor) attempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return model.ExternalError("attempt timed out", err)
	}
	return err
}

// Do - вариант Run для операций, возвращающих значение
func Do[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Run(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
