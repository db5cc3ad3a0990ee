// Package saga выполняет цепочку шагов с компенсацией уже выполненных шагов при сбое.
package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Step - шаг саги. Compensate может быть nil, если шаг ничего не меняет во внешнем мире.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationResult - итог компенсации одного шага
type CompensationResult struct {
	Step string
	Err  error
}

// Error возвращается, когда шаг саги упал. Содержит итоги всех выполненных компенсаций.
type Error struct {
	Saga          string
	Step          string
	Err           error
	Compensations []CompensationResult
}

func (e *Error) Error() string {
	return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CompensationFailed - хотя бы одна компенсация завершилась ошибкой
func (e *Error) CompensationFailed() bool {
	for _, c := range e.Compensations {
		if c.Err != nil {
			return true
		}
	}
	return false
}

// Compensation возвращает итог компенсации шага, если она выполнялась
func (e *Error) Compensation(step string) (CompensationResult, bool) {
	for _, c := range e.Compensations {
		if c.Step == step {
			return c, true
		}
	}
	return CompensationResult{}, false
}

type Saga struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

func New(name string, logger *zap.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

// Step добавляет шаг в конец цепочки
func (s *Saga) Step(name string, do, compensate func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Do: do, Compensate: compensate})
	return s
}

// Run выполняет шаги строго по порядку. При сбое шага компенсирует выполненные шаги
// в обратном порядке, каждый не более одного раза. Компенсации не отменяются вместе с ctx.
func (s *Saga) Run(ctx context.Context) error {
	completed := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, step.Name, err, completed)
		}
		if err := step.Do(ctx); err != nil {
			return s.fail(ctx, step.Name, err, completed)
		}
		completed = append(completed, step)
	}
	return nil
}

func (s *Saga) fail(ctx context.Context, failed string, cause error, completed []Step) error {
	sagaErr := &Error{Saga: s.name, Step: failed, Err: cause}

	compCtx := context.WithoutCancel(ctx)
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		err := runCompensation(compCtx, step)
		sagaErr.Compensations = append(sagaErr.Compensations, CompensationResult{Step: step.Name, Err: err})

		if err != nil {
			s.logger.Error("Saga compensation failed",
				zap.String("saga", s.name),
				zap.String("failed_step", failed),
				zap.String("compensated_step", step.Name),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("Saga step compensated",
			zap.String("saga", s.name),
			zap.String("failed_step", failed),
			zap.String("compensated_step", step.Name),
		)
	}
	return sagaErr
}

func runCompensation(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("compensation %s panicked: %v", step.Name, r))
		}
	}()
	return step.Compensate(ctx)
}
