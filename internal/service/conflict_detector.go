package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/space_booking/internal/model"
)

type ConflictResult int

const (
	NoConflict ConflictResult = iota
	Conflict
)

func (r ConflictResult) String() string {
	if r == Conflict {
		return "conflict"
	}
	return "no_conflict"
}

// ConflictDetector проверяет пересечение запрошенного интервала с активными бронями.
// Проверка возможна только внутри PropertyTx, т.е. под блокировкой площадки:
// результат NoConflict действителен до конца этой транзакции.
type ConflictDetector struct{}

func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{}
}

// Check возвращает Conflict, если [start, end) пересекается с pending/confirmed бронью площадки
func (d *ConflictDetector) Check(ctx context.Context, scope PropertyTx, propertyID uuid.UUID, start, end time.Time) (ConflictResult, error) {
	if scope == nil || scope.PropertyID() != propertyID {
		return Conflict, fmt.Errorf("conflict check for property %s outside its locked scope", propertyID)
	}
	if !start.Before(end) {
		return Conflict, model.NewValidationError("start time must be before end time")
	}

	overlap, err := scope.HasActiveOverlap(ctx, start, end)
	if err != nil {
		return Conflict, fmt.Errorf("check conflict: %w", err)
	}
	if overlap {
		return Conflict, nil
	}
	return NoConflict, nil
}
