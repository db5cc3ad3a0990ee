package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/repository/base"
)

type AvailabilityRuleRepository struct {
	*base.Repository
}

func NewAvailabilityRuleRepository(pool *pgxpool.Pool) *AvailabilityRuleRepository {
	return &AvailabilityRuleRepository{Repository: base.NewRepository(pool)}
}

// ListByProperty получает недельные правила площадки
func (r *AvailabilityRuleRepository) ListByProperty(ctx context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error) {
	query := `
		SELECT id, property_id, day_of_week, start_minute, end_minute, is_available
		FROM availability_rules
		WHERE property_id = $1
		ORDER BY day_of_week, start_minute
	`

	rows, err := r.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var (
			rule       model.AvailabilityRule
			start, end int
		)
		err := rows.Scan(
			&rule.ID,
			&rule.PropertyID,
			&rule.DayOfWeek,
			&start,
			&end,
			&rule.IsAvailable,
		)
		if err != nil {
			return nil, fmt.Errorf("scan availability rule: %w", err)
		}
		rule.StartTime = model.ClockTime(start)
		rule.EndTime = model.ClockTime(end)
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ReplaceForProperty атомарно заменяет все правила площадки.
// Ждёт незавершённые брони этой площадки: они держат ту же блокировку.
func (r *AvailabilityRuleRepository) ReplaceForProperty(ctx context.Context, propertyID uuid.UUID, rules []model.AvailabilityRule) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockProperty(ctx, tx, propertyID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM availability_rules WHERE property_id = $1`, propertyID); err != nil {
			return fmt.Errorf("delete availability rules: %w", err)
		}

		batch := &pgx.Batch{}
		for _, rule := range rules {
			batch.Queue(`
				INSERT INTO availability_rules (property_id, day_of_week, start_minute, end_minute, is_available)
				VALUES ($1, $2, $3, $4, $5)
			`, propertyID, rule.DayOfWeek, int(rule.StartTime), int(rule.EndTime), rule.IsAvailable)
		}
		if batch.Len() == 0 {
			return nil
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert availability rules: %w", err)
		}
		return nil
	})
}
