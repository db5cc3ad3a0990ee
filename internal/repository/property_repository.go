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

type PropertyRepository struct {
	*base.Repository
}

func NewPropertyRepository(pool *pgxpool.Pool) *PropertyRepository {
	return &PropertyRepository{Repository: base.NewRepository(pool)}
}

const propertyColumns = `id, host_id, name, hourly_rate, currency, timezone, host_chat_id, created_at, updated_at`

// Create создаёт площадку
func (r *PropertyRepository) Create(ctx context.Context, p *model.Property) error {
	query := `
		INSERT INTO properties (id, host_id, name, hourly_rate, currency, timezone, host_chat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.QueryRow(ctx, query,
		p.ID,
		p.HostID,
		p.Name,
		p.HourlyRate,
		p.Currency,
		p.Timezone,
		p.HostChatID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create property: %w", err)
	}

	return nil
}

// GetByID получает площадку по ID
func (r *PropertyRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`

	p, err := scanProperty(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get property by id: %w", err)
	}

	return p, nil
}

// ListByHost получает площадки хоста
func (r *PropertyRepository) ListByHost(ctx context.Context, hostID string) ([]*model.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE host_id = $1 ORDER BY created_at`

	rows, err := r.Query(ctx, query, hostID)
	if err != nil {
		return nil, fmt.Errorf("list properties by host: %w", err)
	}
	defer rows.Close()

	var properties []*model.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		properties = append(properties, p)
	}

	return properties, rows.Err()
}

func scanProperty(row pgx.Row) (*model.Property, error) {
	var p model.Property
	err := row.Scan(
		&p.ID,
		&p.HostID,
		&p.Name,
		&p.HourlyRate,
		&p.Currency,
		&p.Timezone,
		&p.HostChatID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
