package model

import (
	"time"

	"github.com/google/uuid"
)

type Property struct {
	ID         uuid.UUID `json:"id"`
	HostID     string    `json:"host_id"`
	Name       string    `json:"name"`
	HourlyRate int64     `json:"hourly_rate"` // в минорных единицах
	Currency   string    `json:"currency"`
	Timezone   string    `json:"timezone"`
	HostChatID int64     `json:"host_chat_id"` // Telegram чат хоста, 0 - не подключён
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Location возвращает часовой пояс площадки, UTC если не задан или не распознан
func (p *Property) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PriceFor считает стоимость брони: ставка за час × длительность, округление до минорной единицы
func (p *Property) PriceFor(start, end time.Time) int64 {
	minutes := int64(end.Sub(start) / time.Minute)
	if minutes <= 0 {
		return 0
	}
	return (p.HourlyRate*minutes + 30) / 60
}
