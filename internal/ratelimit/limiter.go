// Package ratelimit ограничивает повторные попытки бронирования и оплаты по ключу
// (пользователь, площадка, бронь) скользящим окном.
package ratelimit

import (
	"context"
	"time"
)

// Result - решение лимитера по одному запросу
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // сколько ждать до освобождения места в окне
}

// Limiter считает запросы в скользящем окне.
// Allow возвращает Allowed=false, если в окне уже limit запросов, иначе учитывает запрос.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}
