// Package notification доставляет уведомления о бронированиях.
// Отправка не блокирует бронирование: сбой доставки только логируется.
package notification

import (
	"context"
	"fmt"
	"strings"
)

// Шаблоны уведомлений
const (
	TemplateBookingCreated       = "booking_created"
	TemplateBookingStatusChanged = "booking_status_changed"
)

// Sender доставляет одно уведомление адресату
type Sender interface {
	Send(ctx context.Context, to, template string, data map[string]any) error
}

// Message - уведомление в очереди диспетчера
type Message struct {
	To       string
	Template string
	Data     map[string]any
}

// Router выбирает отправителя по схеме адреса ("tg:123456" -> telegram).
// Адреса без известной схемы уходят отправителю по умолчанию.
type Router struct {
	fallback Sender
	routes   map[string]Sender
}

func NewRouter(fallback Sender) *Router {
	return &Router{fallback: fallback, routes: make(map[string]Sender)}
}

// Route регистрирует отправителя для схемы адреса
func (r *Router) Route(scheme string, s Sender) *Router {
	r.routes[scheme] = s
	return r
}

func (r *Router) Send(ctx context.Context, to, template string, data map[string]any) error {
	if scheme, _, ok := strings.Cut(to, ":"); ok {
		if s, found := r.routes[scheme]; found {
			return s.Send(ctx, to, template, data)
		}
	}
	if r.fallback == nil {
		return fmt.Errorf("no sender for address %q", to)
	}
	return r.fallback.Send(ctx, to, template, data)
}

// NopSender молча отбрасывает уведомления. Используется, когда брокер не настроен.
type NopSender struct{}

func (NopSender) Send(context.Context, string, string, map[string]any) error {
	return nil
}
