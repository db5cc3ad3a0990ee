package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Freeeeeet/space_booking/internal/model"
)

// messageSender - часть *bot.Bot, нужная для отправки
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSender отправляет уведомления хозяевам площадок в Telegram.
// Адрес имеет вид "tg:<chat_id>".
type TelegramSender struct {
	bot messageSender
}

func NewTelegramSender(b messageSender) *TelegramSender {
	return &TelegramSender{bot: b}
}

// NewTelegramBot создаёт клиента Bot API без обработчиков входящих сообщений
func NewTelegramBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// TelegramAddress формирует адрес для чата
func TelegramAddress(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (s *TelegramSender) Send(ctx context.Context, to, template string, data map[string]any) error {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(to, "tg:"), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", to, err)
	}

	_, err = s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   renderText(template, data),
	})
	if err != nil {
		return model.ExternalError("telegram", err)
	}
	return nil
}

// renderText формирует текст сообщения по шаблону
func renderText(template string, data map[string]any) string {
	var sb strings.Builder

	switch template {
	case TemplateBookingCreated:
		sb.WriteString("🐕 Новое бронирование\n\n")
	case TemplateBookingStatusChanged:
		sb.WriteString("🔔 Статус бронирования изменён\n\n")
	default:
		sb.WriteString("🔔 " + template + "\n\n")
	}

	if v, ok := data["property_name"]; ok {
		fmt.Fprintf(&sb, "🏡 %v\n", v)
	}
	if start, ok := data["start_time"]; ok {
		fmt.Fprintf(&sb, "📅 %v - %v\n", start, data["end_time"])
	}
	if v, ok := data["number_of_dogs"]; ok {
		fmt.Fprintf(&sb, "🐾 Собак: %v\n", v)
	}
	if v, ok := data["dog_names"]; ok {
		if names, ok := v.([]string); ok && len(names) > 0 {
			fmt.Fprintf(&sb, "Клички: %s\n", strings.Join(names, ", "))
		}
	}
	if v, ok := data["previous_status"]; ok {
		fmt.Fprintf(&sb, "Статус: %v → %v\n", v, data["status"])
	} else if v, ok := data["status"]; ok {
		fmt.Fprintf(&sb, "Статус: %v\n", v)
	}
	if v, ok := data["amount"]; ok {
		fmt.Fprintf(&sb, "💳 Сумма: %v %v\n", v, data["currency"])
	}
	if v, ok := data["booking_id"]; ok {
		fmt.Fprintf(&sb, "\nID: %v", v)
	}
	return sb.String()
}
