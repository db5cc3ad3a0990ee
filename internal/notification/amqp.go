package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Freeeeeet/space_booking/internal/model"
)

// envelope - тело сообщения в брокере, его читает сервис доставки почты
type envelope struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	SentAt   time.Time      `json:"sent_at"`
}

// AMQPSender публикует уведомления в topic exchange с ключом notification.<template>
type AMQPSender struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSender(url, exchange string) (*AMQPSender, error) {
	s := &AMQPSender{url: url, exchange: exchange}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AMQPSender) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	s.conn, s.ch = conn, ch
	return nil
}

func (s *AMQPSender) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s.ch, nil
}

func (s *AMQPSender) Send(ctx context.Context, to, template string, data map[string]any) error {
	body, err := json.Marshal(envelope{To: to, Template: template, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ch, err := s.channel()
	if err != nil {
		return model.ExternalError("rabbitmq", err)
	}

	err = ch.PublishWithContext(ctx, s.exchange, "notification."+template, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return model.ExternalError("rabbitmq", err)
	}
	return nil
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
