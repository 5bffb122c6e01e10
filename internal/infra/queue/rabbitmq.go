package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"feedtrace/internal/domain"
)

// RabbitAlarmSink публикует события сбоев в exchange RabbitMQ.
type RabbitAlarmSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
}

var _ domain.AlarmSink = (*RabbitAlarmSink)(nil)

// NewRabbitAlarmSink подключается к RabbitMQ и объявляет exchange.
func NewRabbitAlarmSink(amqpURL, exchange string, logger zerolog.Logger) (*RabbitAlarmSink, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление exchange: %w", err)
	}
	return &RabbitAlarmSink{conn: conn, ch: ch, exchange: exchange, log: logger}, nil
}

// Publish отправляет событие сбоя.
func (s *RabbitAlarmSink) Publish(ctx context.Context, alarm domain.Alarm) error {
	payload, err := json.Marshal(alarm)
	if err != nil {
		return fmt.Errorf("marshal alarm: %w", err)
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("публикация alarm: %w", err)
	}
	s.log.Debug().Str("component", alarm.Component).Msg("alarm опубликован")
	return nil
}

// Close закрывает канал и соединение.
func (s *RabbitAlarmSink) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
