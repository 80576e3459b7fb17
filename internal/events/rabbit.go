package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// RabbitConfig holds broker connection settings.
type RabbitConfig struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

const maxDialDelay = 30 * time.Second

type rabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewRabbit connects to RabbitMQ with retries, declares a durable topic
// exchange and returns a publisher bound to it.
func NewRabbit(ctx context.Context, cfg RabbitConfig, log *slog.Logger) (Publisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "halodesk.events"
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	conn, err := dialWithRetry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &rabbitPublisher{conn: conn, exchange: cfg.Exchange, log: log}, nil
}

func dialWithRetry(ctx context.Context, cfg RabbitConfig, log *slog.Logger) (*amqp091.Connection, error) {
	var lastErr error
	delay := cfg.RetryDelay

	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				log.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		log.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDialDelay {
			delay = maxDialDelay
		}
	}

	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", cfg.RetryAttempts, lastErr)
}

func (r *rabbitPublisher) Publish(ctx context.Context, key string, data any) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Kind:       key,
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.Meta.ID,
			Timestamp:    env.Meta.OccurredAt,
			Body:         body,
		},
	)
	if err == nil {
		r.log.Debug("event published", slog.String("key", key))
	}
	return err
}

func (r *rabbitPublisher) Close() error { return r.conn.Close() }
