package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует сообщения в обменник хранилища.
type Publisher struct {
	conn        *Connection
	logger      *slog.Logger
	exchange    string
	contentType string
}

// PublisherConfig — конфигурация Publisher.
type PublisherConfig struct {
	Exchange string

	// ContentType — MIME тип тела (по формату хранилища).
	ContentType string

	Logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Publisher{
		conn:        conn,
		logger:      logger,
		exchange:    cfg.Exchange,
		contentType: contentType,
	}
}

// Publish публикует тело сообщения с ключом маршрутизации.
// Возвращает сгенерированный message id.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) (string, error) {
	messageID := uuid.New().String()

	err := p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			p.exchange, // exchange
			routingKey, // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType:  p.contentType,
				DeliveryMode: amqp.Persistent,
				MessageId:    messageID,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	p.logger.Debug("published message",
		"exchange", p.exchange,
		"routing_key", routingKey,
		"message_id", messageID,
		"size", len(body),
	)

	return messageID, nil
}

// PublishBatch публикует несколько тел подряд. Останавливается на первой ошибке.
func (p *Publisher) PublishBatch(ctx context.Context, routingKey string, bodies [][]byte) ([]string, error) {
	ids := make([]string, 0, len(bodies))
	for _, body := range bodies {
		id, err := p.Publish(ctx, routingKey, body)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ContentTypeForFormat возвращает MIME тип для формата сообщений.
func ContentTypeForFormat(format string) string {
	switch format {
	case "JSONEachRow":
		return "application/x-ndjson"
	case "CSV":
		return "text/csv"
	case "TSV", "TabSeparated", "LineAsString":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
