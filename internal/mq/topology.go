package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeType — тип обменника.
type ExchangeType string

// Типы обменников.
const (
	ExchangeDefault ExchangeType = "default"
	ExchangeDirect  ExchangeType = "direct"
	ExchangeFanout  ExchangeType = "fanout"
	ExchangeTopic   ExchangeType = "topic"
	ExchangeHeaders ExchangeType = "headers"
)

// Kind возвращает AMQP-тип обменника. "default" ведёт себя как fanout,
// если ключи маршрутизации не заданы, и как direct — если заданы.
func (t ExchangeType) Kind(routingKeys []string) (string, error) {
	switch t {
	case ExchangeDefault, "":
		if len(routingKeys) == 0 {
			return amqp.ExchangeFanout, nil
		}
		return amqp.ExchangeDirect, nil
	case ExchangeDirect:
		return amqp.ExchangeDirect, nil
	case ExchangeFanout:
		return amqp.ExchangeFanout, nil
	case ExchangeTopic:
		return amqp.ExchangeTopic, nil
	case ExchangeHeaders:
		return amqp.ExchangeHeaders, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExchangeType, t)
	}
}

// Topology — обменник, очереди и привязки для потребления.
type Topology struct {
	Exchange     string
	ExchangeType ExchangeType
	RoutingKeys  []string

	// QueueBase — префикс имён очередей: <base>_<i>.
	QueueBase string
	NumQueues int

	// Persistent — очереди и обменник переживают рестарт брокера.
	Persistent bool

	// QueueArgs — дополнительные аргументы очередей (x-max-length и т.п.).
	QueueArgs amqp.Table
}

// QueueNames возвращает имена очередей.
func (t Topology) QueueNames() []string {
	n := max(t.NumQueues, 1)
	base := t.QueueBase
	if base == "" {
		base = t.Exchange
	}

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", base, i)
	}
	return names
}

// bindingKeys возвращает ключи привязки. Для fanout ключ не важен.
func (t Topology) bindingKeys() []string {
	if len(t.RoutingKeys) == 0 {
		return []string{""}
	}
	return t.RoutingKeys
}

// Setup объявляет обменник, очереди и привязки.
func (t Topology) Setup(ctx context.Context, conn *Connection) error {
	kind, err := t.ExchangeType.Kind(t.RoutingKeys)
	if err != nil {
		return err
	}

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Обменник
		err := ch.ExchangeDeclare(
			t.Exchange,   // name
			kind,         // type
			t.Persistent, // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
		}

		// 2. Очереди и привязки
		for _, queue := range t.QueueNames() {
			_, err := ch.QueueDeclare(
				queue,        // name
				t.Persistent, // durable
				false,        // delete when unused
				false,        // exclusive
				false,        // no-wait
				t.QueueArgs,  // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", queue, err)
			}

			for _, key := range t.bindingKeys() {
				if err := ch.QueueBind(queue, key, t.Exchange, false, nil); err != nil {
					return fmt.Errorf("bind queue %s to %s with %q: %w", queue, t.Exchange, key, err)
				}
			}
		}

		return nil
	})
}

// Describe возвращает описание топологии для логирования.
func (t Topology) Describe() string {
	kind, _ := t.ExchangeType.Kind(t.RoutingKeys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", t.Exchange, kind)
	for _, q := range t.QueueNames() {
		fmt.Fprintf(&b, "  └── %s [routing: %s]\n", q, strings.Join(t.RoutingKeys, ","))
	}
	return b.String()
}
