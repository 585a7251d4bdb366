package mq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel — часть *amqp.Channel, нужная ConsumerBuffer.
// Выделена в интерфейс, чтобы буфер можно было проверять без брокера.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)
