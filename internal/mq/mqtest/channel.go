// Package mqtest содержит in-memory реализацию mq.Channel для тестов
// буфера, пула и цикла чтения без живого брокера.
package mqtest

import (
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/rmqstream/internal/mq"
)

// ErrClosed — операция на закрытом канале.
var ErrClosed = errors.New("mqtest: channel closed")

// Ack — зафиксированный ack/nack.
type Ack struct {
	Tag      uint64
	Multiple bool
	Requeue  bool
}

// PublishOption дополняет доставку.
type PublishOption func(*amqp.Delivery)

// WithMessageID задаёт message id доставки.
func WithMessageID(id string) PublishOption {
	return func(d *amqp.Delivery) { d.MessageId = id }
}

// WithRedelivered помечает доставку как повторную.
func WithRedelivered() PublishOption {
	return func(d *amqp.Delivery) { d.Redelivered = true }
}

// Channel — фейковый AMQP канал.
type Channel struct {
	mu         sync.Mutex
	closed     bool
	nextTag    uint64
	deliveries map[string]chan amqp.Delivery
	notify     []chan *amqp.Error

	acks  []Ack
	nacks []Ack
	qos   int

	// Ошибки, которые вернут соответствующие методы.
	QosErr     error
	ConsumeErr error
	AckErr     error
}

var _ mq.Channel = (*Channel)(nil)

// NewChannel создаёт открытый канал.
func NewChannel() *Channel {
	return &Channel{deliveries: make(map[string]chan amqp.Delivery)}
}

func (c *Channel) queue(name string) chan amqp.Delivery {
	q, ok := c.deliveries[name]
	if !ok {
		q = make(chan amqp.Delivery, 1024)
		c.deliveries[name] = q
	}
	return q
}

func (c *Channel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QosErr != nil {
		return c.QosErr
	}
	c.qos = prefetchCount
	return nil
}

func (c *Channel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.ConsumeErr != nil {
		return nil, c.ConsumeErr
	}
	return c.queue(queue), nil
}

func (c *Channel) Ack(tag uint64, multiple bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.AckErr != nil {
		return c.AckErr
	}
	c.acks = append(c.acks, Ack{Tag: tag, Multiple: multiple})
	return nil
}

func (c *Channel) Nack(tag uint64, multiple, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.nacks = append(c.nacks, Ack{Tag: tag, Multiple: multiple, Requeue: requeue})
	return nil
}

func (c *Channel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.notify = append(c.notify, ch)
	return ch
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Close() error {
	c.shutdown(nil)
	return nil
}

// Break имитирует закрытие канала брокером.
func (c *Channel) Break(reason string) {
	c.shutdown(&amqp.Error{Code: amqp.ChannelError, Reason: reason})
}

func (c *Channel) shutdown(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, n := range c.notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
	for _, q := range c.deliveries {
		close(q)
	}
}

// Deliver кладёт сообщение в очередь queue и возвращает его delivery tag.
// Tag'и монотонно растут в пределах канала.
func (c *Channel) Deliver(queue string, body []byte, opts ...PublishOption) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	c.nextTag++
	d := amqp.Delivery{
		Body:        body,
		DeliveryTag: c.nextTag,
		Exchange:    "test",
		RoutingKey:  queue,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	c.queue(queue) <- d
	return d.DeliveryTag
}

// Acks возвращает зафиксированные ack'и.
func (c *Channel) Acks() []Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ack(nil), c.acks...)
}

// Nacks возвращает зафиксированные nack'и.
func (c *Channel) Nacks() []Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ack(nil), c.nacks...)
}

// Prefetch возвращает выставленный QoS prefetch.
func (c *Channel) Prefetch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qos
}

// Opener — фейковое соединение: каждый OpenChannel создаёт новый Channel.
type Opener struct {
	mu       sync.Mutex
	channels []*Channel
	down     bool
	OpenErr  error
	OnOpen   func(*Channel)
}

// OpenChannel открывает новый фейковый канал.
func (o *Opener) OpenChannel() (mq.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.down {
		return nil, mq.ErrNotConnected
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	ch := NewChannel()
	if o.OnOpen != nil {
		o.OnOpen(ch)
	}
	o.channels = append(o.channels, ch)
	return ch, nil
}

// IsConnected — соединение "живо".
func (o *Opener) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.down
}

// SetDown имитирует падение или восстановление соединения.
func (o *Opener) SetDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

// Channels возвращает все открытые каналы по порядку.
func (o *Opener) Channels() []*Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Channel(nil), o.channels...)
}

// Last возвращает последний открытый канал.
func (o *Opener) Last() *Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.channels) == 0 {
		return nil
	}
	return o.channels[len(o.channels)-1]
}

// WaitFor ждёт выполнения условия до timeout.
func WaitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
