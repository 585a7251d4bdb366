package mq

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/rmqstream/internal/telemetry"
)

// Default buffer values.
const (
	defaultQueueSize = 100000
	defaultPrefetch  = 1000
)

// Message — сообщение, полученное из канала, вместе с происхождением.
type Message struct {
	Body        []byte
	MessageID   string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Timestamp   time.Time

	// ChannelID — канал, на котором сообщение получено.
	// Используется для подтверждения: tag с другого канала не ack'ается.
	ChannelID string
}

// BufferConfig — конфигурация ConsumerBuffer.
type BufferConfig struct {
	// ID — номер потребителя внутри хранилища.
	ID int

	// Queues — очереди, на которые подписывается буфер.
	Queues []string

	// QueueSize — ёмкость очереди полученных сообщений (default: 100000).
	QueueSize int

	// Prefetch — QoS prefetch count для канала (default: 1000).
	Prefetch int

	Logger *slog.Logger
}

// BufferState — снимок состояния буфера для status API.
type BufferState struct {
	ID        int    `json:"id"`
	ChannelID string `json:"channel_id"`
	Usable    bool   `json:"usable"`
	Allowed   bool   `json:"allowed"`
	Queued    int    `json:"queued"`
}

// ConsumerBuffer владеет одним AMQP каналом и ограниченной очередью
// полученных сообщений.
//
// Очередь — единственная точка синхронизации между горутиной клиента
// (пишет доставки) и читающей горутиной. Методы чтения (EOF, Message,
// AllowNext, UpdateAckTracker, AckMessages, UpdateChannel, SetupChannel)
// вызывает только тот, кто сейчас держит буфер, полученный из пула.
type ConsumerBuffer struct {
	id       int
	queues   []string
	prefetch int
	logger   *slog.Logger

	// Канал и его идентификатор защищены chMu: их читает status API.
	chMu           sync.RWMutex
	channel        Channel
	channelID      string
	channelIDBase  string
	channelCounter int
	consumerTag    string

	channelError     atomic.Bool
	waitSubscription atomic.Bool
	stopped          atomic.Bool

	received chan Message
	done     chan struct{}
	stopOnce sync.Once

	// Состояние читателя
	current     *Message
	currentRead bool
	allowed     bool

	tracker AckTracker
}

// NewConsumerBuffer создаёт буфер без канала.
// Канал передаётся через UpdateChannel, подписка — через SetupChannel.
func NewConsumerBuffer(cfg BufferConfig) *ConsumerBuffer {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := uuid.NewString()[:8]

	b := &ConsumerBuffer{
		id:            cfg.ID,
		queues:        cfg.Queues,
		prefetch:      prefetch,
		logger:        telemetry.WithConsumer(logger, cfg.ID),
		channelIDBase: fmt.Sprintf("%s%d", base, cfg.ID),
		consumerTag:   fmt.Sprintf("rmqstream-%s-%d", base, cfg.ID),
		received:      make(chan Message, queueSize),
		done:          make(chan struct{}),
		allowed:       true,
	}
	b.channelError.Store(true)
	return b
}

// ID возвращает номер потребителя.
func (b *ConsumerBuffer) ID() int {
	return b.id
}

// UpdateChannel подменяет канал. Старый канал закрывается.
// Вызывать только когда !ChannelUsable() && ChannelAllowed().
func (b *ConsumerBuffer) UpdateChannel(ch Channel) {
	b.chMu.Lock()
	old := b.channel
	b.channel = ch
	b.chMu.Unlock()

	if old != nil && old != ch && !old.IsClosed() {
		if err := old.Close(); err != nil {
			b.logger.Debug("close replaced channel", "error", err)
		}
	}
}

// Channel возвращает текущий канал.
func (b *ConsumerBuffer) Channel() Channel {
	b.chMu.RLock()
	defer b.chMu.RUnlock()
	return b.channel
}

// ChannelID возвращает идентификатор текущего канала.
// Меняется при каждом SetupChannel.
func (b *ConsumerBuffer) ChannelID() string {
	b.chMu.RLock()
	defer b.chMu.RUnlock()
	return b.channelID
}

// SetupChannel подписывает текущий канал на очереди буфера.
//
// Каждая подписка получает новый channel id, поэтому позиции,
// прочитанные со старого канала, больше не будут подтверждены.
func (b *ConsumerBuffer) SetupChannel() error {
	if b.stopped.Load() {
		return ErrBufferStopped
	}

	b.chMu.Lock()
	ch := b.channel
	if ch == nil {
		b.chMu.Unlock()
		return ErrNoChannel
	}
	b.channelCounter++
	channelID := fmt.Sprintf("%s_%d", b.channelIDBase, b.channelCounter)
	b.channelID = channelID
	b.chMu.Unlock()

	b.waitSubscription.Store(true)
	defer b.waitSubscription.Store(false)

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		b.channelError.Store(true)
		return fmt.Errorf("set qos: %w", err)
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	for _, queue := range b.queues {
		deliveries, err := ch.Consume(
			queue,
			b.consumerTag+"-"+queue,
			false, // auto-ack (ack вручную)
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			b.channelError.Store(true)
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		go b.forward(channelID, deliveries)
	}

	logger := telemetry.WithChannelID(b.logger, channelID)

	b.channelError.Store(false)
	go b.watchChannel(channelID, closeCh, logger)

	logger.Info("consumer subscribed", "queues", b.queues)

	return nil
}

// forward перекладывает доставки клиента в ограниченную очередь буфера.
// Блокируется, если очередь полна: так работает backpressure вместе с QoS.
func (b *ConsumerBuffer) forward(channelID string, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		msg := Message{
			Body:        d.Body,
			MessageID:   d.MessageId,
			DeliveryTag: d.DeliveryTag,
			Redelivered: d.Redelivered,
			Exchange:    d.Exchange,
			RoutingKey:  d.RoutingKey,
			Timestamp:   d.Timestamp,
			ChannelID:   channelID,
		}

		select {
		case b.received <- msg:
		case <-b.done:
			return
		}
	}
}

// watchChannel помечает канал неисправным, когда брокер его закрывает.
func (b *ConsumerBuffer) watchChannel(channelID string, closeCh <-chan *amqp.Error, logger *slog.Logger) {
	select {
	case err, ok := <-closeCh:
		// Проверка и пометка под chMu: SetupChannel меняет id под тем же мьютексом
		b.chMu.RLock()
		current := b.channelID == channelID
		if current {
			b.channelError.Store(true)
		}
		b.chMu.RUnlock()

		if current && ok && err != nil {
			logger.Warn("channel closed by broker",
				"code", err.Code,
				"reason", err.Reason,
			)
		}
	case <-b.done:
	}
}

// ChannelUsable — канал открыт и не в процессе восстановления.
func (b *ConsumerBuffer) ChannelUsable() bool {
	if b.channelError.Load() {
		return false
	}
	ch := b.Channel()
	return ch != nil && !ch.IsClosed()
}

// ChannelAllowed — канал можно восстанавливать: нет подписки в процессе
// и буфер не остановлен.
func (b *ConsumerBuffer) ChannelAllowed() bool {
	return !b.waitSubscription.Load() && !b.stopped.Load()
}

// MarkChannelError помечает канал неисправным.
func (b *ConsumerBuffer) MarkChannelError() {
	b.channelError.Store(true)
}

// QueueEmpty — сейчас в очереди нет сообщений (позже могут появиться).
func (b *ConsumerBuffer) QueueEmpty() bool {
	return len(b.received) == 0
}

// Queued возвращает количество сообщений в очереди.
func (b *ConsumerBuffer) Queued() int {
	return len(b.received)
}

// EOF сообщает, что читать больше нечего: текущее сообщение уже отдано,
// а следующее взять нельзя (не было AllowNext, очередь пуста или буфер
// остановлен). Если следующее сообщение доступно, EOF делает его текущим.
func (b *ConsumerBuffer) EOF() bool {
	if b.current != nil && !b.currentRead {
		return false
	}
	return !b.next()
}

func (b *ConsumerBuffer) next() bool {
	if b.stopped.Load() || !b.allowed {
		return false
	}

	select {
	case msg := <-b.received:
		b.current = &msg
		b.currentRead = false
		b.allowed = false
		return true
	default:
		return false
	}
}

// Message отдаёт текущее сообщение. После вызова сообщение считается
// прочитанным, и следующий EOF попробует взять новое.
func (b *ConsumerBuffer) Message() (Message, bool) {
	if b.current == nil || b.currentRead {
		return Message{}, false
	}
	b.currentRead = true
	return *b.current, true
}

// AllowNext разрешает взять следующее сообщение.
func (b *ConsumerBuffer) AllowNext() {
	b.allowed = true
}

// UpdateAckTracker запоминает позицию прочитанного сообщения.
// Пустая запись сбрасывает трекер перед заменой канала.
// Пока канал неисправен, новые позиции не запоминаются.
func (b *ConsumerBuffer) UpdateAckTracker(rec AckRecord) {
	if !rec.IsZero() && b.channelError.Load() {
		return
	}
	b.tracker.Update(rec)
}

// PendingAck возвращает позицию, ожидающую подтверждения.
func (b *ConsumerBuffer) PendingAck() (AckRecord, bool) {
	return b.tracker.Pending()
}

// AckMessages подтверждает все прочитанные сообщения текущего канала.
// Возвращает false, если канал непригоден или ack не прошёл.
func (b *ConsumerBuffer) AckMessages() (FlushResult, bool) {
	if !b.ChannelUsable() {
		return FlushNothing, false
	}

	b.chMu.RLock()
	ch, channelID := b.channel, b.channelID
	b.chMu.RUnlock()

	res, err := b.tracker.Flush(channelID, ch.Ack)
	if err != nil {
		telemetry.WithChannelID(b.logger, channelID).Error("failed to ack messages", "error", err)
		b.channelError.Store(true)
		return FlushNothing, false
	}

	if res == FlushStale {
		telemetry.WithChannelID(b.logger, channelID).Debug("dropped ack from replaced channel")
	}
	return res, true
}

// RejectCurrent возвращает в очередь текущее сообщение и все прочитанные,
// но неподтверждённые. Строки этих сообщений не дошли до потребителя,
// поэтому их нельзя подтверждать.
func (b *ConsumerBuffer) RejectCurrent() error {
	if b.current == nil {
		return nil
	}
	return b.reject([]AckRecord{{DeliveryTag: b.current.DeliveryTag, ChannelID: b.current.ChannelID}})
}

// RejectPending возвращает в очередь всё, что прочитано, но не подтверждено.
func (b *ConsumerBuffer) RejectPending() error {
	return b.reject(nil)
}

func (b *ConsumerBuffer) reject(extra []AckRecord) error {
	b.chMu.RLock()
	ch, channelID := b.channel, b.channelID
	b.chMu.RUnlock()

	if ch == nil || !b.ChannelUsable() {
		// Канал неисправен: брокер сам вернёт сообщения в очередь
		return nil
	}

	_, err := b.tracker.Reject(channelID, extra, func(tag uint64, multiple bool) error {
		return ch.Nack(tag, multiple, true)
	})
	if err != nil {
		b.channelError.Store(true)
		return fmt.Errorf("nack: %w", err)
	}
	return nil
}

// Reset готовит буфер к следующему читателю.
func (b *ConsumerBuffer) Reset() {
	b.allowed = true
	if b.current != nil {
		b.currentRead = true
	}
}

// State возвращает снимок состояния.
func (b *ConsumerBuffer) State() BufferState {
	return BufferState{
		ID:        b.id,
		ChannelID: b.ChannelID(),
		Usable:    b.ChannelUsable(),
		Allowed:   b.ChannelAllowed(),
		Queued:    b.Queued(),
	}
}

// Close останавливает буфер и закрывает канал.
func (b *ConsumerBuffer) Close() error {
	var err error
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.done)

		ch := b.Channel()
		if ch != nil && !ch.IsClosed() {
			err = ch.Close()
		}
	})
	return err
}
