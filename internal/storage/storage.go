package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/rmqstream/internal/block"
	"github.com/shaiso/rmqstream/internal/format"
	"github.com/shaiso/rmqstream/internal/mq"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

// Opener открывает каналы на живом соединении.
// *mq.Connection реализует этот интерфейс.
type Opener interface {
	OpenChannel() (mq.Channel, error)
	IsConnected() bool
}

var _ Opener = (*mq.Connection)(nil)

// Config — конфигурация Storage.
type Config struct {
	// Exchange — имя обменника, попадает в виртуальную колонку _exchange_name.
	Exchange string

	// Format — имя формата сообщений.
	Format string

	// Settings — настройки парсера.
	Settings format.Settings

	// Registry — реестр форматов (default: встроенные форматы).
	Registry *format.Registry

	// Header — схема колонок сообщений.
	Header block.Header

	// Queues — очереди, на которые подписывается каждый буфер.
	Queues []string

	// NumConsumers — число буферов (default: 1).
	NumConsumers int

	QueueSize int
	Prefetch  int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Storage — пул буферов потребителей одного обменника.
//
// Свободные буферы лежат в буферизованном канале: PopReadBuffer забирает
// буфер в эксклюзивное владение, PushReadBuffer возвращает. Пока буфер
// на руках, никто другой его канал не трогает.
type Storage struct {
	opener  Opener
	logger  *slog.Logger
	metrics *telemetry.Metrics

	exchange string
	format   string
	header   block.Header
	parser   format.Factory
	settings format.Settings

	buffers []*mq.ConsumerBuffer
	free    chan *mq.ConsumerBuffer

	mu     sync.Mutex
	closed bool
}

// New создаёт пул. Каналы открываются в Start.
func New(opener Opener, cfg Config) (*Storage, error) {
	if opener == nil {
		return nil, errors.New("storage: opener is required")
	}
	if err := cfg.Header.Validate(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if len(cfg.Queues) == 0 {
		return nil, errors.New("storage: at least one queue is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = format.NewRegistry()
	}
	parser, err := registry.Get(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	// Несовместимость формата и заголовка видна до первого сообщения
	if _, err := parser(bytes.NewReader(nil), cfg.Header, cfg.Settings); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := max(cfg.NumConsumers, 1)

	s := &Storage{
		opener:   opener,
		logger:   logger,
		metrics:  cfg.Metrics,
		exchange: cfg.Exchange,
		format:   cfg.Format,
		header:   cfg.Header,
		parser:   parser,
		settings: cfg.Settings,
		buffers:  make([]*mq.ConsumerBuffer, n),
		free:     make(chan *mq.ConsumerBuffer, n),
	}

	for i := range s.buffers {
		buf := mq.NewConsumerBuffer(mq.BufferConfig{
			ID:        i,
			Queues:    cfg.Queues,
			QueueSize: cfg.QueueSize,
			Prefetch:  cfg.Prefetch,
			Logger:    logger,
		})
		s.buffers[i] = buf
		s.free <- buf
	}
	s.metrics.SetBuffersAvailable(n)

	return s, nil
}

// Start подписывает все буферы. Буфер, который не удалось подписать,
// остаётся в пуле с непригодным каналом и будет восстановлен позже.
// Возвращает ошибку, только если не подписан ни один буфер.
func (s *Storage) Start() error {
	var errs []error
	for _, buf := range s.buffers {
		if err := s.subscribe(buf); err != nil {
			s.logger.Warn("failed to subscribe consumer", "consumer", buf.ID(), "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == len(s.buffers) {
		return fmt.Errorf("storage: no consumer subscribed: %w", errors.Join(errs...))
	}

	s.logger.Info("storage started",
		"exchange", s.exchange,
		"consumers", len(s.buffers),
		"failed", len(errs),
	)
	return nil
}

func (s *Storage) subscribe(buf *mq.ConsumerBuffer) error {
	ch, err := s.opener.OpenChannel()
	if err != nil {
		buf.MarkChannelError()
		return fmt.Errorf("open channel: %w", err)
	}
	buf.UpdateChannel(ch)
	return buf.SetupChannel()
}

// PopReadBuffer забирает свободный буфер, ожидая не дольше timeout.
// При timeout <= 0 не ждёт. Возвращает false, если буфер не получен.
func (s *Storage) PopReadBuffer(ctx context.Context, timeout time.Duration) (*mq.ConsumerBuffer, bool) {
	if s.isClosed() {
		return nil, false
	}

	select {
	case buf := <-s.free:
		s.metrics.SetBuffersAvailable(len(s.free))
		return buf, true
	default:
	}

	if timeout <= 0 {
		s.metrics.RecordBufferTimeout()
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case buf := <-s.free:
		s.metrics.SetBuffersAvailable(len(s.free))
		return buf, true
	case <-timer.C:
		s.metrics.RecordBufferTimeout()
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// PushReadBuffer возвращает буфер в пул.
func (s *Storage) PushReadBuffer(buf *mq.ConsumerBuffer) {
	if buf == nil {
		return
	}
	buf.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// Ёмкость равна числу буферов, поэтому отправка не блокируется
	s.free <- buf
	s.metrics.SetBuffersAvailable(len(s.free))
}

// ConnectionRunning — соединение с брокером живо.
func (s *Storage) ConnectionRunning() bool {
	return s.opener.IsConnected()
}

// UpdateChannel открывает новый канал на живом соединении и отдаёт его буферу.
// Вызывать только держателю буфера.
func (s *Storage) UpdateChannel(buf *mq.ConsumerBuffer) error {
	ch, err := s.opener.OpenChannel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	buf.UpdateChannel(ch)
	return nil
}

// NeedRepair — канал буфера неисправен, но его можно восстановить сейчас.
func (s *Storage) NeedRepair(buf *mq.ConsumerBuffer) bool {
	return !buf.ChannelUsable() && buf.ChannelAllowed() && s.ConnectionRunning()
}

// RepairBuffer заменяет неисправный канал буфера новым и подписывается заново.
// Неподтверждённая позиция старого канала сбрасывается: брокер сам вернёт
// эти сообщения в очередь.
func (s *Storage) RepairBuffer(buf *mq.ConsumerBuffer) error {
	buf.UpdateAckTracker(mq.AckRecord{})

	if err := s.UpdateChannel(buf); err != nil {
		s.metrics.RecordRepair(false)
		return err
	}
	if err := buf.SetupChannel(); err != nil {
		s.metrics.RecordRepair(false)
		return fmt.Errorf("setup channel: %w", err)
	}

	s.metrics.RecordRepair(true)
	s.logger.Info("channel repaired", "consumer", buf.ID(), "channel_id", buf.ChannelID())
	return nil
}

// Exchange возвращает имя обменника.
func (s *Storage) Exchange() string {
	return s.exchange
}

// Format возвращает имя формата сообщений.
func (s *Storage) Format() string {
	return s.format
}

// Header возвращает схему колонок сообщений.
func (s *Storage) Header() block.Header {
	return s.header
}

// NewParser создаёт парсер формата хранилища поверх тела одного сообщения.
func (s *Storage) NewParser(r io.Reader) (format.InputFormat, error) {
	return s.parser(r, s.header, s.settings)
}

// Size возвращает число буферов.
func (s *Storage) Size() int {
	return len(s.buffers)
}

// Available возвращает число свободных буферов.
func (s *Storage) Available() int {
	return len(s.free)
}

// Buffers возвращает состояние всех буферов.
func (s *Storage) Buffers() []mq.BufferState {
	states := make([]mq.BufferState, len(s.buffers))
	for i, buf := range s.buffers {
		states[i] = buf.State()
	}
	return states
}

// Status — сводка для status API.
type Status struct {
	Exchange          string           `json:"exchange"`
	Format            string           `json:"format"`
	Columns           block.Header     `json:"columns"`
	ConnectionRunning bool             `json:"connection_running"`
	Size              int              `json:"size"`
	Available         int              `json:"available"`
	Buffers           []mq.BufferState `json:"buffers"`
}

// Status возвращает сводку пула.
func (s *Storage) Status() Status {
	return Status{
		Exchange:          s.exchange,
		Format:            s.format,
		Columns:           s.header,
		ConnectionRunning: s.ConnectionRunning(),
		Size:              s.Size(),
		Available:         s.Available(),
		Buffers:           s.Buffers(),
	}
}

func (s *Storage) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close останавливает все буферы.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, buf := range s.buffers {
		if err := buf.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer %d: %w", buf.ID(), err))
		}
	}
	return errors.Join(errs...)
}
