package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shaiso/rmqstream/internal/block"
	"github.com/shaiso/rmqstream/internal/source"
	"github.com/shaiso/rmqstream/internal/storage"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

// Default configuration values.
const (
	defaultFlushInterval    = 7500 * time.Millisecond
	defaultMaxWait          = 5 * time.Second
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
)

// ErrSinkUnavailable — sink отключён circuit breaker'ом, чтение пропущено.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Sink принимает прочитанные блоки.
type Sink interface {
	Write(ctx context.Context, b *block.Block) (int64, error)
}

// Config — конфигурация Pump.
type Config struct {
	Storage *storage.Storage
	Sink    Sink

	// Workers — число параллельных читателей (default: размер пула).
	Workers int

	// MaxWait — сколько ждать свободный буфер (default: 5s).
	MaxWait time.Duration

	// FlushInterval — бюджет одного чтения и пауза после пустого
	// чтения (default: 7.5s).
	FlushInterval time.Duration

	// MaxBlockRows — сколько строк набирать в один блок (0 — без ограничения).
	MaxBlockRows int

	// FailureThreshold — после скольких ошибок sink подряд breaker
	// размыкается (default: 5).
	FailureThreshold uint32

	// ResetTimeout — через сколько разомкнутый breaker пробует снова
	// (default: 30s).
	ResetTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Pump непрерывно переносит строки из хранилища в sink.
//
// Каждая итерация — один ReadStream: блок пишется в sink, и только после
// успешной записи прочитанное подтверждается. Если запись не удалась,
// сообщения возвращаются в очередь и будут доставлены снова.
type Pump struct {
	storage *storage.Storage
	sink    Sink
	breaker *gobreaker.CircuitBreaker

	workers       int
	maxWait       time.Duration
	flushInterval time.Duration
	maxBlockRows  int

	logger  *slog.Logger
	metrics *telemetry.Metrics

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// New создаёт Pump.
func New(cfg Config) (*Pump, error) {
	if cfg.Storage == nil {
		return nil, errors.New("stream: storage is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("stream: sink is required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = cfg.Storage.Size()
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = defaultResetTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sink",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("sink circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Pump{
		storage:       cfg.Storage,
		sink:          cfg.Sink,
		breaker:       breaker,
		workers:       workers,
		maxWait:       maxWait,
		flushInterval: flushInterval,
		maxBlockRows:  cfg.MaxBlockRows,
		logger:        logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Start запускает читателей. Возвращает сразу.
func (p *Pump) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	p.logger.Info("starting pump",
		"workers", p.workers,
		"flush_interval", p.flushInterval,
		"max_block_rows", p.maxBlockRows,
	)

	for i := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, p.logger.With("worker", i))
		}()
	}
}

// Stop останавливает читателей и ждёт их завершения.
func (p *Pump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancelFunc
	p.mu.Unlock()

	p.logger.Info("stopping pump...")
	cancel()
	p.wg.Wait()
	p.logger.Info("pump stopped")
}

// Running — читатели запущены.
func (p *Pump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// BreakerState возвращает состояние circuit breaker'а sink.
func (p *Pump) BreakerState() string {
	return p.breaker.State().String()
}

func (p *Pump) loop(ctx context.Context, logger *slog.Logger) {
	for {
		rows, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, ErrSinkUnavailable) {
			logger.Error("stream iteration failed", "error", err)
		}

		if rows > 0 {
			continue
		}

		// Нечего было читать или sink недоступен: ждём
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.flushInterval):
		}
	}
}

// RunOnce выполняет одну итерацию: чтение, запись в sink, подтверждение.
// Возвращает число записанных строк.
func (p *Pump) RunOnce(ctx context.Context) (int64, error) {
	if p.breaker.State() == gobreaker.StateOpen {
		return 0, ErrSinkUnavailable
	}

	rs := source.New(source.Config{
		Storage:    p.storage,
		MaxWait:    p.maxWait,
		AckOnClose: true,
		TimeLimit:  source.All(source.Deadline(p.flushInterval), source.MaxRows(p.maxBlockRows)),
		Logger:     p.logger,
		Metrics:    p.metrics,
	})
	defer rs.Close()
	defer p.repair(rs)

	res, err := rs.Read(ctx)
	if err != nil {
		return 0, err
	}

	switch res.Kind {
	case source.ResultNoBuffer:
		return 0, nil
	case source.ResultEmpty:
		rs.ReadSuffix()
		return 0, nil
	}

	written, err := p.write(ctx, res.Block)
	if err != nil {
		if rerr := rs.Reject(); rerr != nil {
			p.logger.Warn("failed to requeue unwritten messages", "error", rerr)
		}
		return 0, err
	}

	rs.ReadSuffix()
	return written, nil
}

func (p *Pump) write(ctx context.Context, b *block.Block) (int64, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.sink.Write(ctx, b)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	written, _ := out.(int64)
	p.metrics.RecordSink(written, err)
	if err != nil {
		return 0, fmt.Errorf("write block: %w", err)
	}

	p.logger.Debug("block written", "rows", written)
	return written, nil
}

// repair восстанавливает канал буфера, пока поток ещё им владеет.
func (p *Pump) repair(rs *source.ReadStream) {
	if !rs.NeedManualChannelUpdate() {
		return
	}
	if err := rs.UpdateChannel(); err != nil {
		p.logger.Warn("channel repair failed", "error", err)
	}
}
