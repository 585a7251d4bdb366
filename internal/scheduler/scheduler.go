package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/rmqstream/internal/mq"
	"github.com/shaiso/rmqstream/internal/storage"
)

const defaultSchedule = "@every 30s"

// ReconnectNotifier сообщает о восстановлении соединения с брокером.
// *mq.Connection реализует этот интерфейс.
type ReconnectNotifier interface {
	ReconnectNotify() <-chan struct{}
}

var _ ReconnectNotifier = (*mq.Connection)(nil)

// Maintainer — периодическое восстановление каналов простаивающих буферов.
type Maintainer struct {
	storage    *storage.Storage
	expr       string
	schedule   cron.Schedule
	reconnects ReconnectNotifier
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	stop chan struct{}
	wg   sync.WaitGroup
}

// Config — конфигурация Maintainer.
type Config struct {
	Storage *storage.Storage

	// Schedule — cron выражение или дескриптор (default: @every 30s).
	Schedule string

	// Reconnects — если задан, каждый reconnect запускает внеочередной Tick.
	Reconnects ReconnectNotifier

	Logger *slog.Logger
}

// TickResult — итог одного тика.
type TickResult struct {
	Checked  int
	Repaired int
	Failed   int
}

// New создаёт Maintainer.
func New(cfg Config) (*Maintainer, error) {
	if cfg.Storage == nil {
		return nil, errors.New("scheduler: storage is required")
	}

	expr := cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Maintainer{
		storage:  cfg.Storage,
		expr:     expr,
		schedule:   schedule,
		reconnects: cfg.Reconnects,
		logger:     logger,
	}, nil
}

// Tick выполняет один проход обслуживания.
//
// 1. Забирает все свободные буферы без ожидания
// 2. Восстанавливает каналы, которые можно восстановить
// 3. Возвращает буферы в пул
//
// Ошибка одного буфера не мешает обработке остальных.
func (m *Maintainer) Tick(ctx context.Context) TickResult {
	var idle []*mq.ConsumerBuffer
	for range m.storage.Size() {
		buf, ok := m.storage.PopReadBuffer(ctx, 0)
		if !ok {
			break
		}
		idle = append(idle, buf)
	}
	defer func() {
		for _, buf := range idle {
			m.storage.PushReadBuffer(buf)
		}
	}()

	var res TickResult
	for _, buf := range idle {
		res.Checked++

		if !m.storage.NeedRepair(buf) {
			continue
		}
		if err := m.storage.RepairBuffer(buf); err != nil {
			res.Failed++
			m.logger.Error("failed to repair channel",
				"consumer", buf.ID(),
				"error", err,
			)
			continue
		}
		res.Repaired++
	}

	if res.Repaired > 0 || res.Failed > 0 {
		m.logger.Info("maintenance tick completed",
			"checked", res.Checked,
			"repaired", res.Repaired,
			"failed", res.Failed,
		)
	}
	return res
}

// Start запускает Tick по расписанию и после каждого переподключения.
// Плановые тики не перекрываются.
func (m *Maintainer) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(m.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		m.Tick(ctx)
	}))
	c.Start()
	m.cron = c

	if m.reconnects != nil {
		m.stop = make(chan struct{})
		m.wg.Add(1)
		go m.watchReconnects(ctx, m.reconnects.ReconnectNotify(), m.stop)
	}

	m.logger.Info("maintenance scheduled", "schedule", m.expr)
}

// watchReconnects чинит каналы сразу после восстановления соединения,
// не дожидаясь следующего тика по расписанию.
func (m *Maintainer) watchReconnects(ctx context.Context, notify <-chan struct{}, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			res := m.Tick(ctx)
			m.logger.Info("maintenance after reconnect",
				"checked", res.Checked,
				"repaired", res.Repaired,
				"failed", res.Failed,
			)
		}
	}
}

// Stop останавливает расписание и ждёт текущий тик.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	c, stop := m.cron, m.stop
	m.cron, m.stop = nil, nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	if stop != nil {
		close(stop)
	}
	<-c.Stop().Done()
	m.wg.Wait()
}

// Schedule возвращает расписание.
func (m *Maintainer) Schedule() string {
	return m.expr
}
