package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/rmqstream/internal/storage"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

// defaultMaxWait — сколько ждать свободный буфер, если не задано.
const defaultMaxWait = 5 * time.Second

// Publisher публикует тела сообщений в обменник хранилища.
type Publisher interface {
	PublishBatch(ctx context.Context, routingKey string, bodies [][]byte) ([]string, error)
}

// PumpStatus — состояние фоновой перекачки в sink.
type PumpStatus interface {
	Running() bool
	BreakerState() string
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	storage   *storage.Storage
	publisher Publisher
	pump      PumpStatus
	gatherer  prometheus.Gatherer
	metrics   *telemetry.Metrics
	maxWait   time.Duration
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Storage *storage.Storage

	// Publisher — nil отключает POST /api/v1/publish.
	Publisher Publisher

	// Pump — nil, если sink не настроен.
	Pump PumpStatus

	// Gatherer — источник для /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Metrics *telemetry.Metrics

	// MaxWait — сколько чтение ждёт свободный буфер (default: 5s).
	MaxWait time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}

	return &Handler{
		storage:   cfg.Storage,
		publisher: cfg.Publisher,
		pump:      cfg.Pump,
		gatherer:  gatherer,
		metrics:   cfg.Metrics,
		maxWait:   maxWait,
		logger:    logger,
	}
}
