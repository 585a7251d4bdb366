// rmqstream-ingest — сервер приёма: читает сообщения из очередей
// RabbitMQ пулом буферов, материализует строки и пишет их в Postgres.
//
// Конфигурация: YAML-файл из RMQSTREAM_CONFIG и переменные окружения
// (RABBITMQ_URL, RMQ_EXCHANGE, RMQ_FORMAT, DB_URL, ...).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/rmqstream/internal/api"
	"github.com/shaiso/rmqstream/internal/block"
	"github.com/shaiso/rmqstream/internal/config"
	"github.com/shaiso/rmqstream/internal/format"
	"github.com/shaiso/rmqstream/internal/mq"
	"github.com/shaiso/rmqstream/internal/repo"
	"github.com/shaiso/rmqstream/internal/scheduler"
	"github.com/shaiso/rmqstream/internal/source"
	"github.com/shaiso/rmqstream/internal/storage"
	"github.com/shaiso/rmqstream/internal/stream"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Логгер ещё не настроен
		telemetry.SetupLogger("", "").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting rmqstream-ingest",
		"exchange", cfg.RabbitMQ.Exchange,
		"format", cfg.Consumer.Format,
		"consumers", cfg.Consumer.NumConsumers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики в собственном реестре
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	// Подключаемся к RabbitMQ
	conn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:    cfg.RabbitMQ.URL,
		Vhost:  cfg.RabbitMQ.Vhost,
		Name:   "rmqstream-ingest",
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected to RabbitMQ")

	topology := cfg.Topology()
	if !cfg.RabbitMQ.SkipTopology {
		if err := topology.Setup(ctx, conn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}
		logger.Info("topology ready", "topology", topology.Describe())
	}

	// Пул буферов
	store, err := storage.New(conn, storage.Config{
		Exchange: cfg.RabbitMQ.Exchange,
		Format:   cfg.Consumer.Format,
		Settings: format.Settings{
			MaxBlockSize:   cfg.Consumer.MaxBlockSize,
			SkipBrokenRows: cfg.Consumer.SkipBrokenRows,
			CSVDelimiter:   cfg.Consumer.Delimiter(),
		},
		Header:       cfg.Header(),
		Queues:       topology.QueueNames(),
		NumConsumers: cfg.Consumer.NumConsumers,
		QueueSize:    cfg.Consumer.QueueSize,
		Prefetch:     cfg.Consumer.Prefetch,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Start(); err != nil {
		logger.Error("failed to start consumers", "error", err)
		os.Exit(1)
	}

	// Sink в Postgres (опционально)
	var pump *stream.Pump
	if cfg.Sink.DatabaseURL != "" {
		pool, err := repo.NewPool(ctx, cfg.Sink.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("connected to database")

		sink, err := repo.NewBlockSink(pool, cfg.Sink.Table)
		if err != nil {
			logger.Error("invalid sink", "error", err)
			os.Exit(1)
		}
		if cfg.Sink.CreateTable {
			header := append(append(block.Header{}, cfg.Header()...), source.VirtualHeader...)
			if err := sink.EnsureTable(ctx, header); err != nil {
				logger.Error("failed to create sink table", "error", err)
				os.Exit(1)
			}
		}

		pump, err = stream.New(stream.Config{
			Storage:       store,
			Sink:          sink,
			MaxWait:       cfg.Consumer.MaxWait(),
			FlushInterval: cfg.Consumer.FlushInterval(),
			MaxBlockRows:  cfg.Consumer.MaxBlockSize,
			Logger:        logger,
			Metrics:       metrics,
		})
		if err != nil {
			logger.Error("failed to create pump", "error", err)
			os.Exit(1)
		}
		pump.Start(ctx)
		defer pump.Stop()
	} else {
		logger.Info("DB_URL is not set, sink disabled")
	}

	// Обслуживание каналов
	maintainer, err := scheduler.New(scheduler.Config{
		Storage:    store,
		Schedule:   cfg.Maintenance.Schedule,
		Reconnects: conn,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create maintainer", "error", err)
		os.Exit(1)
	}
	maintainer.Start(ctx)
	defer maintainer.Stop()

	publisher := mq.NewPublisher(conn, mq.PublisherConfig{
		Exchange:    cfg.RabbitMQ.Exchange,
		ContentType: mq.ContentTypeForFormat(cfg.Consumer.Format),
		Logger:      logger,
	})

	// Создаём API handler
	handlerCfg := api.Config{
		Storage:   store,
		Publisher: publisher,
		Gatherer:  registry,
		Metrics:   metrics,
		MaxWait:   cfg.Consumer.MaxWait(),
		Logger:    logger,
	}
	if pump != nil {
		handlerCfg.Pump = pump
	}
	handler := api.NewHandler(handlerCfg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.API.Port

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
