package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rmqstream"

// Metrics — метрики потребления.
//
// Все методы безопасны для nil *Metrics: компоненты, которым метрики
// не переданы, просто ничего не пишут.
type Metrics struct {
	// MessagesRead — сообщения, прочитанные циклом чтения.
	// Labels: consumer
	MessagesRead *prometheus.CounterVec

	// RowsRead — строки, полученные парсером.
	// Labels: format
	RowsRead *prometheus.CounterVec

	// BrokenRows — строки, пропущенные как сломанные.
	BrokenRows prometheus.Counter

	// Reads — результаты чтения.
	// Labels: result (batch, empty, no_buffer, error)
	Reads *prometheus.CounterVec

	// ReadDuration — длительность одного чтения.
	ReadDuration prometheus.Histogram

	// Acks — исходы подтверждений.
	// Labels: result (acked, stale, nothing, failed)
	Acks *prometheus.CounterVec

	// ChannelRepairs — попытки восстановления канала.
	// Labels: result (ok, failed)
	ChannelRepairs *prometheus.CounterVec

	// BufferWaitTimeouts — таймауты ожидания свободного буфера.
	BufferWaitTimeouts prometheus.Counter

	// BuffersAvailable — свободные буферы в пуле.
	BuffersAvailable prometheus.Gauge

	// SinkRows — строки, записанные в sink.
	SinkRows prometheus.Counter

	// SinkErrors — ошибки записи в sink.
	SinkErrors prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		MessagesRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Messages taken from consumer buffers by the read loop.",
		}, []string{"consumer"}),
		RowsRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Rows produced by format parsers.",
		}, []string{"format"}),
		BrokenRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broken_rows_total",
			Help:      "Rows skipped because they could not be parsed.",
		}),
		Reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "Read loop results by kind.",
		}, []string{"result"}),
		ReadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Duration of a single read loop.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Acks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acknowledgement flush outcomes.",
		}, []string{"result"}),
		ChannelRepairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_repairs_total",
			Help:      "Channel repair attempts.",
		}, []string{"result"}),
		BufferWaitTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_wait_timeouts_total",
			Help:      "Reads that found no free consumer buffer before the timeout.",
		}),
		BuffersAvailable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers_available",
			Help:      "Consumer buffers currently idle in the pool.",
		}),
		SinkRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_rows_total",
			Help:      "Rows written to the sink.",
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink writes.",
		}),
	}
}

// RecordRead фиксирует результат одного чтения.
func (m *Metrics) RecordRead(result string, consumerID, messages int, format string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.Reads.WithLabelValues(result).Inc()
	m.ReadDuration.Observe(d.Seconds())
	if messages > 0 {
		m.MessagesRead.WithLabelValues(strconv.Itoa(consumerID)).Add(float64(messages))
	}
	if rows > 0 {
		m.RowsRead.WithLabelValues(format).Add(float64(rows))
	}
}

// RecordBrokenRows фиксирует пропущенные строки.
func (m *Metrics) RecordBrokenRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BrokenRows.Add(float64(n))
}

// RecordAck фиксирует исход подтверждения.
func (m *Metrics) RecordAck(result string) {
	if m == nil {
		return
	}
	m.Acks.WithLabelValues(result).Inc()
}

// RecordRepair фиксирует попытку восстановления канала.
func (m *Metrics) RecordRepair(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.ChannelRepairs.WithLabelValues(result).Inc()
}

// RecordBufferTimeout фиксирует таймаут ожидания буфера.
func (m *Metrics) RecordBufferTimeout() {
	if m == nil {
		return
	}
	m.BufferWaitTimeouts.Inc()
}

// SetBuffersAvailable выставляет число свободных буферов.
func (m *Metrics) SetBuffersAvailable(n int) {
	if m == nil {
		return
	}
	m.BuffersAvailable.Set(float64(n))
}

// RecordSink фиксирует запись в sink.
func (m *Metrics) RecordSink(rows int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SinkErrors.Inc()
		return
	}
	m.SinkRows.Add(float64(rows))
}
