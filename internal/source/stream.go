package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/rmqstream/internal/block"
	"github.com/shaiso/rmqstream/internal/format"
	"github.com/shaiso/rmqstream/internal/mq"
	"github.com/shaiso/rmqstream/internal/storage"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

// Виртуальные колонки происхождения строки.
const (
	ColumnExchangeName = "_exchange_name"
	ColumnChannelID    = "_channel_id"
	ColumnDeliveryTag  = "_delivery_tag"
	ColumnRedelivered  = "_redelivered"
	ColumnMessageID    = "_message_id"
)

// VirtualHeader — заголовок виртуальных колонок.
var VirtualHeader = block.Header{
	{Name: ColumnExchangeName, Type: block.TypeString},
	{Name: ColumnChannelID, Type: block.TypeString},
	{Name: ColumnDeliveryTag, Type: block.TypeUInt64},
	{Name: ColumnRedelivered, Type: block.TypeBool},
	{Name: ColumnMessageID, Type: block.TypeString},
}

// ResultKind — вид результата чтения.
type ResultKind int

const (
	// ResultNoBuffer — свободный буфер не получен за время ожидания.
	ResultNoBuffer ResultKind = iota
	// ResultEmpty — буфер получен, но строк нет.
	ResultEmpty
	// ResultBatch — прочитан непустой блок.
	ResultBatch
)

func (k ResultKind) String() string {
	switch k {
	case ResultNoBuffer:
		return "no_buffer"
	case ResultEmpty:
		return "empty"
	case ResultBatch:
		return "batch"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result — итог одного чтения.
type Result struct {
	Kind ResultKind

	// Block — строки сообщений и виртуальные колонки. Только для ResultBatch.
	Block *block.Block

	// Messages — сколько сообщений взято из буфера.
	Messages int
}

// Rows возвращает число строк результата.
func (r Result) Rows() int {
	return r.Block.Rows()
}

// Config — конфигурация ReadStream.
type Config struct {
	Storage *storage.Storage

	// MaxWait — сколько ждать свободный буфер.
	MaxWait time.Duration

	// AckOnClose — подтверждать прочитанное в ReadSuffix.
	AckOnClose bool

	// Columns — колонки результата. Пусто — все колонки сообщений
	// и все виртуальные.
	Columns []string

	// TimeLimit — бюджет чтения (default: без ограничения).
	TimeLimit TimeLimit

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// ReadStream — одно логическое чтение из хранилища.
//
// ReadPrefix забирает буфер из пула, Read собирает блок строк,
// ReadSuffix подтверждает прочитанное, Close возвращает буфер.
// Close нужно вызывать всегда, удобнее всего через defer.
type ReadStream struct {
	storage    *storage.Storage
	maxWait    time.Duration
	ackOnClose bool
	columns    []string
	limit      TimeLimit
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	buffer   *mq.ConsumerBuffer
	prefixed bool
	finished bool
}

// New создаёт поток чтения. Буфер берётся в ReadPrefix.
func New(cfg Config) *ReadStream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.TimeLimit
	if limit == nil {
		limit = Unlimited
	}

	return &ReadStream{
		storage:    cfg.Storage,
		maxWait:    cfg.MaxWait,
		ackOnClose: cfg.AckOnClose,
		columns:    cfg.Columns,
		limit:      limit,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Header возвращает заголовок результата.
func (r *ReadStream) Header() (block.Header, error) {
	full := append(append(block.Header{}, r.storage.Header()...), VirtualHeader...)
	if len(r.columns) == 0 {
		return full, nil
	}

	h := make(block.Header, 0, len(r.columns))
	for _, name := range r.columns {
		i := full.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		h = append(h, full[i])
	}
	return h, nil
}

// ReadPrefix забирает буфер из пула, ожидая не дольше MaxWait.
// Повторные вызовы ничего не делают.
func (r *ReadStream) ReadPrefix(ctx context.Context) {
	if r.prefixed {
		return
	}
	r.prefixed = true

	if buf, ok := r.storage.PopReadBuffer(ctx, r.maxWait); ok {
		r.buffer = buf
	}
}

// Buffer возвращает буфер, которым владеет поток, или nil.
func (r *ReadStream) Buffer() *mq.ConsumerBuffer {
	return r.buffer
}

// Read читает сообщения из буфера и собирает их строки в один блок.
//
// Чтение идёт, пока в буфере есть сообщения и TimeLimit разрешает
// продолжать. Поток отдаёт данные один раз: повторный Read вернёт
// ResultEmpty. Ошибка возвращается только для сломанного сообщения
// или нарушения протокола парсера; сообщение при этом возвращается
// в очередь.
func (r *ReadStream) Read(ctx context.Context) (Result, error) {
	r.ReadPrefix(ctx)

	if r.buffer == nil {
		r.metrics.RecordRead(ResultNoBuffer.String(), -1, 0, r.storage.Format(), 0, 0)
		return Result{Kind: ResultNoBuffer}, nil
	}
	if r.finished {
		return Result{Kind: ResultEmpty}, nil
	}
	r.finished = true

	start := time.Now()
	consumer := r.buffer.ID()

	header := r.storage.Header()
	resultColumns := header.CloneEmptyColumns()
	virtualColumns := VirtualHeader.CloneEmptyColumns()
	exchange := r.storage.Exchange()

	totalRows, messages := 0, 0

	for !r.buffer.EOF() {
		msg, ok := r.buffer.Message()
		if !ok {
			break
		}
		messages++

		newRows, err := r.readMessage(msg, resultColumns)
		if err != nil {
			if rerr := r.buffer.RejectCurrent(); rerr != nil {
				r.logger.Warn("failed to requeue message", "consumer", consumer, "error", rerr)
			}
			r.metrics.RecordRead("error", consumer, messages, r.storage.Format(), 0, time.Since(start))
			return Result{}, fmt.Errorf("read message %d from channel %s: %w", msg.DeliveryTag, msg.ChannelID, err)
		}

		// Сообщение без строк тоже подтверждается
		r.buffer.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})
		if newRows > 0 {
			if err := appendProvenance(virtualColumns, exchange, msg, newRows); err != nil {
				return Result{}, err
			}
			totalRows += newRows
		}

		r.buffer.AllowNext()

		if r.buffer.QueueEmpty() || !r.limit(totalRows) || ctx.Err() != nil {
			break
		}
	}

	if totalRows == 0 {
		r.metrics.RecordRead(ResultEmpty.String(), consumer, messages, r.storage.Format(), 0, time.Since(start))
		return Result{Kind: ResultEmpty, Messages: messages}, nil
	}

	b, err := block.New(header, resultColumns)
	if err != nil {
		return Result{}, err
	}
	for i, def := range VirtualHeader {
		if err := b.Insert(def.Name, virtualColumns[i]); err != nil {
			return Result{}, err
		}
	}

	if len(r.columns) > 0 {
		if b, err = b.Project(r.columns); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrUnknownColumn, err)
		}
	}

	r.metrics.RecordRead(ResultBatch.String(), consumer, messages, r.storage.Format(), totalRows, time.Since(start))
	r.logger.Debug("read batch",
		"consumer", consumer,
		"messages", messages,
		"rows", totalRows,
		"duration", time.Since(start),
	)

	return Result{Kind: ResultBatch, Block: b, Messages: messages}, nil
}

// readMessage прогоняет парсер по телу одного сообщения и дописывает
// строки в result. Возвращает число новых строк.
func (r *ReadStream) readMessage(msg mq.Message, result []block.Column) (int, error) {
	parser, err := r.storage.NewParser(bytes.NewReader(msg.Body))
	if err != nil {
		return 0, err
	}

	newRows := 0
	for {
		switch status := parser.Prepare(); status {
		case format.StatusReady:
			if err := parser.Work(); err != nil {
				return 0, err
			}

		case format.StatusFinished:
			if sc, ok := parser.(format.SkipCounter); ok {
				r.metrics.RecordBrokenRows(sc.Skipped())
			}
			parser.ResetParser()
			return newRows, nil

		case format.StatusPortFull:
			chunk := parser.Pull()
			for i, col := range chunk.Columns {
				if err := result[i].AppendRange(col, 0, col.Len()); err != nil {
					return 0, fmt.Errorf("append chunk: %w", err)
				}
			}
			newRows += chunk.Rows

		default:
			return 0, &ProtocolError{Status: status}
		}
	}
}

// appendProvenance дописывает происхождение сообщения по разу на каждую строку.
func appendProvenance(cols []block.Column, exchange string, msg mq.Message, rows int) error {
	values := [...]any{exchange, msg.ChannelID, msg.DeliveryTag, msg.Redelivered, msg.MessageID}
	for range rows {
		for i, v := range values {
			if err := cols[i].Append(v); err != nil {
				return fmt.Errorf("append %s: %w", VirtualHeader[i].Name, err)
			}
		}
	}
	return nil
}

// ReadSuffix подтверждает прочитанное, если поток создан с AckOnClose.
func (r *ReadStream) ReadSuffix() {
	if r.ackOnClose {
		r.SendAck()
	}
}

// SendAck подтверждает все прочитанные сообщения текущего канала.
// Возвращает false, если буфера нет или канал непригоден: сообщения
// останутся неподтверждёнными и брокер доставит их снова.
func (r *ReadStream) SendAck() bool {
	if r.buffer == nil || !r.buffer.ChannelUsable() {
		r.metrics.RecordAck("failed")
		return false
	}

	res, ok := r.buffer.AckMessages()
	if !ok {
		r.metrics.RecordAck("failed")
		return false
	}

	switch res {
	case mq.FlushAcked:
		r.metrics.RecordAck("acked")
	case mq.FlushStale:
		r.metrics.RecordAck("stale")
	default:
		r.metrics.RecordAck("nothing")
	}
	return true
}

// Reject возвращает в очередь всё прочитанное и неподтверждённое.
// Нужен, когда прочитанный блок не удалось доставить потребителю.
func (r *ReadStream) Reject() error {
	if r.buffer == nil {
		return nil
	}
	return r.buffer.RejectPending()
}

// NeedManualChannelUpdate — канал буфера неисправен, но его можно
// восстановить: соединение живо и восстановление разрешено.
func (r *ReadStream) NeedManualChannelUpdate() bool {
	if r.buffer == nil {
		return false
	}
	return r.storage.NeedRepair(r.buffer)
}

// UpdateChannel восстанавливает канал буфера.
func (r *ReadStream) UpdateChannel() error {
	if r.buffer == nil {
		return nil
	}
	return r.storage.RepairBuffer(r.buffer)
}

// Close возвращает буфер в пул. Повторные вызовы безопасны.
func (r *ReadStream) Close() {
	if r.buffer == nil {
		return
	}
	r.storage.PushReadBuffer(r.buffer)
	r.buffer = nil
}
