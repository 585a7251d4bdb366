package format

import (
	"errors"
	"fmt"
	"io"

	"github.com/shaiso/rmqstream/internal/block"
)

// rowReader достаёт из потока значения одной строки в порядке колонок заголовка.
// Возвращает io.EOF, когда строк больше нет, и ошибку с ErrBrokenRow,
// если строку разобрать не удалось, но поток можно читать дальше.
type rowReader interface {
	readRow() ([]any, error)
}

// rowInputFormat — общая машина состояний для построчных форматов.
//
// Work набирает до MaxBlockSize строк в текущие колонки; готовый набор
// становится pending chunk и Prepare отвечает PortFull, пока его не заберут.
type rowInputFormat struct {
	header   block.Header
	settings Settings
	reader   rowReader

	columns  []block.Column
	rows     int
	pending  *Chunk
	finished bool
	skipped  int
}

func newRowInputFormat(header block.Header, settings Settings, reader rowReader) *rowInputFormat {
	return &rowInputFormat{
		header:   header,
		settings: settings.withDefaults(),
		reader:   reader,
		columns:  header.CloneEmptyColumns(),
	}
}

func (f *rowInputFormat) Prepare() Status {
	if f.pending != nil {
		return StatusPortFull
	}
	if f.finished {
		return StatusFinished
	}
	return StatusReady
}

func (f *rowInputFormat) Work() error {
	for f.rows < f.settings.MaxBlockSize {
		values, err := f.reader.readRow()
		if errors.Is(err, io.EOF) {
			f.finished = true
			break
		}
		if err == nil {
			err = f.appendRow(values)
		}
		if err != nil {
			if f.settings.SkipBrokenRows && errors.Is(err, ErrBrokenRow) {
				f.skipped++
				continue
			}
			return err
		}
		f.rows++
	}

	if f.rows > 0 {
		f.pending = &Chunk{Columns: f.columns, Rows: f.rows}
		f.columns = f.header.CloneEmptyColumns()
		f.rows = 0
	}
	return nil
}

// appendRow сначала приводит все значения, потом дописывает их,
// чтобы сломанная строка не оставила колонки разной длины.
func (f *rowInputFormat) appendRow(values []any) error {
	if len(values) != len(f.header) {
		return fmt.Errorf("%w: expected %d fields, got %d", ErrBrokenRow, len(f.header), len(values))
	}

	converted := make([]any, len(values))
	for i, v := range values {
		c, err := block.Convert(f.header[i].Type, v)
		if err != nil {
			return fmt.Errorf("%w: column %s: %v", ErrBrokenRow, f.header[i].Name, err)
		}
		converted[i] = c
	}

	for i, v := range converted {
		if err := f.columns[i].Append(v); err != nil {
			return fmt.Errorf("append column %s: %w", f.header[i].Name, err)
		}
	}
	return nil
}

func (f *rowInputFormat) Pull() Chunk {
	if f.pending == nil {
		return Chunk{}
	}
	chunk := *f.pending
	f.pending = nil
	return chunk
}

func (f *rowInputFormat) ResetParser() {
	f.columns = f.header.CloneEmptyColumns()
	f.rows = 0
	f.pending = nil
	f.finished = false
}

// Skipped возвращает количество пропущенных сломанных строк.
func (f *rowInputFormat) Skipped() int {
	return f.skipped
}

// SkipCounter реализуют парсеры, умеющие пропускать сломанные строки.
type SkipCounter interface {
	Skipped() int
}
