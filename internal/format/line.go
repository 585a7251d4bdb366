package format

import (
	"fmt"
	"io"

	"github.com/shaiso/rmqstream/internal/block"
)

// NewLineAsString создаёт парсер, в котором каждая строка сообщения —
// одно значение единственной колонки типа String.
func NewLineAsString(r io.Reader, header block.Header, settings Settings) (InputFormat, error) {
	if len(header) != 1 || header[0].Type != block.TypeString {
		return nil, fmt.Errorf("%w: %s requires exactly one String column", ErrHeaderUnsupported, NameLineAsString)
	}
	return newRowInputFormat(header, settings, &lineRowReader{lines: newLineReader(r)}), nil
}

type lineRowReader struct {
	lines *lineReader
}

func (l *lineRowReader) readRow() ([]any, error) {
	line, err := l.lines.next()
	if err != nil {
		return nil, err
	}
	return []any{string(line)}, nil
}
