package format

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shaiso/rmqstream/internal/block"
)

// NewJSONEachRow создаёт парсер формата JSONEachRow:
// по одному JSON-объекту на строку, поля сопоставляются с колонками по имени.
// Отсутствующие поля получают нулевое значение, лишние игнорируются.
func NewJSONEachRow(r io.Reader, header block.Header, settings Settings) (InputFormat, error) {
	return newRowInputFormat(header, settings, &jsonRowReader{
		lines:  newLineReader(r),
		header: header,
	}), nil
}

type jsonRowReader struct {
	lines  *lineReader
	header block.Header
}

func (j *jsonRowReader) readRow() ([]any, error) {
	for {
		line, err := j.lines.next()
		if err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()

		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokenRow, err)
		}

		values := make([]any, len(j.header))
		for i, c := range j.header {
			values[i] = obj[c.Name]
		}
		return values, nil
	}
}

// lineReader читает поток построчно без ограничения на длину строки.
type lineReader struct {
	r   *bufio.Reader
	eof bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// next возвращает строку без завершающего '\n' (и '\r').
func (l *lineReader) next() ([]byte, error) {
	if l.eof {
		return nil, io.EOF
	}

	line, err := l.r.ReadBytes('\n')
	if err == io.EOF {
		l.eof = true
		if len(line) == 0 {
			return nil, io.EOF
		}
	} else if err != nil {
		return nil, err
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}
