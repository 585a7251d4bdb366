package format

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/shaiso/rmqstream/internal/block"
)

// NewTSV создаёт парсер TabSeparated: поля через '\t', строки через '\n'.
// Поддерживаются escape-последовательности \t, \n, \r, \\ и \N (NULL).
func NewTSV(r io.Reader, header block.Header, settings Settings) (InputFormat, error) {
	return newRowInputFormat(header, settings, &tsvRowReader{lines: newLineReader(r)}), nil
}

type tsvRowReader struct {
	lines *lineReader
}

func (t *tsvRowReader) readRow() ([]any, error) {
	for {
		line, err := t.lines.next()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}

		fields := bytes.Split(line, []byte{'\t'})
		values := make([]any, len(fields))
		for i, f := range fields {
			v, err := unescapeTSV(string(f))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return values, nil
	}
}

func unescapeTSV(s string) (any, error) {
	if s == `\N` {
		return nil, nil
	}
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return nil, fmt.Errorf("%w: trailing backslash", ErrBrokenRow)
		}
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\', '\'':
			b.WriteByte(s[i])
		default:
			return nil, fmt.Errorf("%w: unknown escape \\%c", ErrBrokenRow, s[i])
		}
	}
	return b.String(), nil
}
