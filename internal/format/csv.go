package format

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/shaiso/rmqstream/internal/block"
)

// NewCSV создаёт парсер CSV. Поля сопоставляются с колонками по позиции.
func NewCSV(r io.Reader, header block.Header, settings Settings) (InputFormat, error) {
	settings = settings.withDefaults()

	cr := csv.NewReader(r)
	cr.Comma = settings.CSVDelimiter
	cr.FieldsPerRecord = -1

	return newRowInputFormat(header, settings, &csvRowReader{r: cr}), nil
}

type csvRowReader struct {
	r *csv.Reader
}

func (c *csvRowReader) readRow() ([]any, error) {
	record, err := c.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %v", ErrBrokenRow, err)
		}
		return nil, err
	}

	values := make([]any, len(record))
	for i, field := range record {
		values[i] = field
	}
	return values, nil
}
