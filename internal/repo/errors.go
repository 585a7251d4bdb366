package repo

import "errors"

// Ошибки записи в sink.
var (
	// ErrNoTable — не задана таблица.
	ErrNoTable = errors.New("sink table is not set")

	// ErrUnsupportedType — тип колонки не отображается в Postgres.
	ErrUnsupportedType = errors.New("unsupported column type")
)
