package format

import "errors"

// Ошибки парсеров.
var (
	// ErrUnknownFormat — формат не зарегистрирован.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrBrokenRow — строку не удалось разобрать.
	ErrBrokenRow = errors.New("broken row")

	// ErrHeaderUnsupported — формат не умеет работать с таким набором колонок.
	ErrHeaderUnsupported = errors.New("header not supported by format")
)
