package block

import "errors"

// Ошибки работы с колонками и блоками.
var (
	// ErrUnknownType — тип колонки не поддерживается.
	ErrUnknownType = errors.New("unknown column type")

	// ErrTypeMismatch — значение или колонка другого типа.
	ErrTypeMismatch = errors.New("column type mismatch")

	// ErrOutOfRange — диапазон выходит за границы колонки.
	ErrOutOfRange = errors.New("range out of column bounds")

	// ErrLengthMismatch — колонки блока разной длины.
	ErrLengthMismatch = errors.New("column length mismatch")

	// ErrDuplicateColumn — колонка с таким именем уже есть в блоке.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrBadValue — значение не приводится к типу колонки.
	ErrBadValue = errors.New("value cannot be converted")
)
