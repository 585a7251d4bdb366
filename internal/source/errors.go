package source

import (
	"errors"
	"fmt"

	"github.com/shaiso/rmqstream/internal/format"
)

var (
	// ErrProtocolViolation — парсер вернул состояние, недопустимое для
	// синхронного источника.
	ErrProtocolViolation = errors.New("source processor returned unexpected status")

	// ErrUnknownColumn — запрошена колонка, которой нет в хранилище.
	ErrUnknownColumn = errors.New("unknown column")
)

// ProtocolError — нарушение протокола парсера с конкретным состоянием.
type ProtocolError struct {
	Status format.Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProtocolViolation, e.Status)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}
