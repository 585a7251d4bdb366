package block

import (
	"fmt"
)

// Type — тип колонки.
type Type string

// Поддерживаемые типы колонок.
const (
	TypeString  Type = "String"
	TypeInt64   Type = "Int64"
	TypeUInt64  Type = "UInt64"
	TypeFloat64 Type = "Float64"
	TypeBool    Type = "Bool"
)

// ParseType разбирает имя типа из конфигурации.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeString, TypeInt64, TypeUInt64, TypeFloat64, TypeBool:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Column — типизированная колонка значений.
//
// Значения хранятся в Go-типах: string, int64, uint64, float64, bool.
// Append принимает только значение "своего" Go-типа, приведение
// из внешних представлений делает Convert.
type Column interface {
	Type() Type
	Len() int
	Value(i int) any
	Append(v any) error
	AppendRange(src Column, from, n int) error
	CloneEmpty() Column
}

// NewColumn создаёт пустую колонку указанного типа.
func NewColumn(t Type) (Column, error) {
	switch t {
	case TypeString:
		return &column[string]{typ: t}, nil
	case TypeInt64:
		return &column[int64]{typ: t}, nil
	case TypeUInt64:
		return &column[uint64]{typ: t}, nil
	case TypeFloat64:
		return &column[float64]{typ: t}, nil
	case TypeBool:
		return &column[bool]{typ: t}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// MustColumn — NewColumn для типов, известных на этапе компиляции.
func MustColumn(t Type) Column {
	c, err := NewColumn(t)
	if err != nil {
		panic(err)
	}
	return c
}

type column[T any] struct {
	typ  Type
	data []T
}

func (c *column[T]) Type() Type { return c.typ }

func (c *column[T]) Len() int { return len(c.data) }

func (c *column[T]) Value(i int) any { return c.data[i] }

func (c *column[T]) Append(v any) error {
	x, ok := v.(T)
	if !ok {
		return fmt.Errorf("%w: %T into %s", ErrTypeMismatch, v, c.typ)
	}
	c.data = append(c.data, x)
	return nil
}

func (c *column[T]) AppendRange(src Column, from, n int) error {
	s, ok := src.(*column[T])
	if !ok || s.typ != c.typ {
		return fmt.Errorf("%w: %s into %s", ErrTypeMismatch, src.Type(), c.typ)
	}
	if from < 0 || n < 0 || from+n > len(s.data) {
		return fmt.Errorf("%w: [%d:%d] of %d", ErrOutOfRange, from, from+n, len(s.data))
	}
	c.data = append(c.data, s.data[from:from+n]...)
	return nil
}

func (c *column[T]) CloneEmpty() Column {
	return &column[T]{typ: c.typ}
}
