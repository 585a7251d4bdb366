package block

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Convert приводит внешнее значение (строка из CSV/TSV, значение из JSON)
// к Go-типу колонки t.
//
// nil и пустая строка для числовых типов дают нулевое значение.
func Convert(t Type, v any) (any, error) {
	switch t {
	case TypeString:
		return toString(v)
	case TypeInt64:
		return toInt64(v)
	case TypeUInt64:
		return toUint64(v)
	case TypeFloat64:
		return toFloat64(v)
	case TypeBool:
		return toBool(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(x), nil
	default:
		// Вложенные объекты и массивы сохраняем как JSON-строку
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadValue, err)
		}
		return string(b), nil
	}
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return int64(0), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, badValue(TypeInt64, v)
		}
		return int64(x), nil
	case json.Number:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	default:
		return nil, badValue(TypeInt64, v)
	}
}

func parseInt(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return int64(0), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, badValue(TypeInt64, s)
	}
	return n, nil
}

func toUint64(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return uint64(0), nil
	case uint64:
		return x, nil
	case int:
		if x < 0 {
			return nil, badValue(TypeUInt64, v)
		}
		return uint64(x), nil
	case int64:
		if x < 0 {
			return nil, badValue(TypeUInt64, v)
		}
		return uint64(x), nil
	case float64:
		if x != math.Trunc(x) || x < 0 || x >= math.MaxUint64 {
			return nil, badValue(TypeUInt64, v)
		}
		return uint64(x), nil
	case json.Number:
		return parseUint(string(x))
	case string:
		return parseUint(x)
	default:
		return nil, badValue(TypeUInt64, v)
	}
}

func parseUint(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint64(0), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, badValue(TypeUInt64, s)
	}
	return n, nil
}

func toFloat64(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return float64(0), nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	default:
		return nil, badValue(TypeFloat64, v)
	}
}

func parseFloat(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return float64(0), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, badValue(TypeFloat64, s)
	}
	return f, nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case json.Number:
		return parseBool(string(x))
	case float64:
		switch x {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, badValue(TypeBool, v)
	case string:
		return parseBool(x)
	default:
		return nil, badValue(TypeBool, v)
	}
}

func parseBool(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, badValue(TypeBool, s)
	}
	return b, nil
}

func badValue(t Type, v any) error {
	return fmt.Errorf("%w: %v as %s", ErrBadValue, v, t)
}
