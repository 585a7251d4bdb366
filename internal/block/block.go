package block

import (
	"fmt"
)

// ColumnDef — описание колонки: имя и тип.
type ColumnDef struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Header — упорядоченный набор колонок.
type Header []ColumnDef

// Names возвращает имена колонок в порядке объявления.
func (h Header) Names() []string {
	names := make([]string, len(h))
	for i, c := range h {
		names[i] = c.Name
	}
	return names
}

// Index возвращает позицию колонки или -1.
func (h Header) Index(name string) int {
	for i, c := range h {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// CloneEmptyColumns создаёт пустые колонки по заголовку.
func (h Header) CloneEmptyColumns() []Column {
	cols := make([]Column, len(h))
	for i, c := range h {
		cols[i] = MustColumn(c.Type)
	}
	return cols
}

// Validate проверяет, что имена уникальны и типы известны.
func (h Header) Validate() error {
	seen := make(map[string]bool, len(h))
	for _, c := range h {
		if c.Name == "" {
			return fmt.Errorf("header: empty column name")
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, c.Name)
		}
		seen[c.Name] = true
		if _, err := ParseType(string(c.Type)); err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return nil
}

// NamedColumn — колонка блока вместе с именем.
type NamedColumn struct {
	Name   string
	Column Column
}

// Block — набор колонок одинаковой длины.
type Block struct {
	columns []NamedColumn
}

// New собирает блок из заголовка и колонок.
// Все колонки должны иметь одинаковую длину.
func New(h Header, cols []Column) (*Block, error) {
	if len(h) != len(cols) {
		return nil, fmt.Errorf("%w: header has %d columns, got %d", ErrLengthMismatch, len(h), len(cols))
	}

	b := &Block{}
	for i, c := range h {
		if cols[i].Type() != c.Type {
			return nil, fmt.Errorf("%w: column %s is %s, got %s", ErrTypeMismatch, c.Name, c.Type, cols[i].Type())
		}
		if err := b.Insert(c.Name, cols[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Insert добавляет колонку в конец блока.
func (b *Block) Insert(name string, col Column) error {
	if _, ok := b.Column(name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if len(b.columns) > 0 && col.Len() != b.Rows() {
		return fmt.Errorf("%w: column %s has %d rows, block has %d", ErrLengthMismatch, name, col.Len(), b.Rows())
	}
	b.columns = append(b.columns, NamedColumn{Name: name, Column: col})
	return nil
}

// Rows возвращает количество строк.
func (b *Block) Rows() int {
	if b == nil || len(b.columns) == 0 {
		return 0
	}
	return b.columns[0].Column.Len()
}

// Empty — в блоке нет строк.
func (b *Block) Empty() bool {
	return b.Rows() == 0
}

// Columns возвращает колонки блока.
func (b *Block) Columns() []NamedColumn {
	return b.columns
}

// Column ищет колонку по имени.
func (b *Block) Column(name string) (Column, bool) {
	for _, c := range b.columns {
		if c.Name == name {
			return c.Column, true
		}
	}
	return nil, false
}

// Names возвращает имена колонок блока.
func (b *Block) Names() []string {
	names := make([]string, len(b.columns))
	for i, c := range b.columns {
		names[i] = c.Name
	}
	return names
}

// Project возвращает блок только с перечисленными колонками.
func (b *Block) Project(names []string) (*Block, error) {
	out := &Block{}
	for _, name := range names {
		col, ok := b.Column(name)
		if !ok {
			return nil, fmt.Errorf("project: no column %q", name)
		}
		if err := out.Insert(name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Row возвращает значения i-й строки в порядке колонок.
func (b *Block) Row(i int) []any {
	row := make([]any, len(b.columns))
	for j, c := range b.columns {
		row[j] = c.Column.Value(i)
	}
	return row
}

// RowMaps возвращает строки как map имя → значение (для JSON).
func (b *Block) RowMaps() []map[string]any {
	rows := make([]map[string]any, b.Rows())
	for i := range rows {
		m := make(map[string]any, len(b.columns))
		for _, c := range b.columns {
			m[c.Name] = c.Column.Value(i)
		}
		rows[i] = m
	}
	return rows
}
