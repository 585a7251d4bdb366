package repo

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/shaiso/rmqstream/internal/block"
)

// DB — часть *pgxpool.Pool, нужная BlockSink.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// BlockSink пишет прочитанные блоки в таблицу Postgres через COPY.
type BlockSink struct {
	db    DB
	table pgx.Identifier
}

// NewBlockSink создаёт sink для таблицы. Имя может включать схему: "raw.events".
func NewBlockSink(db DB, table string) (*BlockSink, error) {
	if table == "" {
		return nil, ErrNoTable
	}
	return &BlockSink{
		db:    db,
		table: pgx.Identifier(strings.Split(table, ".")),
	}, nil
}

// Table возвращает имя таблицы.
func (s *BlockSink) Table() string {
	return s.table.Sanitize()
}

// EnsureTable создаёт таблицу по заголовку, если её ещё нет.
func (s *BlockSink) EnsureTable(ctx context.Context, header block.Header) error {
	query, err := createTableSQL(s.table, header)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.Table(), err)
	}
	return nil
}

// Write копирует все строки блока в таблицу. Возвращает число записанных строк.
func (s *BlockSink) Write(ctx context.Context, b *block.Block) (int64, error) {
	if b.Empty() {
		return 0, nil
	}

	n, err := s.db.CopyFrom(ctx, s.table, b.Names(), &blockRows{block: b, row: -1})
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", s.Table(), err)
	}
	return n, nil
}

// blockRows отдаёт строки блока в COPY.
type blockRows struct {
	block *block.Block
	row   int
}

func (r *blockRows) Next() bool {
	r.row++
	return r.row < r.block.Rows()
}

func (r *blockRows) Values() ([]any, error) {
	row := r.block.Row(r.row)
	for i, v := range row {
		if u, ok := v.(uint64); ok {
			row[i] = pgtype.Numeric{Int: new(big.Int).SetUint64(u), Valid: true}
		}
	}
	return row, nil
}

func (r *blockRows) Err() error {
	return nil
}

var _ pgx.CopyFromSource = (*blockRows)(nil)

func createTableSQL(table pgx.Identifier, header block.Header) (string, error) {
	defs := make([]string, len(header))
	for i, c := range header {
		typ, err := pgType(c.Type)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + typ
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		table.Sanitize(), strings.Join(defs, ",\n\t")), nil
}

// pgType отображает тип колонки в тип Postgres.
// UInt64 хранится в NUMERIC: BIGINT не вмещает весь диапазон.
func pgType(t block.Type) (string, error) {
	switch t {
	case block.TypeString:
		return "TEXT", nil
	case block.TypeInt64:
		return "BIGINT", nil
	case block.TypeUInt64:
		return "NUMERIC(20)", nil
	case block.TypeFloat64:
		return "DOUBLE PRECISION", nil
	case block.TypeBool:
		return "BOOLEAN", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}
