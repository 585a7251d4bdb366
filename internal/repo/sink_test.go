package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/shaiso/rmqstream/internal/block"
)

type fakeDB struct {
	execSQL []string
	table   pgx.Identifier
	columns []string
	rows    [][]any
	copyErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.table = table
	f.columns = columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, values)
	}
	return int64(len(f.rows)), src.Err()
}

func testBlock(t *testing.T) *block.Block {
	t.Helper()

	h := block.Header{
		{Name: "id", Type: block.TypeInt64},
		{Name: "_delivery_tag", Type: block.TypeUInt64},
	}
	cols := h.CloneEmptyColumns()
	for i := range 3 {
		_ = cols[0].Append(int64(i))
		_ = cols[1].Append(uint64(100 + i))
	}
	b, err := block.New(h, cols)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewBlockSink_NoTable(t *testing.T) {
	if _, err := NewBlockSink(&fakeDB{}, ""); !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable, got %v", err)
	}
}

func TestBlockSink_Write(t *testing.T) {
	db := &fakeDB{}
	sink, err := NewBlockSink(db, "raw.events")
	if err != nil {
		t.Fatal(err)
	}

	n, err := sink.Write(context.Background(), testBlock(t))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
	if len(db.table) != 2 || db.table[0] != "raw" || db.table[1] != "events" {
		t.Errorf("unexpected table identifier: %v", db.table)
	}
	if len(db.columns) != 2 || db.columns[1] != "_delivery_tag" {
		t.Errorf("unexpected columns: %v", db.columns)
	}

	tag, ok := db.rows[2][1].(pgtype.Numeric)
	if !ok || !tag.Valid || tag.Int.Uint64() != 102 {
		t.Errorf("expected numeric delivery tag 102, got %#v", db.rows[2][1])
	}
	if db.rows[1][0] != int64(1) {
		t.Errorf("expected id 1, got %v", db.rows[1][0])
	}
}

func TestBlockSink_WriteEmpty(t *testing.T) {
	db := &fakeDB{copyErr: errors.New("must not be called")}
	sink, _ := NewBlockSink(db, "events")

	n, err := sink.Write(context.Background(), nil)
	if err != nil || n != 0 {
		t.Errorf("empty block: expected 0, nil; got %d, %v", n, err)
	}
}

func TestBlockSink_WriteError(t *testing.T) {
	db := &fakeDB{copyErr: errors.New("connection refused")}
	sink, _ := NewBlockSink(db, "events")

	if _, err := sink.Write(context.Background(), testBlock(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlockSink_EnsureTable(t *testing.T) {
	db := &fakeDB{}
	sink, _ := NewBlockSink(db, "events")

	header := block.Header{
		{Name: "id", Type: block.TypeInt64},
		{Name: "payload", Type: block.TypeString},
		{Name: "_redelivered", Type: block.TypeBool},
	}
	if err := sink.EnsureTable(context.Background(), header); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	sql := db.execSQL[0]
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "events"`,
		`"id" BIGINT`,
		`"payload" TEXT`,
		`"_redelivered" BOOLEAN`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected %q in:\n%s", want, sql)
		}
	}
}

func TestPgType_Unsupported(t *testing.T) {
	if _, err := pgType("Decimal"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}
