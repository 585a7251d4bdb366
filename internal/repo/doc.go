// Package repo содержит запись прочитанных блоков в Postgres.
//
// BlockSink копирует строки через COPY (pgx CopyFrom), EnsureTable
// создаёт таблицу по заголовку блока.
package repo
