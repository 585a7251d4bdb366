// Package telemetry обеспечивает наблюдаемость сервиса.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики потребления, подтверждений и пула
//
// Метрики регистрируются в переданном Registerer, чтобы тесты
// могли использовать собственный реестр.
package telemetry
