// Package api содержит HTTP API сервера приёма.
//
// Структура:
//   - handler.go         — Handler с DI (storage, publisher, pump, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (recovery, request id, logging)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - storage_handler.go — обработчики status, read, publish
//
// Кроме /api/v1 отдаются /healthz и /metrics (Prometheus).
package api
