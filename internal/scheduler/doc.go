// Package scheduler обслуживает пул буферов по расписанию.
//
// Maintainer по cron-расписанию забирает из пула все свободные буферы
// (без ожидания, поэтому буферы читателей не трогаются), восстанавливает
// неисправные каналы и возвращает буферы обратно.
//
// Структура:
//   - scheduler.go — Maintainer (Tick, Start, Stop)
//   - cron.go      — разбор расписаний
//
// Использование:
//
//	m, err := scheduler.New(scheduler.Config{
//	    Storage:  store,
//	    Schedule: "@every 30s",
//	    Logger:   logger,
//	})
//	m.Start(ctx)
//	defer m.Stop()
package scheduler
