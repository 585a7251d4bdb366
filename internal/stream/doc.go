// Package stream переносит строки из очереди в sink в фоне.
//
// Pump запускает по читателю на буфер пула. Итерация читателя:
//   - ReadStream читает блок
//   - блок пишется в sink через circuit breaker
//   - после успешной записи прочитанное подтверждается
//   - при ошибке записи сообщения возвращаются в очередь
//   - неисправный канал восстанавливается до возврата буфера в пул
//
// После пустого чтения читатель ждёт FlushInterval.
package stream
