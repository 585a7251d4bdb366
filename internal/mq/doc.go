// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - channel.go    — интерфейс канала, которым владеет буфер
//   - buffer.go     — ConsumerBuffer: канал + ограниченная очередь доставок
//   - ack.go        — AckTracker: кумулятивное подтверждение по каналу
//   - topology.go   — объявление exchange, queues, bindings
//   - publisher.go  — публикация сообщений в exchange
//
// Delivery tag живёт только внутри своего канала. Поэтому каждое
// сообщение несёт channel id, на котором пришло, и ack отправляется
// только если канал с тех пор не менялся. Сообщения заменённого канала
// брокер вернёт в очередь сам (at-least-once).
package mq
