package mq

import "errors"

// Ошибки работы с брокером.
var (
	// ErrNotConnected — соединения с брокером сейчас нет.
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrConnectionClosed — соединение закрыто вызовом Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNoChannel — у буфера нет канала.
	ErrNoChannel = errors.New("no channel available")

	// ErrChannelUnusable — канал закрыт или в процессе восстановления.
	ErrChannelUnusable = errors.New("channel is not usable")

	// ErrUnknownExchangeType — неизвестный тип обменника.
	ErrUnknownExchangeType = errors.New("unknown exchange type")

	// ErrBufferStopped — буфер остановлен и больше не читает.
	ErrBufferStopped = errors.New("consumer buffer stopped")
)
