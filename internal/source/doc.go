// Package source собирает строки из сообщений RabbitMQ в блоки.
//
// ReadStream берёт буфер потребителя из пула, для каждого сообщения
// создаёт парсер формата и гоняет его машину состояний:
//
//	Ready    → Work
//	PortFull → Pull, строки дописываются в результат
//	Finished → ResetParser, следующее сообщение
//
// Любое другое состояние — ProtocolError. К каждой строке добавляются
// виртуальные колонки: _exchange_name, _channel_id, _delivery_tag,
// _redelivered, _message_id.
//
// Результат тегирован: ResultNoBuffer (буфер не получен),
// ResultEmpty (строк нет), ResultBatch (блок строк).
//
// Подтверждение кумулятивное и идёт в ReadSuffix (AckOnClose) или
// явным SendAck. Неисправный канал восстанавливает держатель буфера:
//
//	if rs.NeedManualChannelUpdate() {
//	    rs.UpdateChannel()
//	}
package source
