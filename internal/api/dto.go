package api

import (
	"github.com/shaiso/rmqstream/internal/storage"
)

// Read DTOs

// ReadRequest — запрос на одно чтение из хранилища.
type ReadRequest struct {
	// Limit — после скольких строк прекратить чтение (0 — без ограничения).
	Limit int `json:"limit,omitempty"`

	// Columns — колонки результата, включая виртуальные.
	Columns []string `json:"columns,omitempty"`

	// Ack — подтвердить прочитанное (default: true). false возвращает
	// сообщения в очередь после чтения.
	Ack *bool `json:"ack,omitempty"`
}

// ShouldAck возвращает итоговое значение Ack.
func (r ReadRequest) ShouldAck() bool {
	return r.Ack == nil || *r.Ack
}

// ReadResponse — результат чтения.
type ReadResponse struct {
	Result   string           `json:"result"`
	Messages int              `json:"messages"`
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows"`
	Acked    bool             `json:"acked"`
}

// Publish DTOs

// PublishRequest — запрос на публикацию сообщений.
type PublishRequest struct {
	RoutingKey string   `json:"routing_key"`
	Messages   []string `json:"messages"`
}

// PublishResponse — id опубликованных сообщений.
type PublishResponse struct {
	MessageIDs []string `json:"message_ids"`
}

// Status DTOs

// PumpResponse — состояние перекачки в sink.
type PumpResponse struct {
	Running bool   `json:"running"`
	Breaker string `json:"breaker"`
}

// StatusResponse — состояние хранилища и перекачки.
type StatusResponse struct {
	storage.Status
	Pump *PumpResponse `json:"pump,omitempty"`
}
