package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/rmqstream/internal/source"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

// Health отвечает 200, пока соединение с брокером живо.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.storage.ConnectionRunning() {
		Unavailable(w, "broker connection is down")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Status возвращает состояние пула буферов.
// GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: h.storage.Status()}
	if h.pump != nil {
		resp.Pump = &PumpResponse{
			Running: h.pump.Running(),
			Breaker: h.pump.BreakerState(),
		}
	}
	Success(w, resp)
}

// Read выполняет одно чтение из хранилища.
// POST /api/v1/read
func (h *Handler) Read(w http.ResponseWriter, r *http.Request) {
	logger := telemetry.FromContext(r.Context())

	var req ReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		BadRequest(w, "limit must not be negative")
		return
	}

	rs := source.New(source.Config{
		Storage:    h.storage,
		MaxWait:    h.maxWait,
		AckOnClose: req.ShouldAck(),
		Columns:    req.Columns,
		TimeLimit:  source.MaxRows(req.Limit),
		Logger:     logger,
		Metrics:    h.metrics,
	})
	defer rs.Close()

	header, err := rs.Header()
	if HandleReadError(w, logger, err) {
		return
	}

	res, err := rs.Read(r.Context())
	if HandleReadError(w, logger, err) {
		return
	}

	resp := ReadResponse{
		Result:   res.Kind.String(),
		Messages: res.Messages,
		Columns:  header.Names(),
		Rows:     []map[string]any{},
	}

	switch res.Kind {
	case source.ResultNoBuffer:
		Unavailable(w, "no free consumer buffer")
		return
	case source.ResultBatch:
		resp.Rows = res.Block.RowMaps()
	}

	if req.ShouldAck() {
		resp.Acked = rs.SendAck() && res.Kind == source.ResultBatch
	} else if err := rs.Reject(); err != nil {
		logger.Warn("failed to requeue peeked messages", "error", err)
	}

	if rs.NeedManualChannelUpdate() {
		if err := rs.UpdateChannel(); err != nil {
			logger.Warn("channel repair failed", "error", err)
		}
	}

	Success(w, resp)
}

// Publish публикует сообщения в обменник хранилища.
// POST /api/v1/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		NotImplemented(w, "publishing is not configured")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		BadRequest(w, "messages are required")
		return
	}

	bodies := make([][]byte, len(req.Messages))
	for i, m := range req.Messages {
		bodies[i] = []byte(m)
	}

	ids, err := h.publisher.PublishBatch(r.Context(), req.RoutingKey, bodies)
	if err != nil {
		telemetry.FromContext(r.Context()).Error("publish failed",
			"routing_key", req.RoutingKey,
			"published", len(ids),
			"error", err,
		)
		Unavailable(w, "publish failed")
		return
	}

	Created(w, PublishResponse{MessageIDs: ids})
}
