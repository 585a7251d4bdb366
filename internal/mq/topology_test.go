package mq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestExchangeType_Kind(t *testing.T) {
	tests := []struct {
		typ  ExchangeType
		keys []string
		want string
	}{
		{ExchangeDefault, nil, amqp.ExchangeFanout},
		{ExchangeDefault, []string{"a"}, amqp.ExchangeDirect},
		{"", []string{"a"}, amqp.ExchangeDirect},
		{ExchangeTopic, []string{"logs.*"}, amqp.ExchangeTopic},
		{ExchangeHeaders, nil, amqp.ExchangeHeaders},
	}

	for _, tt := range tests {
		got, err := tt.typ.Kind(tt.keys)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.typ, err)
		}
		if got != tt.want {
			t.Errorf("%s %v: expected %s, got %s", tt.typ, tt.keys, tt.want, got)
		}
	}

	if _, err := ExchangeType("consistent_hash").Kind(nil); !errors.Is(err, ErrUnknownExchangeType) {
		t.Errorf("expected ErrUnknownExchangeType, got %v", err)
	}
}

func TestTopology_QueueNames(t *testing.T) {
	topo := Topology{Exchange: "events", NumQueues: 3}
	names := topo.QueueNames()

	if len(names) != 3 || names[0] != "events_0" || names[2] != "events_2" {
		t.Errorf("unexpected queue names %v", names)
	}

	topo.QueueBase = "ingest"
	topo.NumQueues = 0
	if names := topo.QueueNames(); len(names) != 1 || names[0] != "ingest_0" {
		t.Errorf("unexpected queue names %v", names)
	}
}

func TestTopology_BindingKeys(t *testing.T) {
	if keys := (Topology{}).bindingKeys(); len(keys) != 1 || keys[0] != "" {
		t.Errorf("fanout should bind with empty key, got %v", keys)
	}
	if keys := (Topology{RoutingKeys: []string{"a", "b"}}).bindingKeys(); len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}
}

func TestContentTypeForFormat(t *testing.T) {
	if ContentTypeForFormat("CSV") != "text/csv" {
		t.Error("unexpected content type for CSV")
	}
	if ContentTypeForFormat("Avro") != "application/octet-stream" {
		t.Error("unknown formats should be octet-stream")
	}
}
