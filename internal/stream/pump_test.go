package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/rmqstream/internal/block"
	"github.com/shaiso/rmqstream/internal/format"
	"github.com/shaiso/rmqstream/internal/mq/mqtest"
	"github.com/shaiso/rmqstream/internal/storage"
	"github.com/shaiso/rmqstream/internal/telemetry"
)

const queue = "events_0"

type fakeSink struct {
	mu     sync.Mutex
	rows   int64
	writes int
	err    error
}

func (s *fakeSink) Write(_ context.Context, b *block.Block) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return 0, s.err
	}
	n := int64(b.Rows())
	s.rows += n
	return n, nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSink) stats() (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.writes
}

type fixture struct {
	storage *storage.Storage
	opener  *mqtest.Opener
	sink    *fakeSink
	metrics *telemetry.Metrics
	pump    *Pump
}

func newFixture(t *testing.T, threshold uint32) *fixture {
	t.Helper()

	f := &fixture{
		opener:  &mqtest.Opener{},
		sink:    &fakeSink{},
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}

	s, err := storage.New(f.opener, storage.Config{
		Exchange: "events",
		Format:   format.NameLineAsString,
		Header:   block.Header{{Name: "line", Type: block.TypeString}},
		Queues:   []string{queue},
		Metrics:  f.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	f.storage = s

	f.pump, err = New(Config{
		Storage:          s,
		Sink:             f.sink,
		MaxWait:          50 * time.Millisecond,
		FlushInterval:    10 * time.Millisecond,
		FailureThreshold: threshold,
		ResetTimeout:     time.Hour,
		Metrics:          f.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) deliver(t *testing.T, bodies ...string) {
	t.Helper()
	want := f.storage.Buffers()[0].Queued + len(bodies)
	for _, body := range bodies {
		f.opener.Last().Deliver(queue, []byte(body))
	}
	if !mqtest.WaitFor(func() bool { return f.storage.Buffers()[0].Queued == want }, time.Second) {
		t.Fatalf("messages did not reach the buffer")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Sink: &fakeSink{}}); err == nil {
		t.Error("expected error without storage")
	}
}

func TestRunOnce_WritesAndAcks(t *testing.T) {
	f := newFixture(t, 5)
	f.deliver(t, "a\nb", "c")

	n, err := f.pump.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows written, got %d", n)
	}

	acks := f.opener.Last().Acks()
	if len(acks) != 1 || acks[0].Tag != 2 {
		t.Errorf("expected ack of tag 2 after write, got %+v", acks)
	}
	if v := testutil.ToFloat64(f.metrics.SinkRows); v != 3 {
		t.Errorf("expected 3 sink rows, got %v", v)
	}
}

func TestRunOnce_Empty(t *testing.T) {
	f := newFixture(t, 5)

	n, err := f.pump.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected 0, nil; got %d, %v", n, err)
	}
	if _, writes := f.sink.stats(); writes != 0 {
		t.Error("sink must not be called for an empty read")
	}
}

func TestRunOnce_SinkErrorRequeues(t *testing.T) {
	f := newFixture(t, 5)
	f.sink.setErr(errors.New("db down"))
	f.deliver(t, "a", "b")

	if _, err := f.pump.RunOnce(context.Background()); err == nil {
		t.Fatal("expected sink error")
	}

	ch := f.opener.Last()
	if len(ch.Acks()) != 0 {
		t.Errorf("nothing must be acked after a failed write, got %+v", ch.Acks())
	}
	nacks := ch.Nacks()
	if len(nacks) != 1 || nacks[0].Tag != 2 || !nacks[0].Requeue {
		t.Errorf("expected requeue up to tag 2, got %+v", nacks)
	}
	if v := testutil.ToFloat64(f.metrics.SinkErrors); v != 1 {
		t.Errorf("expected 1 sink error, got %v", v)
	}

	// Следующая успешная запись подтверждает только своё
	f.sink.setErr(nil)
	f.deliver(t, "c")
	if _, err := f.pump.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if acks := ch.Acks(); len(acks) != 1 || acks[0].Tag != 3 {
		t.Errorf("expected ack of tag 3, got %+v", acks)
	}
}

func TestRunOnce_BreakerOpens(t *testing.T) {
	f := newFixture(t, 2)
	f.sink.setErr(errors.New("db down"))

	for range 2 {
		f.deliver(t, "x")
		if _, err := f.pump.RunOnce(context.Background()); err == nil {
			t.Fatal("expected sink error")
		}
	}
	if f.pump.BreakerState() != "open" {
		t.Fatalf("expected open breaker, got %s", f.pump.BreakerState())
	}

	f.deliver(t, "y")
	_, err := f.pump.RunOnce(context.Background())
	if !errors.Is(err, ErrSinkUnavailable) {
		t.Fatalf("expected ErrSinkUnavailable, got %v", err)
	}
	if _, writes := f.sink.stats(); writes != 2 {
		t.Errorf("sink must not be called while open, got %d writes", writes)
	}
	if f.storage.Buffers()[0].Queued != 1 {
		t.Error("message must stay in the buffer while the sink is unavailable")
	}
}

func TestRunOnce_RepairsChannel(t *testing.T) {
	f := newFixture(t, 5)
	first := f.opener.Last()
	first.Break("connection reset")
	mqtest.WaitFor(func() bool { return !f.storage.Buffers()[0].Usable }, time.Second)

	if _, err := f.pump.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(f.opener.Channels()) != 2 {
		t.Fatalf("expected channel to be reopened, got %d channels", len(f.opener.Channels()))
	}
	if !f.storage.Buffers()[0].Usable {
		t.Error("buffer should be usable after repair")
	}

	f.deliver(t, "after")
	n, err := f.pump.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Errorf("expected 1 row after repair, got %d, %v", n, err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, 5)
	f.pump.Start(context.Background())
	if !f.pump.Running() {
		t.Fatal("pump should be running")
	}

	// Pump читает параллельно, поэтому без ожидания очереди
	f.opener.Last().Deliver(queue, []byte("a"))
	f.opener.Last().Deliver(queue, []byte("b\nc"))
	ok := mqtest.WaitFor(func() bool {
		rows, _ := f.sink.stats()
		return rows == 3
	}, 2*time.Second)
	if !ok {
		rows, _ := f.sink.stats()
		t.Fatalf("expected 3 rows in sink, got %d", rows)
	}

	f.pump.Stop()
	f.pump.Stop()
	if f.pump.Running() {
		t.Error("pump should be stopped")
	}
	if f.storage.Available() != f.storage.Size() {
		t.Error("all buffers must be back in the pool after stop")
	}
}
