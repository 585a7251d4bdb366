package mq_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/rmqstream/internal/mq"
	"github.com/shaiso/rmqstream/internal/mq/mqtest"
)

const waitTimeout = 2 * time.Second

func newSubscribedBuffer(t *testing.T) (*mq.ConsumerBuffer, *mqtest.Channel) {
	t.Helper()

	buf := mq.NewConsumerBuffer(mq.BufferConfig{ID: 0, Queues: []string{"q"}, QueueSize: 16, Prefetch: 8})
	t.Cleanup(func() { buf.Close() })

	ch := mqtest.NewChannel()
	buf.UpdateChannel(ch)
	if err := buf.SetupChannel(); err != nil {
		t.Fatalf("setup channel: %v", err)
	}
	return buf, ch
}

func waitQueued(t *testing.T, buf *mq.ConsumerBuffer, n int) {
	t.Helper()
	if !mqtest.WaitFor(func() bool { return buf.Queued() == n }, waitTimeout) {
		t.Fatalf("expected %d queued messages, got %d", n, buf.Queued())
	}
}

// --- AckTracker Tests ---

func TestAckTracker_CumulativeFlush(t *testing.T) {
	var tr mq.AckTracker

	for _, tag := range []uint64{1, 2, 3} {
		tr.Update(mq.AckRecord{DeliveryTag: tag, ChannelID: "c"})
	}

	var acked []uint64
	res, err := tr.Flush("c", func(tag uint64, multiple bool) error {
		if !multiple {
			t.Errorf("contiguous tags must be acked cumulatively, got single %d", tag)
		}
		acked = append(acked, tag)
		return nil
	})
	if err != nil || res != mq.FlushAcked {
		t.Fatalf("expected FlushAcked, got %v (%v)", res, err)
	}
	if len(acked) != 1 || acked[0] != 3 {
		t.Errorf("expected single cumulative ack of 3, got %v", acked)
	}

	// Повторный flush без новых позиций ничего не делает
	res, _ = tr.Flush("c", func(uint64, bool) error {
		t.Error("ack should not be called")
		return nil
	})
	if res != mq.FlushNothing {
		t.Errorf("expected FlushNothing, got %v", res)
	}
}

func TestAckTracker_StaleChannelDropped(t *testing.T) {
	var tr mq.AckTracker
	tr.Update(mq.AckRecord{DeliveryTag: 2, ChannelID: "old"})

	res, err := tr.Flush("new", func(uint64, bool) error {
		t.Error("stale tag must not be acked on the new channel")
		return nil
	})
	if err != nil || res != mq.FlushStale {
		t.Fatalf("expected FlushStale, got %v (%v)", res, err)
	}
	if _, ok := tr.Pending(); ok {
		t.Error("stale record should be dropped")
	}
}

func TestAckTracker_AckErrorKeepsPending(t *testing.T) {
	var tr mq.AckTracker
	tr.Update(mq.AckRecord{DeliveryTag: 5, ChannelID: "c"})

	boom := errors.New("boom")
	if _, err := tr.Flush("c", func(uint64, bool) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if rec, ok := tr.Pending(); !ok || rec.DeliveryTag != 5 {
		t.Errorf("record should stay pending after failed ack, got %v %v", rec, ok)
	}
}

func TestAckTracker_ResetOnZeroRecord(t *testing.T) {
	var tr mq.AckTracker
	for _, tag := range []uint64{1, 2, 3} {
		tr.Update(mq.AckRecord{DeliveryTag: tag, ChannelID: "c1"})
	}
	_, _ = tr.Flush("c1", func(uint64, bool) error { return nil })

	// Канал заменён: трекер сброшен, нумерация нового канала с 1
	tr.Update(mq.AckRecord{})
	tr.Update(mq.AckRecord{DeliveryTag: 1, ChannelID: "c2"})
	tr.Update(mq.AckRecord{DeliveryTag: 2, ChannelID: "c2"})

	var acked uint64
	res, _ := tr.Flush("c2", func(tag uint64, multiple bool) error {
		if multiple {
			acked = tag
		}
		return nil
	})
	if res != mq.FlushAcked || acked != 2 {
		t.Errorf("expected tag 2 acked on c2, got %v %d", res, acked)
	}
}

type settleCall struct {
	tag      uint64
	multiple bool
}

func flushCalls(t *testing.T, tr *mq.AckTracker, channelID string) []settleCall {
	t.Helper()
	var calls []settleCall
	if _, err := tr.Flush(channelID, func(tag uint64, multiple bool) error {
		calls = append(calls, settleCall{tag, multiple})
		return nil
	}); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return calls
}

func TestAckTracker_OutOfOrderNeverCoversUnread(t *testing.T) {
	var tr mq.AckTracker

	// Tag 2 ещё не прочитан: cumulative ack 3 подтвердил бы и его
	tr.Update(mq.AckRecord{DeliveryTag: 1, ChannelID: "c"})
	tr.Update(mq.AckRecord{DeliveryTag: 3, ChannelID: "c"})

	calls := flushCalls(t, &tr, "c")
	want := []settleCall{{1, true}, {3, false}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, calls)
	}

	// Tag 2 прочитан позже: граница проходит через уже закрытый tag 3,
	// но multiple отправляется только до 2
	tr.Update(mq.AckRecord{DeliveryTag: 2, ChannelID: "c"})
	tr.Update(mq.AckRecord{DeliveryTag: 5, ChannelID: "c"})
	calls = flushCalls(t, &tr, "c")
	want = []settleCall{{2, true}, {5, false}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, calls)
	}

	// Закрываем дыру 4: граница доходит до 5
	tr.Update(mq.AckRecord{DeliveryTag: 6, ChannelID: "c"})
	tr.Update(mq.AckRecord{DeliveryTag: 4, ChannelID: "c"})
	calls = flushCalls(t, &tr, "c")
	if len(calls) != 1 || calls[0] != (settleCall{6, true}) {
		t.Fatalf("expected cumulative ack of 6, got %+v", calls)
	}

	if calls := flushCalls(t, &tr, "c"); len(calls) != 0 {
		t.Errorf("nothing left to ack, got %+v", calls)
	}
}

func TestAckTracker_RejectWithExtra(t *testing.T) {
	var tr mq.AckTracker
	tr.Update(mq.AckRecord{DeliveryTag: 2, ChannelID: "c"})

	var calls []settleCall
	_, err := tr.Reject("c", []mq.AckRecord{{DeliveryTag: 3, ChannelID: "c"}}, func(tag uint64, multiple bool) error {
		calls = append(calls, settleCall{tag, multiple})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// Tag 1 не прочитан: nack только точечно
	want := []settleCall{{2, false}, {3, false}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, calls)
	}

	tr.Update(mq.AckRecord{DeliveryTag: 1, ChannelID: "c"})
	if calls := flushCalls(t, &tr, "c"); len(calls) != 1 || calls[0] != (settleCall{1, true}) {
		t.Errorf("expected cumulative ack of 1 only, got %+v", calls)
	}
}

func TestAckTracker_PartialFailureKeepsRest(t *testing.T) {
	var tr mq.AckTracker
	for _, tag := range []uint64{1, 3, 5} {
		tr.Update(mq.AckRecord{DeliveryTag: tag, ChannelID: "c"})
	}

	boom := errors.New("boom")
	_, err := tr.Flush("c", func(tag uint64, _ bool) error {
		if tag == 5 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if rec, ok := tr.Pending(); !ok || rec.DeliveryTag != 5 {
		t.Errorf("tag 5 should stay pending, got %+v %v", rec, ok)
	}

	if calls := flushCalls(t, &tr, "c"); len(calls) != 1 || calls[0] != (settleCall{5, false}) {
		t.Errorf("expected retry of tag 5 only, got %+v", calls)
	}
}

// --- ConsumerBuffer Tests ---

func TestConsumerBuffer_NewIsUnusable(t *testing.T) {
	buf := mq.NewConsumerBuffer(mq.BufferConfig{Queues: []string{"q"}})
	defer buf.Close()

	if buf.ChannelUsable() {
		t.Error("buffer without channel should not be usable")
	}
	if !buf.ChannelAllowed() {
		t.Error("new buffer should allow channel setup")
	}
	if err := buf.SetupChannel(); !errors.Is(err, mq.ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}
}

func TestConsumerBuffer_LogsConsumerAndChannel(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))

	buf := mq.NewConsumerBuffer(mq.BufferConfig{ID: 3, Queues: []string{"q"}, Logger: logger})
	t.Cleanup(func() { buf.Close() })

	buf.UpdateChannel(mqtest.NewChannel())
	if err := buf.SetupChannel(); err != nil {
		t.Fatalf("setup channel: %v", err)
	}

	line := out.String()
	if !strings.Contains(line, `"consumer":3`) {
		t.Errorf("expected consumer field, got %s", line)
	}
	if !strings.Contains(line, `"channel_id":"`+buf.ChannelID()+`"`) {
		t.Errorf("expected channel_id %s, got %s", buf.ChannelID(), line)
	}
}

func TestConsumerBuffer_ReadSequence(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	if ch.Prefetch() != 8 {
		t.Errorf("expected prefetch 8, got %d", ch.Prefetch())
	}

	ch.Deliver("q", []byte("one"), mqtest.WithMessageID("m1"))
	ch.Deliver("q", []byte("two"), mqtest.WithRedelivered())
	waitQueued(t, buf, 2)

	if buf.EOF() {
		t.Fatal("expected a message")
	}
	msg, ok := buf.Message()
	if !ok || string(msg.Body) != "one" || msg.MessageID != "m1" || msg.DeliveryTag != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.ChannelID != buf.ChannelID() {
		t.Errorf("message channel id %q != buffer channel id %q", msg.ChannelID, buf.ChannelID())
	}

	// Без AllowNext следующее сообщение не берётся
	if !buf.EOF() {
		t.Fatal("EOF expected before AllowNext")
	}

	buf.AllowNext()
	if buf.EOF() {
		t.Fatal("expected second message after AllowNext")
	}
	msg, _ = buf.Message()
	if !msg.Redelivered || msg.DeliveryTag != 2 {
		t.Errorf("unexpected second message %+v", msg)
	}

	buf.AllowNext()
	if !buf.QueueEmpty() || !buf.EOF() {
		t.Error("queue should be empty")
	}
}

func TestConsumerBuffer_AckMessages(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	for i := 0; i < 3; i++ {
		ch.Deliver("q", []byte("x"))
	}
	waitQueued(t, buf, 3)

	for !buf.EOF() {
		msg, _ := buf.Message()
		buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})
		buf.AllowNext()
	}

	res, ok := buf.AckMessages()
	if !ok || res != mq.FlushAcked {
		t.Fatalf("expected successful ack, got %v %v", res, ok)
	}

	acks := ch.Acks()
	if len(acks) != 1 || acks[0].Tag != 3 || !acks[0].Multiple {
		t.Errorf("expected one multiple ack of tag 3, got %+v", acks)
	}
}

func TestConsumerBuffer_ChannelFailure(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	ch.Deliver("q", []byte("x"))
	waitQueued(t, buf, 1)
	buf.EOF()
	msg, _ := buf.Message()

	ch.Break("connection reset")
	if !mqtest.WaitFor(func() bool { return !buf.ChannelUsable() }, waitTimeout) {
		t.Fatal("buffer should observe broken channel")
	}

	// Пока канал неисправен, позиции не запоминаются и ack не отправляется
	buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})
	if _, ok := buf.PendingAck(); ok {
		t.Error("record must be ignored while channel is broken")
	}
	if _, ok := buf.AckMessages(); ok {
		t.Error("AckMessages must fail on unusable channel")
	}

	// Восстановление
	oldID := buf.ChannelID()
	fresh := mqtest.NewChannel()
	buf.UpdateAckTracker(mq.AckRecord{})
	buf.UpdateChannel(fresh)
	if err := buf.SetupChannel(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !buf.ChannelUsable() {
		t.Fatal("buffer should be usable after repair")
	}
	if buf.ChannelID() == oldID {
		t.Error("channel id must change after repair")
	}

	tag := fresh.Deliver("q", []byte("y"))
	buf.AllowNext()
	waitQueued(t, buf, 1)
	buf.EOF()
	msg, _ = buf.Message()
	buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})

	if _, ok := buf.AckMessages(); !ok {
		t.Fatal("ack should succeed on the new channel")
	}
	if acks := fresh.Acks(); len(acks) != 1 || acks[0].Tag != tag {
		t.Errorf("expected ack of %d on fresh channel, got %+v", tag, acks)
	}
	if len(ch.Acks()) != 0 {
		t.Error("old channel must never receive acks")
	}
}

func TestConsumerBuffer_StaleMessageAfterRepair(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	ch.Deliver("q", []byte("x"))
	waitQueued(t, buf, 1)

	// Канал заменён, а сообщение старого канала ещё лежит в очереди
	buf.MarkChannelError()
	buf.UpdateAckTracker(mq.AckRecord{})
	fresh := mqtest.NewChannel()
	buf.UpdateChannel(fresh)
	if err := buf.SetupChannel(); err != nil {
		t.Fatalf("setup: %v", err)
	}

	buf.EOF()
	msg, _ := buf.Message()
	buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})

	res, ok := buf.AckMessages()
	if !ok || res != mq.FlushStale {
		t.Fatalf("expected stale drop, got %v %v", res, ok)
	}
	if len(fresh.Acks()) != 0 {
		t.Error("stale tag must not be acked on the new channel")
	}
}

func TestConsumerBuffer_RejectCurrent(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	ch.Deliver("q", []byte("good"))
	ch.Deliver("q", []byte("bad"))
	waitQueued(t, buf, 2)

	buf.EOF()
	good, _ := buf.Message()
	buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: good.DeliveryTag, ChannelID: good.ChannelID})
	buf.AllowNext()
	buf.EOF()
	buf.Message()

	if err := buf.RejectCurrent(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nacks := ch.Nacks()
	if len(nacks) != 1 || nacks[0].Tag != 2 || !nacks[0].Multiple || !nacks[0].Requeue {
		t.Errorf("expected requeue nack of tags up to 2, got %+v", nacks)
	}

	// Tag 1 уже возвращён в очередь вместе с tag 2
	if _, ok := buf.PendingAck(); ok {
		t.Error("rejected positions must not stay pending")
	}
	if res, ok := buf.AckMessages(); !ok || res != mq.FlushNothing {
		t.Errorf("expected nothing to ack, got %v %v", res, ok)
	}
	if len(ch.Acks()) != 0 {
		t.Errorf("expected no acks, got %+v", ch.Acks())
	}
}

func TestConsumerBuffer_RejectPending(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	if err := buf.RejectPending(); err != nil || len(ch.Nacks()) != 0 {
		t.Fatalf("nothing pending: expected no nack, got %v %+v", err, ch.Nacks())
	}

	ch.Deliver("q", []byte("a"))
	ch.Deliver("q", []byte("b"))
	waitQueued(t, buf, 2)

	for range 2 {
		buf.EOF()
		msg, _ := buf.Message()
		buf.UpdateAckTracker(mq.AckRecord{DeliveryTag: msg.DeliveryTag, ChannelID: msg.ChannelID})
		buf.AllowNext()
	}

	if err := buf.RejectPending(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nacks := ch.Nacks()
	if len(nacks) != 1 || nacks[0].Tag != 2 || !nacks[0].Multiple {
		t.Errorf("expected multiple nack of tag 2, got %+v", nacks)
	}
	if _, ok := buf.PendingAck(); ok {
		t.Error("expected nothing pending after reject")
	}
}

func TestConsumerBuffer_ResetAllowsNext(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)

	ch.Deliver("q", []byte("a"))
	ch.Deliver("q", []byte("b"))
	waitQueued(t, buf, 2)

	buf.EOF()
	buf.Message()
	// Читатель не вызвал AllowNext (например, упал на парсинге)
	buf.Reset()

	if buf.EOF() {
		t.Fatal("next reader should get the next message")
	}
	msg, _ := buf.Message()
	if string(msg.Body) != "b" {
		t.Errorf("expected b, got %q", msg.Body)
	}
}

func TestConsumerBuffer_CloseStopsReading(t *testing.T) {
	buf, ch := newSubscribedBuffer(t)
	ch.Deliver("q", []byte("a"))
	waitQueued(t, buf, 1)

	buf.Close()

	if !buf.EOF() {
		t.Error("stopped buffer must report EOF")
	}
	if buf.ChannelAllowed() {
		t.Error("stopped buffer must not allow repair")
	}
	if err := buf.SetupChannel(); !errors.Is(err, mq.ErrBufferStopped) {
		t.Errorf("expected ErrBufferStopped, got %v", err)
	}
}
