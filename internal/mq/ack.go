package mq

import (
	"slices"
	"sync"
)

// AckRecord — позиция для подтверждения: delivery tag и канал, на котором
// сообщение было получено. Delivery tag имеет смысл только внутри своего канала.
type AckRecord struct {
	DeliveryTag uint64
	ChannelID   string
}

// IsZero — пустая запись (сброс трекера).
func (r AckRecord) IsZero() bool {
	return r.DeliveryTag == 0 && r.ChannelID == ""
}

// AckTracker хранит прочитанные, но ещё не подтверждённые позиции
// и границу закрытых tag'ов текущего канала.
//
// Брокер нумерует доставки канала с 1 подряд, но при нескольких очередях
// на одном канале сообщения приходят в буфер не по порядку. Поэтому
// кумулятивный ack (multiple=true) отправляется только до границы, ниже
// которой прочитано всё. Прочитанное выше границы подтверждается по одному.
//
// Запись с чужого (заменённого) канала никогда не подтверждается на новом
// канале, она просто отбрасывается: брокер уже вернул такие сообщения в очередь.
type AckTracker struct {
	mu sync.Mutex

	// channelID — канал, к которому относятся settled и done.
	channelID string
	// settled — все tag'и до него включительно подтверждены или возвращены.
	settled uint64
	// done — закрытые tag'и выше settled.
	done map[uint64]struct{}

	pending []AckRecord
}

// Update запоминает прочитанную позицию.
// Пустая запись сбрасывает трекер (канал заменён).
func (t *AckTracker) Update(rec AckRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.IsZero() {
		t.channelID = ""
		t.settled = 0
		t.done = nil
		t.pending = nil
		return
	}
	t.pending = append(t.pending, rec)
}

// Pending возвращает последнюю позицию, ожидающую подтверждения.
func (t *AckTracker) Pending() (AckRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return AckRecord{}, false
	}
	return t.pending[len(t.pending)-1], true
}

// FlushResult — итог Flush.
type FlushResult int

const (
	// FlushNothing — подтверждать нечего.
	FlushNothing FlushResult = iota
	// FlushAcked — позиции подтверждены.
	FlushAcked
	// FlushStale — позиции с заменённого канала, отброшены.
	FlushStale
)

// SettleFunc подтверждает (или возвращает в очередь) tag; multiple
// распространяет действие на все незакрытые tag'и ниже.
type SettleFunc func(tag uint64, multiple bool) error

// Flush подтверждает накопленные позиции канала channelID.
// При ошибке неподтверждённые позиции сохраняются.
func (t *AckTracker) Flush(channelID string, ack SettleFunc) (FlushResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settle(channelID, nil, ack)
}

// Reject закрывает накопленные позиции и extra через nack: эти сообщения
// возвращены в очередь и больше не подтверждаются.
func (t *AckTracker) Reject(channelID string, extra []AckRecord, nack SettleFunc) (FlushResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settle(channelID, extra, nack)
}

func (t *AckTracker) settle(channelID string, extra []AckRecord, fn SettleFunc) (FlushResult, error) {
	if channelID != t.channelID {
		t.channelID = channelID
		t.settled = 0
		t.done = nil
	}

	var tags []uint64
	stale := false
	for _, rec := range slices.Concat(t.pending, extra) {
		if rec.ChannelID != channelID {
			stale = true
			continue
		}
		if rec.DeliveryTag <= t.settled {
			continue
		}
		if _, ok := t.done[rec.DeliveryTag]; ok {
			continue
		}
		tags = append(tags, rec.DeliveryTag)
	}

	if len(tags) == 0 {
		t.pending = nil
		if stale {
			return FlushStale, nil
		}
		return FlushNothing, nil
	}

	slices.Sort(tags)
	tags = slices.Compact(tags)

	// Двигаем границу, пока следующий tag прочитан сейчас или закрыт раньше.
	// cut — старший из новых tag'ов под границей: multiple до него
	// не задевает ни непрочитанные, ни уже закрытые сообщения.
	bound, cut, i := t.settled, uint64(0), 0
	for {
		next := bound + 1
		if i < len(tags) && tags[i] == next {
			bound, cut = next, next
			i++
			continue
		}
		if _, ok := t.done[next]; ok {
			bound = next
			continue
		}
		break
	}

	if cut > 0 {
		if err := fn(cut, true); err != nil {
			return FlushNothing, err
		}
	}

	t.settled = bound
	for tag := range t.done {
		if tag <= bound {
			delete(t.done, tag)
		}
	}

	for j, tag := range tags[i:] {
		if err := fn(tag, false); err != nil {
			t.pending = t.pending[:0]
			for _, rest := range tags[i+j:] {
				t.pending = append(t.pending, AckRecord{DeliveryTag: rest, ChannelID: channelID})
			}
			return FlushNothing, err
		}
		if t.done == nil {
			t.done = make(map[uint64]struct{})
		}
		t.done[tag] = struct{}{}
	}

	t.pending = nil
	return FlushAcked, nil
}
