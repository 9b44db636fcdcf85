package events

import (
	"sync"

	"juryledger/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans committed events out to any number of subscribers. Slow
// subscribers miss events rather than blocking the ledger; the archive is the
// durable record.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan *types.Event
	sinks  []Emitter
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan *types.Event)}
}

// AddSink registers a synchronous downstream emitter. Sinks receive every
// event in order before channel subscribers do.
func (b *Broadcaster) AddSink(sink Emitter) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Subscribe returns a channel of events and a cancel function that must be
// invoked to release the subscription.
func (b *Broadcaster) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sink := range b.sinks {
		sink.Emit(evt)
	}
	payload := Unwrap(evt)
	if payload == nil {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- payload.Clone():
		default:
		}
	}
}
