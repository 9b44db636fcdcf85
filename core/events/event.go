package events

import "juryledger/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a wire representation.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP stream,
// the archive).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Wrapped is the concrete Payload used by the native engines.
type Wrapped struct {
	Evt *types.Event
}

// EventType implements Event.
func (w Wrapped) EventType() string {
	if w.Evt == nil {
		return ""
	}
	return w.Evt.Type
}

// Event implements Payload.
func (w Wrapped) Event() *types.Event { return w.Evt }

// Unwrap extracts the wire payload from evt when it carries one.
func Unwrap(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	payload, ok := evt.(Payload)
	if !ok {
		return nil
	}
	return payload.Event()
}
