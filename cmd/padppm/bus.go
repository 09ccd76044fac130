package main

import (
	"errors"
	"fmt"
	"slices"
)

// ============================================================================
// Event Bus
// ============================================================================
// Decouples channel handlers from whatever reacts to their state changes
// (the control loop, the visualizer feed).
//
// Ownership: the bus is used from the control goroutine only. It has no lock.
//
// Reentrancy: handlers must not Publish from inside HandleMessage. The bus does
// not guard against recursive or unbounded fan-out.
// ============================================================================

// ErrNilHandler is returned when subscribing a nil handler.
var ErrNilHandler = errors.New("bus: nil handler")

// Handler receives bus messages. Implementations must be comparable
// (typically pointer types) so the bus can deduplicate and unsubscribe them.
type Handler interface {
	HandleMessage(Message)
}

// Bus is a publish/subscribe dispatcher keyed by MessageKind.
type Bus struct {
	handlers map[MessageKind][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[MessageKind][]Handler)}
}

// Subscribe registers h for each of kinds. Registering the same handler for the
// same kind twice is a no-op.
func (b *Bus) Subscribe(h Handler, kinds ...MessageKind) error {
	if h == nil {
		return ErrNilHandler
	}
	if len(kinds) == 0 {
		return fmt.Errorf("bus: subscribe %T: no message kinds given", h)
	}
	for _, k := range kinds {
		if !k.Valid() {
			return fmt.Errorf("bus: subscribe %T: unknown message kind %d", h, uint8(k))
		}
	}

	for _, k := range kinds {
		if slices.Contains(b.handlers[k], h) {
			continue
		}
		b.handlers[k] = append(b.handlers[k], h)
	}
	return nil
}

// Unsubscribe removes h from every kind it was registered for.
func (b *Bus) Unsubscribe(h Handler) {
	if h == nil {
		return
	}
	for k, hs := range b.handlers {
		idx := slices.Index(hs, h)
		if idx < 0 {
			continue
		}
		// Build a fresh slice so a Publish already ranging over the old one is unaffected.
		b.handlers[k] = slices.Concat(hs[:idx], hs[idx+1:])
	}
}

// Publish delivers m to every handler registered for m.Kind, in registration order.
func (b *Bus) Publish(m Message) {
	for _, h := range b.handlers[m.Kind] {
		h.HandleMessage(m)
	}
}

// DelegatingHandler adapts a function to Handler. It only forwards messages
// whose kind it was declared with, so it is safe to subscribe it more broadly.
type DelegatingHandler struct {
	kinds []MessageKind
	fn    func(Message)
}

// NewDelegatingHandler returns a handler that calls fn for messages of the given kinds.
func NewDelegatingHandler(fn func(Message), kinds ...MessageKind) *DelegatingHandler {
	return &DelegatingHandler{kinds: slices.Clone(kinds), fn: fn}
}

// Kinds returns the kinds this handler accepts.
func (d *DelegatingHandler) Kinds() []MessageKind {
	return slices.Clone(d.kinds)
}

// Handles reports whether m is of a kind this handler accepts.
func (d *DelegatingHandler) Handles(m Message) bool {
	return slices.Contains(d.kinds, m.Kind)
}

func (d *DelegatingHandler) HandleMessage(m Message) {
	if d.fn == nil || !d.Handles(m) {
		return
	}
	d.fn(m)
}

// SubscribeDelegate registers d for the kinds it declared.
func (b *Bus) SubscribeDelegate(d *DelegatingHandler) error {
	if d == nil {
		return ErrNilHandler
	}
	return b.Subscribe(d, d.kinds...)
}
