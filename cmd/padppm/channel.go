package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/holoplot/go-evdev"
)

// ============================================================================
// Channel Input State Machine
// ============================================================================
// One ChannelHandler per logical channel. It listens for a single evdev code,
// keeps the last raw sample and a two-state activation flag, and maps the raw
// sample to a 0..1 percentage for the encoder.
//
// The dead zone is the only hysteresis band: a sample inside it is inactive even
// when it lies inside the active range.
// ============================================================================

// ErrInvalidChannel reports a channel handler configuration error.
var ErrInvalidChannel = errors.New("invalid channel")

// Code identifies a raw device input (event type + code).
type Code struct {
	Type evdev.EvType
	Code evdev.EvCode
}

// AbsCode returns the Code of an absolute axis.
func AbsCode(c evdev.EvCode) Code { return Code{Type: evdev.EV_ABS, Code: c} }

// KeyCode returns the Code of a key or button.
func KeyCode(c evdev.EvCode) Code { return Code{Type: evdev.EV_KEY, Code: c} }

func (c Code) String() string {
	return evdev.CodeName(c.Type, c.Code)
}

// Sample is one raw input reading from the device.
type Sample struct {
	Code  Code
	Value int32
}

// ChannelMap is the static identity of a logical input: a display name and the
// raw code it listens for. Several maps may share a code (e.g. both halves of a
// d-pad axis).
type ChannelMap struct {
	Name string
	Code Code
}

func (m ChannelMap) String() string { return m.Name }

// Range is an inclusive [Min, Max] interval of raw sample values.
// The zero value is [0, 0], which is also the "no dead zone" default.
type Range struct {
	Min int32
	Max int32
}

// Contains reports whether v lies inside r (inclusive).
func (r Range) Contains(v int32) bool {
	return v >= r.Min && v <= r.Max
}

// Width returns Max-Min.
func (r Range) Width() int64 {
	return int64(r.Max) - int64(r.Min)
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Preset ranges.
var (
	ButtonRange   = Range{Min: 0, Max: 1}
	TriggerRange  = Range{Min: 0, Max: 255}
	StickRange    = Range{Min: -32768, Max: 32767}
	StickDeadZone = Range{Min: -5000, Max: 5000}
	NoDeadZone    = Range{}
)

// ChannelHandler is the runtime state bound to one ChannelMap.
//
// It is owned by the control goroutine; none of its methods are safe for
// concurrent use.
type ChannelHandler struct {
	m        ChannelMap
	active   Range
	deadZone Range
	bus      *Bus

	last    int32
	hasLast bool
	on      bool
}

// NewChannelHandler validates the configuration and returns an inactive handler.
// bus may be nil, in which case no messages are published.
func NewChannelHandler(m ChannelMap, active, deadZone Range, bus *Bus) (*ChannelHandler, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("%w: channel map has no name (code %s)", ErrInvalidChannel, m.Code)
	}
	if active.Min > active.Max {
		return nil, fmt.Errorf("%w: %s: active range %s is inverted", ErrInvalidChannel, m.Name, active)
	}
	if deadZone.Min > deadZone.Max {
		return nil, fmt.Errorf("%w: %s: dead zone %s is inverted", ErrInvalidChannel, m.Name, deadZone)
	}
	return &ChannelHandler{
		m:        m,
		active:   active,
		deadZone: deadZone,
		bus:      bus,
	}, nil
}

// NewButtonHandler returns a binary button handler: active range [0,1], no dead zone.
func NewButtonHandler(m ChannelMap, bus *Bus) (*ChannelHandler, error) {
	return NewChannelHandler(m, ButtonRange, NoDeadZone, bus)
}

// NewTriggerHandler returns an analog trigger handler: active range [0,255], no dead zone.
func NewTriggerHandler(m ChannelMap, bus *Bus) (*ChannelHandler, error) {
	return NewChannelHandler(m, TriggerRange, NoDeadZone, bus)
}

// NewStickHandler returns a stick axis handler: full int16 range with a
// [-5000,5000] dead zone around center.
func NewStickHandler(m ChannelMap, bus *Bus) (*ChannelHandler, error) {
	return NewChannelHandler(m, StickRange, StickDeadZone, bus)
}

func (h *ChannelHandler) Name() string { return h.m.Name }
func (h *ChannelHandler) Map() ChannelMap { return h.m }
func (h *ChannelHandler) ActiveRange() Range { return h.active }
func (h *ChannelHandler) DeadZone() Range { return h.deadZone }
func (h *ChannelHandler) String() string { return h.m.Name }
func (h *ChannelHandler) IsActive() bool { return h.on }

// RawValue returns the last accepted sample value. ok is false until the first
// matching sample arrives.
func (h *ChannelHandler) RawValue() (v int32, ok bool) {
	return h.last, h.hasLast
}

// Handle feeds one raw sample. It returns false, without touching any state,
// when the sample is for a different code.
func (h *ChannelHandler) Handle(s Sample) bool {
	if s.Code != h.m.Code {
		return false
	}

	h.last = s.Value
	h.hasLast = true

	was := h.on
	h.on = h.active.Contains(s.Value) && !h.deadZone.Contains(s.Value)

	if h.bus != nil {
		if was != h.on {
			if h.on {
				h.bus.Publish(Message{Kind: KindActivated, Source: h})
			} else {
				h.bus.Publish(Message{Kind: KindDeactivated, Source: h})
			}
		}
		h.bus.Publish(Message{Kind: KindUpdated, Source: h})
	}
	return true
}

// PercentValue maps the last sample onto [0, 1], truncated to two decimals.
//
// The span is the active range minus the dead-zone width; samples above the
// dead zone are shifted down by that width so the output is continuous and
// monotonic across it. Inactive handlers report 0. A degenerate span uses a
// denominator of 1, so a single-value active range always reports 0.
// Unlike a plain (v-min)/width mapping, a stick just past the dead zone reads
// 0.50, not 0.57.
func (h *ChannelHandler) PercentValue() float64 {
	if !h.on || !h.hasLast {
		return 0
	}

	dz := h.deadZone.Width()
	span := h.active.Width() - dz
	if span <= 0 {
		span = 1
	}

	offset := int64(h.last) - int64(h.active.Min)
	if h.last > h.deadZone.Max {
		offset -= dz
	}

	p := math.Trunc(float64(offset)/float64(span)*100) / 100
	return min(max(p, 0), 1)
}
