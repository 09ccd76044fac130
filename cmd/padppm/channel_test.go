package main

import (
	"errors"
	"testing"

	"github.com/holoplot/go-evdev"
)

var (
	testStickMap  = ChannelMap{"Left Stick X-Axis", AbsCode(evdev.ABS_X)}
	testButtonMap = ChannelMap{"A", KeyCode(evdev.BTN_SOUTH)}
)

func kindsOf(msgs []Message) []MessageKind {
	out := make([]MessageKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func equalKinds(a, b []MessageKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChannelHandler_InitialState(t *testing.T) {
	h, err := NewStickHandler(testStickMap, nil)
	if err != nil {
		t.Fatalf("NewStickHandler: %v", err)
	}
	if h.IsActive() {
		t.Errorf("new handler is active")
	}
	if _, ok := h.RawValue(); ok {
		t.Errorf("new handler has a raw value")
	}
	if got := h.PercentValue(); got != 0 {
		t.Errorf("PercentValue() = %v, want 0", got)
	}
}

func TestChannelHandler_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		m        ChannelMap
		active   Range
		deadZone Range
	}{
		{"no name", ChannelMap{Code: AbsCode(evdev.ABS_X)}, StickRange, StickDeadZone},
		{"inverted active", testStickMap, Range{10, -10}, NoDeadZone},
		{"inverted dead zone", testStickMap, StickRange, Range{5, -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChannelHandler(tt.m, tt.active, tt.deadZone, nil)
			if !errors.Is(err, ErrInvalidChannel) {
				t.Fatalf("err = %v, want ErrInvalidChannel", err)
			}
		})
	}
}

func TestChannelHandler_IgnoresOtherCodes(t *testing.T) {
	bus := NewBus()
	rec := &recordingHandler{}
	_ = bus.Subscribe(rec, AllKinds...)

	h, _ := NewStickHandler(testStickMap, bus)
	if h.Handle(Sample{Code: AbsCode(evdev.ABS_Y), Value: 32767}) {
		t.Fatalf("Handle accepted a sample for another axis")
	}
	// Same numeric code, different event type.
	if h.Handle(Sample{Code: KeyCode(evdev.EvCode(evdev.ABS_X)), Value: 1}) {
		t.Fatalf("Handle accepted a key sample with the axis code")
	}
	if _, ok := h.RawValue(); ok || h.IsActive() {
		t.Errorf("state changed by a foreign sample")
	}
	if len(rec.got) != 0 {
		t.Errorf("messages published for a foreign sample: %v", rec.got)
	}
}

func TestChannelHandler_StickPercent(t *testing.T) {
	tests := []struct {
		value  int32
		active bool
		want   float64
	}{
		{0, false, 0},
		{5000, false, 0},
		{-5000, false, 0},
		{-32768, true, 0},
		{-5001, true, 0.49},
		{5001, true, 0.5},
		{32767, true, 1},
	}
	for _, tt := range tests {
		h, _ := NewStickHandler(testStickMap, nil)
		h.Handle(Sample{Code: testStickMap.Code, Value: tt.value})
		if h.IsActive() != tt.active {
			t.Errorf("value %d: active = %v, want %v", tt.value, h.IsActive(), tt.active)
		}
		if got := h.PercentValue(); got != tt.want {
			t.Errorf("value %d: PercentValue() = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestChannelHandler_StickPercentMonotonic(t *testing.T) {
	h, _ := NewStickHandler(testStickMap, nil)
	prev := -1.0
	for v := int32(-32768); v < 32767; v += 97 {
		h.Handle(Sample{Code: testStickMap.Code, Value: v})
		p := h.PercentValue()
		if p < 0 || p > 1 {
			t.Fatalf("value %d: PercentValue() = %v out of [0,1]", v, p)
		}
		if !h.IsActive() {
			continue
		}
		if p < prev {
			t.Fatalf("value %d: PercentValue() = %v decreased from %v", v, p, prev)
		}
		prev = p
	}
}

func TestChannelHandler_Button(t *testing.T) {
	h, _ := NewButtonHandler(testButtonMap, nil)

	h.Handle(Sample{Code: testButtonMap.Code, Value: 1})
	if !h.IsActive() || h.PercentValue() != 1 {
		t.Fatalf("pressed: active=%v percent=%v, want true 1", h.IsActive(), h.PercentValue())
	}

	h.Handle(Sample{Code: testButtonMap.Code, Value: 0})
	if h.IsActive() || h.PercentValue() != 0 {
		t.Fatalf("released: active=%v percent=%v, want false 0", h.IsActive(), h.PercentValue())
	}

	// Autorepeat (2) is outside the active range.
	h.Handle(Sample{Code: testButtonMap.Code, Value: 2})
	if h.IsActive() {
		t.Fatalf("value 2 activated a button")
	}
}

func TestChannelHandler_Trigger(t *testing.T) {
	m := ChannelMap{"Right Trigger", AbsCode(evdev.ABS_RZ)}
	h, _ := NewTriggerHandler(m, nil)

	h.Handle(Sample{Code: m.Code, Value: 255})
	if got := h.PercentValue(); got != 1 {
		t.Errorf("255: PercentValue() = %v, want 1", got)
	}
	h.Handle(Sample{Code: m.Code, Value: 128})
	if got := h.PercentValue(); got != 0.5 {
		t.Errorf("128: PercentValue() = %v, want 0.5", got)
	}
	h.Handle(Sample{Code: m.Code, Value: 0})
	if h.IsActive() || h.PercentValue() != 0 {
		t.Errorf("0: trigger should be inactive at rest")
	}
}

func TestChannelHandler_SingleValueRange(t *testing.T) {
	m := ChannelMap{"D-Pad Left", AbsCode(evdev.ABS_HAT0X)}
	h, _ := NewChannelHandler(m, Range{-1, -1}, NoDeadZone, nil)

	// Active, but a zero-width span has no position to report.
	h.Handle(Sample{Code: m.Code, Value: -1})
	if !h.IsActive() || h.PercentValue() != 0 {
		t.Fatalf("-1: active=%v percent=%v, want true 0", h.IsActive(), h.PercentValue())
	}
	h.Handle(Sample{Code: m.Code, Value: 1})
	if h.IsActive() || h.PercentValue() != 0 {
		t.Fatalf("1: active=%v percent=%v, want false 0", h.IsActive(), h.PercentValue())
	}
}

func TestChannelHandler_DeadZoneWinsOverActiveRange(t *testing.T) {
	m := ChannelMap{"Custom", AbsCode(evdev.ABS_RX)}
	tests := []struct {
		name     string
		active   Range
		deadZone Range
		value    int32
		want     bool
	}{
		{"asymmetric inside, below", Range{-100, 400}, Range{-10, 50}, -11, true},
		{"asymmetric inside, low edge", Range{-100, 400}, Range{-10, 50}, -10, false},
		{"asymmetric inside, high edge", Range{-100, 400}, Range{-10, 50}, 50, false},
		{"asymmetric inside, above", Range{-100, 400}, Range{-10, 50}, 51, true},
		{"touching min, at min", Range{0, 255}, Range{0, 20}, 0, false},
		{"touching min, in zone", Range{0, 255}, Range{0, 20}, 20, false},
		{"touching min, past zone", Range{0, 255}, Range{0, 20}, 21, true},
		{"dead zone outside range", Range{0, 10}, Range{-5, -1}, -3, false},
		{"covers whole range", Range{0, 10}, Range{-5, 15}, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewChannelHandler(m, tt.active, tt.deadZone, nil)
			if err != nil {
				t.Fatalf("NewChannelHandler: %v", err)
			}
			h.Handle(Sample{Code: m.Code, Value: tt.value})
			if h.IsActive() != tt.want {
				t.Fatalf("value %d: active = %v, want %v", tt.value, h.IsActive(), tt.want)
			}
			if !tt.want && h.PercentValue() != 0 {
				t.Fatalf("value %d: inactive PercentValue() = %v, want 0", tt.value, h.PercentValue())
			}
		})
	}
}

func TestChannelHandler_Messages(t *testing.T) {
	bus := NewBus()
	rec := &recordingHandler{}
	_ = bus.Subscribe(rec, AllKinds...)

	h, _ := NewStickHandler(testStickMap, bus)
	feed := func(v int32) []MessageKind {
		rec.got = nil
		h.Handle(Sample{Code: testStickMap.Code, Value: v})
		return kindsOf(rec.got)
	}

	steps := []struct {
		value int32
		want  []MessageKind
	}{
		{100, []MessageKind{KindUpdated}},
		{20000, []MessageKind{KindActivated, KindUpdated}},
		{25000, []MessageKind{KindUpdated}},
		{-20000, []MessageKind{KindUpdated}}, // jumps across the dead zone, stays active
		{0, []MessageKind{KindDeactivated, KindUpdated}},
		{0, []MessageKind{KindUpdated}},
	}
	for i, s := range steps {
		if got := feed(s.value); !equalKinds(got, s.want) {
			t.Fatalf("step %d (value %d): kinds = %v, want %v", i, s.value, got, s.want)
		}
	}

	for _, m := range rec.got {
		if m.Source != h {
			t.Fatalf("message source = %v, want the handler", m.Source)
		}
	}
}

func TestChannelHandler_NoBus(t *testing.T) {
	h, _ := NewButtonHandler(testButtonMap, nil)
	if !h.Handle(Sample{Code: testButtonMap.Code, Value: 1}) {
		t.Fatalf("Handle returned false for a matching sample")
	}
	if v, ok := h.RawValue(); !ok || v != 1 {
		t.Fatalf("RawValue() = %d, %v; want 1, true", v, ok)
	}
}

func TestRange(t *testing.T) {
	r := Range{-5, 5}
	if !r.Contains(-5) || !r.Contains(5) || r.Contains(6) {
		t.Errorf("Contains is not inclusive on both ends")
	}
	if StickRange.Width() != 65535 {
		t.Errorf("StickRange.Width() = %d, want 65535", StickRange.Width())
	}
	if r.String() != "[-5,5]" {
		t.Errorf("String() = %q", r.String())
	}
}
