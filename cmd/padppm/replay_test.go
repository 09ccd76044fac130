package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holoplot/go-evdev"
)

// drain polls src until it reports io.EOF.
func drain(t *testing.T, src SampleSource) []Sample {
	t.Helper()
	var all []Sample
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := src.Poll(context.Background())
		all = append(all, got...)
		if errors.Is(err, io.EOF) {
			return all
		}
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	t.Fatalf("source did not end")
	return nil
}

func TestReplaySource_RoundTrip(t *testing.T) {
	in := []Sample{
		{Code: AbsCode(evdev.ABS_X), Value: 32767},
		{Code: Code{Type: evdev.EV_SYN, Code: 0}, Value: 0},
		{Code: KeyCode(evdev.BTN_SOUTH), Value: 1},
		{Code: Code{Type: evdev.EV_MSC, Code: 4}, Value: 90001},
		{Code: AbsCode(evdev.ABS_Y), Value: -12000},
	}
	var buf bytes.Buffer
	if err := WriteInputEvents(&buf, in, time.Millisecond); err != nil {
		t.Fatalf("WriteInputEvents: %v", err)
	}
	if buf.Len() != 24*len(in) {
		t.Fatalf("capture is %d bytes, want %d", buf.Len(), 24*len(in))
	}

	src := NewReplaySource(&buf, ReplayConfig{PollInterval: 5 * time.Millisecond, Logger: testLogger()})
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	got := drain(t, src)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []Sample{in[0], in[2], in[4]}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if src.Events() != 3 {
		t.Errorf("Events() = %d, want 3", src.Events())
	}
}

func TestReplaySource_IgnoresTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteInputEvents(&buf, []Sample{{Code: KeyCode(evdev.BTN_SOUTH), Value: 1}}, 0)
	buf.Write([]byte{1, 2, 3})

	src := NewReplaySource(&buf, ReplayConfig{PollInterval: 5 * time.Millisecond, Logger: testLogger()})
	go func() { _ = src.Run(context.Background()) }()

	if got := drain(t, src); len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
}

func TestReplaySource_Realtime(t *testing.T) {
	in := []Sample{
		{Code: KeyCode(evdev.BTN_SOUTH), Value: 1},
		{Code: KeyCode(evdev.BTN_SOUTH), Value: 0},
	}
	var buf bytes.Buffer
	_ = WriteInputEvents(&buf, in, 60*time.Millisecond)

	src := NewReplaySource(&buf, ReplayConfig{Realtime: true, PollInterval: 5 * time.Millisecond, Logger: testLogger()})
	start := time.Now()
	go func() { _ = src.Run(context.Background()) }()

	drain(t, src)
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("realtime replay finished after %v, want >= 60ms pacing", el)
	}
}

func TestReplaySource_StopsOnCancel(t *testing.T) {
	in := make([]Sample, 10)
	for i := range in {
		in[i] = Sample{Code: AbsCode(evdev.ABS_X), Value: int32(i)}
	}
	var buf bytes.Buffer
	_ = WriteInputEvents(&buf, in, time.Hour)

	src := NewReplaySource(&buf, ReplayConfig{Realtime: true, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	// The first event is due immediately; the second is an hour later.
	waitUntil(t, time.Second, func() bool { return src.Events() == 1 }, "first replay event not delivered")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestReplaySource_DrivesController(t *testing.T) {
	in := []Sample{
		{Code: testStickMap.Code, Value: 32767},
		{Code: testButtonMap.Code, Value: 1},
		{Code: testStickMap.Code, Value: -32768},
	}
	path := filepath.Join(t.TempDir(), "pad.events")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := WriteInputEvents(f, in, time.Millisecond); err != nil {
		t.Fatalf("WriteInputEvents: %v", err)
	}
	_ = f.Close()

	src, err := OpenReplayFile(path, ReplayConfig{PollInterval: 5 * time.Millisecond, Logger: testLogger()})
	if err != nil {
		t.Fatalf("OpenReplayFile: %v", err)
	}
	go func() { _ = src.Run(context.Background()) }()

	fx := newControllerFixture(t, src)
	if err := fx.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, values := fx.enc.Decode(fx.out.Load())
	if values[0] != 0 || values[2] != 1 {
		t.Fatalf("final frame values = %v, want stick 0 and button 1", values)
	}
}

func TestOpenReplayFile_Missing(t *testing.T) {
	if _, err := OpenReplayFile(filepath.Join(t.TempDir(), "nope"), ReplayConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPollQueue_UnavailableWhenIdle(t *testing.T) {
	q := make(chan Sample)
	_, err := pollQueue(context.Background(), q, time.Millisecond, func() bool { return false })
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}

	got, err := pollQueue(context.Background(), q, time.Millisecond, func() bool { return true })
	if err != nil || got != nil {
		t.Fatalf("idle available source = %v, %v; want nil, nil", got, err)
	}
}

func TestPollQueue_DrainsPending(t *testing.T) {
	q := make(chan Sample, 4)
	for i := range 3 {
		q <- Sample{Value: int32(i)}
	}
	got, err := pollQueue(context.Background(), q, time.Second, func() bool { return true })
	if err != nil || len(got) != 3 {
		t.Fatalf("got %v, %v; want 3 samples", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pollQueue(ctx, q, time.Second, func() bool { return true }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewEvdevSource_MissingDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event99")
	_, err := NewEvdevSource(EvdevSourceConfig{Path: path, Logger: testLogger()})
	if err == nil {
		t.Fatalf("expected an error for a missing device")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the device", err)
	}
}

func TestNewEvdevSource_EmptyPath(t *testing.T) {
	if _, err := NewEvdevSource(EvdevSourceConfig{}); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

func TestReplaySource_CloseBeforeRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pad.events")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := OpenReplayFile(path, ReplayConfig{Logger: testLogger()})
	if err != nil {
		t.Fatalf("OpenReplayFile: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err == nil {
		t.Errorf("second Close succeeded; file was not closed by the first")
	}
}

func TestSetupResources_ReleaseInReverseOrder(t *testing.T) {
	var order []string
	var s setupResources
	s.add("first", func() error { order = append(order, "first"); return nil })
	s.add("second", func() error { order = append(order, "second"); return errors.New("busy") })

	s.release(testLogger())
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("release order = %v, want [second first]", order)
	}

	// Released once only.
	s.release(testLogger())
	if len(order) != 2 {
		t.Fatalf("release ran twice: %v", order)
	}
}

func TestSetupResources_DisarmKeepsResources(t *testing.T) {
	closed := false
	var s setupResources
	s.add("device", func() error { closed = true; return nil })
	s.disarm()
	s.release(testLogger())
	if closed {
		t.Fatalf("disarmed release closed a resource")
	}
}
