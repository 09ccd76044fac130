package main

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T, maxSeconds int) (*Recorder, *FrameBuffer, *Encoder, string) {
	t.Helper()
	enc := newTestEncoder(t, 2)
	fb := NewFrameBuffer(enc.Buffer())
	path := filepath.Join(t.TempDir(), "ppm.wav")
	rec, err := NewRecorder(path, fb, enc, maxSeconds, testLogger())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rec, fb, enc, path
}

func TestNewRecorder_Validation(t *testing.T) {
	enc := newTestEncoder(t, 2)
	fb := NewFrameBuffer(enc.Buffer())
	if _, err := NewRecorder("", fb, enc, 10, testLogger()); err == nil {
		t.Errorf("empty path: expected error")
	}
	if _, err := NewRecorder("x.wav", fb, enc, 0, testLogger()); err == nil {
		t.Errorf("zero length: expected error")
	}
}

func TestRecorder_CaptureRespectsLimit(t *testing.T) {
	rec, fb, enc, _ := newTestRecorder(t, 1)
	frame, _ := enc.Update([]float64{1, 1})
	fb.Commit(frame)

	rec.Capture(enc.FrameSamples())
	if rec.Samples() != enc.FrameSamples() {
		t.Fatalf("Samples() = %d, want %d", rec.Samples(), enc.FrameSamples())
	}
	// The player switches to the committed frame at the first boundary.
	if _, values := enc.Decode(rec.data); len(values) != 2 || values[0] != 1 {
		t.Fatalf("captured values = %v", values)
	}

	rec.Capture(1 << 30)
	if !rec.Full() || rec.Samples() != 100000 {
		t.Fatalf("Samples() = %d, want the 1 s limit of 100000", rec.Samples())
	}
	rec.Capture(10)
	if rec.Samples() != 100000 {
		t.Fatalf("capture past the limit")
	}
}

func TestRecorder_SaveWritesWAV(t *testing.T) {
	rec, fb, enc, path := newTestRecorder(t, 1)
	frame, _ := enc.Update([]float64{0, 1})
	fb.Commit(frame)
	rec.Capture(2 * enc.FrameSamples())

	if err := rec.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if len(b) != 44+rec.Samples() {
		t.Fatalf("file is %d bytes, want 44-byte header + %d samples", len(b), rec.Samples())
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatalf("bad header % x", b[:44])
	}
	if ch := binary.LittleEndian.Uint16(b[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 100000 {
		t.Errorf("sample rate = %d, want 100000", rate)
	}
	if bits := binary.LittleEndian.Uint16(b[34:36]); bits != 8 {
		t.Errorf("bits per sample = %d, want 8", bits)
	}

	// Samples survive the float round trip through beep.
	data := b[44:]
	for i := range rec.data {
		if data[i] != rec.data[i] {
			t.Fatalf("sample %d = %d, want %d", i, data[i], rec.data[i])
		}
	}
}

func TestRecorder_RunSavesOnCancel(t *testing.T) {
	rec, _, _, path := newTestRecorder(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("recording not saved: %v", err)
	}
}
