package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/holoplot/go-evdev"
)

// inputEvent is the on-disk Linux input event layout (64-bit):
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
//
// A capture is simply the raw bytes read from /dev/input/eventN, e.g.
//
//	cat /dev/input/event5 > pad.events
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func (ev inputEvent) at() time.Duration {
	return time.Duration(ev.Sec)*time.Second + time.Duration(ev.Usec)*time.Microsecond
}

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	// Realtime paces events by their recorded timestamps. When false, events
	// are delivered as fast as the consumer drains them.
	Realtime     bool
	PollInterval time.Duration
	QueueSize    int
	Logger       *slog.Logger
}

// ReplaySource is a SampleSource that plays back a raw input event capture.
type ReplaySource struct {
	r            io.Reader
	name         string
	realtime     bool
	pollInterval time.Duration
	logger       *slog.Logger

	samples chan Sample
	events  atomic.Uint64
}

// OpenReplayFile opens a capture file for replay. The file is closed when Run returns.
func OpenReplayFile(path string, cfg ReplayConfig) (*ReplaySource, error) {
	f, err := os.Open(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	src := NewReplaySource(f, cfg)
	src.name = path
	return src, nil
}

// NewReplaySource replays events read from r. If r is an io.Closer it is
// closed when Run returns.
func NewReplaySource(r io.Reader, cfg ReplayConfig) *ReplaySource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Duration(defaultPollIntervalMS) * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = sampleQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplaySource{
		r:            r,
		name:         "stream",
		realtime:     cfg.Realtime,
		pollInterval: cfg.PollInterval,
		logger:       logger,
		samples:      make(chan Sample, cfg.QueueSize),
	}
}

// Close closes the underlying reader when Run was never started. Run closes
// it itself on return.
func (s *ReplaySource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Events returns the number of samples delivered so far.
func (s *ReplaySource) Events() uint64 { return s.events.Load() }

// Run decodes the capture until EOF or ctx is canceled. A truncated trailing
// record is ignored.
func (s *ReplaySource) Run(ctx context.Context) error {
	defer close(s.samples)
	if c, ok := s.r.(io.Closer); ok {
		defer c.Close()
	}

	s.logger.Info("replay starting", "source", s.name, "realtime", s.realtime)

	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	var (
		first   time.Duration
		started time.Time
	)

	for {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Info("replay finished", "source", s.name, "events", s.events.Load())
				return nil
			}
			return fmt.Errorf("read replay: %w", err)
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			continue
		}

		t := evdev.EvType(ev.Type)
		if t != evdev.EV_KEY && t != evdev.EV_ABS {
			continue
		}

		if s.realtime {
			if started.IsZero() {
				first, started = ev.at(), time.Now()
			}
			if wait := time.Until(started.Add(ev.at() - first)); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}

		select {
		case s.samples <- Sample{Code: Code{Type: t, Code: evdev.EvCode(ev.Code)}, Value: ev.Value}:
			s.events.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
}

// Poll implements SampleSource. A replay is never unavailable; once the
// capture is fully drained Poll returns io.EOF.
func (s *ReplaySource) Poll(ctx context.Context) ([]Sample, error) {
	return pollQueue(ctx, s.samples, s.pollInterval, func() bool { return true })
}

// WriteInputEvents encodes samples as a raw capture, one record per sample,
// stamped step apart. It produces files ReplaySource can read.
func WriteInputEvents(w io.Writer, samples []Sample, step time.Duration) error {
	for i, smp := range samples {
		at := time.Duration(i) * step
		ev := inputEvent{
			Sec:   int64(at / time.Second),
			Usec:  int64(at % time.Second / time.Microsecond),
			Type:  uint16(smp.Code.Type),
			Code:  uint16(smp.Code.Code),
			Value: smp.Value,
		}
		if err := binary.Write(w, binary.LittleEndian, ev); err != nil {
			return fmt.Errorf("write input event %d: %w", i, err)
		}
	}
	return nil
}
