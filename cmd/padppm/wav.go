package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// Recorder captures the PPM signal to a WAV file. It reads committed frames
// through its own Player at frame cadence, so it sees exactly what the audio
// callback plays and works with audio muted too.
type Recorder struct {
	path   string
	player *Player
	logger *slog.Logger

	frameSamples int
	frameDur     time.Duration
	sampleRate   beep.SampleRate
	maxSamples   int

	data []byte
}

// NewRecorder records at most maxSeconds of signal into path.
func NewRecorder(path string, fb *FrameBuffer, enc *Encoder, maxSeconds int, logger *slog.Logger) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("record: path is empty")
	}
	if maxSeconds <= 0 {
		return nil, fmt.Errorf("record: max seconds must be > 0, got %d", maxSeconds)
	}
	cfg := enc.Config()
	rate := int(cfg.SampleRate())
	return &Recorder{
		path:         ExpandPath(path),
		player:       NewPlayer(fb),
		logger:       logger,
		frameSamples: enc.FrameSamples(),
		frameDur:     time.Duration(cfg.FrameMS * float64(time.Millisecond)),
		sampleRate:   beep.SampleRate(rate),
		maxSamples:   rate * maxSeconds,
		data:         make([]byte, 0, enc.FrameSamples()),
	}, nil
}

// Samples returns the number of captured samples.
func (r *Recorder) Samples() int { return len(r.data) }

// Full reports whether the length limit has been reached.
func (r *Recorder) Full() bool { return len(r.data) >= r.maxSamples }

// Capture pulls up to n more samples from the frame buffer.
func (r *Recorder) Capture(n int) {
	n = min(n, r.maxSamples-len(r.data))
	if n <= 0 {
		return
	}
	start := len(r.data)
	r.data = append(r.data, make([]byte, n)...)
	r.player.Fill(r.data[start:])
}

// Run captures one frame per frame period until ctx is canceled or the
// limit is reached, then writes the file.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("recording", "path", r.path, "max_samples", r.maxSamples)

	ticker := time.NewTicker(r.frameDur)
	defer ticker.Stop()

	for !r.Full() {
		select {
		case <-ctx.Done():
			return r.Save()
		case <-ticker.C:
			r.Capture(r.frameSamples)
		}
	}

	r.logger.Info("recording limit reached", "path", r.path)
	return r.Save()
}

// Save writes the captured samples as 8-bit mono WAV.
func (r *Recorder) Save() error {
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("record: create %s: %w", r.path, err)
	}

	format := beep.Format{SampleRate: r.sampleRate, NumChannels: 1, Precision: 1}
	if err := wav.Encode(f, r.streamer(), format); err != nil {
		_ = f.Close()
		return fmt.Errorf("record: encode wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("record: close %s: %w", r.path, err)
	}

	r.logger.Info("recording saved", "path", r.path, "samples", len(r.data),
		"seconds", float64(len(r.data))/float64(r.sampleRate))
	return nil
}

// streamer replays the captured bytes as beep samples. beep writes 8-bit
// audio as uint8((x+1)/2*255); the half step keeps that truncation landing
// on the captured byte.
func (r *Recorder) streamer() beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(r.data) {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < len(r.data) {
			v := min(max((float64(r.data[pos])+0.5)/255*2-1, -1), 1)
			samples[n] = [2]float64{v, v}
			n++
			pos++
		}
		return n, true
	})
}
