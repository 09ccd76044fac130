package main

import (
	"errors"
	"fmt"
	"math"
)

// ============================================================================
// PPM Frame Encoder
// ============================================================================
//
//  Sync    1       2     3     4        5    6    7   8   Sync...
//  ---+ +----+ +------+ +-+ +-------+ +--+ +--+ +--+ +-+ +----...
//     | |    | |      | | | |       | |  | |  | |  | | | |
//     +-+    +-+      +-+ +-+       +-+  +-+  +-+  +-+ +-+
//      *      *        *   *         *    *    *    *   *
//
//  * low separator pulse (0.4 ms)
//  1..N high channel pulse, 0% = min pulse, 100% = max pulse
//  Sync: high padding up to the frame length; receivers key off it being
//  longer than any channel pulse.
//
// All lengths are computed in float64 and truncated (not rounded) to whole
// samples, so frame layouts are bit-for-bit reproducible.
// ============================================================================

var (
	// ErrChannelCount is returned by Update when the number of values does not
	// match the encoder's channel count.
	ErrChannelCount = errors.New("invalid argument: channel count mismatch")

	// ErrFrameOverflow is returned by NewEncoder when the longest possible
	// channel layout would not leave room for the sync padding.
	ErrFrameOverflow = errors.New("ppm frame overflow")
)

// EncoderConfig holds the timing of a PPM frame. Durations are in milliseconds.
type EncoderConfig struct {
	SamplesPerMillisecond float64

	FrameMS     float64
	MinPulseMS  float64
	MaxPulseMS  float64
	SeparatorMS float64

	Low  byte
	High byte
}

// DefaultEncoderConfig returns the stock timing for a given resolution.
// 100 samples/ms gives one sample per percent of the 1 ms usable pulse range.
func DefaultEncoderConfig(samplesPerMS float64) EncoderConfig {
	return EncoderConfig{
		SamplesPerMillisecond: samplesPerMS,
		FrameMS:               defaultFrameMS,
		MinPulseMS:            defaultMinPulseMS,
		MaxPulseMS:            defaultMaxPulseMS,
		SeparatorMS:           defaultSeparatorMS,
		Low:                   sampleLow,
		High:                  sampleHigh,
	}
}

// SampleRate returns the audio sample rate (the "bit rate") in Hz.
func (c EncoderConfig) SampleRate() float64 {
	return c.SamplesPerMillisecond * 1000
}

// Encoder renders channel values into PPM frames.
//
// Update and Buffer are meant for a single goroutine (the control loop). The
// returned frames are never modified afterwards and may be shared freely.
type Encoder struct {
	cfg      EncoderConfig
	channels int

	frameSamples int
	minPulse     float64
	pulseSpan    float64
	separator    int

	last []byte
}

// NewEncoder validates cfg for channelCount channels.
func NewEncoder(channelCount int, cfg EncoderConfig) (*Encoder, error) {
	if channelCount <= 0 {
		return nil, fmt.Errorf("ppm: channel count must be > 0, got %d", channelCount)
	}
	if cfg.SamplesPerMillisecond <= 0 {
		return nil, fmt.Errorf("ppm: samples per millisecond must be > 0, got %g", cfg.SamplesPerMillisecond)
	}
	if cfg.MinPulseMS < 0 || cfg.MaxPulseMS < cfg.MinPulseMS {
		return nil, fmt.Errorf("ppm: pulse range [%g, %g] ms is invalid", cfg.MinPulseMS, cfg.MaxPulseMS)
	}
	if cfg.SeparatorMS <= 0 {
		return nil, fmt.Errorf("ppm: separator must be > 0 ms, got %g", cfg.SeparatorMS)
	}

	spm := cfg.SamplesPerMillisecond
	minPulse := spm * cfg.MinPulseMS
	maxPulse := spm * cfg.MaxPulseMS

	e := &Encoder{
		cfg:          cfg,
		channels:     channelCount,
		frameSamples: int(spm * cfg.FrameMS),
		minPulse:     minPulse,
		pulseSpan:    maxPulse - minPulse,
		separator:    int(spm * cfg.SeparatorMS),
	}

	worst := channelCount*(e.separator+e.pulseSamples(1)) + e.separator
	if worst > e.frameSamples {
		return nil, fmt.Errorf("%w: %d channels need up to %d samples, frame holds %d",
			ErrFrameOverflow, channelCount, worst, e.frameSamples)
	}

	e.last = e.filled(e.frameSamples, cfg.Low)
	return e, nil
}

func (e *Encoder) Config() EncoderConfig { return e.cfg }
func (e *Encoder) ChannelCount() int { return e.channels }
func (e *Encoder) FrameSamples() int { return e.frameSamples }
func (e *Encoder) SeparatorSamples() int { return e.separator }

// PulseSamples returns the length, in samples, of the high block for value v.
func (e *Encoder) PulseSamples(v float64) int {
	return e.pulseSamples(clampUnit(v))
}

func (e *Encoder) pulseSamples(v float64) int {
	return int(e.minPulse + v*e.pulseSpan)
}

// Update builds a new frame from values (one per channel, 0..1). The previous
// frame is left untouched; callers holding it keep valid data.
func (e *Encoder) Update(values []float64) ([]byte, error) {
	if len(values) != e.channels {
		return nil, fmt.Errorf("%w: got %d values, need %d", ErrChannelCount, len(values), e.channels)
	}

	frame := make([]byte, 0, e.frameSamples)
	for _, v := range values {
		frame = appendRun(frame, e.cfg.Low, e.separator)
		frame = appendRun(frame, e.cfg.High, e.pulseSamples(clampUnit(v)))
	}
	frame = appendRun(frame, e.cfg.Low, e.separator)
	frame = appendRun(frame, e.cfg.High, e.frameSamples-len(frame))

	e.last = frame
	return frame, nil
}

// Buffer returns the most recent frame, or an all-low frame before the first Update.
func (e *Encoder) Buffer() []byte {
	return e.last
}

// Decode recovers channel pulse widths (in samples) and their values from a
// frame built by this encoder. The trailing sync run is not a channel.
func (e *Encoder) Decode(frame []byte) (pulses []int, values []float64) {
	pulses = highRuns(frame, e.cfg.High)
	if len(pulses) > 0 {
		pulses = pulses[:len(pulses)-1]
	}
	values = make([]float64, len(pulses))
	for i, p := range pulses {
		if e.pulseSpan > 0 {
			v := (float64(p) - e.minPulse) / e.pulseSpan
			values[i] = clampUnit(math.Round(v*100) / 100)
		}
	}
	return pulses, values
}

// highRuns returns the lengths of consecutive runs of high in frame.
func highRuns(frame []byte, high byte) []int {
	var runs []int
	n := 0
	for _, b := range frame {
		if b == high {
			n++
			continue
		}
		if n > 0 {
			runs = append(runs, n)
			n = 0
		}
	}
	if n > 0 {
		runs = append(runs, n)
	}
	return runs
}

func (e *Encoder) filled(n int, v byte) []byte {
	return appendRun(make([]byte, 0, n), v, n)
}

func appendRun(b []byte, v byte, n int) []byte {
	for range n {
		b = append(b, v)
	}
	return b
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
