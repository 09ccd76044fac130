package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// ============================================================================
// Control Loop
// ============================================================================
//
// Each iteration:
//   1. drain pending samples from the input source
//   2. feed every sample to every channel handler and to the exit handler
//   3. rebuild the frame vector from PercentValue()
//   4. encode and commit the new PPM frame for the audio side
//   5. notify (throttled) frame observers and publish a status snapshot
//
// The loop ends when the exit handler becomes active, the source ends or ctx
// is canceled. These are checked once per iteration; there is no
// mid-iteration preemption.
//
// A device that is temporarily unavailable yields no samples for the
// iteration. The previously committed frame keeps playing meanwhile.
// ============================================================================

// ErrDeviceUnavailable marks a recoverable input condition (device unplugged,
// reconnect pending). Sources wrap it; the control loop skips the iteration.
var ErrDeviceUnavailable = errors.New("input device unavailable")

// SampleSource yields raw input samples. Poll returns whatever is pending,
// waiting at most one poll interval when nothing is. io.EOF means the source
// has ended for good (e.g. a finished replay).
type SampleSource interface {
	Poll(ctx context.Context) ([]Sample, error)
}

// FrameObserver receives committed frames. Observers must treat the frame as
// read-only.
type FrameObserver interface {
	ObserveFrame(frame []byte, at time.Time)
}

// ChannelStatus is one channel's state in a Status snapshot.
type ChannelStatus struct {
	Channel  int     `json:"channel"` // 1-based transmission order
	Name     string  `json:"name,omitempty"`
	Assigned bool    `json:"assigned"`
	Active   bool    `json:"active"`
	Raw      *int32  `json:"raw,omitempty"`
	Percent  float64 `json:"percent"`
}

// Status is an immutable snapshot of the control loop, safe to read from other goroutines.
type Status struct {
	At       time.Time       `json:"at"`
	Frames   uint64          `json:"frames"`
	Device   bool            `json:"device_available"`
	Channels []ChannelStatus `json:"channels"`
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Source SampleSource

	// Channels are in transmission order; nil entries are unassigned and encode as 0%.
	Channels []*ChannelHandler
	Exit     *ChannelHandler

	Encoder *Encoder
	Output  *FrameBuffer
	Logger  *slog.Logger
}

type throttledObserver struct {
	obs   FrameObserver
	every time.Duration
	last  time.Time
}

// Controller drives the channel handlers, the encoder and the frame hand-off.
type Controller struct {
	source   SampleSource
	channels []*ChannelHandler
	exit     *ChannelHandler
	encoder  *Encoder
	out      *FrameBuffer
	logger   *slog.Logger

	observers []*throttledObserver

	frame       []float64
	unavailable bool
	status      atomic.Pointer[Status]
}

// NewController validates cfg.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("controller: input source is required")
	}
	if cfg.Exit == nil {
		return nil, errors.New("controller: exit handler is required")
	}
	if cfg.Encoder == nil || cfg.Output == nil {
		return nil, errors.New("controller: encoder and output are required")
	}
	if len(cfg.Channels) != cfg.Encoder.ChannelCount() {
		return nil, fmt.Errorf("controller: %d channel handlers for a %d channel encoder",
			len(cfg.Channels), cfg.Encoder.ChannelCount())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		source:   cfg.Source,
		channels: cfg.Channels,
		exit:     cfg.Exit,
		encoder:  cfg.Encoder,
		out:      cfg.Output,
		logger:   logger,
		frame:    make([]float64, len(cfg.Channels)),
	}
	c.publishStatus(time.Now())
	return c, nil
}

// AddObserver registers obs to receive at most one frame per interval.
// An interval <= 0 delivers every frame. Must be called before Run.
func (c *Controller) AddObserver(obs FrameObserver, every time.Duration) {
	if obs == nil {
		return
	}
	c.observers = append(c.observers, &throttledObserver{obs: obs, every: every})
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// ExitRequested reports whether the exit handler is active.
func (c *Controller) ExitRequested() bool {
	return c.exit.IsActive()
}

// Run iterates until the exit input activates or ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop starting", "channels", len(c.channels), "exit", c.exit.Name())

	for !c.exit.IsActive() {
		if ctx.Err() != nil {
			c.logger.Info("control loop stopping (context canceled)")
			return nil
		}
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Info("control loop stopping (input source ended)")
				return nil
			}
			return err
		}
	}

	c.logger.Info("control loop stopping (exit input activated)", "input", c.exit.Name())
	return nil
}

// Step runs one control iteration. It returns io.EOF, without touching the
// frame, once the source has ended.
func (c *Controller) Step(ctx context.Context) error {
	samples, err := c.source.Poll(ctx)
	switch {
	case err == nil:
		if c.unavailable {
			c.logger.Info("input device available again")
			c.unavailable = false
		}
	case errors.Is(err, ErrDeviceUnavailable):
		if !c.unavailable {
			c.logger.Warn("input device unavailable, holding last frame", "error", err)
			c.unavailable = true
		}
		samples = nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, io.EOF):
		return err
	default:
		return fmt.Errorf("poll input: %w", err)
	}

	for _, s := range samples {
		for _, h := range c.channels {
			if h != nil {
				h.Handle(s)
			}
		}
		c.exit.Handle(s)
	}

	for i, h := range c.channels {
		if h == nil {
			c.frame[i] = 0
			continue
		}
		c.frame[i] = h.PercentValue()
	}

	buf, err := c.encoder.Update(c.frame)
	if err != nil {
		// Channel count is fixed at construction; this is a wiring bug.
		return fmt.Errorf("encode frame: %w", err)
	}
	c.out.Commit(buf)

	now := time.Now()
	c.notify(buf, now)
	c.publishStatus(now)
	return nil
}

func (c *Controller) notify(buf []byte, now time.Time) {
	for _, o := range c.observers {
		if !o.last.IsZero() && now.Sub(o.last) < o.every {
			continue
		}
		o.last = now
		o.obs.ObserveFrame(buf, now)
	}
}

func (c *Controller) publishStatus(now time.Time) {
	st := &Status{
		At:       now,
		Frames:   c.out.Seq(),
		Device:   !c.unavailable,
		Channels: make([]ChannelStatus, len(c.channels)),
	}
	for i, h := range c.channels {
		cs := ChannelStatus{Channel: i + 1}
		if h != nil {
			cs.Name = h.Name()
			cs.Assigned = true
			cs.Active = h.IsActive()
			if v, ok := h.RawValue(); ok {
				cs.Raw = &v
			}
			cs.Percent = h.PercentValue()
		}
		st.Channels[i] = cs
	}
	c.status.Store(st)
}
