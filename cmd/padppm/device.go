package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Gamepad input (evdev)
// ============================================================================
// NewEvdevSource opens the device once, so a wrong path or missing permission
// fails at startup. After that a reader goroutine owns the device: it reads
// events one at a time and forwards key/axis samples into a buffered channel.
// When the device goes away (ENODEV on unplug, or any other read error) it
// closes it and reopens every reconnectInterval until ctx is canceled.
//
// The control loop only sees Poll(): pending samples, or ErrDeviceUnavailable
// while no device is open.
// ============================================================================

// ErrNoGamepad is returned when no evdev device looks like a gamepad.
var ErrNoGamepad = errors.New("a gamepad is required but was not found")

// GamepadInfo describes one candidate input device.
type GamepadInfo struct {
	Path string
	Name string
}

// ListGamepads returns evdev devices that expose both stick axes and gamepad buttons.
func ListGamepads() ([]GamepadInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var out []GamepadInfo
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			// Typically a permission problem on unrelated devices.
			continue
		}
		if isGamepad(dev) {
			out = append(out, GamepadInfo{Path: p.Path, Name: p.Name})
		}
		_ = dev.Close()
	}
	return out, nil
}

func isGamepad(dev *evdev.InputDevice) bool {
	abs := dev.CapableEvents(evdev.EV_ABS)
	keys := dev.CapableEvents(evdev.EV_KEY)
	return slices.Contains(abs, evdev.ABS_X) && slices.Contains(abs, evdev.ABS_Y) &&
		(slices.Contains(keys, evdev.BTN_SOUTH) || slices.Contains(keys, evdev.BTN_START))
}

// FirstGamepad returns the path of the first gamepad found.
func FirstGamepad() (GamepadInfo, error) {
	pads, err := ListGamepads()
	if err != nil {
		return GamepadInfo{}, err
	}
	if len(pads) == 0 {
		return GamepadInfo{}, ErrNoGamepad
	}
	return pads[0], nil
}

// EvdevSourceConfig configures an EvdevSource.
type EvdevSourceConfig struct {
	Path         string
	Grab         bool
	PollInterval time.Duration
	QueueSize    int
	Logger       *slog.Logger
}

// EvdevSource is a SampleSource backed by a Linux input device.
type EvdevSource struct {
	path         string
	grab         bool
	pollInterval time.Duration
	logger       *slog.Logger

	samples   chan Sample
	available atomic.Bool

	// Opened by NewEvdevSource; consumed by the first session.
	dev *evdev.InputDevice
}

// NewEvdevSource opens cfg.Path and returns a source for it. Call Run to start
// reading; if Run is never called the caller must Close the source.
func NewEvdevSource(cfg EvdevSourceConfig) (*EvdevSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("evdev source: device path is empty")
	}
	dev, err := evdev.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open input device %s: %w (tip: run as root or add user to 'input' group)", cfg.Path, err)
	}
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
	return &EvdevSource{
		path:         cfg.Path,
		grab:         cfg.Grab,
		pollInterval: cfg.PollInterval,
		logger:       logger,
		samples:      make(chan Sample, cfg.QueueSize),
		dev:          dev,
	}, nil
}

// Close releases the device opened by NewEvdevSource when Run was never
// started. It is a no-op afterwards.
func (s *EvdevSource) Close() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}

// Run reads from the device until ctx is canceled, reopening it after
// failures. It always returns nil once ctx is done.
func (s *EvdevSource) Run(ctx context.Context) error {
	var lastReason string
	for {
		err := s.session(ctx)
		s.available.Store(false)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case errors.Is(err, unix.ENODEV):
			s.logger.Warn("input device unplugged", "device", s.path)
			lastReason = ""
		case err != nil:
			// Reopen attempts repeat every interval; report each new cause once.
			if reason := err.Error(); reason != lastReason {
				s.logger.Warn("input device not readable, retrying", "device", s.path, "error", err)
				lastReason = reason
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectInterval):
		}
	}
}

// session runs one open/read/close cycle.
func (s *EvdevSource) session(ctx context.Context) error {
	dev := s.dev
	s.dev = nil
	if dev == nil {
		var err error
		if dev, err = evdev.Open(s.path); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		// Closing the device unblocks ReadOne.
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = dev.Close()
	}()

	name, _ := dev.Name()
	if s.grab {
		if err := dev.Grab(); err != nil {
			s.logger.Warn("failed to grab input device", "device", s.path, "error", err)
		}
	}
	s.available.Store(true)
	s.logger.Info("input device opened", "device", s.path, "name", name, "grab", s.grab)

	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if ev.Type != evdev.EV_KEY && ev.Type != evdev.EV_ABS {
			continue
		}

		select {
		case s.samples <- Sample{Code: Code{Type: ev.Type, Code: ev.Code}, Value: ev.Value}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll waits up to one poll interval for the first pending sample, then
// drains whatever else is queued.
func (s *EvdevSource) Poll(ctx context.Context) ([]Sample, error) {
	return pollQueue(ctx, s.samples, s.pollInterval, s.available.Load)
}

// pollQueue is shared by channel-fed sources. When available reports false and
// nothing is queued it still waits the interval, so callers never spin. A
// closed and drained queue means the source has ended: io.EOF.
func pollQueue(ctx context.Context, q <-chan Sample, wait time.Duration, available func() bool) ([]Sample, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var out []Sample
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s, ok := <-q:
		if !ok {
			return nil, io.EOF
		}
		out = append(out, s)
	case <-timer.C:
		if !available() {
			return nil, ErrDeviceUnavailable
		}
		return nil, nil
	}

	for {
		select {
		case s, ok := <-q:
			if !ok {
				return out, nil
			}
			out = append(out, s)
		default:
			return out, nil
		}
	}
}
