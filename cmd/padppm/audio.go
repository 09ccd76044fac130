package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

// AudioOutput plays committed PPM frames on the default output device as
// 8-bit unsigned mono at the encoder bit rate.
//
// PortAudio calls the stream callback on its own realtime thread; the callback
// is Player.Fill and touches nothing but the FrameBuffer.
type AudioOutput struct {
	stream *portaudio.Stream
	player *Player
	logger *slog.Logger

	started bool
}

// OpenAudioOutput initializes PortAudio and opens (but does not start) the stream.
func OpenAudioOutput(fb *FrameBuffer, enc *Encoder, logger *slog.Logger) (*AudioOutput, error) {
	if fb == nil || enc == nil {
		return nil, errors.New("audio: frame buffer and encoder are required")
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize portaudio: %w", err)
	}

	player := NewPlayer(fb)
	rate := enc.Config().SampleRate()

	stream, err := portaudio.OpenDefaultStream(0, 1, rate, enc.FrameSamples(), player.Fill)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("audio: open default output at %.0f Hz: %w", rate, err)
	}

	if dev, err := portaudio.DefaultOutputDevice(); err == nil {
		logger.Info("audio output opened", "device", dev.Name, "sample_rate", rate, "frames_per_buffer", enc.FrameSamples())
	}

	return &AudioOutput{
		stream: stream,
		player: player,
		logger: logger,
	}, nil
}

// Run starts the stream and keeps it playing until ctx is canceled, then
// stops and closes it.
func (a *AudioOutput) Run(ctx context.Context) error {
	if err := a.stream.Start(); err != nil {
		_ = a.Close()
		return fmt.Errorf("audio: start stream: %w", err)
	}
	a.started = true
	a.logger.Info("audio output started")

	<-ctx.Done()

	a.logger.Info("audio output stopping")
	return a.Close()
}

// Close stops the stream if it was started and releases PortAudio.
func (a *AudioOutput) Close() error {
	var errs []error
	if a.started {
		if err := a.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("audio: stop stream: %w", err))
		}
		a.started = false
	}
	if err := a.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audio: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: terminate portaudio: %w", err))
	}
	return errors.Join(errs...)
}
