package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for padppm.
//
// Defaults, file and flag overrides are merged in that order, then Validate
// runs once so the rest of the code can assume a well-formed config.
type Config struct {
	Device     DeviceConfig         `yaml:"device"`
	PPM        PPMConfig            `yaml:"ppm"`
	Channels   []ChannelConfig      `yaml:"channels"`
	Exit       ExitConfig           `yaml:"exit"`
	Audio      AudioConfig          `yaml:"audio"`
	Visualizer VisualizerFileConfig `yaml:"visualizer"`
	IPC        IPCConfig            `yaml:"ipc"`
	Record     RecordConfig         `yaml:"record"`
	Logging    LoggingConfig        `yaml:"logging"`
}

type DeviceConfig struct {
	// Path of the evdev node. Empty selects the first gamepad found.
	Path           string `yaml:"path,omitempty"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	Grab           bool   `yaml:"grab"`

	// Replay reads a raw input event capture instead of a live device.
	Replay         string `yaml:"replay,omitempty"`
	ReplayRealtime bool   `yaml:"replay_realtime"`
}

type PPMConfig struct {
	SamplesPerMS float64 `yaml:"samples_per_ms"`
	ChannelCount int     `yaml:"channel_count"`
}

// ChannelConfig assigns one PPM channel. An empty Input leaves the channel
// unassigned (always 0%).
type ChannelConfig struct {
	Input  string `yaml:"input,omitempty"`
	Preset string `yaml:"preset,omitempty"` // button|trigger|stick|custom; empty = the input's natural preset

	// Two-element [min, max] lists; only used (and then required) by preset "custom".
	ActiveRange []int32 `yaml:"active_range,omitempty,flow"`
	DeadZone    []int32 `yaml:"dead_zone,omitempty,flow"`
}

type ExitConfig struct {
	Input string `yaml:"input"`
}

type AudioConfig struct {
	Enabled bool `yaml:"enabled"`
}

type VisualizerFileConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	IntervalMS int    `yaml:"interval_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"` // empty disables IPC
}

type RecordConfig struct {
	Path       string `yaml:"path,omitempty"` // empty disables recording
	MaxSeconds int    `yaml:"max_seconds"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config. Keep aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			PollIntervalMS: defaultPollIntervalMS,
		},
		PPM: PPMConfig{
			SamplesPerMS: defaultSamplesPerMS,
			ChannelCount: defaultChannelCount,
		},
		Channels: DefaultChannelLayout(),
		Exit: ExitConfig{
			Input: InputStart,
		},
		Audio: AudioConfig{
			Enabled: true,
		},
		Visualizer: VisualizerFileConfig{
			Enabled:    false,
			Listen:     defaultVisualizerListen,
			IntervalMS: defaultVisualizerIntervalMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Record: RecordConfig{
			MaxSeconds: defaultRecordMaxSeconds,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds values from command-line flags. A nil pointer means the
// flag was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	DevicePath     *string
	Replay         *string
	Mute           *bool
	ShowVisualizer *bool
	IPCSocketPath  *string
	RecordPath     *string
	LogLevel       *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.DevicePath != nil {
		cfg.Device.Path = *o.DevicePath
	}
	if o.Replay != nil {
		cfg.Device.Replay = *o.Replay
	}
	if o.Mute != nil {
		cfg.Audio.Enabled = !*o.Mute
	}
	if o.ShowVisualizer != nil {
		cfg.Visualizer.Enabled = *o.ShowVisualizer
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.RecordPath != nil {
		cfg.Record.Path = *o.RecordPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	// Device
	if c.Device.PollIntervalMS <= 0 || c.Device.PollIntervalMS > 1000 {
		return errors.New("device.poll_interval_ms must be between 1 and 1000")
	}

	// PPM
	if c.PPM.SamplesPerMS <= 0 {
		return errors.New("ppm.samples_per_ms must be > 0")
	}
	if c.PPM.ChannelCount <= 0 {
		return errors.New("ppm.channel_count must be > 0")
	}
	if _, err := NewEncoder(c.PPM.ChannelCount, c.EncoderConfig()); err != nil {
		return fmt.Errorf("ppm: %w", err)
	}

	// Channels
	if len(c.Channels) > c.PPM.ChannelCount {
		return fmt.Errorf("channels has %d entries but ppm.channel_count is %d", len(c.Channels), c.PPM.ChannelCount)
	}
	for i, ch := range c.Channels {
		if ch.Input == "" {
			continue
		}
		if _, _, _, err := ch.resolve(); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
	}

	// Exit
	if c.Exit.Input == "" {
		return errors.New("exit.input must not be empty")
	}
	if _, ok := LookupInput(c.Exit.Input); !ok {
		return fmt.Errorf("exit.input: unknown input %q", c.Exit.Input)
	}

	// Visualizer
	if c.Visualizer.Enabled && c.Visualizer.Listen == "" {
		return errors.New("visualizer.enabled is true but visualizer.listen is empty")
	}
	if c.Visualizer.IntervalMS < 0 {
		return errors.New("visualizer.interval_ms must be >= 0")
	}

	// Record
	if c.Record.Path != "" && c.Record.MaxSeconds <= 0 {
		return errors.New("record.max_seconds must be > 0 when record.path is set")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// EncoderConfig returns the PPM timing for this config.
func (c *Config) EncoderConfig() EncoderConfig {
	return DefaultEncoderConfig(c.PPM.SamplesPerMS)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Device.PollIntervalMS) * time.Millisecond
}

func (c *Config) VisualizerInterval() time.Duration {
	return time.Duration(c.Visualizer.IntervalMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
