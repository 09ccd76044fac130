package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func printVersion() {
	fmt.Printf("padppm v%s\n", version)
	fmt.Println("Gamepad to RC PPM signal over audio output")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  padppm [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads a gamepad through its Linux input device and plays its stick,")
	fmt.Println("  trigger and button positions as a PPM frame train on the default audio")
	fmt.Println("  output, ready to feed the trainer port of an RC transmitter. The stock")
	fmt.Println("  layout drives 8 channels; press Start to exit.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -c, --config string")
	fmt.Println("        YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  --device string")
	fmt.Println("        Linux input event device (default: first gamepad found)")
	fmt.Println()
	fmt.Println("  --list-devices")
	fmt.Println("        List detected gamepads and exit")
	fmt.Println()
	fmt.Println("  --replay string")
	fmt.Println("        Replay a raw input event capture instead of reading a device")
	fmt.Println()
	fmt.Println("  --mute")
	fmt.Println("        Do not open the audio output")
	fmt.Println()
	fmt.Println("  --show-visualizer")
	fmt.Printf("        Serve the PPM signal feed on ws://%s/ws (default interval %d ms)\n", defaultVisualizerListen, defaultVisualizerIntervalMS)
	fmt.Println()
	fmt.Println("  --record string")
	fmt.Printf("        Record the PPM signal to a WAV file (at most %d s by default)\n", defaultRecordMaxSeconds)
	fmt.Println()
	fmt.Println("  --ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q, empty disables)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  --log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  --version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -h, --help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Play the default layout from the first gamepad")
	fmt.Println("  padppm")
	fmt.Println()
	fmt.Println("  # Watch the signal without sound")
	fmt.Println("  padppm --mute --show-visualizer")
	fmt.Println("  ppm-scope --ws ws://127.0.0.1:8090/ws")
	fmt.Println()
	fmt.Println("  # Hardware-free run from a capture, saved to a WAV file")
	fmt.Println("  padppm --mute --replay pad.events --record ppm.wav")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input device (run as root or add user to 'input' group)")
	fmt.Printf("  - Inputs: %v\n", InputNames())
	fmt.Println()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	var (
		configPath     = pflag.StringP("config", "c", "", "YAML config file")
		devicePath     = pflag.String("device", "", "Linux input event device (default: first gamepad found)")
		listDevices    = pflag.Bool("list-devices", false, "List detected gamepads and exit")
		replayPath     = pflag.String("replay", "", "Replay a raw input event capture instead of reading a device")
		mute           = pflag.Bool("mute", false, "Do not open the audio output")
		showVisualizer = pflag.Bool("show-visualizer", false, "Serve the PPM signal feed over websocket")
		recordPath     = pflag.String("record", "", "Record the PPM signal to a WAV file")
		ipcSocketPath  = pflag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		logLevelStr    = pflag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion    = pflag.Bool("version", false, "Print version and exit")
		showHelp       = pflag.BoolP("help", "h", false, "Print help message")
	)
	pflag.Usage = printUsage
	pflag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	if *listDevices {
		pads, err := ListGamepads()
		if err != nil {
			fail("%v", err)
		}
		if len(pads) == 0 {
			fmt.Println("no gamepads found")
			return
		}
		for _, p := range pads {
			fmt.Printf("%s\t%s\n", p.Path, p.Name)
		}
		return
	}

	// Defaults, then file, then flags the user actually set.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fail("%v", err)
		}
		cfg = loaded
	}

	var o FlagOverrides
	set := func(name string) bool { return pflag.CommandLine.Changed(name) }
	if set("device") {
		o.DevicePath = devicePath
	}
	if set("replay") {
		o.Replay = replayPath
	}
	if set("mute") {
		o.Mute = mute
	}
	if set("show-visualizer") {
		o.ShowVisualizer = showVisualizer
	}
	if set("record") {
		o.RecordPath = recordPath
	}
	if set("ipc-socket") {
		o.IPCSocketPath = ipcSocketPath
	}
	if set("log-level") {
		o.LogLevel = logLevelStr
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fail("invalid configuration: %v", err)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("padppm stopped with error", "error", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until shutdown.
func run(cfg Config, logger *slog.Logger) error {
	bus := NewBus()

	channels, exit, err := BuildLayout(&cfg, bus)
	if err != nil {
		return err
	}
	for i, h := range channels {
		if h == nil {
			logger.Info("channel", "channel", i+1, "input", "unassigned")
			continue
		}
		logger.Info("channel", "channel", i+1, "input", h.Name(),
			"active_range", h.ActiveRange().String(), "dead_zone", h.DeadZone().String())
	}
	logger.Info("exit", "input", exit.Name())

	// Activation edges at debug level.
	edges := NewDelegatingHandler(func(m Message) {
		logger.Debug("input "+m.Kind.String(), "input", m.Source.Name())
	}, KindActivated, KindDeactivated)
	if err := bus.SubscribeDelegate(edges); err != nil {
		return err
	}

	enc, err := NewEncoder(cfg.PPM.ChannelCount, cfg.EncoderConfig())
	if err != nil {
		return err
	}
	frames := NewFrameBuffer(enc.Buffer())

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	// Components are built first and started together, so a setup error
	// leaves nothing running. Resources opened before the error are released.
	var (
		runners []func(context.Context) error
		setup   setupResources
	)
	defer setup.release(logger)

	// Input source
	var source SampleSource
	if cfg.Device.Replay != "" {
		rs, err := OpenReplayFile(cfg.Device.Replay, ReplayConfig{
			Realtime:     cfg.Device.ReplayRealtime,
			PollInterval: cfg.PollInterval(),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		setup.add("replay file", rs.Close)
		runners = append(runners, rs.Run)
		source = rs
	} else {
		path := cfg.Device.Path
		if path == "" {
			pad, err := FirstGamepad()
			if err != nil {
				return err
			}
			logger.Info("using gamepad", "device", pad.Path, "name", pad.Name)
			path = pad.Path
		}
		es, err := NewEvdevSource(EvdevSourceConfig{
			Path:         path,
			Grab:         cfg.Device.Grab,
			PollInterval: cfg.PollInterval(),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		setup.add("input device", es.Close)
		runners = append(runners, es.Run)
		source = es
	}

	ctrl, err := NewController(ControllerConfig{
		Source:   source,
		Channels: channels,
		Exit:     exit,
		Encoder:  enc,
		Output:   frames,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Visualizer feed
	if cfg.Visualizer.Enabled {
		vis, err := NewVisualizer(logger, enc, channels, exit, VisualizerConfig{
			Listen:   cfg.Visualizer.Listen,
			Interval: cfg.VisualizerInterval(),
		})
		if err != nil {
			return err
		}
		if err := bus.Subscribe(vis, KindActivated, KindDeactivated); err != nil {
			return err
		}
		ctrl.AddObserver(vis, vis.Interval())
		runners = append(runners, vis.Run)
	}

	// WAV capture
	if cfg.Record.Path != "" {
		rec, err := NewRecorder(cfg.Record.Path, frames, enc, cfg.Record.MaxSeconds, logger)
		if err != nil {
			return err
		}
		runners = append(runners, rec.Run)
	}

	// IPC
	if cfg.IPC.SocketPath != "" {
		handlers := IPCHandlers{
			Status: ctrl.Status,
			Quit: func() {
				logger.Info("quit requested over IPC")
				cancel()
			},
		}
		runners = append(runners, func(ctx context.Context) error {
			return runIPCServer(ctx, cfg.IPC.SocketPath, handlers, logger)
		})
	}

	// Audio output last: it holds PortAudio until its runner closes it.
	if cfg.Audio.Enabled {
		out, err := OpenAudioOutput(frames, enc, logger)
		if err != nil {
			return err
		}
		runners = append(runners, out.Run)
	} else {
		logger.Info("audio muted")
	}

	// From here on every resource belongs to its runner.
	setup.disarm()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r(gctx) })
	}

	// Control loop; when it returns everything else winds down.
	g.Go(func() error {
		defer cancel()
		return ctrl.Run(gctx)
	})

	logger.Info("padppm running", "version", version,
		"channels", cfg.PPM.ChannelCount, "sample_rate", enc.Config().SampleRate(),
		"frame_samples", enc.FrameSamples(), "audio", cfg.Audio.Enabled,
		"visualizer", cfg.Visualizer.Enabled, "ipc", cfg.IPC.SocketPath)

	err = g.Wait()
	if rootCtx.Err() != nil {
		logger.Info("shutting down (signal)")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("padppm stopped")
	return nil
}

// setupResources collects closers for resources opened during setup. release
// closes them in reverse order unless disarm was called first.
type setupResources struct {
	names   []string
	closers []func() error
	armed   bool
}

func (s *setupResources) add(name string, closeFn func() error) {
	s.names = append(s.names, name)
	s.closers = append(s.closers, closeFn)
	s.armed = true
}

func (s *setupResources) disarm() { s.armed = false }

func (s *setupResources) release(logger *slog.Logger) {
	if !s.armed {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("failed to release setup resource", "resource", s.names[i], "error", err)
		}
	}
	s.closers, s.names = nil, nil
	s.armed = false
}
