package main

import "time"

const version = "0.3.0"

// PPM timing defaults (milliseconds unless noted)
const (
	defaultSamplesPerMS = 100.0 // 1 ms usable pulse range at 100 samples/ms = 1% per sample
	defaultChannelCount = 8

	defaultFrameMS     = 22.5
	defaultMinPulseMS  = 0.53 // slightly above 0.5 ms; some receivers swap empty channels otherwise
	defaultMaxPulseMS  = 1.7
	defaultSeparatorMS = 0.4

	// 8-bit unsigned PCM levels
	sampleLow  byte = 0
	sampleHigh byte = 127
)

// Control loop and collaborator defaults
const (
	defaultPollIntervalMS       = 10
	defaultVisualizerIntervalMS = 2000
	defaultVisualizerListen     = "127.0.0.1:8090"
	defaultIPCSocket            = "/tmp/padppm.sock"
	defaultRecordMaxSeconds     = 60

	reconnectInterval = 1 * time.Second
	sampleQueueSize   = 256
)
