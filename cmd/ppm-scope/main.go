package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

// ppm-scope renders padppm's visualizer feed in a terminal: the channel
// layout once, then every PPM frame as pulse widths and value bars.

// Feed types (duplicated from main package for standalone binary)
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type channelInfo struct {
	Channel  int    `json:"channel"`
	Name     string `json:"name,omitempty"`
	Input    string `json:"input,omitempty"`
	Assigned bool   `json:"assigned"`
}

type stateInit struct {
	SampleRate       float64       `json:"sample_rate"`
	SamplesPerMS     float64       `json:"samples_per_ms"`
	FrameSamples     int           `json:"frame_samples"`
	SeparatorSamples int           `json:"separator_samples"`
	IntervalMS       int64         `json:"interval_ms"`
	Channels         []channelInfo `json:"channels"`
	Exit             channelInfo   `json:"exit"`
}

type ppmFrame struct {
	Offset  int64     `json:"offset"`
	Seq     uint64    `json:"seq"`
	Samples []int     `json:"samples"`
	Pulses  []int     `json:"pulses"`
	Values  []float64 `json:"values"`
}

type channelEdge struct {
	Channel int    `json:"channel"`
	Name    string `json:"name"`
	Input   string `json:"input"`
}

type scope struct {
	layout    *stateInit
	wave      bool
	waveWidth int
	raw       bool
}

func main() {
	var (
		wsURL     = pflag.String("ws", "ws://127.0.0.1:8090/ws", "padppm visualizer websocket URL")
		wave      = pflag.Bool("wave", false, "Also draw each frame as a one-line waveform")
		waveWidth = pflag.Int("wave-width", 120, "Waveform width in columns")
		raw       = pflag.Bool("raw", false, "Print messages as received (pretty JSON) instead of rendering")
	)
	pflag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}
	if *waveWidth <= 0 {
		log.Fatalf("--wave-width must be > 0")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	s := &scope{wave: *wave, waveWidth: *waveWidth, raw: *raw}

	// Read loop. The default ping handler answers the daemon's pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			s.handle(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func (s *scope) handle(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", message)
		return
	}
	if s.raw {
		var v any
		_ = json.Unmarshal(message, &v)
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s\n", pretty)
		return
	}

	switch env.Type {
	case "state_init":
		var st stateInit
		if err := json.Unmarshal(env.Data, &st); err != nil {
			log.Printf("bad state_init: %v", err)
			return
		}
		s.layout = &st
		printLayout(st)

	case "ppm_frame":
		var f ppmFrame
		if err := json.Unmarshal(env.Data, &f); err != nil {
			log.Printf("bad ppm_frame: %v", err)
			return
		}
		s.printFrame(env.Ts, f)

	case "channel_activated", "channel_deactivated":
		var e channelEdge
		if err := json.Unmarshal(env.Data, &e); err != nil {
			log.Printf("bad %s: %v", env.Type, err)
			return
		}
		tag := "ON "
		if env.Type == "channel_deactivated" {
			tag = "OFF"
		}
		where := "exit"
		if e.Channel > 0 {
			where = fmt.Sprintf("CH%d", e.Channel)
		}
		fmt.Printf("[%s] %-4s %s (%s)\n", tag, where, e.Name, e.Input)

	default:
		fmt.Printf("[%s] %s\n", strings.ToUpper(env.Type), env.Data)
	}
}

func printLayout(st stateInit) {
	fmt.Printf("[LAYOUT] %.0f Hz, %.0f samples/ms, frame %d samples (%.2f ms), separator %d, every %d ms\n",
		st.SampleRate, st.SamplesPerMS, st.FrameSamples, float64(st.FrameSamples)/st.SamplesPerMS,
		st.SeparatorSamples, st.IntervalMS)
	for _, ch := range st.Channels {
		if !ch.Assigned {
			fmt.Printf("  CH%d  -\n", ch.Channel)
			continue
		}
		fmt.Printf("  CH%d  %-20s %s\n", ch.Channel, ch.Name, ch.Input)
	}
	fmt.Printf("  exit %-20s %s\n", st.Exit.Name, st.Exit.Input)
	fmt.Println()
}

func (s *scope) printFrame(ts *time.Time, f ppmFrame) {
	at := ""
	if ts != nil {
		at = ts.Local().Format("15:04:05.000")
	}
	fmt.Printf("[FRAME] #%d %s offset=%d\n", f.Seq, at, f.Offset)

	spm := 0.0
	if s.layout != nil {
		spm = s.layout.SamplesPerMS
	}
	for i, p := range f.Pulses {
		name := ""
		if s.layout != nil && i < len(s.layout.Channels) {
			name = s.layout.Channels[i].Name
		}
		v := 0.0
		if i < len(f.Values) {
			v = f.Values[i]
		}
		width := fmt.Sprintf("%4d", p)
		if spm > 0 {
			width = fmt.Sprintf("%4d (%.2f ms)", p, float64(p)/spm)
		}
		fmt.Printf("  CH%d %-20s %s %s %3.0f%%\n", i+1, name, width, bar(v, 20), v*100)
	}
	if s.wave {
		fmt.Printf("  %s\n", waveform(f.Samples, s.waveWidth))
	}
}

func bar(p float64, width int) string {
	n := int(p*float64(width) + 0.5)
	n = min(max(n, 0), width)
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}

// waveform squeezes a frame into width columns; a column is high if most of
// its samples are.
func waveform(samples []int, width int) string {
	if len(samples) == 0 {
		return ""
	}
	var b strings.Builder
	for col := range width {
		lo := col * len(samples) / width
		hi := (col + 1) * len(samples) / width
		if hi <= lo {
			hi = lo + 1
		}
		high := 0
		for _, v := range samples[lo:min(hi, len(samples))] {
			if v > 0 {
				high++
			}
		}
		if high*2 >= hi-lo {
			b.WriteByte('-')
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
