package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Visualizer feed: hub + per-client pumps
// ============================================================================
//
// The visualizer is a read-only websocket feed of the PPM signal. Rendering is
// left to the client (see cmd/ppm-scope).
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
//   - "state_init"           on connect: timing and channel layout
//   - "ppm_frame"            the committed frame, at most once per interval
//   - "channel_activated"    forwarded from the bus
//   - "channel_deactivated"  forwarded from the bus
//
// Frame observation and bus messages arrive on the control goroutine. They are
// marshaled there and handed to the hub without blocking; a full hub queue
// drops the message. Slow clients are disconnected when their send buffer fills.
// ============================================================================

const (
	msgStateInit          = "state_init"
	msgPPMFrame           = "ppm_frame"
	msgChannelActivated   = "channel_activated"
	msgChannelDeactivated = "channel_deactivated"
)

// envelope is the wire format for feed messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type wsChannelInfo struct {
	Channel  int    `json:"channel"`
	Name     string `json:"name,omitempty"`
	Input    string `json:"input,omitempty"`
	Assigned bool   `json:"assigned"`
}

type wsStateInit struct {
	SampleRate       float64         `json:"sample_rate"`
	SamplesPerMS     float64         `json:"samples_per_ms"`
	FrameSamples     int             `json:"frame_samples"`
	SeparatorSamples int             `json:"separator_samples"`
	IntervalMS       int64           `json:"interval_ms"`
	Channels         []wsChannelInfo `json:"channels"`
	Exit             wsChannelInfo   `json:"exit"`
}

type wsPPMFrame struct {
	// Offset is the running sample position of this snapshot on the
	// client's time axis.
	Offset  int64     `json:"offset"`
	Seq     uint64    `json:"seq"`
	Samples []int     `json:"samples"`
	Pulses  []int     `json:"pulses"`
	Values  []float64 `json:"values"`
}

type wsChannelEdge struct {
	Channel int    `json:"channel"` // 0 for the exit input
	Name    string `json:"name"`
	Input   string `json:"input"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 8).
	SendBuf int

	// BroadcastBuf is the hub inbound queue size (default 32).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 8
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 32
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run processes registrations and fans out broadcasts until ctx is canceled,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("visualizer client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.drop(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.drop(c, "slow_client")
			}
		}
	}
}

// Broadcast enqueues an encoded message. It never blocks.
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Debug("visualizer queue full, dropping message", "bytes", len(msg))
		return false
	}
}

// addClient hands c to the hub. It reports false, leaving c unregistered,
// once the hub has stopped.
func (h *Hub) addClient(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// removeClient never blocks past the hub's lifetime; a stopped hub has
// already closed every client.
func (h *Hub) removeClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("visualizer client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// ============================================================================
// Client
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce  sync.Once
	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close closes the connection (if any) and the send queue, once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("visualizer "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("visualizer "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue onto the socket and keeps it alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages; it exists to process control frames
// and notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			c.hub.removeClient(c)
			return
		}
	}
}

// ============================================================================
// Visualizer
// ============================================================================

// VisualizerConfig wires a Visualizer.
type VisualizerConfig struct {
	Listen   string
	Interval time.Duration
	Hub      HubConfig
}

// Visualizer observes committed frames and channel edges and publishes them
// to websocket clients.
type Visualizer struct {
	logger  *slog.Logger
	hub     *Hub
	encoder *Encoder
	cfg     VisualizerConfig

	index map[*ChannelHandler]wsChannelEdge
	init  []byte

	// Touched only from the control goroutine.
	offset int64
	seq    uint64

	lastFrame atomic.Pointer[[]byte]
}

// NewVisualizer builds the feed for a channel layout. channels may contain nil
// (unassigned) entries.
func NewVisualizer(logger *slog.Logger, enc *Encoder, channels []*ChannelHandler, exit *ChannelHandler, cfg VisualizerConfig) (*Visualizer, error) {
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	v := &Visualizer{
		logger:  logger,
		hub:     NewHub(logger, cfg.Hub),
		encoder: enc,
		cfg:     cfg,
		index:   make(map[*ChannelHandler]wsChannelEdge, len(channels)+1),
	}

	ec := enc.Config()
	st := wsStateInit{
		SampleRate:       ec.SampleRate(),
		SamplesPerMS:     ec.SamplesPerMillisecond,
		FrameSamples:     enc.FrameSamples(),
		SeparatorSamples: enc.SeparatorSamples(),
		IntervalMS:       cfg.Interval.Milliseconds(),
		Channels:         make([]wsChannelInfo, len(channels)),
	}
	for i, h := range channels {
		info := wsChannelInfo{Channel: i + 1}
		if h != nil {
			info.Name, info.Input, info.Assigned = h.Name(), h.Map().Code.String(), true
			v.index[h] = wsChannelEdge{Channel: i + 1, Name: info.Name, Input: info.Input}
		}
		st.Channels[i] = info
	}
	if exit != nil {
		st.Exit = wsChannelInfo{Name: exit.Name(), Input: exit.Map().Code.String(), Assigned: true}
		v.index[exit] = wsChannelEdge{Name: st.Exit.Name, Input: st.Exit.Input}
	}

	initMsg, err := marshalEnvelope(msgStateInit, time.Now().UTC(), st)
	if err != nil {
		return nil, fmt.Errorf("visualizer: marshal %s: %w", msgStateInit, err)
	}
	v.init = initMsg
	return v, nil
}

func (v *Visualizer) Hub() *Hub { return v.hub }

// Interval returns the minimum time between ppm_frame messages.
func (v *Visualizer) Interval() time.Duration { return v.cfg.Interval }

func marshalEnvelope(typ string, ts time.Time, data any) ([]byte, error) {
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

// ObserveFrame implements FrameObserver.
func (v *Visualizer) ObserveFrame(frame []byte, at time.Time) {
	pulses, values := v.encoder.Decode(frame)
	samples := make([]int, len(frame))
	for i, b := range frame {
		samples[i] = int(b)
	}

	v.seq++
	msg, err := marshalEnvelope(msgPPMFrame, at.UTC(), wsPPMFrame{
		Offset:  v.offset,
		Seq:     v.seq,
		Samples: samples,
		Pulses:  pulses,
		Values:  values,
	})
	v.offset += int64(len(frame))
	if err != nil {
		v.logger.Warn("visualizer marshal failed", "type", msgPPMFrame, "error", err)
		return
	}

	v.lastFrame.Store(&msg)
	v.hub.Broadcast(msg)
}

// HandleMessage forwards activation edges; subscribe it for KindActivated and
// KindDeactivated.
func (v *Visualizer) HandleMessage(m Message) {
	var typ string
	switch m.Kind {
	case KindActivated:
		typ = msgChannelActivated
	case KindDeactivated:
		typ = msgChannelDeactivated
	default:
		return
	}

	edge, ok := v.index[m.Source]
	if !ok && m.Source != nil {
		edge = wsChannelEdge{Name: m.Source.Name(), Input: m.Source.Map().Code.String()}
	}
	msg, err := marshalEnvelope(typ, time.Now().UTC(), edge)
	if err != nil {
		v.logger.Warn("visualizer marshal failed", "type", typ, "error", err)
		return
	}
	v.hub.Broadcast(msg)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and queues state_init (plus the latest
// frame, if any) ahead of live traffic.
func (v *Visualizer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Warn("visualizer upgrade failed", "error", err)
		return
	}

	c := newClient(v.hub, conn, r.RemoteAddr, v.logger)
	c.send <- v.init
	if last := v.lastFrame.Load(); last != nil && len(c.send) < cap(c.send) {
		c.send <- *last
	}
	if !v.hub.addClient(c) {
		c.close()
		return
	}

	// Pumps outlive the request; the hub and socket errors end them.
	go c.writePump()
	go c.readPump()
}

// Run serves the feed on cfg.Listen until ctx is canceled.
func (v *Visualizer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", v)

	ln, err := net.Listen("tcp", v.cfg.Listen)
	if err != nil {
		return fmt.Errorf("visualizer: listen on %s: %w", v.cfg.Listen, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go v.hub.Run(hubCtx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	v.logger.Info("visualizer listening", "addr", ln.Addr().String(), "path", "/ws", "interval", v.cfg.Interval)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("visualizer: serve: %w", err)
	}
	return nil
}
