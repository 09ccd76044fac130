package main

import "sync/atomic"

// ============================================================================
// Realtime Hand-off
// ============================================================================
// Two timing domains share exactly one thing: the committed PPM frame.
//
//   control loop (low rate)      audio callback (sample rate)
//   Encoder.Update -> Commit --> [atomic frame pointer] --> Player.Fill
//
// Rules:
//   - The control loop is the only writer. It builds a complete new frame and
//     publishes it with one atomic pointer swap.
//   - Committed frames are immutable.
//   - The audio side never blocks, never allocates and never locks. If the
//     control loop stalls, the last committed frame keeps replaying.
// ============================================================================

// FrameBuffer holds the currently committed frame.
type FrameBuffer struct {
	cur atomic.Pointer[[]byte]
	seq atomic.Uint64
}

// NewFrameBuffer returns a FrameBuffer primed with initial, which must be non-empty.
func NewFrameBuffer(initial []byte) *FrameBuffer {
	fb := &FrameBuffer{}
	fb.cur.Store(&initial)
	return fb
}

// Commit publishes frame. The caller must not modify frame afterwards.
// Empty frames are ignored so readers always have samples to play.
func (fb *FrameBuffer) Commit(frame []byte) {
	if len(frame) == 0 {
		return
	}
	fb.cur.Store(&frame)
	fb.seq.Add(1)
}

// Load returns the current frame. It is safe to call from any goroutine.
func (fb *FrameBuffer) Load() []byte {
	return *fb.cur.Load()
}

// Seq returns the number of commits so far.
func (fb *FrameBuffer) Seq() uint64 {
	return fb.seq.Load()
}

// Player is a read cursor over a FrameBuffer for one audio consumer.
//
// A frame that has started playing is always played to its end; the newest
// committed frame is picked up at the next frame boundary. A Player must be
// used by a single goroutine (the audio callback).
type Player struct {
	src   *FrameBuffer
	frame []byte
	pos   int
}

// NewPlayer returns a Player reading from src.
func NewPlayer(src *FrameBuffer) *Player {
	return &Player{src: src}
}

// Fill writes len(out) samples into out.
func (p *Player) Fill(out []byte) {
	for n := 0; n < len(out); {
		if p.pos >= len(p.frame) {
			p.frame = p.src.Load()
			p.pos = 0
		}
		c := copy(out[n:], p.frame[p.pos:])
		p.pos += c
		n += c
	}
}
