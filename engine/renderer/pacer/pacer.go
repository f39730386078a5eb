// Package pacer bounds the number of frames concurrently in flight and
// tracks the frame counters that drive the device-encoding cadence.
package pacer

import "sync"

// Pacer is an explicit counting primitive: initialized to the in-flight
// bound, decremented when a frame is about to be submitted, incremented by
// the completion signal attached to that frame's submission. When the count
// hits zero the host blocks before touching any per-frame dynamic resource
// an outstanding frame may still read.
//
// There is no timeout: a submission whose completion never arrives stalls
// the pacer forever, surfacing as a hang rather than a typed error.
type Pacer struct {
	mu    sync.Mutex
	cond  *sync.Cond
	avail int
	bound int
}

// New creates a pacer with the given in-flight bound.
func New(bound int) *Pacer {
	if bound < 1 {
		panic("pacer bound must be >= 1")
	}
	p := &Pacer{avail: bound, bound: bound}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire blocks until fewer than bound frames are in flight, then claims a
// slot for the frame about to be encoded and submitted.
func (p *Pacer) Acquire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.avail == 0 {
		p.cond.Wait()
	}
	p.avail--
}

// Signal marks one in-flight frame as completed. It is safe to call from a
// device completion context.
func (p *Pacer) Signal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avail == p.bound {
		panic("pacer signaled more completions than submissions")
	}
	p.avail++
	p.cond.Signal()
}

// CompletionHook returns the callback to attach to a frame's submission.
func (p *Pacer) CompletionHook() func() {
	return p.Signal
}

// InFlight returns the number of currently outstanding frames.
func (p *Pacer) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound - p.avail
}

// FrameCounter tracks displayed frames and the shape-rotation cadence. The
// rotation advances once every numShapes displayed frames, independent of
// the in-flight bound.
type FrameCounter struct {
	numShapes uint64
	frame     uint64
}

// NewFrameCounter panics on a zero shape count; the cadence is undefined
// without shapes.
func NewFrameCounter(numShapes int) *FrameCounter {
	if numShapes < 1 {
		panic("frame counter needs at least one shape")
	}
	return &FrameCounter{numShapes: uint64(numShapes)}
}

// Frame is the id of the frame currently being prepared.
func (c *FrameCounter) Frame() uint64 {
	return c.frame
}

// Advance moves to the next displayed frame.
func (c *FrameCounter) Advance() {
	c.frame++
}

// RotationDue reports whether the device encoder must re-run before the
// current frame: true exactly once every numShapes frames, starting with
// frame 0.
func (c *FrameCounter) RotationDue() bool {
	return c.frame%c.numShapes == 0
}

// ActiveShape is the shape index the current rotation selects:
// floor(frame/numShapes) mod numShapes.
func (c *FrameCounter) ActiveShape() int {
	return int((c.frame / c.numShapes) % c.numShapes)
}
