package pacer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerBoundsInFlight(t *testing.T) {
	p := New(3)

	p.Acquire()
	p.Acquire()
	p.Acquire()
	require.Equal(t, 3, p.InFlight())

	// A fourth acquire must block until a completion signal arrives.
	acquired := make(chan struct{})
	go func() {
		p.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquire succeeded past the in-flight bound")
	case <-time.After(50 * time.Millisecond):
	}

	p.Signal()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after completion signal")
	}
	assert.Equal(t, 3, p.InFlight())
}

func TestPacerNeverExceedsBoundUnderLoad(t *testing.T) {
	const bound = 3
	const frames = 200
	p := New(bound)

	var inFlight atomic.Int64
	var maxSeen atomic.Int64
	var wg sync.WaitGroup

	for f := 0; f < frames; f++ {
		p.Acquire()
		n := inFlight.Add(1)
		for {
			seen := maxSeen.Load()
			if n <= seen || maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		wg.Add(1)
		hook := p.CompletionHook()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			hook()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(bound))
	assert.Equal(t, 0, p.InFlight())
}

func TestSignalWithoutAcquirePanics(t *testing.T) {
	p := New(1)
	assert.Panics(t, func() { p.Signal() })
}

func TestRotationCadence(t *testing.T) {
	const n = 16
	c := NewFrameCounter(n)

	invocations := 0
	for f := uint64(0); f < 10*n; f++ {
		require.Equal(t, f, c.Frame())
		if c.RotationDue() {
			invocations++
		}
		assert.Equal(t, int((f/n)%n), c.ActiveShape(), "frame %d", f)
		c.Advance()
	}
	// Across F frames the encoder runs exactly floor(F/N) times plus the
	// frame-0 run at the boundary.
	assert.Equal(t, 10, invocations)
}

func TestRotationVisitsEveryShapeOnce(t *testing.T) {
	const n = 5
	c := NewFrameCounter(n)
	seen := make(map[int]int)
	for f := 0; f < n*n; f++ {
		if c.RotationDue() {
			seen[c.ActiveShape()]++
		}
		c.Advance()
	}
	require.Len(t, seen, n)
	for shape, count := range seen {
		assert.Equal(t, 1, count, "shape %d", shape)
	}
}
