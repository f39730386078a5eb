// Package soft is the reference device: kernels run as Go functions, render
// passes model the depth test at draw granularity, and submissions execute
// on a single queue goroutine in submission order. It exists so the command
// buffer machinery is fully observable without a GPU.
package soft

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

type buffer struct {
	label string
	data  []byte
}

type submission struct {
	label      string
	work       func() error
	onComplete func()
	done       chan error
}

// Device implements device.Device in process.
type Device struct {
	mu       sync.RWMutex
	next     device.Handle
	buffers  map[device.Handle]*buffer
	objects  map[device.Handle]any
	disabled map[device.FeatureTier]bool

	queue chan *submission
	idle  sync.WaitGroup
	quit  chan struct{}
}

// Option tweaks a Device at construction time.
type Option func(*Device)

// WithoutFeature makes the device report a tier as unsupported. Used to
// exercise the fail-fast startup path.
func WithoutFeature(tier device.FeatureTier) Option {
	return func(d *Device) {
		d.disabled[tier] = true
	}
}

// New starts the device's submission queue.
func New(opts ...Option) *Device {
	d := &Device{
		buffers:  make(map[device.Handle]*buffer),
		objects:  make(map[device.Handle]any),
		disabled: make(map[device.FeatureTier]bool),
		queue:    make(chan *submission, 64),
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	go d.run()
	return d
}

func (d *Device) Name() string {
	return "soft"
}

func (d *Device) Supports(tier device.FeatureTier) bool {
	return !d.disabled[tier]
}

func (d *Device) NewBuffer(label string, size int) (device.Handle, error) {
	if size <= 0 {
		return device.NilHandle, fmt.Errorf("buffer size must be positive, got %d", size)
	}
	if label == "" {
		label = uuid.New().String()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := d.next
	d.buffers[h] = &buffer{label: label, data: make([]byte, size)}
	return h, nil
}

func (d *Device) WriteBuffer(h device.Handle, offset int, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("write buffer %d: %w", h, device.ErrUnknownHandle)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("write buffer %s: range [%d, %d) outside size %d", b.label, offset, offset+len(data), len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *Device) ReadBuffer(h device.Handle, offset int, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("read buffer %d: %w", h, device.ErrUnknownHandle)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("read buffer %s: range [%d, %d) outside size %d", b.label, offset, offset+len(data), len(b.data))
	}
	copy(data, b.data[offset:])
	return nil
}

func (d *Device) ReleaseBuffer(h device.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[h]; !ok {
		return fmt.Errorf("release buffer %d: %w", h, device.ErrUnknownHandle)
	}
	delete(d.buffers, h)
	return nil
}

func (d *Device) RegisterObject(label string, obj any) (device.Handle, error) {
	if obj == nil {
		return device.NilHandle, fmt.Errorf("cannot register a nil object")
	}
	if label == "" {
		label = uuid.New().String()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	h := d.next
	d.objects[h] = obj
	return h, nil
}

// Bytes implements device.Resolver.
func (d *Device) Bytes(h device.Handle) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[h]
	if !ok {
		panic(fmt.Sprintf("kernel resolved unknown buffer handle %d", h))
	}
	return b.data
}

// Object implements device.Resolver.
func (d *Device) Object(h device.Handle) any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[h]
	if !ok {
		panic(fmt.Sprintf("kernel resolved unknown object handle %d", h))
	}
	return obj
}

// Dispatch fans the kernel out over a small worker pool, one invocation per
// work item, and returns after every item completed. Items touch disjoint
// command slots, so no synchronization beyond the join is needed.
func (d *Device) Dispatch(k device.Kernel, workItems int, args device.Handle) error {
	if k.Fn == nil {
		return fmt.Errorf("kernel %q has no reference implementation", k.Name)
	}
	if workItems <= 0 {
		return nil
	}
	argBytes := d.Bytes(args)

	workers := min(workItems, runtime.NumCPU())
	items := make(chan int, workItems)
	for i := 0; i < workItems; i++ {
		items <- i
	}
	close(items)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				if err := k.Fn(item, argBytes, d); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("kernel %q item %d: %w", k.Name, item, err)
					}
					errMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// Submit enqueues a unit on the queue goroutine. Units run in submission
// order; onComplete fires after the unit's work returned.
func (d *Device) Submit(label string, work func() error, onComplete func()) error {
	d.idle.Add(1)
	sub := &submission{label: label, work: work, onComplete: onComplete}
	select {
	case d.queue <- sub:
		return nil
	case <-d.quit:
		d.idle.Done()
		return fmt.Errorf("submit %q: device destroyed", label)
	}
}

func (d *Device) SubmitAndWait(label string, work func() error) error {
	done := make(chan error, 1)
	sub := &submission{label: label, work: work, done: done}
	d.idle.Add(1)
	select {
	case d.queue <- sub:
	case <-d.quit:
		d.idle.Done()
		return fmt.Errorf("submit %q: device destroyed", label)
	}
	return <-done
}

func (d *Device) WaitIdle() {
	d.idle.Wait()
}

func (d *Device) Destroy() {
	d.idle.Wait()
	close(d.quit)
}

func (d *Device) run() {
	for {
		select {
		case sub := <-d.queue:
			err := sub.work()
			if err != nil {
				core.LogError("submission %q failed: %s", sub.label, err.Error())
			}
			if sub.onComplete != nil {
				sub.onComplete()
			}
			if sub.done != nil {
				sub.done <- err
			}
			d.idle.Done()
		case <-d.quit:
			return
		}
	}
}
