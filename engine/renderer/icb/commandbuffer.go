package icb

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// SlotState is the lifecycle state of one command slot.
type SlotState uint8

const (
	// SlotEmpty: never written since allocation. Contributes no work.
	SlotEmpty SlotState = iota
	// SlotDraw: holds an encoded draw.
	SlotDraw
	// SlotReset: a recorded no-op. Live for iteration, inert for drawing.
	SlotReset
)

// DrawDescriptor is the draw half of an encoded command.
type DrawDescriptor struct {
	Topology      device.Topology
	VertexStart   uint32
	VertexCount   uint32
	InstanceCount uint32
	BaseInstance  uint32
}

// Slot is one command slot's contents. Bindings holds the explicit
// (non-elided) buffer bindings; after optimization a draw may carry none
// and inherit everything from the preceding command.
type Slot struct {
	State    SlotState
	Bindings []device.BufferBinding
	Draw     DrawDescriptor

	// skip is the optimizer's iteration hint: the next slot index worth
	// visiting after this one. 0 means no hint.
	skip int
}

// Range addresses [Start, Start+Count) slots.
type Range struct {
	Start int
	Count int
}

// Contains reports whether index i lies inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.Start+r.Count
}

// CommandBuffer is the allocated container of command slots. Exactly one
// encoder mutates it at a time and never concurrently with optimization or
// execution; that discipline is enforced by the caller's synchronization
// (see the frame pacer), not by locks here.
type CommandBuffer struct {
	desc      Descriptor
	dev       device.Device
	handle    device.Handle
	slots     []Slot
	optimized *Range
}

// Allocate creates a command buffer from the descriptor. It fails with
// device.ErrUnsupportedCapability when the device lacks indirect execution
// support and with ErrAllocation when the descriptor cannot be satisfied.
func Allocate(dev device.Device, desc Descriptor) (*CommandBuffer, error) {
	if !dev.Supports(device.FeatureIndirectExecution) {
		return nil, fmt.Errorf("device %q: %w: %s", dev.Name(), device.ErrUnsupportedCapability, device.FeatureIndirectExecution)
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}

	cb := &CommandBuffer{
		desc:  desc,
		dev:   dev,
		slots: make([]Slot, desc.MaxCommandCount),
	}
	handle, err := dev.RegisterObject("indirect-command-buffer", cb)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAllocation, err.Error())
	}
	cb.handle = handle
	core.LogDebug("allocated indirect command buffer: %d slots, kinds=%#x", desc.MaxCommandCount, desc.Kinds)
	return cb, nil
}

// Capacity is the slot count, fixed at allocation.
func (cb *CommandBuffer) Capacity() int {
	return len(cb.slots)
}

// Descriptor returns the immutable allocation descriptor.
func (cb *CommandBuffer) Descriptor() Descriptor {
	return cb.desc
}

// Handle is the device handle kernels use to reach this buffer through an
// argument table.
func (cb *CommandBuffer) Handle() device.Handle {
	return cb.handle
}

// EncodeAt opens slot index for encoding. The slot's previous contents are
// discarded immediately; encoding is overwrite-in-place.
func (cb *CommandBuffer) EncodeAt(index int) (*SlotEncoder, error) {
	if index < 0 || index >= len(cb.slots) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, index, len(cb.slots))
	}
	cb.slots[index] = Slot{State: SlotEmpty}
	return &SlotEncoder{cb: cb, index: index}, nil
}

// ResetAt records a no-op into the slot: live for iteration, inert for
// drawing. The device encoder uses this for every non-selected shape so
// stale commands never survive a re-encode.
func (cb *CommandBuffer) ResetAt(index int) error {
	if index < 0 || index >= len(cb.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, index, len(cb.slots))
	}
	cb.slots[index] = Slot{State: SlotReset}
	return nil
}

// At returns a copy of the slot's contents.
func (cb *CommandBuffer) At(index int) (Slot, error) {
	if index < 0 || index >= len(cb.slots) {
		return Slot{}, fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, index, len(cb.slots))
	}
	s := cb.slots[index]
	s.Bindings = append([]device.BufferBinding(nil), s.Bindings...)
	return s, nil
}

// OptimizedRegion returns the most recently optimized range, or nil.
func (cb *CommandBuffer) OptimizedRegion() *Range {
	return cb.optimized
}

// Snapshot serializes every slot deterministically. Two buffers with
// identical commands produce identical bytes; used to verify encoding
// determinism and replay non-mutation.
func (cb *CommandBuffer) Snapshot() []byte {
	var out []byte
	var scratch [4]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		out = append(out, scratch[:]...)
	}
	for i := range cb.slots {
		s := &cb.slots[i]
		out = append(out, byte(s.State))
		put32(uint32(len(s.Bindings)))
		for _, b := range s.Bindings {
			put32(uint32(b.Buffer))
			put32(b.Index)
		}
		out = append(out, byte(s.Draw.Topology))
		put32(s.Draw.VertexStart)
		put32(s.Draw.VertexCount)
		put32(s.Draw.InstanceCount)
		put32(s.Draw.BaseInstance)
	}
	return out
}

// MarshalIndirectCommands packs every slot into the 16-byte GPU
// indirect-draw argument layout {vertexCount, instanceCount, firstVertex,
// firstInstance}, little-endian. Empty and reset slots become inert
// arguments with zero instances. GPU backends mirror host-encoded contents
// into their argument buffer through this.
func (cb *CommandBuffer) MarshalIndirectCommands() []byte {
	out := make([]byte, len(cb.slots)*16)
	for i := range cb.slots {
		s := &cb.slots[i]
		if s.State != SlotDraw {
			continue
		}
		off := i * 16
		binary.LittleEndian.PutUint32(out[off+0:], s.Draw.VertexCount)
		binary.LittleEndian.PutUint32(out[off+4:], s.Draw.InstanceCount)
		binary.LittleEndian.PutUint32(out[off+8:], s.Draw.VertexStart)
		binary.LittleEndian.PutUint32(out[off+12:], s.Draw.BaseInstance)
	}
	return out
}

// SlotEncoder encodes one command into one slot.
type SlotEncoder struct {
	cb    *CommandBuffer
	index int
}

// SetVertexBuffer binds a buffer at a vertex-stage binding index.
func (e *SlotEncoder) SetVertexBuffer(h device.Handle, binding uint32) error {
	desc := e.cb.desc
	if int(binding) >= desc.MaxVertexBufferBinds {
		return fmt.Errorf("vertex binding index %d exceeds descriptor limit %d", binding, desc.MaxVertexBufferBinds)
	}
	slot := &e.cb.slots[e.index]
	if len(slot.Bindings) >= desc.MaxVertexBufferBinds {
		return fmt.Errorf("command already has %d vertex buffer bindings (descriptor limit)", desc.MaxVertexBufferBinds)
	}
	slot.Bindings = append(slot.Bindings, device.BufferBinding{Buffer: h, Index: binding})
	return nil
}

// DrawPrimitives records the slot's draw and marks it live.
func (e *SlotEncoder) DrawPrimitives(d DrawDescriptor) error {
	if e.cb.desc.Kinds&KindDraw == 0 {
		return ErrKindNotPermitted
	}
	slot := &e.cb.slots[e.index]
	slot.Draw = d
	slot.State = SlotDraw
	return nil
}
