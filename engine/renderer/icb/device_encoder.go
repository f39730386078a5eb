package icb

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// KernelName is the compiled entry point GPU backends look up for the
// encoding kernel.
const KernelName = "icb_encode"

// Where a shape's representative depth sits inside its vertex buffer: the z
// of the first vertex (position x, y, then z).
const shapeDepthOffset = 8

// DeviceEncoder fills the command buffer from within device execution: one
// kernel work-item per slot, each reading the argument table and deciding
// between a draw and a reset. Used when the selection depends on data the
// host would otherwise have to round-trip for.
type DeviceEncoder struct {
	dev           device.Device
	vertexBuffers []device.Handle
	vertexCounts  []uint32
	uniforms      device.Handle

	targetDepth float32
	table       device.Handle
	invocations uint64
}

// NewDeviceEncoder requires the device-encoding feature tier on top of
// plain indirect execution.
func NewDeviceEncoder(dev device.Device, vertexBuffers []device.Handle, vertexCounts []uint32, uniforms device.Handle) (*DeviceEncoder, error) {
	if !dev.Supports(device.FeatureDeviceEncoding) {
		return nil, fmt.Errorf("device %q: %w: %s", dev.Name(), device.ErrUnsupportedCapability, device.FeatureDeviceEncoding)
	}
	if len(vertexBuffers) != len(vertexCounts) {
		return nil, fmt.Errorf("vertex buffer count %d does not match vertex count entries %d", len(vertexBuffers), len(vertexCounts))
	}
	return &DeviceEncoder{
		dev:           dev,
		vertexBuffers: vertexBuffers,
		vertexCounts:  vertexCounts,
		uniforms:      uniforms,
	}, nil
}

func (e *DeviceEncoder) Mode() string {
	return "device"
}

// SetTargetDepth selects which shape the next Encode keeps live: the one
// whose representative depth equals the target exactly.
func (e *DeviceEncoder) SetTargetDepth(depth float32) {
	e.targetDepth = depth
}

// Invocations counts completed Encode runs; the rotation cadence is
// verified against it.
func (e *DeviceEncoder) Invocations() uint64 {
	return e.invocations
}

// Encode rebuilds the argument table and dispatches the encoding kernel
// with one work-item per slot. The dispatch completes synchronously; the
// caller still owns the ordering between this and any render submission
// that consumes the result.
//
// The previous table buffer is released only here, after the prior pass's
// dispatch completed and before the new one begins, so device execution
// never observes a table being rewritten: the frame pacer guarantees no
// older frame still reads it.
func (e *DeviceEncoder) Encode(cb *CommandBuffer) error {
	if len(e.vertexBuffers) > cb.Capacity() {
		return fmt.Errorf("%w: %d shapes exceed %d slots", ErrSlotOutOfRange, len(e.vertexBuffers), cb.Capacity())
	}

	table := ArgumentTable{
		ICB:           cb.Handle(),
		Uniforms:      e.uniforms,
		TargetDepth:   e.targetDepth,
		VertexBuffers: e.vertexBuffers,
		VertexCounts:  e.vertexCounts,
	}
	packed, err := table.Marshal()
	if err != nil {
		return err
	}

	if e.table != device.NilHandle {
		if err := e.dev.ReleaseBuffer(e.table); err != nil {
			return err
		}
	}
	h, err := e.dev.NewBuffer("icb-argument-table", len(packed))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAllocation, err.Error())
	}
	if err := e.dev.WriteBuffer(h, 0, packed); err != nil {
		return err
	}
	e.table = h

	if err := e.dev.Dispatch(EncodeKernel(), cb.Capacity(), h); err != nil {
		return err
	}
	e.invocations++
	core.LogDebug("device encode #%d: target depth %f", e.invocations, e.targetDepth)
	return nil
}

// EncodeKernel is the encoding program in both representations: the name
// GPU backends resolve to a compiled pipeline, and the reference function
// the soft device runs per work-item.
func EncodeKernel() device.Kernel {
	return device.Kernel{Name: KernelName, Fn: encodeKernelFn}
}

// encodeKernelFn is work-item i of the encoding dispatch. It reads only the
// argument table and the resources reachable through it, and writes only
// slot i, so work-items never contend.
func encodeKernelFn(item int, args []byte, res device.Resolver) error {
	t, err := UnmarshalArgumentTable(args)
	if err != nil {
		return err
	}
	if item >= len(t.VertexBuffers) {
		// Slots past the shape count stay untouched.
		return nil
	}
	cb, ok := res.Object(t.ICB).(*CommandBuffer)
	if !ok {
		return fmt.Errorf("argument table handle %d is not an indirect command buffer", t.ICB)
	}

	vb := t.VertexBuffers[item]
	vertices := res.Bytes(vb)
	if len(vertices) < shapeDepthOffset+4 {
		return fmt.Errorf("vertex buffer %d too small to carry a depth", vb)
	}
	depth := gomath.Float32frombits(binary.LittleEndian.Uint32(vertices[shapeDepthOffset:]))

	if depth != t.TargetDepth {
		// Record a no-op rather than leaving stale content behind.
		return cb.ResetAt(item)
	}

	enc, err := cb.EncodeAt(item)
	if err != nil {
		return err
	}
	if err := enc.SetVertexBuffer(vb, BindingVertices); err != nil {
		return err
	}
	if err := enc.SetVertexBuffer(t.Uniforms, BindingUniforms); err != nil {
		return err
	}
	return enc.DrawPrimitives(DrawDescriptor{
		Topology:      device.TopologyTriangleStrip,
		VertexStart:   0,
		VertexCount:   t.VertexCounts[item],
		InstanceCount: 1,
		BaseInstance:  0,
	})
}
