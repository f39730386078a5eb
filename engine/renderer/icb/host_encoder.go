package icb

import (
	"fmt"

	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// Encoder is the one contract both encoding paths satisfy: fill the
// command buffer's slots. Which implementation runs is a configuration-time
// choice, never switched mid-flight.
type Encoder interface {
	// Encode fills slots [0, len(inputs)) of the command buffer.
	Encode(cb *CommandBuffer) error
	// Mode names the path for logging.
	Mode() string
}

// HostEncoder writes commands directly from the control thread. It runs
// once, before any render pass, and touches nothing device-side beyond the
// command buffer itself.
type HostEncoder struct {
	vertexBuffers []device.Handle
	vertexCounts  []uint32
	uniforms      device.Handle
}

// NewHostEncoder takes the per-shape vertex buffer handles, the matching
// vertex counts, and the shared uniform block handle.
func NewHostEncoder(vertexBuffers []device.Handle, vertexCounts []uint32, uniforms device.Handle) (*HostEncoder, error) {
	if len(vertexBuffers) != len(vertexCounts) {
		return nil, fmt.Errorf("vertex buffer count %d does not match vertex count entries %d", len(vertexBuffers), len(vertexCounts))
	}
	return &HostEncoder{
		vertexBuffers: vertexBuffers,
		vertexCounts:  vertexCounts,
		uniforms:      uniforms,
	}, nil
}

func (e *HostEncoder) Mode() string {
	return "host"
}

// Encode writes one draw per shape, in shape index order: the shape's
// vertices at binding 0, the shared uniforms at binding 1, then a
// triangle-strip draw over the shape's full vertex count. Each slot is
// fully overwritten, so re-running is idempotent.
func (e *HostEncoder) Encode(cb *CommandBuffer) error {
	if len(e.vertexBuffers) > cb.Capacity() {
		return fmt.Errorf("%w: %d shapes exceed %d slots", ErrSlotOutOfRange, len(e.vertexBuffers), cb.Capacity())
	}
	for i, vb := range e.vertexBuffers {
		enc, err := cb.EncodeAt(i)
		if err != nil {
			return err
		}
		if err := enc.SetVertexBuffer(vb, BindingVertices); err != nil {
			return err
		}
		if err := enc.SetVertexBuffer(e.uniforms, BindingUniforms); err != nil {
			return err
		}
		if err := enc.DrawPrimitives(DrawDescriptor{
			Topology:      device.TopologyTriangleStrip,
			VertexStart:   0,
			VertexCount:   e.vertexCounts[i],
			InstanceCount: 1,
			BaseInstance:  0,
		}); err != nil {
			return err
		}
	}
	return nil
}
