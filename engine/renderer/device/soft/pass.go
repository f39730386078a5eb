package soft

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// The 20-byte vertex layout: position x, y, z, then texcoord. The z the
// depth test sees sits 8 bytes in.
const (
	vertexStride      = 20
	vertexDepthOffset = 8
)

// PassStats is what a completed pass observed. Draws are counted at draw
// granularity; DepthWrites accumulates the vertex counts ("fragments-worth"
// of work) of draws that passed the depth test with writes enabled.
type PassStats struct {
	DrawsIssued int
	DepthWrites uint32
}

// Pass models a depth-only render pass. Shapes never overlap in this
// sample, so every draw's fragments compare against the clear depth.
type Pass struct {
	dev      *Device
	desc     device.PassDescriptor
	declared map[device.Handle]device.AccessMode
	bindings map[uint32]device.Handle
	stats    PassStats
	ended    bool
}

func (d *Device) BeginPass(desc device.PassDescriptor) (device.Pass, error) {
	return &Pass{
		dev:      d,
		desc:     desc,
		declared: make(map[device.Handle]device.AccessMode),
		bindings: make(map[uint32]device.Handle),
	}, nil
}

// UseResource declares a buffer as accessible to the pass. Replaying a
// command that references an undeclared buffer is a usage error.
func (p *Pass) UseResource(h device.Handle, mode device.AccessMode) {
	p.declared[h] |= mode
}

// Draw replays one command. Bindings set by the call update the pass's
// current state; bindings the call omits are inherited from the previous
// command, which is what keeps optimizer-elided commands correct.
func (p *Pass) Draw(call device.DrawCall) {
	if p.ended {
		panic(fmt.Sprintf("draw on ended pass %q", p.desc.Label))
	}
	for _, b := range call.Bindings {
		p.bindings[b.Index] = b.Buffer
	}
	if call.VertexCount == 0 || call.InstanceCount == 0 {
		return
	}

	vb, ok := p.bindings[0]
	if !ok {
		panic(fmt.Sprintf("pass %q: draw with no vertex buffer bound at index 0", p.desc.Label))
	}
	for idx, h := range p.bindings {
		if _, ok := p.declared[h]; !ok {
			panic(fmt.Sprintf("pass %q: buffer %d at binding %d was not declared with UseResource", p.desc.Label, h, idx))
		}
	}

	p.stats.DrawsIssued++
	if p.depthTest(p.fragmentDepth(vb, call.VertexStart)) && p.desc.DepthWrite {
		p.stats.DepthWrites += call.VertexCount
	}
}

func (p *Pass) End() {
	p.ended = true
}

// Stats is only meaningful after End.
func (p *Pass) Stats() PassStats {
	return p.stats
}

// fragmentDepth reads the depth every fragment of the draw will carry: the
// z of the draw's first vertex. All of a shape's vertices share one depth.
func (p *Pass) fragmentDepth(vb device.Handle, vertexStart uint32) float32 {
	data := p.dev.Bytes(vb)
	off := int(vertexStart)*vertexStride + vertexDepthOffset
	if off+4 > len(data) {
		panic(fmt.Sprintf("pass %q: vertex start %d outside buffer of %d bytes", p.desc.Label, vertexStart, len(data)))
	}
	return gomath.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
}

func (p *Pass) depthTest(depth float32) bool {
	switch p.desc.DepthCompare {
	case device.CompareEqual:
		return depth == p.desc.ClearDepth
	case device.CompareLess:
		return depth < p.desc.ClearDepth
	default:
		return true
	}
}
