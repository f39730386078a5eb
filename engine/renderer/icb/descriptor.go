// Package icb implements the indirect command buffer: a fixed-capacity,
// replayable container of pre-encoded draw commands that either the host or
// a device-executed kernel fills, an optimizer compacts, and an executor
// replays inside render passes.
package icb

import (
	"errors"
	"fmt"
)

// Vertex-stage binding indices shared by every encoded command. These must
// match what the render pipeline expects.
const (
	BindingVertices uint32 = 0
	BindingUniforms uint32 = 1
)

// CommandKinds is the set of command kinds a descriptor permits.
type CommandKinds uint8

const (
	KindDraw CommandKinds = 1 << iota
)

// Maximum slot count any descriptor may request. Past this, allocation is
// treated as resource exhaustion.
const maxCommandCapacity = 16384

var (
	// ErrAllocation is returned when a descriptor cannot be satisfied.
	ErrAllocation = errors.New("indirect command buffer allocation failed")
	// ErrSlotOutOfRange is returned for slot indices outside
	// [0, capacity).
	ErrSlotOutOfRange = errors.New("command slot index out of range")
	// ErrKindNotPermitted is returned when encoding a command kind the
	// descriptor did not declare.
	ErrKindNotPermitted = errors.New("command kind not permitted by descriptor")
)

// Descriptor declares the capabilities and limits of a command buffer.
// Once a buffer is allocated from it the limits are fixed for that buffer's
// lifetime; there is no way to grow or shrink afterwards.
type Descriptor struct {
	// Kinds is the set of permitted command kinds. This sample is
	// draw-only.
	Kinds CommandKinds
	// MaxCommandCount is the slot capacity.
	MaxCommandCount int
	// MaxVertexBufferBinds bounds both how many vertex-stage buffer
	// bindings one command may set and the highest usable binding index.
	MaxVertexBufferBinds int
	// MaxFragmentBufferBinds is carried for layout completeness; the
	// sample binds nothing at the fragment stage per command.
	MaxFragmentBufferBinds int
	// InheritPipelineState: commands inherit the render pass's pipeline
	// instead of specifying their own.
	InheritPipelineState bool
	// InheritBuffers: commands inherit buffer bindings from the pass
	// rather than encoding them. The sample encodes bindings explicitly.
	InheritBuffers bool
}

// DefaultDescriptor is the sample's configuration: draw-only, two
// vertex-stage bindings (shape vertices and shared uniforms), pipeline
// state inherited from the enclosing pass.
func DefaultDescriptor(maxCommands int) Descriptor {
	return Descriptor{
		Kinds:                  KindDraw,
		MaxCommandCount:        maxCommands,
		MaxVertexBufferBinds:   2,
		MaxFragmentBufferBinds: 0,
		InheritPipelineState:   true,
		InheritBuffers:         false,
	}
}

func (d Descriptor) validate() error {
	if d.Kinds == 0 {
		return fmt.Errorf("%w: descriptor permits no command kinds", ErrAllocation)
	}
	if d.MaxCommandCount <= 0 {
		return fmt.Errorf("%w: max command count must be positive, got %d", ErrAllocation, d.MaxCommandCount)
	}
	if d.MaxCommandCount > maxCommandCapacity {
		return fmt.Errorf("%w: max command count %d exceeds capacity limit %d", ErrAllocation, d.MaxCommandCount, maxCommandCapacity)
	}
	if d.MaxVertexBufferBinds < 1 {
		return fmt.Errorf("%w: at least one vertex buffer binding is required", ErrAllocation)
	}
	return nil
}
