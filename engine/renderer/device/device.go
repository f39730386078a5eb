// Package device is the boundary between the command-buffer machinery and
// whatever executes it. The soft implementation runs kernels and passes
// in-process; the vulkan implementation drives a real GPU. Everything above
// this package speaks in Handles.
package device

import "errors"

// Handle identifies a device resource (buffer or registered object). Handles
// are never reused within a device's lifetime.
type Handle uint32

// NilHandle is never returned by a successful allocation.
const NilHandle Handle = 0

// FeatureTier enumerates the capability tiers a caller can probe. The query
// happens once at startup; an unsupported tier is fatal, there is no
// fallback path.
type FeatureTier uint8

const (
	// FeatureIndirectExecution is required to allocate and replay command
	// buffers at all.
	FeatureIndirectExecution FeatureTier = iota + 1
	// FeatureDeviceEncoding is additionally required for the compute-side
	// encoder path.
	FeatureDeviceEncoding
)

func (f FeatureTier) String() string {
	switch f {
	case FeatureIndirectExecution:
		return "indirect-execution"
	case FeatureDeviceEncoding:
		return "device-encoding"
	}
	return "unknown"
}

var (
	// ErrUnsupportedCapability is returned when the device lacks a required
	// feature tier.
	ErrUnsupportedCapability = errors.New("device does not support the requested capability")
	// ErrUnknownHandle is returned for operations on a handle the device
	// never issued or has released.
	ErrUnknownHandle = errors.New("unknown resource handle")
)

// AccessMode declares how a render pass may touch a resource.
type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

// CompareOp is the depth-test comparison for a render pass.
type CompareOp uint8

const (
	CompareAlways CompareOp = iota
	CompareLess
	CompareEqual
)

// Topology of a draw.
type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
)

// BufferBinding binds a buffer to a vertex-stage binding index.
type BufferBinding struct {
	Buffer Handle
	Index  uint32
}

// DrawCall is one replayed command. Bindings holds only the bindings this
// command sets explicitly; anything elided by the optimizer is inherited
// from the pass's current state. CommandIndex is the slot the command came
// from, which GPU backends use to address their indirect-argument buffer.
type DrawCall struct {
	CommandIndex  uint32
	Bindings      []BufferBinding
	Topology      Topology
	VertexStart   uint32
	VertexCount   uint32
	InstanceCount uint32
	BaseInstance  uint32
}

// PassDescriptor configures a render pass. The sample's passes are
// depth-only: clear to ClearDepth, compare with DepthCompare, write when
// DepthWrite is set.
type PassDescriptor struct {
	Label        string
	ClearDepth   float32
	DepthCompare CompareOp
	DepthWrite   bool
}

// Pass is an active render pass. Every buffer a replayed command references
// must be declared via UseResource before the draw that references it;
// drawing with an undeclared resource is a usage error, not a recoverable
// one (the soft device panics).
type Pass interface {
	UseResource(h Handle, mode AccessMode)
	Draw(call DrawCall)
	End()
}

// Resolver gives kernels indirect access to device resources by handle.
// This is the only way device-executed code reaches buffers: it receives a
// byte slice of argument data and resolves the handles found inside it.
type Resolver interface {
	// Bytes returns the live contents of a buffer. Kernels must treat the
	// slice as owned by the device.
	Bytes(h Handle) []byte
	// Object returns a registered non-buffer resource.
	Object(h Handle) any
}

// Kernel is a compute program in both of its encodings: Name selects the
// compiled entry point on GPU backends, Fn is the reference implementation
// the soft device runs, one invocation per work item.
type Kernel struct {
	Name string
	Fn   func(item int, args []byte, res Resolver) error
}

// Device is the execution context handed to every component. One instance
// per process; no ambient globals.
type Device interface {
	Name() string

	// Supports answers the startup capability query for a feature tier.
	Supports(tier FeatureTier) bool

	// NewBuffer allocates a zeroed buffer. An empty label gets a generated
	// one.
	NewBuffer(label string, size int) (Handle, error)
	WriteBuffer(h Handle, offset int, data []byte) error
	ReadBuffer(h Handle, offset int, data []byte) error
	ReleaseBuffer(h Handle) error

	// RegisterObject makes a host-side object reachable from kernels via a
	// handle. Used for the indirect command buffer itself.
	RegisterObject(label string, obj any) (Handle, error)

	// Dispatch runs kernel once per work item against the argument buffer
	// and does not return until every item completed. The synchronous
	// completion is what makes a following read of encoded state safe.
	Dispatch(k Kernel, workItems int, args Handle) error

	// BeginPass opens a render pass on the device's submission timeline.
	BeginPass(desc PassDescriptor) (Pass, error)

	// Submit enqueues a unit of work. Units execute in submission order;
	// onComplete fires exactly once, after the unit fully completed, from
	// the device's completion context.
	Submit(label string, work func() error, onComplete func()) error

	// SubmitAndWait enqueues a unit and blocks until it completed.
	SubmitAndWait(label string, work func() error) error

	// WaitIdle blocks until every submitted unit completed.
	WaitIdle()

	Destroy()
}
