package icb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/icarus/engine/geometry"
	"github.com/spaghettifunk/icarus/engine/math"
	"github.com/spaghettifunk/icarus/engine/renderer"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
	"github.com/spaghettifunk/icarus/engine/renderer/device/soft"
	"github.com/spaghettifunk/icarus/engine/renderer/icb"
)

// fixture uploads a full scene to a fresh soft device: one vertex buffer
// per shape plus the shared uniform block.
type fixture struct {
	dev      *soft.Device
	store    *geometry.Store
	vbs      []device.Handle
	counts   []uint32
	uniforms device.Handle
}

func newFixture(t *testing.T, numShapes int) *fixture {
	t.Helper()
	dev := soft.New()
	t.Cleanup(dev.Destroy)

	store := geometry.NewStore(numShapes)
	vbs := make([]device.Handle, numShapes)
	for i := 0; i < numShapes; i++ {
		data := store.Shape(i).Marshal()
		h, err := dev.NewBuffer("", len(data))
		require.NoError(t, err)
		require.NoError(t, dev.WriteBuffer(h, 0, data))
		vbs[i] = h
	}

	u := renderer.NewSharedUniforms(math.NewVec3(0, 0, -5), math.NewMat4Identity(), math.NewMat4Identity())
	packed := u.Marshal()
	uh, err := dev.NewBuffer("shared-uniforms", len(packed))
	require.NoError(t, err)
	require.NoError(t, dev.WriteBuffer(uh, 0, packed))

	return &fixture{dev: dev, store: store, vbs: vbs, counts: store.VertexCounts(), uniforms: uh}
}

func (f *fixture) allocate(t *testing.T) *icb.CommandBuffer {
	t.Helper()
	cb, err := icb.Allocate(f.dev, icb.DefaultDescriptor(f.store.Count()))
	require.NoError(t, err)
	return cb
}

func (f *fixture) hostEncoder(t *testing.T) *icb.HostEncoder {
	t.Helper()
	enc, err := icb.NewHostEncoder(f.vbs, f.counts, f.uniforms)
	require.NoError(t, err)
	return enc
}

func (f *fixture) deviceEncoder(t *testing.T) *icb.DeviceEncoder {
	t.Helper()
	enc, err := icb.NewDeviceEncoder(f.dev, f.vbs, f.counts, f.uniforms)
	require.NoError(t, err)
	return enc
}

// beginPass opens a depth-equal pass with every scene buffer declared.
func (f *fixture) beginPass(t *testing.T, clearDepth float32) *soft.Pass {
	t.Helper()
	p, err := f.dev.BeginPass(device.PassDescriptor{
		Label:        "test-pass",
		ClearDepth:   clearDepth,
		DepthCompare: device.CompareEqual,
		DepthWrite:   true,
	})
	require.NoError(t, err)
	for _, vb := range f.vbs {
		p.UseResource(vb, device.AccessRead)
	}
	p.UseResource(f.uniforms, device.AccessRead)
	return p.(*soft.Pass)
}

func TestAllocateSlotCountInvariant(t *testing.T) {
	f := newFixture(t, 16)
	cb := f.allocate(t)
	require.Equal(t, 16, cb.Capacity())

	_, err := cb.EncodeAt(16)
	assert.ErrorIs(t, err, icb.ErrSlotOutOfRange)
	_, err = cb.EncodeAt(-1)
	assert.ErrorIs(t, err, icb.ErrSlotOutOfRange)
	assert.ErrorIs(t, cb.ResetAt(16), icb.ErrSlotOutOfRange)

	_, err = cb.EncodeAt(15)
	assert.NoError(t, err)
}

func TestAllocateUnsupportedCapability(t *testing.T) {
	dev := soft.New(soft.WithoutFeature(device.FeatureIndirectExecution))
	defer dev.Destroy()

	_, err := icb.Allocate(dev, icb.DefaultDescriptor(4))
	assert.ErrorIs(t, err, device.ErrUnsupportedCapability)
}

func TestAllocateRejectsBadDescriptor(t *testing.T) {
	f := newFixture(t, 2)

	_, err := icb.Allocate(f.dev, icb.DefaultDescriptor(0))
	assert.ErrorIs(t, err, icb.ErrAllocation)

	_, err = icb.Allocate(f.dev, icb.DefaultDescriptor(1<<20))
	assert.ErrorIs(t, err, icb.ErrAllocation)

	desc := icb.DefaultDescriptor(4)
	desc.Kinds = 0
	_, err = icb.Allocate(f.dev, desc)
	assert.ErrorIs(t, err, icb.ErrAllocation)
}

func TestDeviceEncoderRequiresCapability(t *testing.T) {
	dev := soft.New(soft.WithoutFeature(device.FeatureDeviceEncoding))
	defer dev.Destroy()

	_, err := icb.NewDeviceEncoder(dev, nil, nil, device.NilHandle)
	assert.ErrorIs(t, err, device.ErrUnsupportedCapability)
}

func TestHostEncodeDeterminism(t *testing.T) {
	f := newFixture(t, 16)
	cb := f.allocate(t)
	enc := f.hostEncoder(t)

	require.NoError(t, enc.Encode(cb))
	first := cb.Snapshot()
	require.NoError(t, enc.Encode(cb))
	second := cb.Snapshot()

	assert.Equal(t, first, second, "re-encoding the same shapes must be byte-identical")
}

func TestHostEncodeSlotContents(t *testing.T) {
	f := newFixture(t, 4)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))

	for i := 0; i < 4; i++ {
		slot, err := cb.At(i)
		require.NoError(t, err)
		require.Equal(t, icb.SlotDraw, slot.State)
		require.Len(t, slot.Bindings, 2)
		assert.Equal(t, device.BufferBinding{Buffer: f.vbs[i], Index: icb.BindingVertices}, slot.Bindings[0])
		assert.Equal(t, device.BufferBinding{Buffer: f.uniforms, Index: icb.BindingUniforms}, slot.Bindings[1])
		assert.Equal(t, device.TopologyTriangleStrip, slot.Draw.Topology)
		assert.Equal(t, uint32(i+3), slot.Draw.VertexCount)
		assert.Equal(t, uint32(1), slot.Draw.InstanceCount)
		assert.Equal(t, uint32(0), slot.Draw.VertexStart)
	}
}

func TestDeviceEncodeExclusivity(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	enc := f.deviceEncoder(t)

	for target := 0; target < n; target++ {
		enc.SetTargetDepth(f.store.Shape(target).Depth())
		require.NoError(t, enc.Encode(cb))

		live := 0
		for i := 0; i < n; i++ {
			slot, err := cb.At(i)
			require.NoError(t, err)
			switch slot.State {
			case icb.SlotDraw:
				live++
				assert.Equal(t, target, i)
				assert.Equal(t, f.counts[i], slot.Draw.VertexCount)
			case icb.SlotReset:
			default:
				t.Fatalf("slot %d left in state %d after device encode", i, slot.State)
			}
		}
		assert.Equal(t, 1, live, "target %d", target)
	}
}

func TestDeviceEncodeNoMatchLeavesZeroLive(t *testing.T) {
	const n = 8
	f := newFixture(t, n)
	cb := f.allocate(t)
	enc := f.deviceEncoder(t)

	enc.SetTargetDepth(-123.5) // matches no shape
	require.NoError(t, enc.Encode(cb))

	for i := 0; i < n; i++ {
		slot, err := cb.At(i)
		require.NoError(t, err)
		assert.Equal(t, icb.SlotReset, slot.State, "slot %d", i)
	}
}

func TestDeviceEncodeOverwritesPriorContent(t *testing.T) {
	const n = 8
	f := newFixture(t, n)
	cb := f.allocate(t)
	enc := f.deviceEncoder(t)

	enc.SetTargetDepth(f.store.Shape(2).Depth())
	require.NoError(t, enc.Encode(cb))
	slot, err := cb.At(2)
	require.NoError(t, err)
	require.Equal(t, icb.SlotDraw, slot.State)

	enc.SetTargetDepth(f.store.Shape(5).Depth())
	require.NoError(t, enc.Encode(cb))
	slot, err = cb.At(2)
	require.NoError(t, err)
	assert.Equal(t, icb.SlotReset, slot.State, "stale draw must not survive a re-encode")
	slot, err = cb.At(5)
	require.NoError(t, err)
	assert.Equal(t, icb.SlotDraw, slot.State)
}

func TestOptimizeIdempotence(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))

	full := icb.Range{Start: 0, Count: n}
	require.NoError(t, icb.Optimize(cb, full))
	once := cb.Snapshot()
	require.NoError(t, icb.Optimize(cb, full))
	twice := cb.Snapshot()

	assert.Equal(t, once, twice)
}

func TestOptimizeElidesRedundantUniformBinding(t *testing.T) {
	const n = 4
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))

	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))

	// Slot 0 establishes the uniform binding; every later slot repeats it
	// and should have had it stripped. The per-shape vertex binding
	// differs each slot and must survive.
	slot, err := cb.At(0)
	require.NoError(t, err)
	assert.Len(t, slot.Bindings, 2)
	for i := 1; i < n; i++ {
		slot, err := cb.At(i)
		require.NoError(t, err)
		require.Len(t, slot.Bindings, 1, "slot %d", i)
		assert.Equal(t, icb.BindingVertices, slot.Bindings[0].Index)
	}
}

func TestOptimizeRangeChecked(t *testing.T) {
	f := newFixture(t, 4)
	cb := f.allocate(t)
	assert.ErrorIs(t, icb.Optimize(cb, icb.Range{Start: 2, Count: 8}), icb.ErrSlotOutOfRange)
}

func TestExecuteNonMutation(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))
	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))

	before := cb.Snapshot()
	clear := f.store.Shape(3).Depth()
	for round := 0; round < 5; round++ {
		pass := f.beginPass(t, clear)
		require.NoError(t, icb.Execute(pass, cb, icb.Range{Start: 0, Count: n}))
		pass.End()
	}
	assert.Equal(t, before, cb.Snapshot(), "replay must never mutate the command buffer")
}

func TestExecuteRangeAndOptimizedRegionChecks(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))

	pass := f.beginPass(t, 0.5)
	defer pass.End()

	err := icb.Execute(pass, cb, icb.Range{Start: 8, Count: 16})
	assert.ErrorIs(t, err, icb.ErrSlotOutOfRange)

	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))
	// Starting at the optimized region's start is allowed...
	require.NotPanics(t, func() {
		_ = icb.Execute(pass, cb, icb.Range{Start: 0, Count: n})
	})
	// ...starting strictly inside it is a usage error.
	assert.Panics(t, func() {
		_ = icb.Execute(pass, cb, icb.Range{Start: 3, Count: n - 3})
	})
}

func TestExecuteUndeclaredResourcePanics(t *testing.T) {
	const n = 4
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))
	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))

	p, err := f.dev.BeginPass(device.PassDescriptor{
		Label:        "undeclared",
		ClearDepth:   f.store.Shape(0).Depth(),
		DepthCompare: device.CompareEqual,
		DepthWrite:   true,
	})
	require.NoError(t, err)
	// No UseResource declarations at all.
	assert.Panics(t, func() {
		_ = icb.Execute(p, cb, icb.Range{Start: 0, Count: n})
	})
}

// End-to-end host path: 16 shapes, 16 live draws per replay, and with a
// depth-equal write-enabled pass exactly one shape's worth of depth writes
// survives.
func TestEndToEndHostPath(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	require.NoError(t, f.hostEncoder(t).Encode(cb))
	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))

	const winner = 7
	pass := f.beginPass(t, f.store.Shape(winner).Depth())
	require.NoError(t, icb.Execute(pass, cb, icb.Range{Start: 0, Count: n}))
	pass.End()

	stats := pass.Stats()
	assert.Equal(t, n, stats.DrawsIssued, "host path replays every shape")
	assert.Equal(t, uint32(winner+3), stats.DepthWrites, "only the depth-matching shape survives")
}

// End-to-end device path: target depth = shape 5's depth leaves exactly one
// live draw with vertex count 8; the other 15 slots contribute nothing.
func TestEndToEndDevicePath(t *testing.T) {
	const n = 16
	f := newFixture(t, n)
	cb := f.allocate(t)
	enc := f.deviceEncoder(t)

	target := f.store.Shape(5).Depth()
	enc.SetTargetDepth(target)
	require.NoError(t, enc.Encode(cb))
	require.NoError(t, icb.Optimize(cb, icb.Range{Start: 0, Count: n}))

	pass := f.beginPass(t, target)
	require.NoError(t, icb.Execute(pass, cb, icb.Range{Start: 0, Count: n}))
	pass.End()

	stats := pass.Stats()
	assert.Equal(t, 1, stats.DrawsIssued)
	assert.Equal(t, uint32(8), stats.DepthWrites, "shape 5 has 5+3 vertices")
	assert.Equal(t, uint64(1), enc.Invocations())
}

func TestArgumentTableSchema(t *testing.T) {
	in := icb.ArgumentTable{
		ICB:           7,
		Uniforms:      9,
		TargetDepth:   0.375,
		VertexBuffers: []device.Handle{11, 12, 13},
		VertexCounts:  []uint32{3, 4, 5},
	}
	packed, err := in.Marshal()
	require.NoError(t, err)
	require.Len(t, packed, icb.TableSize(3))

	out, err := icb.UnmarshalArgumentTable(packed)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = icb.UnmarshalArgumentTable(packed[:len(packed)-2])
	assert.Error(t, err, "a size not matching the schema must be rejected")
}
