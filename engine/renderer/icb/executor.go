package icb

import (
	"fmt"

	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// Execute replays every live command in r inside an active render pass.
// Replay never mutates the command buffer: running it any number of times
// between encodes produces identical draws.
//
// Preconditions the caller owns (usage errors, not recoverable failures):
// every buffer referenced by a command in r must already be declared to the
// pass via UseResource, and r must not start strictly inside the optimized
// region, where commands may inherit bindings from earlier commands that
// such a replay would never establish. The latter is checked here and
// panics, because continuing would replay commands with dangling state.
func Execute(pass device.Pass, cb *CommandBuffer, r Range) error {
	if r.Start < 0 || r.Count < 0 || r.Start+r.Count > cb.Capacity() {
		return fmt.Errorf("%w: execute range [%d, %d) outside capacity %d", ErrSlotOutOfRange, r.Start, r.Start+r.Count, cb.Capacity())
	}
	if opt := cb.optimized; opt != nil && r.Start > opt.Start && opt.Contains(r.Start) {
		panic(fmt.Sprintf("execute range starts at %d, strictly inside optimized region [%d, %d)", r.Start, opt.Start, opt.Start+opt.Count))
	}

	end := r.Start + r.Count
	for i := r.Start; i < end; {
		slot := &cb.slots[i]
		if slot.State == SlotDraw {
			pass.Draw(device.DrawCall{
				CommandIndex:  uint32(i),
				Bindings:      slot.Bindings,
				Topology:      slot.Draw.Topology,
				VertexStart:   slot.Draw.VertexStart,
				VertexCount:   slot.Draw.VertexCount,
				InstanceCount: slot.Draw.InstanceCount,
				BaseInstance:  slot.Draw.BaseInstance,
			})
		}
		// Empty and reset slots contribute no work; the optimizer's skip
		// hints let replay hop over inert runs instead of walking them.
		if slot.skip > i {
			i = slot.skip
		} else {
			i++
		}
	}
	return nil
}
