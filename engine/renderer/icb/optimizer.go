package icb

import (
	"fmt"

	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// Optimize rewrites the commands in r to strip state-setting that is
// redundant with the immediately preceding live command: a binding equal to
// what is already effectively bound is dropped, and runs of inert slots get
// skip hints so replay iterates over them cheaply.
//
// It must run after every encoding pass and before every execution of the
// range. The buffer stays functionally valid without it (same observable
// draws), only more expensive to replay. Idempotent: re-running on an
// unchanged range is a no-op.
//
// The optimized region is recorded on the buffer; a later execution must
// not start strictly inside it, because the commands there may rely on
// bindings established by earlier commands in the region.
func Optimize(cb *CommandBuffer, r Range) error {
	if r.Start < 0 || r.Count < 0 || r.Start+r.Count > cb.Capacity() {
		return fmt.Errorf("%w: optimize range [%d, %d) outside capacity %d", ErrSlotOutOfRange, r.Start, r.Start+r.Count, cb.Capacity())
	}

	elided := 0
	effective := make(map[uint32]device.Handle)
	for i := r.Start; i < r.Start+r.Count; i++ {
		slot := &cb.slots[i]
		if slot.State != SlotDraw {
			continue
		}
		kept := slot.Bindings[:0]
		for _, b := range slot.Bindings {
			if h, ok := effective[b.Index]; ok && h == b.Buffer {
				elided++
				continue
			}
			effective[b.Index] = b.Buffer
			kept = append(kept, b)
		}
		slot.Bindings = kept
	}

	// Skip hints: from each slot, jump straight to the next live draw.
	next := r.Start + r.Count
	for i := r.Start + r.Count - 1; i >= r.Start; i-- {
		slot := &cb.slots[i]
		slot.skip = next
		if slot.State == SlotDraw {
			next = i
		}
	}

	cb.optimized = &Range{Start: r.Start, Count: r.Count}
	if elided > 0 {
		core.LogDebug("optimize [%d, %d): elided %d redundant bindings", r.Start, r.Start+r.Count, elided)
	}
	return nil
}
