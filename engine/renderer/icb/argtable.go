package icb

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/icarus/engine/renderer/device"
)

// The argument table is the sample's only wire surface: a fixed-offset,
// little-endian structure built host-side and read by the encoding kernel.
// Field order and offsets live here and nowhere else; a reader that infers
// its own layout risks silent corruption, not a checked error.
//
// Layout for N shapes:
//
//	offset 0        uint32   command buffer handle
//	offset 4        uint32   shared uniforms handle
//	offset 8        float32  target depth
//	offset 12       [N]uint32 per-shape vertex buffer handles
//	offset 12+4N    [N]uint32 per-shape vertex counts
const (
	tableOffICB           = 0
	tableOffUniforms      = 4
	tableOffDepth         = 8
	tableOffVertexBuffers = 12
	tableFixedSize        = 12
)

// ArgumentTable is the host-side view of the table. It is rebuilt fresh for
// every device-encoding pass and read-only while that pass runs.
type ArgumentTable struct {
	ICB           device.Handle
	Uniforms      device.Handle
	TargetDepth   float32
	VertexBuffers []device.Handle
	VertexCounts  []uint32
}

// TableSize returns the marshaled size for numShapes entries.
func TableSize(numShapes int) int {
	return tableFixedSize + 8*numShapes
}

// Marshal packs the table into its device layout.
func (t *ArgumentTable) Marshal() ([]byte, error) {
	n := len(t.VertexBuffers)
	if len(t.VertexCounts) != n {
		return nil, fmt.Errorf("argument table has %d vertex buffers but %d counts", n, len(t.VertexCounts))
	}
	out := make([]byte, TableSize(n))
	binary.LittleEndian.PutUint32(out[tableOffICB:], uint32(t.ICB))
	binary.LittleEndian.PutUint32(out[tableOffUniforms:], uint32(t.Uniforms))
	binary.LittleEndian.PutUint32(out[tableOffDepth:], gomath.Float32bits(t.TargetDepth))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[tableOffVertexBuffers+4*i:], uint32(t.VertexBuffers[i]))
		binary.LittleEndian.PutUint32(out[tableOffVertexBuffers+4*n+4*i:], t.VertexCounts[i])
	}
	return out, nil
}

// UnmarshalArgumentTable is the kernel-side reader. The entry count is
// implied by the table size.
func UnmarshalArgumentTable(data []byte) (ArgumentTable, error) {
	if len(data) < tableFixedSize || (len(data)-tableFixedSize)%8 != 0 {
		return ArgumentTable{}, fmt.Errorf("argument table size %d does not match the schema", len(data))
	}
	n := (len(data) - tableFixedSize) / 8
	t := ArgumentTable{
		ICB:           device.Handle(binary.LittleEndian.Uint32(data[tableOffICB:])),
		Uniforms:      device.Handle(binary.LittleEndian.Uint32(data[tableOffUniforms:])),
		TargetDepth:   gomath.Float32frombits(binary.LittleEndian.Uint32(data[tableOffDepth:])),
		VertexBuffers: make([]device.Handle, n),
		VertexCounts:  make([]uint32, n),
	}
	for i := 0; i < n; i++ {
		t.VertexBuffers[i] = device.Handle(binary.LittleEndian.Uint32(data[tableOffVertexBuffers+4*i:]))
		t.VertexCounts[i] = binary.LittleEndian.Uint32(data[tableOffVertexBuffers+4*n+4*i:])
	}
	return t, nil
}
