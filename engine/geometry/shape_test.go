package geometry

import (
	"encoding/binary"
	gomath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreShapeSides(t *testing.T) {
	store := NewStore(16)
	require.Equal(t, 16, store.Count())
	for i := 0; i < 16; i++ {
		assert.Equal(t, uint32(i+3), store.Shape(i).VertexCount(), "shape %d", i)
	}
}

func TestShapeDepthFromFirstVertex(t *testing.T) {
	const n = 16
	store := NewStore(n)
	for i := 0; i < n; i++ {
		m := store.Shape(i)
		assert.Equal(t, ShapeDepth(i, n), m.Depth(), "shape %d", i)
		// Every vertex of a shape sits at the same depth.
		for v := 0; v < int(m.VertexCount()); v++ {
			assert.Equal(t, m.Depth(), m.Vertex(v).Position.Z)
		}
	}
	// Depths are distinct across shapes.
	seen := map[float32]bool{}
	for i := 0; i < n; i++ {
		d := store.Shape(i).Depth()
		assert.False(t, seen[d], "duplicate depth %f", d)
		seen[d] = true
	}
}

func TestMarshalLayout(t *testing.T) {
	store := NewStore(4)
	m := store.Shape(1) // square
	data := m.Marshal()
	require.Len(t, data, int(m.VertexCount())*VertexStride)

	for i := 0; i < int(m.VertexCount()); i++ {
		off := i * VertexStride
		z := gomath.Float32frombits(binary.LittleEndian.Uint32(data[off+8:]))
		assert.Equal(t, m.Vertex(i).Position.Z, z)
		u := gomath.Float32frombits(binary.LittleEndian.Uint32(data[off+12:]))
		assert.Equal(t, m.Vertex(i).Texcoord.X, u)
	}
}

func TestVertexCounts(t *testing.T) {
	store := NewStore(3)
	assert.Equal(t, []uint32{3, 4, 5}, store.VertexCounts())
}
