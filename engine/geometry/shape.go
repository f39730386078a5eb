package geometry

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/icarus/engine/math"
)

// VertexStride is the device-visible size of one vertex: position (3
// float32) followed by texcoord (2 float32), packed.
const VertexStride = 20

// MinSides is the side count of shape 0; shape i has i+3 sides.
const MinSides = 3

// ShapeMesh is one polygon's vertex data in triangle-strip order. Immutable
// after creation.
type ShapeMesh struct {
	vertices []math.Vertex
}

// Store owns one mesh per shape index for the application lifetime.
type Store struct {
	meshes []*ShapeMesh
}

// NewStore generates numShapes regular polygons. Shape i has i+3 sides and
// every one of its vertices sits at depth (i+1)/numShapes, so the z of the
// first vertex is the shape's representative depth. The shapes are laid out
// in a row along x.
func NewStore(numShapes int) *Store {
	meshes := make([]*ShapeMesh, numShapes)
	for i := 0; i < numShapes; i++ {
		meshes[i] = newPolygon(i, numShapes)
	}
	return &Store{meshes: meshes}
}

// Count returns the number of shapes in the store.
func (s *Store) Count() int {
	return len(s.meshes)
}

// Shape returns the mesh for the given shape index.
func (s *Store) Shape(index int) *ShapeMesh {
	return s.meshes[index]
}

// VertexCounts returns the per-shape vertex counts in shape index order, as
// consumed by the argument table.
func (s *Store) VertexCounts() []uint32 {
	counts := make([]uint32, len(s.meshes))
	for i, m := range s.meshes {
		counts[i] = m.VertexCount()
	}
	return counts
}

// VertexCount returns the number of vertices in the strip. For shape i this
// is i+3.
func (m *ShapeMesh) VertexCount() uint32 {
	return uint32(len(m.vertices))
}

// Depth returns the shape's representative depth: the z component of its
// first vertex. Device-side selection and the depth-equal render test both
// key off this single value.
func (m *ShapeMesh) Depth() float32 {
	return m.vertices[0].Position.Z
}

// Vertex returns vertex i of the strip.
func (m *ShapeMesh) Vertex(i int) math.Vertex {
	return m.vertices[i]
}

// Marshal packs the strip into the 20-byte-per-vertex device layout,
// little-endian.
func (m *ShapeMesh) Marshal() []byte {
	out := make([]byte, len(m.vertices)*VertexStride)
	for i, v := range m.vertices {
		off := i * VertexStride
		putFloat32(out[off+0:], v.Position.X)
		putFloat32(out[off+4:], v.Position.Y)
		putFloat32(out[off+8:], v.Position.Z)
		putFloat32(out[off+12:], v.Texcoord.X)
		putFloat32(out[off+16:], v.Texcoord.Y)
	}
	return out
}

// ShapeDepth computes the representative depth shape index would get from
// NewStore without building the mesh.
func ShapeDepth(index, numShapes int) float32 {
	return float32(index+1) / float32(numShapes)
}

func newPolygon(index, numShapes int) *ShapeMesh {
	sides := index + MinSides
	depth := ShapeDepth(index, numShapes)
	// Row layout along x, one unit of spacing per shape, centered.
	centerX := float32(index)*2.0 - float32(numShapes-1)

	// Perimeter points of the regular polygon.
	rim := make([]math.Vertex, sides)
	for k := 0; k < sides; k++ {
		angle := math.K_PI_2 * float32(k) / float32(sides)
		cos, sin := math.Cos(angle), math.Sin(angle)
		rim[k] = math.Vertex{
			Position: math.NewVec3(centerX+cos*0.9, sin*0.9, depth),
			Texcoord: math.NewVec2(cos*0.5+0.5, sin*0.5+0.5),
		}
	}

	// Reorder the rim into a triangle strip: 0, s-1, 1, s-2, 2, ...
	vertices := make([]math.Vertex, 0, sides)
	lo, hi := 0, sides
	for len(vertices) < sides {
		vertices = append(vertices, rim[lo])
		lo++
		if len(vertices) < sides {
			hi--
			vertices = append(vertices, rim[hi])
		}
	}
	return &ShapeMesh{vertices: vertices}
}

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, gomath.Float32bits(f))
}
