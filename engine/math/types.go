package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

/** @brief a 4x4 matrix in column-major order, typically used to represent object transformations. */
type Mat4 struct {
	Data [16]float32
}

/** @brief a 3x3 matrix in column-major order, used for the normal matrix. */
type Mat3 struct {
	Data [9]float32
}

/**
 * @brief A single vertex as laid out in every per-shape vertex buffer:
 * a position followed by a texture coordinate. The device-visible layout
 * is fixed at 20 bytes per vertex (see geometry.VertexStride).
 */
type Vertex struct {
	Position Vec3
	Texcoord Vec2
}
