// Package renderer owns the pieces shared by every backend: the uniform
// block every command reads and its device layout.
package renderer

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/icarus/engine/math"
)

// SharedUniforms is the one transform/camera block shared read-only by
// every encoded command. It is written during setup and never again; the
// sample does not animate the camera.
type SharedUniforms struct {
	CameraPos           math.Vec3
	ModelMatrix         math.Mat4
	ModelViewProjection math.Mat4
	NormalMatrix        math.Mat3
}

// Device layout, std140-style: vec3 padded to 16 bytes, mat4 as 4 columns
// of 16 bytes, mat3 as 3 columns of 16 bytes.
const (
	uniformsOffCameraPos = 0
	uniformsOffModel     = 16
	uniformsOffMVP       = 80
	uniformsOffNormal    = 144

	// UniformsSize is the marshaled size of SharedUniforms.
	UniformsSize = 192
)

// NewSharedUniforms derives the combined matrices from the model transform
// and the camera's view-projection.
func NewSharedUniforms(cameraPos math.Vec3, model, viewProjection math.Mat4) SharedUniforms {
	return SharedUniforms{
		CameraPos:           cameraPos,
		ModelMatrix:         model,
		ModelViewProjection: viewProjection.Mul(model),
		NormalMatrix:        model.UpperLeft(),
	}
}

// Marshal packs the block into its device layout, little-endian.
func (u *SharedUniforms) Marshal() []byte {
	out := make([]byte, UniformsSize)
	putF32 := func(off int, f float32) {
		binary.LittleEndian.PutUint32(out[off:], gomath.Float32bits(f))
	}

	putF32(uniformsOffCameraPos+0, u.CameraPos.X)
	putF32(uniformsOffCameraPos+4, u.CameraPos.Y)
	putF32(uniformsOffCameraPos+8, u.CameraPos.Z)

	for i, f := range u.ModelMatrix.Data {
		putF32(uniformsOffModel+4*i, f)
	}
	for i, f := range u.ModelViewProjection.Data {
		putF32(uniformsOffMVP+4*i, f)
	}
	// Three columns, each padded to a vec4 slot.
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			putF32(uniformsOffNormal+16*col+4*row, u.NormalMatrix.Data[col*3+row])
		}
	}
	return out
}
