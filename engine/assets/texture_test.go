package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseColorTextureMipChain(t *testing.T) {
	tex, err := NewBaseColorTexture(8, 2)
	require.NoError(t, err)

	// 8 -> 4 -> 2 -> 1
	require.Len(t, tex.Levels, 4)
	assert.Equal(t, 8, tex.Levels[0].Bounds().Dx())
	assert.Equal(t, 1, tex.Levels[3].Bounds().Dx())
	assert.Equal(t, len(tex.Bytes(0)), 8*8*4)

	total := 0
	for level := range tex.Levels {
		total += len(tex.Bytes(level))
	}
	assert.Equal(t, total, tex.Size())
}

func TestBaseColorTextureRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewBaseColorTexture(12, 2)
	assert.Error(t, err)
}

func TestCheckerboardCellFloor(t *testing.T) {
	// More cells than pixels: the cell size floors at one pixel and adjacent
	// pixels alternate.
	img := checkerboard(4, 16)
	require.Equal(t, 4, img.Bounds().Dx())
	assert.NotEqual(t, img.RGBAAt(0, 0), img.RGBAAt(1, 0))
	assert.Equal(t, img.RGBAAt(0, 0), img.RGBAAt(2, 0))
}
