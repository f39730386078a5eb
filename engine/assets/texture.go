// Package assets holds the sample's few runtime assets: the procedural
// base-color texture and the dev-mode shader watcher.
package assets

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/icarus/engine/math"
)

// BaseColorTexture is the checkerboard every shape samples, with its full
// mip chain. Level 0 is size x size; each level halves down to 1x1.
type BaseColorTexture struct {
	Levels []*image.RGBA
}

// NewBaseColorTexture builds the texture. size must be a power of two so
// the chain bottoms out cleanly.
func NewBaseColorTexture(size, cells int) (*BaseColorTexture, error) {
	if size < 1 || size&(size-1) != 0 {
		return nil, fmt.Errorf("texture size must be a power of two, got %d", size)
	}
	base := checkerboard(size, cells)
	levels := []*image.RGBA{base}
	for dim := size / 2; dim >= 1; dim /= 2 {
		level := image.NewRGBA(image.Rect(0, 0, dim, dim))
		draw.CatmullRom.Scale(level, level.Bounds(), base, base.Bounds(), draw.Src, nil)
		levels = append(levels, level)
	}
	return &BaseColorTexture{Levels: levels}, nil
}

// Bytes returns the raw RGBA pixels of one mip level.
func (t *BaseColorTexture) Bytes(level int) []byte {
	return t.Levels[level].Pix
}

// Size returns the total byte size of all levels, for buffer allocation.
func (t *BaseColorTexture) Size() int {
	total := 0
	for _, l := range t.Levels {
		total += len(l.Pix)
	}
	return total
}

func checkerboard(size, cells int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := math.Clamp(size/cells, 1, size)
	light := color.RGBA{R: 230, G: 230, B: 230, A: 255}
	dark := color.RGBA{R: 40, G: 40, B: 40, A: 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.SetRGBA(x, y, light)
			} else {
				img.SetRGBA(x, y, dark)
			}
		}
	}
	return img
}
