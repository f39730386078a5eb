package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 64))
	assert.Equal(t, 64, Clamp(100, 1, 64))
	assert.Equal(t, 32, Clamp(32, 1, 64))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0.0, 1.0))
}
