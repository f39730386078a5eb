package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceUint32(t *testing.T) {
	words, err := sliceUint32([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	require.Len(t, words, 2)

	// SPIR-V magic, little-endian.
	assert.Equal(t, uint32(0x07230203), words[0])
	assert.Equal(t, uint32(1), words[1])

	_, err = sliceUint32([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestVulkanSafeString(t *testing.T) {
	s := VulkanSafeString("icarus")
	assert.Equal(t, byte(0), s[len(s)-1])
}
