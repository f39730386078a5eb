package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
)

// VulkanSafeString null-terminates a string for the C side.
func VulkanSafeString(s string) string {
	return s + "\x00"
}

// checkResult turns a non-success VkResult into an error.
func checkResult(res vk.Result, what string) error {
	if res != vk.Success {
		return fmt.Errorf("%s failed with VkResult %d", what, res)
	}
	return nil
}

// sliceUint32 reinterprets SPIR-V bytes as the word slice vulkan wants.
func sliceUint32(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V binary length %d is not a multiple of 4", len(data))
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return out, nil
}
