// Package vulkan is the real-GPU backend. It is headless: no surface and no
// swapchain. Render passes target an offscreen depth attachment and the
// command buffer replays through vkCmdDrawIndirect over a storage buffer of
// indirect draw arguments.
package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	Device *VulkanDevice

	// Offscreen target extent.
	FramebufferWidth  uint32
	FramebufferHeight uint32
}

// FindMemoryIndex locates a memory type matching the filter and the
// required property flags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 &&
			uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}
