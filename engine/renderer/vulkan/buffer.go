package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/icarus/engine/core"
)

// VulkanBuffer is a host-visible, persistently mapped buffer. Vertices,
// uniforms, argument tables and indirect draw arguments all go through this
// one configuration.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   int
	Label  string
	mapped unsafe.Pointer
}

func NewVulkanBuffer(context *VulkanContext, label string, size int) (*VulkanBuffer, error) {
	usage := vk.BufferUsageFlags(
		vk.BufferUsageVertexBufferBit |
			vk.BufferUsageUniformBufferBit |
			vk.BufferUsageStorageBufferBit |
			vk.BufferUsageIndirectBufferBit |
			vk.BufferUsageTransferSrcBit |
			vk.BufferUsageTransferDstBit)

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create buffer %q (VkResult %d)", label, res)
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryIndex < 0 {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("no host-visible memory type for buffer %q", label)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		err := fmt.Errorf("failed to allocate %d bytes for buffer %q (VkResult %d)", size, label, res)
		core.LogError(err.Error())
		return nil, err
	}
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("failed to bind memory for buffer %q (VkResult %d)", label, res)
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, memory, 0, vk.DeviceSize(size), 0, &mapped); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("failed to map buffer %q (VkResult %d)", label, res)
	}

	return &VulkanBuffer{
		Handle: handle,
		Memory: memory,
		Size:   size,
		Label:  label,
		mapped: mapped,
	}, nil
}

func (b *VulkanBuffer) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > b.Size {
		return fmt.Errorf("write buffer %q: range [%d, %d) outside size %d", b.Label, offset, offset+len(data), b.Size)
	}
	dst := unsafe.Slice((*byte)(b.mapped), b.Size)
	copy(dst[offset:], data)
	return nil
}

func (b *VulkanBuffer) Read(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > b.Size {
		return fmt.Errorf("read buffer %q: range [%d, %d) outside size %d", b.Label, offset, offset+len(data), b.Size)
	}
	src := unsafe.Slice((*byte)(b.mapped), b.Size)
	copy(data, src[offset:])
	return nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Handle == vk.NullBuffer {
		return
	}
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
	vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
	b.Handle = vk.NullBuffer
}
