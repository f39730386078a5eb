package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

const depthFormat = vk.FormatD32Sfloat

// VulkanRenderPass is the offscreen depth-only target the shapes replay
// into. There is no color attachment: the pass exists so that depth testing
// and depth writes behave exactly as on screen.
type VulkanRenderPass struct {
	Handle      vk.RenderPass
	DepthImage  vk.Image
	DepthMemory vk.DeviceMemory
	DepthView   vk.ImageView
	Framebuffer vk.Framebuffer
}

func NewRenderPass(context *VulkanContext) (*VulkanRenderPass, error) {
	rp := &VulkanRenderPass{}

	depthAttachment := vk.AttachmentDescription{
		Format:         depthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	depthReference := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		PDepthStencilAttachment: &depthReference,
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{depthAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	if err := checkResult(vk.CreateRenderPass(context.Device.LogicalDevice, &renderPassInfo, context.Allocator, &rp.Handle), "create render pass"); err != nil {
		return nil, err
	}

	if err := rp.createDepthTarget(context); err != nil {
		rp.Destroy(context)
		return nil, err
	}
	return rp, nil
}

func (rp *VulkanRenderPass) createDepthTarget(context *VulkanContext) error {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    depthFormat,
		Extent: vk.Extent3D{
			Width:  context.FramebufferWidth,
			Height: context.FramebufferHeight,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := checkResult(vk.CreateImage(context.Device.LogicalDevice, &imageInfo, context.Allocator, &rp.DepthImage), "create depth image"); err != nil {
		return err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, rp.DepthImage, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		return fmt.Errorf("no device-local memory type for depth image")
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if err := checkResult(vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &rp.DepthMemory), "allocate depth image memory"); err != nil {
		return err
	}
	if err := checkResult(vk.BindImageMemory(context.Device.LogicalDevice, rp.DepthImage, rp.DepthMemory, 0), "bind depth image memory"); err != nil {
		return err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    rp.DepthImage,
		ViewType: vk.ImageViewType2d,
		Format:   depthFormat,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := checkResult(vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &rp.DepthView), "create depth image view"); err != nil {
		return err
	}

	framebufferInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{rp.DepthView},
		Width:           context.FramebufferWidth,
		Height:          context.FramebufferHeight,
		Layers:          1,
	}
	return checkResult(vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferInfo, context.Allocator, &rp.Framebuffer), "create framebuffer")
}

// Begin clears depth to clearDepth and opens the pass on cb.
func (rp *VulkanRenderPass) Begin(context *VulkanContext, cb *VulkanCommandBuffer, clearDepth float32) {
	clearValues := make([]vk.ClearValue, 1)
	clearValues[0].SetDepthStencil(clearDepth, 0)

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: rp.Framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: context.FramebufferWidth, Height: context.FramebufferHeight},
		},
		ClearValueCount: 1,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = CommandBufferStateInRenderPass
}

func (rp *VulkanRenderPass) End(cb *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = CommandBufferStateRecording
}

func (rp *VulkanRenderPass) Destroy(context *VulkanContext) {
	d := context.Device.LogicalDevice
	if rp.Framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(d, rp.Framebuffer, context.Allocator)
		rp.Framebuffer = vk.NullFramebuffer
	}
	if rp.DepthView != vk.NullImageView {
		vk.DestroyImageView(d, rp.DepthView, context.Allocator)
		rp.DepthView = vk.NullImageView
	}
	if rp.DepthImage != vk.NullImage {
		vk.DestroyImage(d, rp.DepthImage, context.Allocator)
		rp.DepthImage = vk.NullImage
	}
	if rp.DepthMemory != vk.NullDeviceMemory {
		vk.FreeMemory(d, rp.DepthMemory, context.Allocator)
		rp.DepthMemory = vk.NullDeviceMemory
	}
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(d, rp.Handle, context.Allocator)
		rp.Handle = vk.NullRenderPass
	}
}
