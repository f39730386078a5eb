package vulkan

import (
	"fmt"
	"os"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/icarus/engine/core"
)

// Vertex layout shared with the geometry store: position vec3 at 0,
// texcoord vec2 at 12, 20 bytes per vertex.
const (
	pipelineVertexStride   = 20
	pipelinePositionOffset = 0
	pipelineTexcoordOffset = 12
)

// VulkanGraphicsPipeline draws triangle strips against the depth-only pass.
// The depth compare op and write flag are baked at creation; the backend
// caches one pipeline per (compare, write) pair it actually sees.
type VulkanGraphicsPipeline struct {
	VertexModule        vk.ShaderModule
	FragmentModule      vk.ShaderModule
	DescriptorSetLayout vk.DescriptorSetLayout
	DescriptorPool      vk.DescriptorPool
	DescriptorSet       vk.DescriptorSet
	PipelineLayout      vk.PipelineLayout
	Handle              vk.Pipeline
}

func NewGraphicsPipeline(context *VulkanContext, renderPass *VulkanRenderPass,
	vertPath, fragPath string, compareOp vk.CompareOp, depthWrite bool) (*VulkanGraphicsPipeline, error) {

	gp := &VulkanGraphicsPipeline{}

	var err error
	if gp.VertexModule, err = loadShaderModule(context, vertPath); err != nil {
		return nil, err
	}
	if gp.FragmentModule, err = loadShaderModule(context, fragPath); err != nil {
		gp.Destroy(context)
		return nil, err
	}

	// Set 0, binding 0: the shared uniforms block.
	uniformBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{uniformBinding},
	}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &gp.DescriptorSetLayout); res != vk.Success {
		gp.Destroy(context)
		return nil, fmt.Errorf("failed to create graphics descriptor set layout (VkResult %d)", res)
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:   vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets: 1,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
		}},
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &gp.DescriptorPool); res != vk.Success {
		gp.Destroy(context)
		return nil, fmt.Errorf("failed to create graphics descriptor pool (VkResult %d)", res)
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     gp.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{gp.DescriptorSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &sets[0]); res != vk.Success {
		gp.Destroy(context)
		return nil, fmt.Errorf("failed to allocate graphics descriptor set (VkResult %d)", res)
	}
	gp.DescriptorSet = sets[0]

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{gp.DescriptorSetLayout},
	}
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutInfo, context.Allocator, &gp.PipelineLayout); res != vk.Success {
		gp.Destroy(context)
		return nil, fmt.Errorf("failed to create graphics pipeline layout (VkResult %d)", res)
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: gp.VertexModule,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: gp.FragmentModule,
			PName:  VulkanSafeString("main"),
		},
	}

	vertexBinding := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    pipelineVertexStride,
		InputRate: vk.VertexInputRateVertex,
	}
	vertexAttributes := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: pipelinePositionOffset},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: pipelineTexcoordOffset},
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{vertexBinding},
		VertexAttributeDescriptionCount: uint32(len(vertexAttributes)),
		PVertexAttributeDescriptions:    vertexAttributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleStrip,
	}

	viewport := vk.Viewport{
		X: 0, Y: 0,
		Width:    float32(context.FramebufferWidth),
		Height:   float32(context.FramebufferHeight),
		MinDepth: 0, MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: context.FramebufferWidth, Height: context.FramebufferHeight},
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	depthWriteEnable := vk.False
	if depthWrite {
		depthWriteEnable = vk.True
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.Bool32(depthWriteEnable),
		DepthCompareOp:   compareOp,
	}

	// No color attachments, so no blend attachments either.
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType: vk.StructureTypePipelineColorBlendStateCreateInfo,
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		Layout:              gp.PipelineLayout,
		RenderPass:          renderPass.Handle,
		Subpass:             0,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo}, context.Allocator, pipelines); res != vk.Success {
		gp.Destroy(context)
		return nil, fmt.Errorf("failed to create graphics pipeline (VkResult %d)", res)
	}
	gp.Handle = pipelines[0]

	core.LogDebug("graphics pipeline created (compare=%d write=%t)", compareOp, depthWrite)
	return gp, nil
}

// BindUniforms points set 0 binding 0 at the shared uniforms buffer.
func (gp *VulkanGraphicsPipeline) BindUniforms(context *VulkanContext, uniforms *VulkanBuffer) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          gp.DescriptorSet,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: uniforms.Handle,
			Offset: 0,
			Range:  vk.DeviceSize(uniforms.Size),
		}},
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

func (gp *VulkanGraphicsPipeline) Destroy(context *VulkanContext) {
	d := context.Device.LogicalDevice
	if gp.Handle != vk.NullPipeline {
		vk.DestroyPipeline(d, gp.Handle, context.Allocator)
		gp.Handle = vk.NullPipeline
	}
	if gp.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d, gp.PipelineLayout, context.Allocator)
		gp.PipelineLayout = vk.NullPipelineLayout
	}
	if gp.DescriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d, gp.DescriptorPool, context.Allocator)
		gp.DescriptorPool = vk.NullDescriptorPool
	}
	if gp.DescriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d, gp.DescriptorSetLayout, context.Allocator)
		gp.DescriptorSetLayout = vk.NullDescriptorSetLayout
	}
	if gp.FragmentModule != vk.NullShaderModule {
		vk.DestroyShaderModule(d, gp.FragmentModule, context.Allocator)
		gp.FragmentModule = vk.NullShaderModule
	}
	if gp.VertexModule != vk.NullShaderModule {
		vk.DestroyShaderModule(d, gp.VertexModule, context.Allocator)
		gp.VertexModule = vk.NullShaderModule
	}
}

func loadShaderModule(context *VulkanContext, path string) (vk.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		core.LogError("failed to read shader %q: %s", path, err.Error())
		return vk.NullShaderModule, err
	}
	words, err := sliceUint32(code)
	if err != nil {
		return vk.NullShaderModule, err
	}
	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &moduleInfo, context.Allocator, &module); res != vk.Success {
		return vk.NullShaderModule, fmt.Errorf("failed to create shader module for %q (VkResult %d)", path, res)
	}
	return module, nil
}
