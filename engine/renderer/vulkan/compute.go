package vulkan

import (
	"fmt"
	"os"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/icarus/engine/core"
)

// encodeWorkgroupSize matches local_size_x in the encode compute shader.
const encodeWorkgroupSize = 32

// VulkanComputePipeline runs the device-side encoding shader: one invocation
// per command slot, reading the flattened argument table from binding 0 and
// writing VkDrawIndirectCommand slots at binding 1.
type VulkanComputePipeline struct {
	ShaderModule        vk.ShaderModule
	DescriptorSetLayout vk.DescriptorSetLayout
	DescriptorPool      vk.DescriptorPool
	DescriptorSet       vk.DescriptorSet
	PipelineLayout      vk.PipelineLayout
	Pipeline            vk.Pipeline
}

func NewComputePipeline(context *VulkanContext, shaderPath string) (*VulkanComputePipeline, error) {
	code, err := os.ReadFile(shaderPath)
	if err != nil {
		core.LogError("failed to read compute shader %q: %s", shaderPath, err.Error())
		return nil, err
	}
	words, err := sliceUint32(code)
	if err != nil {
		return nil, err
	}

	cp := &VulkanComputePipeline{}

	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &moduleInfo, context.Allocator, &cp.ShaderModule); res != vk.Success {
		return nil, fmt.Errorf("failed to create compute shader module (VkResult %d)", res)
	}

	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &cp.DescriptorSetLayout); res != vk.Success {
		cp.Destroy(context)
		return nil, fmt.Errorf("failed to create compute descriptor set layout (VkResult %d)", res)
	}

	poolSizes := []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeStorageBuffer,
		DescriptorCount: 2,
	}}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &cp.DescriptorPool); res != vk.Success {
		cp.Destroy(context)
		return nil, fmt.Errorf("failed to create compute descriptor pool (VkResult %d)", res)
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     cp.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{cp.DescriptorSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &sets[0]); res != vk.Success {
		cp.Destroy(context)
		return nil, fmt.Errorf("failed to allocate compute descriptor set (VkResult %d)", res)
	}
	cp.DescriptorSet = sets[0]

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{cp.DescriptorSetLayout},
	}
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutInfo, context.Allocator, &cp.PipelineLayout); res != vk.Success {
		cp.Destroy(context)
		return nil, fmt.Errorf("failed to create compute pipeline layout (VkResult %d)", res)
	}

	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: cp.ShaderModule,
			PName:  VulkanSafeString("main"),
		},
		Layout: cp.PipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{pipelineInfo}, context.Allocator, pipelines); res != vk.Success {
		cp.Destroy(context)
		return nil, fmt.Errorf("failed to create compute pipeline (VkResult %d)", res)
	}
	cp.Pipeline = pipelines[0]
	return cp, nil
}

// BindBuffers points the descriptor set at the argument table and the
// indirect-commands buffer for the next Dispatch.
func (cp *VulkanComputePipeline) BindBuffers(context *VulkanContext, args, commands *VulkanBuffer) {
	writes := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          cp.DescriptorSet,
			DstBinding:      0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: args.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(args.Size),
			}},
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          cp.DescriptorSet,
			DstBinding:      1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: commands.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(commands.Size),
			}},
		},
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
}

// Dispatch records and submits one encode pass over itemCount slots and
// blocks until it completes.
func (cp *VulkanComputePipeline) Dispatch(context *VulkanContext, itemCount int) error {
	cb, err := CommandBufferAllocateAndBeginSingleUse(context, context.Device.CommandPool)
	if err != nil {
		return err
	}

	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointCompute, cp.Pipeline)
	vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointCompute, cp.PipelineLayout,
		0, 1, []vk.DescriptorSet{cp.DescriptorSet}, 0, nil)

	groups := uint32((itemCount + encodeWorkgroupSize - 1) / encodeWorkgroupSize)
	vk.CmdDispatch(cb.Handle, groups, 1, 1)

	// The indirect-commands buffer is consumed by vkCmdDrawIndirect next.
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessIndirectCommandReadBit),
	}
	vk.CmdPipelineBarrier(cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)

	return CommandBufferEndSingleUse(context, context.Device.CommandPool, cb, context.Device.Queue)
}

func (cp *VulkanComputePipeline) Destroy(context *VulkanContext) {
	d := context.Device.LogicalDevice
	if cp.Pipeline != vk.NullPipeline {
		vk.DestroyPipeline(d, cp.Pipeline, context.Allocator)
		cp.Pipeline = vk.NullPipeline
	}
	if cp.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d, cp.PipelineLayout, context.Allocator)
		cp.PipelineLayout = vk.NullPipelineLayout
	}
	if cp.DescriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d, cp.DescriptorPool, context.Allocator)
		cp.DescriptorPool = vk.NullDescriptorPool
	}
	if cp.DescriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d, cp.DescriptorSetLayout, context.Allocator)
		cp.DescriptorSetLayout = vk.NullDescriptorSetLayout
	}
	if cp.ShaderModule != vk.NullShaderModule {
		vk.DestroyShaderModule(d, cp.ShaderModule, context.Allocator)
		cp.ShaderModule = vk.NullShaderModule
	}
}
