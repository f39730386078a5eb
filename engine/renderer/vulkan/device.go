package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/icarus/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// One queue family carrying both graphics and compute keeps the
	// encode -> optimize -> execute chain on a single timeline.
	QueueIndex uint32
	Queue      vk.Queue

	CommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
}

// InstanceCreate sets up the loader and the Vulkan instance. Headless: no
// surface extensions are requested.
func InstanceCreate(context *VulkanContext, appName string) error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		core.LogError("Vulkan loader not found: %s", err.Error())
		return err
	}
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vulkan: %s", err.Error())
		return err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Icarus"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	if res := vk.CreateInstance(&createInfo, context.Allocator, &context.Instance); res != vk.Success {
		err := fmt.Errorf("failed to create the Vulkan instance (VkResult %d)", res)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	return nil
}

// DeviceCreate picks a physical device with a combined graphics+compute
// queue family and creates the logical device, queue and command pool.
func DeviceCreate(context *VulkanContext) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("creating logical device...")
	queuePriority := []float32{1.0}
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: context.Device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: queuePriority,
	}}

	// Only the features the capability tiers depend on are requested.
	deviceFeatures := vk.PhysicalDeviceFeatures{}
	deviceFeatures.MultiDrawIndirect = context.Device.Features.MultiDrawIndirect
	deviceFeatures.DrawIndirectFirstInstance = context.Device.Features.DrawIndirectFirstInstance

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{deviceFeatures},
	}

	var logical vk.Device
	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical); res != vk.Success {
		err := fmt.Errorf("failed to create logical device (VkResult %d)", res)
		core.LogError(err.Error())
		return err
	}
	context.Device.LogicalDevice = logical

	var queue vk.Queue
	vk.GetDeviceQueue(context.Device.LogicalDevice, context.Device.QueueIndex, 0, &queue)
	context.Device.Queue = queue

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: context.Device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create command pool (VkResult %d)", res)
		core.LogError(err.Error())
		return err
	}
	context.Device.CommandPool = pool
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	d := context.Device
	if d == nil {
		return
	}
	if d.CommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.LogicalDevice, d.CommandPool, context.Allocator)
	}
	if d.LogicalDevice != nil {
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
	}
	if context.Instance != nil {
		vk.DestroyInstance(context.Instance, context.Allocator)
		context.Instance = nil
	}
}

// SupportsIndirectExecution is the capability query behind
// device.FeatureIndirectExecution.
func (d *VulkanDevice) SupportsIndirectExecution() bool {
	return d.Features.MultiDrawIndirect == vk.True
}

// SupportsDeviceEncoding is the capability query behind
// device.FeatureDeviceEncoding: the encoding kernel writes first-instance
// fields, so the device must honor them.
func (d *VulkanDevice) SupportsDeviceEncoding() bool {
	return d.SupportsIndirectExecution() && d.Features.DrawIndirectFirstInstance == vk.True
}

func selectPhysicalDevice(context *VulkanContext) error {
	var deviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &deviceCount, nil); res != vk.Success || deviceCount == 0 {
		return fmt.Errorf("no Vulkan physical devices found")
	}
	physicalDevices := make([]vk.PhysicalDevice, deviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &deviceCount, physicalDevices); res != vk.Success {
		return fmt.Errorf("failed to enumerate physical devices (VkResult %d)", res)
	}

	for _, pd := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()

		queueIndex, ok := findCombinedQueueFamily(pd)
		if !ok {
			continue
		}

		end := 0
		for end < len(properties.DeviceName) && properties.DeviceName[end] != 0 {
			end++
		}
		core.LogInfo("selected GPU: %s", string(properties.DeviceName[:end]))
		context.Device = &VulkanDevice{
			PhysicalDevice: pd,
			QueueIndex:     queueIndex,
			Properties:     properties,
			Features:       features,
		}
		return nil
	}
	return fmt.Errorf("no physical device offers a combined graphics+compute queue family")
}

func findCombinedQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	want := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&want == want {
			return i, true
		}
	}
	return 0, false
}
