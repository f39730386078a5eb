package vulkan

import (
	"encoding/binary"
	"fmt"
	gomath "math"
	"path/filepath"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
	"github.com/spaghettifunk/icarus/engine/renderer/icb"
)

// indirectCommandStride is sizeof(VkDrawIndirectCommand).
const indirectCommandStride = 16

// slotCapacity is implemented by registered objects that own a run of
// indirect command slots; the backend sizes their GPU argument buffer off
// it.
type slotCapacity interface {
	Capacity() int
}

type pipelineKey struct {
	compare device.CompareOp
	write   bool
}

type submission struct {
	label      string
	work       func() error
	onComplete func()
	done       chan error
}

// Backend implements device.Device on a real GPU through goki/vulkan. It is
// headless and keeps every buffer host-visible, so the same byte-level
// readbacks the tests perform against the soft device work here too.
type Backend struct {
	context   *VulkanContext
	shaderDir string

	mu      sync.Mutex
	next    device.Handle
	buffers map[device.Handle]*VulkanBuffer
	objects map[device.Handle]any
	// slots maps a registered command-buffer object to its GPU buffer of
	// VkDrawIndirectCommand entries.
	slots map[device.Handle]*VulkanBuffer

	renderPass *VulkanRenderPass
	pipelines  map[pipelineKey]*VulkanGraphicsPipeline
	encode     *VulkanComputePipeline

	queue chan *submission
	idle  sync.WaitGroup
	quit  chan struct{}
}

func New(appName, shaderDir string, width, height uint32) (*Backend, error) {
	context := &VulkanContext{
		FramebufferWidth:  width,
		FramebufferHeight: height,
	}
	if err := InstanceCreate(context, appName); err != nil {
		return nil, err
	}
	if err := DeviceCreate(context); err != nil {
		DeviceDestroy(context)
		return nil, err
	}
	renderPass, err := NewRenderPass(context)
	if err != nil {
		DeviceDestroy(context)
		return nil, err
	}

	b := &Backend{
		context:    context,
		shaderDir:  shaderDir,
		next:       1,
		buffers:    make(map[device.Handle]*VulkanBuffer),
		objects:    make(map[device.Handle]any),
		slots:      make(map[device.Handle]*VulkanBuffer),
		renderPass: renderPass,
		pipelines:  make(map[pipelineKey]*VulkanGraphicsPipeline),
		queue:      make(chan *submission, 64),
		quit:       make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *Backend) Name() string {
	return "vulkan"
}

func (b *Backend) Supports(tier device.FeatureTier) bool {
	switch tier {
	case device.FeatureIndirectExecution:
		return b.context.Device.SupportsIndirectExecution()
	case device.FeatureDeviceEncoding:
		return b.context.Device.SupportsDeviceEncoding()
	}
	return false
}

func (b *Backend) NewBuffer(label string, size int) (device.Handle, error) {
	if label == "" {
		label = fmt.Sprintf("buffer-%d", b.next)
	}
	buf, err := NewVulkanBuffer(b.context, label, size)
	if err != nil {
		return device.NilHandle, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.next
	b.next++
	b.buffers[h] = buf
	return h, nil
}

func (b *Backend) WriteBuffer(h device.Handle, offset int, data []byte) error {
	b.mu.Lock()
	buf, ok := b.buffers[h]
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}
	return buf.Write(offset, data)
}

func (b *Backend) ReadBuffer(h device.Handle, offset int, data []byte) error {
	b.mu.Lock()
	buf, ok := b.buffers[h]
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}
	return buf.Read(offset, data)
}

func (b *Backend) ReleaseBuffer(h device.Handle) error {
	b.mu.Lock()
	buf, ok := b.buffers[h]
	if ok {
		delete(b.buffers, h)
	}
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}
	buf.Destroy(b.context)
	return nil
}

// RegisterObject tracks a host-side object. Objects that expose a slot
// capacity get a GPU buffer of zeroed VkDrawIndirectCommand entries; a
// zeroed entry has instanceCount 0 and replays as a no-op.
func (b *Backend) RegisterObject(label string, obj any) (device.Handle, error) {
	var slotBuf *VulkanBuffer
	if sc, ok := obj.(slotCapacity); ok {
		var err error
		slotBuf, err = NewVulkanBuffer(b.context, label+"-slots", sc.Capacity()*indirectCommandStride)
		if err != nil {
			return device.NilHandle, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.next
	b.next++
	b.objects[h] = obj
	if slotBuf != nil {
		b.slots[h] = slotBuf
	}
	core.LogDebug("registered object %q as handle %d", label, h)
	return h, nil
}

// MirrorCommands uploads host-encoded indirect draw arguments into the slot
// buffer of a registered command-buffer object. The host path uses it to
// keep the GPU replay source in sync after encode and optimize.
func (b *Backend) MirrorCommands(h device.Handle, data []byte) error {
	b.mu.Lock()
	slotBuf, ok := b.slots[h]
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}
	return slotBuf.Write(0, data)
}

// resolver gives kernel reference functions handle access to backend
// resources, mirroring what the compiled shader reaches through descriptors.
type resolver struct {
	b *Backend
}

func (r resolver) Bytes(h device.Handle) []byte {
	r.b.mu.Lock()
	buf, ok := r.b.buffers[h]
	r.b.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("kernel resolved unknown buffer handle %d", h))
	}
	data := make([]byte, buf.Size)
	if err := buf.Read(0, data); err != nil {
		panic(err)
	}
	return data
}

func (r resolver) Object(h device.Handle) any {
	r.b.mu.Lock()
	obj, ok := r.b.objects[h]
	r.b.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("kernel resolved unknown object handle %d", h))
	}
	return obj
}

// Dispatch runs the named compute kernel on the GPU, then runs the kernel's
// reference function over the same items. The GPU writes the indirect draw
// arguments the replay consumes; the reference run keeps the host-side slot
// schedule (which slots are live, with which bindings) coherent with them.
func (b *Backend) Dispatch(k device.Kernel, workItems int, args device.Handle) error {
	if k.Name != icb.KernelName {
		return fmt.Errorf("no compute entry point registered for kernel %q", k.Name)
	}
	if !b.Supports(device.FeatureDeviceEncoding) {
		return device.ErrUnsupportedCapability
	}
	if err := b.ensureEncodePipeline(); err != nil {
		return err
	}

	b.mu.Lock()
	argsBuf, ok := b.buffers[args]
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}

	raw := make([]byte, argsBuf.Size)
	if err := argsBuf.Read(0, raw); err != nil {
		return err
	}
	table, err := icb.UnmarshalArgumentTable(raw)
	if err != nil {
		return fmt.Errorf("argument table for kernel %q: %w", k.Name, err)
	}

	b.mu.Lock()
	slotBuf, ok := b.slots[table.ICB]
	b.mu.Unlock()
	if !ok {
		return device.ErrUnknownHandle
	}

	gpuArgs, err := b.flattenEncodeArgs(table)
	if err != nil {
		return err
	}
	scratch, err := NewVulkanBuffer(b.context, "encode-args", len(gpuArgs))
	if err != nil {
		return err
	}
	defer scratch.Destroy(b.context)
	if err := scratch.Write(0, gpuArgs); err != nil {
		return err
	}

	b.encode.BindBuffers(b.context, scratch, slotBuf)
	if err := b.encode.Dispatch(b.context, workItems); err != nil {
		return err
	}

	if k.Fn != nil {
		res := resolver{b: b}
		for item := 0; item < workItems; item++ {
			if err := k.Fn(item, raw, res); err != nil {
				return fmt.Errorf("kernel %q item %d: %w", k.Name, item, err)
			}
		}
	}
	return nil
}

// flattenEncodeArgs reshapes the host argument table into the std430 layout
// the encode shader reads: shapeCount u32, targetDepth f32, then one
// {depth f32, vertexCount u32} pair per shape. The per-shape depth is the
// first vertex's z, read straight out of the mapped vertex buffer.
func (b *Backend) flattenEncodeArgs(table icb.ArgumentTable) ([]byte, error) {
	n := len(table.VertexBuffers)
	out := make([]byte, 8+8*n)
	binary.LittleEndian.PutUint32(out[0:], uint32(n))
	binary.LittleEndian.PutUint32(out[4:], gomath.Float32bits(table.TargetDepth))

	depth := make([]byte, 4)
	for i, vb := range table.VertexBuffers {
		b.mu.Lock()
		buf, ok := b.buffers[vb]
		b.mu.Unlock()
		if !ok {
			return nil, device.ErrUnknownHandle
		}
		if err := buf.Read(8, depth); err != nil {
			return nil, err
		}
		copy(out[8+8*i:], depth)
		binary.LittleEndian.PutUint32(out[12+8*i:], table.VertexCounts[i])
	}
	return out, nil
}

func (b *Backend) ensureEncodePipeline() error {
	if b.encode != nil {
		return nil
	}
	encode, err := NewComputePipeline(b.context, filepath.Join(b.shaderDir, "encode.comp.spv"))
	if err != nil {
		return err
	}
	b.encode = encode
	return nil
}

// ReloadShaders drops every compiled pipeline so the next pass or dispatch
// rebuilds them from the SPIR-V on disk. The caller must guarantee no work
// is in flight; the engine routes this through its own submission queue.
func (b *Backend) ReloadShaders() error {
	if res := vk.DeviceWaitIdle(b.context.Device.LogicalDevice); res != vk.Success {
		return fmt.Errorf("device wait idle failed (VkResult %d)", res)
	}
	for key, gp := range b.pipelines {
		gp.Destroy(b.context)
		delete(b.pipelines, key)
	}
	if b.encode != nil {
		b.encode.Destroy(b.context)
		b.encode = nil
	}
	core.LogInfo("compiled pipelines invalidated, rebuilding on next use")
	return nil
}

func (b *Backend) pipelineFor(desc device.PassDescriptor) (*VulkanGraphicsPipeline, error) {
	key := pipelineKey{compare: desc.DepthCompare, write: desc.DepthWrite}
	if gp, ok := b.pipelines[key]; ok {
		return gp, nil
	}
	var compareOp vk.CompareOp
	switch desc.DepthCompare {
	case device.CompareLess:
		compareOp = vk.CompareOpLess
	case device.CompareEqual:
		compareOp = vk.CompareOpEqual
	default:
		compareOp = vk.CompareOpAlways
	}
	gp, err := NewGraphicsPipeline(b.context, b.renderPass,
		filepath.Join(b.shaderDir, "shape.vert.spv"),
		filepath.Join(b.shaderDir, "shape.frag.spv"),
		compareOp, desc.DepthWrite)
	if err != nil {
		return nil, err
	}
	b.pipelines[key] = gp
	return gp, nil
}

func (b *Backend) BeginPass(desc device.PassDescriptor) (device.Pass, error) {
	gp, err := b.pipelineFor(desc)
	if err != nil {
		return nil, err
	}
	cb, err := CommandBufferAllocateAndBeginSingleUse(b.context, b.context.Device.CommandPool)
	if err != nil {
		return nil, err
	}
	b.renderPass.Begin(b.context, cb, desc.ClearDepth)
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, gp.Handle)
	return &vulkanPass{
		backend:  b,
		cb:       cb,
		pipeline: gp,
		declared: make(map[device.Handle]device.AccessMode),
	}, nil
}

// vulkanPass replays command-buffer slots with vkCmdDrawIndirect, one slot
// per draw, addressed by the slot index. Bindings present on the call are
// applied; elided ones ride on the pass's current state, which is exactly
// the inherit-from-previous contract the optimizer depends on.
type vulkanPass struct {
	backend  *Backend
	cb       *VulkanCommandBuffer
	pipeline *VulkanGraphicsPipeline
	declared map[device.Handle]device.AccessMode

	// indirect is the slot buffer of the command-buffer object declared via
	// UseResource.
	indirect     *VulkanBuffer
	uniformBound bool
}

func (p *vulkanPass) UseResource(h device.Handle, mode device.AccessMode) {
	p.declared[h] = mode
	p.backend.mu.Lock()
	slotBuf, ok := p.backend.slots[h]
	p.backend.mu.Unlock()
	if ok {
		p.indirect = slotBuf
	}
}

func (p *vulkanPass) Draw(call device.DrawCall) {
	if p.indirect == nil {
		core.LogFatal("draw replayed without a declared indirect command buffer")
	}
	for _, binding := range call.Bindings {
		if _, ok := p.declared[binding.Buffer]; !ok {
			core.LogFatal("draw references undeclared resource handle %d", binding.Buffer)
		}
		p.backend.mu.Lock()
		buf, ok := p.backend.buffers[binding.Buffer]
		p.backend.mu.Unlock()
		if !ok {
			core.LogFatal("draw references unknown resource handle %d", binding.Buffer)
		}
		switch binding.Index {
		case icb.BindingVertices:
			vk.CmdBindVertexBuffers(p.cb.Handle, 0, 1, []vk.Buffer{buf.Handle}, []vk.DeviceSize{0})
		case icb.BindingUniforms:
			// One uniforms buffer per pass: the descriptor set is written
			// once, before the first draw that needs it.
			if !p.uniformBound {
				p.pipeline.BindUniforms(p.backend.context, buf)
				vk.CmdBindDescriptorSets(p.cb.Handle, vk.PipelineBindPointGraphics,
					p.pipeline.PipelineLayout, 0, 1, []vk.DescriptorSet{p.pipeline.DescriptorSet}, 0, nil)
				p.uniformBound = true
			}
		default:
			core.LogFatal("draw uses unknown binding index %d", binding.Index)
		}
	}
	vk.CmdDrawIndirect(p.cb.Handle, p.indirect.Handle,
		vk.DeviceSize(call.CommandIndex)*indirectCommandStride, 1, indirectCommandStride)
}

func (p *vulkanPass) End() {
	p.backend.renderPass.End(p.cb)
	if err := CommandBufferEndSingleUse(p.backend.context, p.backend.context.Device.CommandPool,
		p.cb, p.backend.context.Device.Queue); err != nil {
		core.LogError("render pass submission failed: %s", err.Error())
	}
}

func (b *Backend) Submit(label string, work func() error, onComplete func()) error {
	s := &submission{label: label, work: work, onComplete: onComplete}
	b.idle.Add(1)
	select {
	case b.queue <- s:
		return nil
	case <-b.quit:
		b.idle.Done()
		return fmt.Errorf("device destroyed")
	}
}

func (b *Backend) SubmitAndWait(label string, work func() error) error {
	s := &submission{label: label, work: work, done: make(chan error, 1)}
	b.idle.Add(1)
	select {
	case b.queue <- s:
	case <-b.quit:
		b.idle.Done()
		return fmt.Errorf("device destroyed")
	}
	return <-s.done
}

func (b *Backend) WaitIdle() {
	b.idle.Wait()
	vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
}

// run drains submissions in order on a single goroutine, matching the one
// hardware queue underneath.
func (b *Backend) run() {
	for {
		select {
		case s := <-b.queue:
			err := s.work()
			if err != nil {
				core.LogError("submission %q failed: %s", s.label, err.Error())
			}
			if s.onComplete != nil {
				s.onComplete()
			}
			if s.done != nil {
				s.done <- err
			}
			b.idle.Done()
		case <-b.quit:
			return
		}
	}
}

func (b *Backend) Destroy() {
	b.idle.Wait()
	close(b.quit)
	vk.DeviceWaitIdle(b.context.Device.LogicalDevice)

	for _, gp := range b.pipelines {
		gp.Destroy(b.context)
	}
	if b.encode != nil {
		b.encode.Destroy(b.context)
	}
	b.renderPass.Destroy(b.context)
	for _, buf := range b.slots {
		buf.Destroy(b.context)
	}
	for _, buf := range b.buffers {
		buf.Destroy(b.context)
	}
	DeviceDestroy(b.context)
	core.LogInfo("vulkan backend destroyed")
}
