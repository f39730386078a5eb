// Package engine assembles the sample: geometry and uniforms upload, command
// buffer allocation and encoding, the paced render loop, and shutdown.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/spaghettifunk/icarus/engine/assets"
	"github.com/spaghettifunk/icarus/engine/config"
	"github.com/spaghettifunk/icarus/engine/core"
	"github.com/spaghettifunk/icarus/engine/geometry"
	"github.com/spaghettifunk/icarus/engine/math"
	"github.com/spaghettifunk/icarus/engine/renderer"
	"github.com/spaghettifunk/icarus/engine/renderer/device"
	"github.com/spaghettifunk/icarus/engine/renderer/device/soft"
	"github.com/spaghettifunk/icarus/engine/renderer/icb"
	"github.com/spaghettifunk/icarus/engine/renderer/pacer"
	"github.com/spaghettifunk/icarus/engine/renderer/vulkan"
)

const (
	framebufferWidth  = 1280
	framebufferHeight = 720

	textureSize  = 256
	textureCells = 8
)

// commandMirror is implemented by backends that replay from a GPU-resident
// copy of the indirect commands and need it refreshed after host-side
// encoding or optimization.
type commandMirror interface {
	MirrorCommands(h device.Handle, data []byte) error
}

// shaderReloader is implemented by backends that can rebuild their compiled
// pipelines from disk.
type shaderReloader interface {
	ReloadShaders() error
}

// Engine owns every resource of the sample for its whole run.
type Engine struct {
	cfg config.Config
	dev device.Device

	shapes        *geometry.Store
	vertexBuffers []device.Handle
	uniforms      device.Handle
	texture       device.Handle

	cb         *icb.CommandBuffer
	encoder    icb.Encoder
	devEncoder *icb.DeviceEncoder

	pace    *pacer.Pacer
	frames  *pacer.FrameCounter
	clock   *core.Clock
	watcher *assets.ShaderWatcher
}

// New builds the engine: device, capability check, resource upload, command
// buffer allocation, and in host mode the one-time encode.
func New(cfg config.Config) (*Engine, error) {
	core.LogConfigure(cfg.LogLevel)

	var dev device.Device
	switch cfg.Backend {
	case config.BackendVulkan:
		backend, err := vulkan.New(cfg.AppName, cfg.ShaderDir, framebufferWidth, framebufferHeight)
		if err != nil {
			return nil, err
		}
		dev = backend
	default:
		dev = soft.New()
	}

	// Capability check happens once, before any allocation. An unsupported
	// tier is fatal; there is no fallback path.
	if !dev.Supports(device.FeatureIndirectExecution) {
		dev.Destroy()
		return nil, fmt.Errorf("device %q: %w: %s", dev.Name(), device.ErrUnsupportedCapability, device.FeatureIndirectExecution)
	}
	if cfg.EncoderMode == config.EncoderModeDevice && !dev.Supports(device.FeatureDeviceEncoding) {
		dev.Destroy()
		return nil, fmt.Errorf("device %q: %w: %s", dev.Name(), device.ErrUnsupportedCapability, device.FeatureDeviceEncoding)
	}

	e := &Engine{
		cfg:    cfg,
		dev:    dev,
		shapes: geometry.NewStore(cfg.NumShapes),
		pace:   pacer.New(cfg.MaxFramesInFlight),
		frames: pacer.NewFrameCounter(cfg.NumShapes),
		clock:  core.NewClock(),
	}

	if err := e.uploadResources(); err != nil {
		dev.Destroy()
		return nil, err
	}

	cb, err := icb.Allocate(dev, icb.DefaultDescriptor(cfg.NumShapes))
	if err != nil {
		dev.Destroy()
		return nil, err
	}
	e.cb = cb

	counts := e.shapes.VertexCounts()
	switch cfg.EncoderMode {
	case config.EncoderModeDevice:
		enc, err := icb.NewDeviceEncoder(dev, e.vertexBuffers, counts, e.uniforms)
		if err != nil {
			dev.Destroy()
			return nil, err
		}
		e.devEncoder = enc
		e.encoder = enc
		// The first encode runs in the loop, at the frame-0 rotation.
	default:
		enc, err := icb.NewHostEncoder(e.vertexBuffers, counts, e.uniforms)
		if err != nil {
			dev.Destroy()
			return nil, err
		}
		e.encoder = enc
		// Host encoding happens exactly once, before the first frame.
		if err := dev.SubmitAndWait("initial-encode", func() error {
			if err := enc.Encode(cb); err != nil {
				return err
			}
			if err := icb.Optimize(cb, e.fullRange()); err != nil {
				return err
			}
			return e.mirrorCommands()
		}); err != nil {
			dev.Destroy()
			return nil, err
		}
	}

	if cfg.WatchShaders {
		watcher, err := assets.NewShaderWatcher(cfg.ShaderDir)
		if err != nil {
			core.LogWarn("shader watcher disabled: %s", err.Error())
		} else {
			e.watcher = watcher
		}
	}

	core.LogInfo("%s ready: %d shapes, %s encoding, %s backend, %d frames in flight",
		cfg.AppName, cfg.NumShapes, e.encoder.Mode(), dev.Name(), cfg.MaxFramesInFlight)
	return e, nil
}

// uploadResources creates and fills the per-shape vertex buffers, the shared
// uniform block, and the base-color texture.
func (e *Engine) uploadResources() error {
	e.vertexBuffers = make([]device.Handle, e.shapes.Count())
	for i := 0; i < e.shapes.Count(); i++ {
		mesh := e.shapes.Shape(i)
		data := mesh.Marshal()
		h, err := e.dev.NewBuffer(fmt.Sprintf("shape-%d-vertices", i), len(data))
		if err != nil {
			return err
		}
		if err := e.dev.WriteBuffer(h, 0, data); err != nil {
			return err
		}
		e.vertexBuffers[i] = h
	}

	cameraPos := math.NewVec3(0, 0, -3)
	view := math.NewMat4LookAt(cameraPos, math.NewVec3(0, 0, 0), math.NewVec3(0, 1, 0))
	projection := math.NewMat4Perspective(
		45.0*math.K_DEG2RAD_MULTIPLIER,
		float32(framebufferWidth)/float32(framebufferHeight),
		0.1, 100.0)
	uniforms := renderer.NewSharedUniforms(cameraPos, math.NewMat4Identity(), projection.Mul(view))
	packed := uniforms.Marshal()

	uh, err := e.dev.NewBuffer("shared-uniforms", len(packed))
	if err != nil {
		return err
	}
	if err := e.dev.WriteBuffer(uh, 0, packed); err != nil {
		return err
	}
	e.uniforms = uh

	texture, err := assets.NewBaseColorTexture(textureSize, textureCells)
	if err != nil {
		return err
	}
	th, err := e.dev.NewBuffer("base-color-texture", texture.Size())
	if err != nil {
		return err
	}
	offset := 0
	for level := range texture.Levels {
		data := texture.Bytes(level)
		if err := e.dev.WriteBuffer(th, offset, data); err != nil {
			return err
		}
		offset += len(data)
	}
	e.texture = th
	return nil
}

func (e *Engine) fullRange() icb.Range {
	return icb.Range{Start: 0, Count: e.cb.Capacity()}
}

// mirrorCommands pushes the host-visible slot contents to backends that
// replay from a device-resident copy.
func (e *Engine) mirrorCommands() error {
	m, ok := e.dev.(commandMirror)
	if !ok {
		return nil
	}
	return m.MirrorCommands(e.cb.Handle(), e.cb.MarshalIndirectCommands())
}

// Run drives the frame loop until TotalFrames elapse or ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.clock.Start()
	defer e.clock.Stop()

	for e.cfg.TotalFrames == 0 || e.frames.Frame() < e.cfg.TotalFrames {
		select {
		case <-ctx.Done():
			core.LogInfo("interrupted after %d frames", e.frames.Frame())
			return nil
		default:
		}
		e.drainShaderEvents()

		// Block here, not at submission: once acquired, everything the frame
		// writes is guaranteed unread by any outstanding frame.
		e.pace.Acquire()

		if e.devEncoder != nil && e.frames.RotationDue() {
			if err := e.encodeRotation(); err != nil {
				e.pace.Signal()
				return err
			}
		}

		if err := e.submitFrame(); err != nil {
			e.pace.Signal()
			return err
		}
		e.frames.Advance()
	}

	e.dev.WaitIdle()
	e.clock.Update()
	seconds := e.clock.Elapsed() / float64(time.Second)
	fps := float64(e.frames.Frame())
	if seconds > 0 {
		fps /= seconds
	}
	core.LogInfo("finished: %d frames in %.2fs (%.1f fps)", e.frames.Frame(), seconds, fps)
	return nil
}

// encodeRotation re-runs the device encoder for the shape the current
// rotation selects, then re-optimizes. It completes before the frame's
// render submission is enqueued, so the replay below never sees a
// half-encoded buffer.
func (e *Engine) encodeRotation() error {
	active := e.frames.ActiveShape()
	depth := geometry.ShapeDepth(active, e.cfg.NumShapes)
	core.LogDebug("rotation at frame %d: shape %d, depth %f", e.frames.Frame(), active, depth)

	// No mirroring here: in device mode the encoding kernel writes the
	// backend's indirect arguments itself.
	return e.dev.SubmitAndWait("encode-rotation", func() error {
		e.devEncoder.SetTargetDepth(depth)
		if err := e.devEncoder.Encode(e.cb); err != nil {
			return err
		}
		return icb.Optimize(e.cb, e.fullRange())
	})
}

// submitFrame enqueues one render pass replaying the full command range. The
// pass clears depth to the active shape's representative depth and tests for
// equality, so only that shape's fragments land.
func (e *Engine) submitFrame() error {
	active := e.frames.ActiveShape()
	clearDepth := geometry.ShapeDepth(active, e.cfg.NumShapes)
	label := fmt.Sprintf("frame-%d", e.frames.Frame())

	return e.dev.Submit(label, func() error {
		pass, err := e.dev.BeginPass(device.PassDescriptor{
			Label:        label,
			ClearDepth:   clearDepth,
			DepthCompare: device.CompareEqual,
			DepthWrite:   true,
		})
		if err != nil {
			return err
		}
		pass.UseResource(e.cb.Handle(), device.AccessRead)
		pass.UseResource(e.uniforms, device.AccessRead)
		pass.UseResource(e.texture, device.AccessRead)
		for _, vb := range e.vertexBuffers {
			pass.UseResource(vb, device.AccessRead)
		}
		if err := icb.Execute(pass, e.cb, e.fullRange()); err != nil {
			return err
		}
		pass.End()
		return nil
	}, e.pace.CompletionHook())
}

// drainShaderEvents applies pending shader changes between frames. The
// reload waits for in-flight work, so pipelines are never destroyed under a
// running pass.
func (e *Engine) drainShaderEvents() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case path := <-e.watcher.Events():
			core.LogInfo("shader changed: %s", path)
			r, ok := e.dev.(shaderReloader)
			if !ok {
				continue
			}
			if err := e.dev.SubmitAndWait("shader-reload", r.ReloadShaders); err != nil {
				core.LogError("shader reload failed: %s", err.Error())
			}
		default:
			return
		}
	}
}

// Shutdown releases everything. Safe to call after Run returned.
func (e *Engine) Shutdown() {
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("shader watcher close: %s", err.Error())
		}
	}
	e.dev.WaitIdle()
	e.dev.Destroy()
	core.LogInfo("engine shut down after %d frames", e.frames.Frame())
}
