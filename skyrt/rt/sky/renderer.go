package sky

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"golang.org/x/sync/semaphore"
)

const DefaultLogEveryFrames = 120

type Options struct {
	MaxIdleFrames  int
	LogEveryFrames uint64
	// ParallelViews bounds how many views record at once. Zero means one.
	ParallelViews int
	// Readback adds copy-source usage to the LUTs so they can be dumped.
	Readback bool

	Shaders   gpu.ShaderSource
	Scheduler gpu.Scheduler
	Validator gpu.ShaderValidator
	Logger    gpu.Logger
}

// Renderer drives the atmosphere passes for every view of a frame:
// Prepare builds the bundles, Render records and submits them, EndFrame
// ages cached resources.
type Renderer struct {
	device gpu.Device
	opts   Options
	logger gpu.Logger

	layouts   *gpu.LayoutRegistry
	samplers  *gpu.Samplers
	textures  *gpu.TextureCache
	cache     *gpu.PipelineCache
	pipelines *Pipelines
	sequencer *Sequencer
	limiter   *RateLimiter

	atmosphere *gpu.UniformBuffer
	settings   *gpu.UniformBuffer
	views      *gpu.UniformBuffer
	lights     *gpu.UniformBuffer

	mu         sync.Mutex
	bindGroups []gpu.BindGroupID
}

func NewRenderer(device gpu.Device, opts Options) (*Renderer, error) {
	if opts.Shaders == nil {
		return nil, errors.New("sky: no shader source")
	}
	if opts.LogEveryFrames == 0 {
		opts.LogEveryFrames = DefaultLogEveryFrames
	}
	if opts.ParallelViews <= 0 {
		opts.ParallelViews = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	r := &Renderer{
		device:     device,
		opts:       opts,
		logger:     logger,
		textures:   gpu.NewTextureCache(device, opts.MaxIdleFrames),
		limiter:    NewRateLimiter(opts.LogEveryFrames),
		atmosphere: gpu.NewUniformBuffer(device, "atmosphere_uniforms", core.AtmosphereUniformSize),
		settings:   gpu.NewUniformBuffer(device, "atmosphere_settings_uniforms", core.SettingsUniformSize),
		views:      gpu.NewUniformBuffer(device, "view_uniforms", core.ViewUniformSize),
		lights:     gpu.NewUniformBuffer(device, "light_uniforms", core.LightsUniformSize),
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init() error {
	layouts, err := gpu.NewLayoutRegistry(r.device, r.logger)
	if err != nil {
		return err
	}
	r.layouts = layouts
	if !layouts.Enabled() {
		return nil
	}

	if r.samplers, err = gpu.NewSamplers(r.device); err != nil {
		return err
	}
	var opts []gpu.PipelineCacheOption
	if r.opts.Scheduler != nil {
		opts = append(opts, gpu.WithScheduler(r.opts.Scheduler))
	}
	if r.opts.Validator != nil {
		opts = append(opts, gpu.WithValidator(r.opts.Validator))
	}
	opts = append(opts, gpu.WithLogger(r.logger))
	r.cache = gpu.NewPipelineCache(r.device, r.opts.Shaders, opts...)
	r.pipelines = NewPipelines(r.cache, layouts)
	r.sequencer = NewSequencer(DefaultPassGraph(), r.pipelines)
	return nil
}

// Enabled is false for the whole session when the device lacks a required
// capability.
func (r *Renderer) Enabled() bool { return r.layouts.Enabled() }

func (r *Renderer) Layouts() *gpu.LayoutRegistry { return r.layouts }

func (r *Renderer) Textures() *gpu.TextureCache { return r.textures }

// PipelineCache is nil while the renderer is disabled.
func (r *Renderer) PipelineCache() *gpu.PipelineCache { return r.cache }

func (r *Renderer) SetLogEveryFrames(n uint64) { r.limiter.SetEvery(n) }

// Prepare validates views, uploads their uniforms and leases their LUTs.
// Views that are invalid or whose textures cannot be allocated are left out
// of the result with a rate-limited log line.
func (r *Renderer) Prepare(frame uint64, views []ExtractedView) []*ViewBundle {
	if !r.Enabled() {
		return nil
	}

	limits := r.device.Capabilities().Limits
	texLimits := core.TextureLimits{
		MaxTextureDimension2D: limits.MaxTextureDimension2D,
		MaxTextureDimension3D: limits.MaxTextureDimension3D,
	}

	r.atmosphere.Clear()
	r.settings.Clear()
	r.views.Clear()
	r.lights.Clear()

	valid := make([]ExtractedView, 0, len(views))
	offsets := make([]UniformOffsets, 0, len(views))
	for _, v := range views {
		err := v.Atmosphere.Validate()
		if err == nil {
			err = v.Settings.Validate(texLimits)
		}
		if err != nil {
			r.warnf(v, frame, "skipping atmosphere view %s: %v", v.ID, err)
			continue
		}
		valid = append(valid, v)
		r.pipelines.RenderSky(v.TargetFormat, v.HDR)
		offsets = append(offsets, UniformOffsets{
			Atmosphere: r.atmosphere.Push(v.Atmosphere.Pack()),
			Settings:   r.settings.Push(v.Settings.Pack()),
			View:       r.views.Push(v.View.Pack()),
			Lights:     r.lights.Push(v.Lights.Pack()),
		})
	}
	if len(valid) == 0 {
		return nil
	}
	for _, u := range []*gpu.UniformBuffer{r.atmosphere, r.settings, r.views, r.lights} {
		if err := u.Write(); err != nil {
			r.logger.Errorf("atmosphere uniforms: %v", err)
			return nil
		}
	}

	bundles := make([]*ViewBundle, 0, len(valid))
	for i, v := range valid {
		b, err := r.BuildBundle(v, offsets[i])
		if err != nil {
			r.warnf(v, frame, "skipping atmosphere view %s: %v", v.ID, err)
			continue
		}
		bundles = append(bundles, b)
	}
	return bundles
}

// BuildBundle leases v's textures and creates its binding sets against the
// uniforms written by the current Prepare. It panics if the uniforms were
// not written: binding sets would point at stale or missing data.
func (r *Renderer) BuildBundle(v ExtractedView, offsets UniformOffsets) (*ViewBundle, error) {
	u, err := r.uniformBindings()
	if err != nil {
		panic(err)
	}

	var extra gpu.TextureUsage
	if r.opts.Readback {
		extra = gpu.TextureUsageCopySrc
	}
	b := &ViewBundle{
		ID:           v.ID,
		Settings:     v.Settings,
		Offsets:      offsets,
		Target:       v.Target,
		TargetFormat: v.TargetFormat,
		HDR:          v.HDR,
		Depth:        v.Depth,
	}

	t, ms, sv, av := lutDescriptors(v.Settings, extra)
	if b.Textures.Transmittance, err = r.textures.Get(t); err != nil {
		return nil, err
	}
	if b.Textures.Multiscattering, err = r.textures.Get(ms); err != nil {
		return nil, err
	}
	if b.Textures.SkyView, err = r.textures.Get(sv); err != nil {
		return nil, err
	}
	if b.Textures.AerialView, err = r.textures.Get(av); err != nil {
		return nil, err
	}
	if b.Depth == 0 {
		vp := v.View.Viewport
		depth, err := r.textures.Get(fallbackDepthDescriptor([2]uint32{uint32(vp[2]), uint32(vp[3])}))
		if err != nil {
			return nil, err
		}
		b.Depth = depth.View
	}

	descs := bindGroupDescriptors(b, r.layouts, r.samplers, u)
	created := make([]gpu.BindGroupID, 0, len(descs))
	for pass, desc := range descs {
		id, err := r.device.CreateBindGroup(&desc)
		if err != nil {
			for _, bg := range created {
				r.device.ReleaseBindGroup(bg)
			}
			return nil, fmt.Errorf("%s: %w", Pass(pass), err)
		}
		b.BindGroups[pass] = id
		created = append(created, id)
	}

	r.mu.Lock()
	r.bindGroups = append(r.bindGroups, created...)
	r.mu.Unlock()
	return b, nil
}

func (r *Renderer) uniformBindings() (uniformBindings, error) {
	var u uniformBindings
	for i, buf := range []*gpu.UniformBuffer{r.atmosphere, r.settings, r.views, r.lights} {
		binding, err := buf.Binding()
		if err != nil {
			return u, err
		}
		u[i] = binding
	}
	return u, nil
}

// Render records every bundle on its own encoder, up to ParallelViews at a
// time, then submits the command buffers in bundle order.
func (r *Renderer) Render(ctx context.Context, bundles []*ViewBundle) ([]Report, error) {
	if !r.Enabled() || len(bundles) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(int64(r.opts.ParallelViews))
	buffers := make([]gpu.CommandBuffer, len(bundles))
	reports := make([]Report, len(bundles))
	errs := make([]error, len(bundles))

	var wg sync.WaitGroup
	var ctxErr error
	for i, b := range bundles {
		if err := sem.Acquire(ctx, 1); err != nil {
			ctxErr = err
			break
		}
		wg.Add(1)
		go func(i int, b *ViewBundle) {
			defer wg.Done()
			defer sem.Release(1)
			buffers[i], reports[i], errs[i] = r.recordView(b)
		}(i, b)
	}
	wg.Wait()
	if ctxErr != nil {
		for _, cb := range buffers {
			if cb != nil {
				cb.Release()
			}
		}
		return nil, ctxErr
	}

	submit := make([]gpu.CommandBuffer, 0, len(buffers))
	for i, err := range errs {
		if err != nil {
			r.logger.Errorf("atmosphere view %s: %v", bundles[i].ID, err)
			continue
		}
		submit = append(submit, buffers[i])
	}
	if len(submit) == 0 {
		return reports, nil
	}
	if err := r.device.Submit(submit...); err != nil {
		return reports, fmt.Errorf("submit atmosphere: %w", err)
	}
	return reports, nil
}

func (r *Renderer) recordView(b *ViewBundle) (gpu.CommandBuffer, Report, error) {
	label := "atmosphere_" + b.ID.String()
	enc, err := r.device.CreateCommandEncoder(label)
	if err != nil {
		return nil, Report{View: b.ID}, err
	}
	enc.PushDebugGroup(label)
	report, err := r.sequencer.RecordView(enc, b)
	enc.PopDebugGroup()
	if err != nil {
		// finishing releases the native encoder
		if cb, ferr := enc.Finish(); ferr == nil {
			cb.Release()
		}
		return nil, report, err
	}
	cb, err := enc.Finish()
	return cb, report, err
}

// EndFrame releases the frame's binding sets, ages the texture cache and
// logs pipelines that failed to compile.
func (r *Renderer) EndFrame() gpu.PipelineStats {
	r.mu.Lock()
	groups := r.bindGroups
	r.bindGroups = nil
	r.mu.Unlock()
	for _, bg := range groups {
		r.device.ReleaseBindGroup(bg)
	}

	r.textures.EndFrame()
	if r.cache == nil {
		return gpu.PipelineStats{}
	}
	return r.cache.Poll()
}

// Reset rebuilds every device object after device loss. Textures and
// pipelines are recreated lazily by the following frames. A renderer
// disabled by the capability gate stays disabled and the gate is not
// checked again.
func (r *Renderer) Reset() error {
	if !r.Enabled() {
		return nil
	}
	r.mu.Lock()
	r.bindGroups = nil
	r.mu.Unlock()

	r.textures.Clear()
	for _, u := range []*gpu.UniformBuffer{r.atmosphere, r.settings, r.views, r.lights} {
		u.Destroy()
	}
	if r.pipelines != nil {
		r.pipelines.Release()
	}
	if r.cache != nil {
		r.cache.Reset()
	}
	r.samplers, r.cache, r.pipelines, r.sequencer = nil, nil, nil, nil
	return r.init()
}

// ForgetView drops rate-limiter state of a view that went away.
func (r *Renderer) ForgetView(v ExtractedView) {
	r.limiter.Forget(v.ID.String())
}

func (r *Renderer) warnf(v ExtractedView, frame uint64, format string, args ...any) {
	if r.limiter.Allow(v.ID.String(), frame) {
		r.logger.Warnf(format, args...)
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
