package sky

import (
	"sync"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
)

// renderSkyBlend adds inscattering on top of the target and attenuates it
// by the transmittance the shader writes to alpha. Sky pixels write alpha 1
// and replace the target.
var renderSkyBlend = gpu.BlendState{
	Color: gpu.BlendComponent{SrcFactor: gpu.BlendFactorOne, DstFactor: gpu.BlendFactorOneMinusSrcAlpha},
	Alpha: gpu.BlendComponent{SrcFactor: gpu.BlendFactorZero, DstFactor: gpu.BlendFactorOne},
}

type renderSkyVariant struct {
	format gpu.TextureFormat
	hdr    bool
}

// Pipelines owns the handles of every atmosphere pipeline. The four LUT
// pipelines are queued on construction, in pass order; render-sky variants
// are queued the first time a target format is seen.
type Pipelines struct {
	cache   *gpu.PipelineCache
	layouts *gpu.LayoutRegistry
	lut     [PassRenderSky]*gpu.PipelineHandle

	mu        sync.Mutex
	renderSky map[renderSkyVariant]*gpu.PipelineHandle
}

func NewPipelines(cache *gpu.PipelineCache, layouts *gpu.LayoutRegistry) *Pipelines {
	p := &Pipelines{
		cache:     cache,
		layouts:   layouts,
		renderSky: make(map[renderSkyVariant]*gpu.PipelineHandle),
	}
	p.lut[PassTransmittance] = cache.GetOrCompile(gpu.PipelineDescriptor{
		Label:  "transmittance_lut_pipeline",
		Kind:   gpu.PipelineKindRender,
		Layout: layouts.Transmittance,
		Shader: shaders.TransmittanceLut,
		Entry:  "main",
		Format: gpu.LutFormat,
	})
	p.lut[PassMultiscattering] = cache.GetOrCompile(gpu.PipelineDescriptor{
		Label:  "multiscattering_lut_pipeline",
		Kind:   gpu.PipelineKindCompute,
		Layout: layouts.Multiscattering,
		Shader: shaders.MultiscatteringLut,
		Entry:  "main",
	})
	p.lut[PassSkyView] = cache.GetOrCompile(gpu.PipelineDescriptor{
		Label:  "sky_view_lut_pipeline",
		Kind:   gpu.PipelineKindRender,
		Layout: layouts.SkyView,
		Shader: shaders.SkyViewLut,
		Entry:  "main",
		Format: gpu.LutFormat,
	})
	p.lut[PassAerialView] = cache.GetOrCompile(gpu.PipelineDescriptor{
		Label:  "aerial_view_lut_pipeline",
		Kind:   gpu.PipelineKindCompute,
		Layout: layouts.AerialView,
		Shader: shaders.AerialViewLut,
		Entry:  "main",
	})
	return p
}

// RenderSky returns the composite pipeline for a target. Non-HDR targets
// get a variant that tonemaps in the shader.
func (p *Pipelines) RenderSky(format gpu.TextureFormat, hdr bool) *gpu.PipelineHandle {
	v := renderSkyVariant{format: format, hdr: hdr}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.renderSky[v]; ok {
		return h
	}
	desc := gpu.PipelineDescriptor{
		Label:  "render_sky_pipeline",
		Kind:   gpu.PipelineKindRender,
		Layout: p.layouts.RenderSky,
		Shader: shaders.RenderSky,
		Entry:  "main",
		Format: format,
		Blend:  &renderSkyBlend,
	}
	if hdr {
		desc.Flags |= gpu.PipelineFlagHDR
	} else {
		desc.Defs = []string{shaders.TonemapInShader}
	}
	h := p.cache.GetOrCompile(desc)
	p.renderSky[v] = h
	return h
}

// Handle returns the pipeline recording pass for a view rendering to format.
func (p *Pipelines) Handle(pass Pass, format gpu.TextureFormat, hdr bool) *gpu.PipelineHandle {
	if pass == PassRenderSky {
		return p.RenderSky(format, hdr)
	}
	return p.lut[pass]
}

// Release drops every handle this set acquired.
func (p *Pipelines) Release() {
	for _, h := range p.lut {
		p.cache.Release(h)
	}
	p.mu.Lock()
	for v, h := range p.renderSky {
		p.cache.Release(h)
		delete(p.renderSky, v)
	}
	p.mu.Unlock()
}
