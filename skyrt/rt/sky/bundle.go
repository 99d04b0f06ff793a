package sky

import (
	"fmt"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/google/uuid"
)

// ExtractedView is the render-side copy of one camera view for one frame.
type ExtractedView struct {
	ID         uuid.UUID
	Atmosphere core.AtmosphereParameters
	Settings   core.ViewLutSettings
	View       core.ViewUniform
	Lights     core.GpuLights

	Target       gpu.TextureViewID
	TargetFormat gpu.TextureFormat
	HDR          bool
	// Depth is a reverse-Z Depth32Float view. Zero means the view has no
	// depth buffer and every pixel is treated as sky.
	Depth gpu.TextureViewID
}

// LutTextureSet holds a view's LUT leases for one frame.
type LutTextureSet struct {
	Transmittance   gpu.CachedTexture
	Multiscattering gpu.CachedTexture
	SkyView         gpu.CachedTexture
	AerialView      gpu.CachedTexture
}

// UniformOffsets are the dynamic offsets of a view's uniforms. Every pass of
// the view binds the same offsets.
type UniformOffsets struct {
	Atmosphere uint32
	Settings   uint32
	View       uint32
	Lights     uint32
}

// forPass returns the offsets in binding order for pass's layout.
func (o UniformOffsets) forPass(pass Pass) []uint32 {
	switch pass {
	case PassTransmittance, PassMultiscattering:
		return []uint32{o.Atmosphere, o.Settings}
	default:
		return []uint32{o.Atmosphere, o.Settings, o.View, o.Lights}
	}
}

// ViewBundle is everything the sequencer needs to record one view. It is
// rebuilt every frame and owned by a single goroutine while recording.
type ViewBundle struct {
	ID       uuid.UUID
	Settings core.ViewLutSettings
	Textures LutTextureSet
	Offsets  UniformOffsets

	BindGroups [PassCount]gpu.BindGroupID

	Target       gpu.TextureViewID
	TargetFormat gpu.TextureFormat
	HDR          bool
	Depth        gpu.TextureViewID
}

func lutDescriptors(s core.ViewLutSettings, extra gpu.TextureUsage) (t, ms, sv, av gpu.TextureDescriptor) {
	lut2D := func(label string, size core.UVec2, usage gpu.TextureUsage) gpu.TextureDescriptor {
		return gpu.TextureDescriptor{
			Label:         label,
			Size:          gpu.Extent3D{Width: size[0], Height: size[1], DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gpu.TextureDimension2D,
			Format:        gpu.LutFormat,
			Usage:         usage | extra,
		}
	}
	t = lut2D("transmittance_lut", s.TransmittanceLutSize, gpu.TextureUsageRenderAttachment|gpu.TextureUsageTextureBinding)
	ms = lut2D("multiscattering_lut", s.MultiscatteringLutSize, gpu.TextureUsageStorageBinding|gpu.TextureUsageTextureBinding)
	sv = lut2D("sky_view_lut", s.SkyViewLutSize, gpu.TextureUsageRenderAttachment|gpu.TextureUsageTextureBinding)
	av = gpu.TextureDescriptor{
		Label: "aerial_view_lut",
		Size: gpu.Extent3D{
			Width:              s.AerialViewLutSize[0],
			Height:             s.AerialViewLutSize[1],
			DepthOrArrayLayers: s.AerialViewLutSize[2],
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gpu.TextureDimension3D,
		Format:        gpu.LutFormat,
		Usage:         gpu.TextureUsageStorageBinding | gpu.TextureUsageTextureBinding | extra,
	}
	return t, ms, sv, av
}

func fallbackDepthDescriptor(viewport [2]uint32) gpu.TextureDescriptor {
	return gpu.TextureDescriptor{
		Label:         "atmosphere_fallback_depth",
		Size:          gpu.Extent3D{Width: max(viewport[0], 1), Height: max(viewport[1], 1), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gpu.TextureDimension2D,
		Format:        gpu.TextureFormatDepth32Float,
		Usage:         gpu.TextureUsageTextureBinding | gpu.TextureUsageRenderAttachment,
	}
}

// uniformBindings are the four uniform buffers in binding order.
type uniformBindings [4]gpu.BufferBinding

func (u uniformBindings) entries(n int) []gpu.BindGroupEntry {
	out := make([]gpu.BindGroupEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, gpu.BindGroupEntry{Binding: uint32(i), Buffer: u[i].Buffer, Size: u[i].Size})
	}
	return out
}

func textureEntry(binding uint32, view gpu.TextureViewID) gpu.BindGroupEntry {
	return gpu.BindGroupEntry{Binding: binding, Texture: view}
}

func samplerEntry(binding uint32, s gpu.SamplerID) gpu.BindGroupEntry {
	return gpu.BindGroupEntry{Binding: binding, Sampler: s}
}

// bindGroupDescriptors builds the five binding sets of a bundle in pass
// order, mirroring the layouts of the registry.
func bindGroupDescriptors(b *ViewBundle, layouts *gpu.LayoutRegistry, samplers *gpu.Samplers, u uniformBindings) [PassCount]gpu.BindGroupDescriptor {
	tex := b.Textures
	label := func(pass Pass) string {
		return fmt.Sprintf("%s_bind_group_%s", pass, b.ID)
	}

	var out [PassCount]gpu.BindGroupDescriptor
	out[PassTransmittance] = gpu.BindGroupDescriptor{
		Label:   label(PassTransmittance),
		Layout:  layouts.Transmittance,
		Entries: u.entries(2),
	}
	out[PassMultiscattering] = gpu.BindGroupDescriptor{
		Label:  label(PassMultiscattering),
		Layout: layouts.Multiscattering,
		Entries: append(u.entries(2),
			textureEntry(2, tex.Transmittance.View),
			samplerEntry(3, samplers.Transmittance),
			textureEntry(4, tex.Multiscattering.View),
		),
	}
	out[PassSkyView] = gpu.BindGroupDescriptor{
		Label:  label(PassSkyView),
		Layout: layouts.SkyView,
		Entries: append(u.entries(4),
			textureEntry(4, tex.Transmittance.View),
			samplerEntry(5, samplers.Transmittance),
			textureEntry(6, tex.Multiscattering.View),
			samplerEntry(7, samplers.Multiscattering),
		),
	}
	out[PassAerialView] = gpu.BindGroupDescriptor{
		Label:  label(PassAerialView),
		Layout: layouts.AerialView,
		Entries: append(u.entries(4),
			textureEntry(4, tex.Transmittance.View),
			samplerEntry(5, samplers.Transmittance),
			textureEntry(6, tex.Multiscattering.View),
			samplerEntry(7, samplers.Multiscattering),
			textureEntry(8, tex.AerialView.View),
		),
	}
	out[PassRenderSky] = gpu.BindGroupDescriptor{
		Label:  label(PassRenderSky),
		Layout: layouts.RenderSky,
		Entries: append(u.entries(4),
			textureEntry(4, tex.Transmittance.View),
			samplerEntry(5, samplers.Transmittance),
			textureEntry(6, tex.Multiscattering.View),
			samplerEntry(7, samplers.Multiscattering),
			textureEntry(8, tex.SkyView.View),
			samplerEntry(9, samplers.SkyView),
			textureEntry(10, tex.AerialView.View),
			samplerEntry(11, samplers.AerialView),
			textureEntry(12, b.Depth),
		),
	}
	return out
}
