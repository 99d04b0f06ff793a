package gpu

import (
	"fmt"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
)

// LutFormat is the texel format of every LUT. It must be writable as a
// storage texture for the compute passes.
const LutFormat = TextureFormatRGBA16Float

// LayoutRegistry holds the bind group layouts of the atmosphere passes. It
// is built once per device; when the device cannot write LutFormat from
// compute shaders the registry is disabled and holds no layouts.
type LayoutRegistry struct {
	enabled bool
	reason  error

	Transmittance   BindGroupLayoutID
	Multiscattering BindGroupLayoutID
	SkyView         BindGroupLayoutID
	AerialView      BindGroupLayoutID
	RenderSky       BindGroupLayoutID
}

func NewLayoutRegistry(device Device, logger Logger) (*LayoutRegistry, error) {
	logger = orNop(logger)

	caps := device.Capabilities()
	if !caps.SupportsStorageWrite(LutFormat) {
		err := fmt.Errorf("%w: %s storage textures are not writable", ErrCapabilityMissing, LutFormat)
		logger.Warnf("atmosphere rendering disabled: %v", err)
		return &LayoutRegistry{reason: err}, nil
	}

	r := &LayoutRegistry{enabled: true}
	var err error
	create := func(label string, visibility ShaderStage, entries ...BindGroupLayoutEntry) BindGroupLayoutID {
		if err != nil {
			return 0
		}
		var id BindGroupLayoutID
		id, err = device.CreateBindGroupLayout(&BindGroupLayoutDescriptor{
			Label:   label,
			Entries: sequential(visibility, entries...),
		})
		if err != nil {
			err = fmt.Errorf("create %s: %w", label, err)
		}
		return id
	}

	r.Transmittance = create("transmittance_lut_bind_group_layout", ShaderStageFragment,
		uniform(core.AtmosphereUniformSize),
		uniform(core.SettingsUniformSize),
	)
	r.Multiscattering = create("multiscattering_lut_bind_group_layout", ShaderStageCompute,
		uniform(core.AtmosphereUniformSize),
		uniform(core.SettingsUniformSize),
		texture(TextureViewDimension2D),
		filtering(),
		storage(TextureViewDimension2D),
	)
	r.SkyView = create("sky_view_lut_bind_group_layout", ShaderStageFragment,
		uniform(core.AtmosphereUniformSize),
		uniform(core.SettingsUniformSize),
		uniform(core.ViewUniformSize),
		uniform(core.LightsUniformSize),
		texture(TextureViewDimension2D),
		filtering(),
		texture(TextureViewDimension2D),
		filtering(),
	)
	r.AerialView = create("aerial_view_lut_bind_group_layout", ShaderStageCompute,
		uniform(core.AtmosphereUniformSize),
		uniform(core.SettingsUniformSize),
		uniform(core.ViewUniformSize),
		uniform(core.LightsUniformSize),
		texture(TextureViewDimension2D),
		filtering(),
		texture(TextureViewDimension2D),
		filtering(),
		storage(TextureViewDimension3D),
	)
	r.RenderSky = create("render_sky_bind_group_layout", ShaderStageFragment,
		uniform(core.AtmosphereUniformSize),
		uniform(core.SettingsUniformSize),
		uniform(core.ViewUniformSize),
		uniform(core.LightsUniformSize),
		texture(TextureViewDimension2D),
		filtering(),
		texture(TextureViewDimension2D),
		filtering(),
		texture(TextureViewDimension2D),
		filtering(),
		texture(TextureViewDimension3D),
		filtering(),
		BindGroupLayoutEntry{Type: BindingTypeDepthTexture, ViewDimension: TextureViewDimension2D},
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Enabled never changes after construction.
func (r *LayoutRegistry) Enabled() bool { return r.enabled }

// DisabledReason is nil for an enabled registry.
func (r *LayoutRegistry) DisabledReason() error { return r.reason }

func sequential(visibility ShaderStage, entries ...BindGroupLayoutEntry) []BindGroupLayoutEntry {
	out := make([]BindGroupLayoutEntry, len(entries))
	for i, e := range entries {
		e.Binding = uint32(i)
		e.Visibility = visibility
		out[i] = e
	}
	return out
}

func uniform(size uint64) BindGroupLayoutEntry {
	return BindGroupLayoutEntry{Type: BindingTypeUniformBuffer, HasDynamicOffset: true, MinBindingSize: size}
}

func texture(dim TextureViewDimension) BindGroupLayoutEntry {
	return BindGroupLayoutEntry{Type: BindingTypeSampledTexture, ViewDimension: dim}
}

func filtering() BindGroupLayoutEntry {
	return BindGroupLayoutEntry{Type: BindingTypeSampler}
}

func storage(dim TextureViewDimension) BindGroupLayoutEntry {
	return BindGroupLayoutEntry{Type: BindingTypeStorageTexture, ViewDimension: dim, StorageFormat: LutFormat}
}
