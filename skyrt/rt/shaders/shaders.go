package shaders

import (
	_ "embed"
)

//go:embed wgsl/types.wgsl
var TypesWGSL string

//go:embed wgsl/fullscreen.wgsl
var FullscreenWGSL string

//go:embed wgsl/functions.wgsl
var FunctionsWGSL string

//go:embed wgsl/transmittance_sampling.wgsl
var TransmittanceSamplingWGSL string

//go:embed wgsl/sampling.wgsl
var SamplingWGSL string

//go:embed wgsl/transmittance_lut.wgsl
var TransmittanceLutWGSL string

//go:embed wgsl/multiscattering_lut.wgsl
var MultiscatteringLutWGSL string

//go:embed wgsl/sky_view_lut.wgsl
var SkyViewLutWGSL string

//go:embed wgsl/aerial_view_lut.wgsl
var AerialViewLutWGSL string

//go:embed wgsl/render_sky.wgsl
var RenderSkyWGSL string

// Shader names understood by NewComposer.
const (
	TransmittanceLut   = "transmittance_lut"
	MultiscatteringLut = "multiscattering_lut"
	SkyViewLut         = "sky_view_lut"
	AerialViewLut      = "aerial_view_lut"
	RenderSky          = "render_sky"
)

// TonemapInShader is set on render-sky variants whose target is not HDR.
const TonemapInShader = "TONEMAP_IN_SHADER"

func builtinModules() map[string]string {
	return map[string]string{
		"types":                  TypesWGSL,
		"fullscreen":             FullscreenWGSL,
		"functions":              FunctionsWGSL,
		"transmittance_sampling": TransmittanceSamplingWGSL,
		"sampling":               SamplingWGSL,
		TransmittanceLut:         TransmittanceLutWGSL,
		MultiscatteringLut:       MultiscatteringLutWGSL,
		SkyViewLut:               SkyViewLutWGSL,
		AerialViewLut:            AerialViewLutWGSL,
		RenderSky:                RenderSkyWGSL,
	}
}
