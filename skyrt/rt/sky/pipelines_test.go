package sky

import (
	"testing"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSkyVariants(t *testing.T) {
	dev := softdev.New()
	layouts, err := gpu.NewLayoutRegistry(dev, nil)
	require.NoError(t, err)
	cache := gpu.NewPipelineCache(dev, shaders.NewComposer())
	p := NewPipelines(cache, layouts)
	assert.Equal(t, 4, cache.Len())

	ldr := p.RenderSky(gpu.TextureFormatBGRA8UnormSrgb, false)
	hdr := p.RenderSky(gpu.TextureFormatRGBA16Float, true)
	assert.NotSame(t, ldr, hdr)
	assert.Same(t, ldr, p.RenderSky(gpu.TextureFormatBGRA8UnormSrgb, false))
	assert.Same(t, hdr, p.Handle(PassRenderSky, gpu.TextureFormatRGBA16Float, true))

	assert.Equal(t, shaders.TonemapInShader, ldr.Key().Defs)
	assert.Empty(t, hdr.Key().Defs)
	assert.Equal(t, gpu.PipelineFlagHDR, hdr.Key().Flags)
	assert.True(t, ldr.Key().HasBlend)
	assert.Equal(t, gpu.PipelineReady, ldr.State())

	p.Release()
	for _, h := range []*gpu.PipelineHandle{ldr, hdr, p.lut[PassTransmittance]} {
		assert.Zero(t, h.Refs())
	}
}
