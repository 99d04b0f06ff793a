package debugdump

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"os"
	"testing"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
	"github.com/gekko3d/atmosphere/skyrt/rt/sky"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestHalfToFloat32(t *testing.T) {
	tests := []struct {
		half uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x7bff, 65504},
		{0x0001, 5.9604645e-08},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HalfToFloat32(tt.half), "%#04x", tt.half)
	}
}

func TestWriteLUT(t *testing.T) {
	texels := make([]byte, 2*1*texelSize)
	// texel 0: (1, 0.5, 0, 1); texel 1: (2, -1, 0, 1), clamped
	for i, h := range []uint16{0x3c00, 0x3800, 0, 0x3c00, 0x4000, 0xbc00, 0, 0x3c00} {
		binary.LittleEndian.PutUint16(texels[i*2:], h)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLUT(&buf, 2, 1, texels))

	img, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0x8000, 0, 0xffff}, []uint32{r, g, b, a})
	r, g, _, _ = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0}, []uint32{r, g})
}

func TestWriteLUTRejectsShortData(t *testing.T) {
	assert.Error(t, WriteLUT(&bytes.Buffer{}, 4, 4, make([]byte, 8)))
	assert.Error(t, WriteLUT(&bytes.Buffer{}, 0, 4, nil))
}

func TestDumpView(t *testing.T) {
	dev := softdev.New()
	r, err := sky.NewRenderer(dev, sky.Options{Shaders: shaders.NewComposer(), Readback: true})
	require.NoError(t, err)

	tex, err := dev.CreateTexture(&gpu.TextureDescriptor{
		Label:         "view_target",
		Size:          gpu.Extent3D{Width: 64, Height: 64, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gpu.TextureDimension2D,
		Format:        gpu.TextureFormatRGBA16Float,
		Usage:         gpu.TextureUsageRenderAttachment,
	})
	require.NoError(t, err)
	target, err := dev.CreateTextureView(tex)
	require.NoError(t, err)

	settings := core.DefaultViewLutSettings()
	settings.AerialViewLutSize = core.UVec3{8, 8, 4}
	bundles := r.Prepare(0, []sky.ExtractedView{{
		ID:           uuid.New(),
		Atmosphere:   core.EarthAtmosphere(),
		Settings:     settings,
		View:         core.NewCameraState().ViewUniform(64, 64),
		Lights:       core.GpuLights{Directional: []core.DirectionalLight{core.NewSun(core.NewCameraState().GetForward())}},
		Target:       target,
		TargetFormat: gpu.TextureFormatRGBA16Float,
		HDR:          true,
	}})
	require.Len(t, bundles, 1)
	_, err = r.Render(context.Background(), bundles)
	require.NoError(t, err)

	paths, err := DumpView(dev, bundles[0], t.TempDir())
	require.NoError(t, err)
	require.Len(t, paths, 4)

	f, err := os.Open(paths[3])
	require.NoError(t, err)
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 32, cfg.Height, "aerial-view slices are stacked")
}
