package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

var testLimits = TextureLimits{MaxTextureDimension2D: 8192, MaxTextureDimension3D: 2048}

func TestDefaultSettings(t *testing.T) {
	s := DefaultViewLutSettings()
	assert.Equal(t, UVec2{256, 128}, s.TransmittanceLutSize)
	assert.Equal(t, UVec2{32, 32}, s.MultiscatteringLutSize)
	assert.Equal(t, UVec2{192, 108}, s.SkyViewLutSize)
	assert.Equal(t, UVec3{32, 32, 32}, s.AerialViewLutSize)
	assert.Equal(t, uint32(64), s.MultiscatteringLutDirs)
	assert.NoError(t, s.Validate(testLimits))
}

func TestSettingsForViewport(t *testing.T) {
	assert.Equal(t, UVec2{128, 72}, SettingsForViewport(1280, 720).SkyViewLutSize)
	assert.Equal(t, UVec2{1, 1}, SettingsForViewport(5, 9).SkyViewLutSize)
	assert.Equal(t, DefaultViewLutSettings(), SettingsForViewport(0, 0))
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultViewLutSettings()
	s.SkyViewLutSize = UVec2{0, 10}
	assert.ErrorIs(t, s.Validate(testLimits), ErrInvalidLutSettings)

	s = DefaultViewLutSettings()
	s.TransmittanceLutSize = UVec2{8193, 1}
	assert.ErrorIs(t, s.Validate(testLimits), ErrInvalidLutSettings)

	s = DefaultViewLutSettings()
	s.AerialViewLutSize = UVec3{32, 32, 4096}
	assert.ErrorIs(t, s.Validate(testLimits), ErrInvalidLutSettings)

	s = DefaultViewLutSettings()
	s.SkyViewLutSamples = 0
	assert.ErrorIs(t, s.Validate(testLimits), ErrInvalidLutSettings)

	// zero limits mean unbounded
	s = DefaultViewLutSettings()
	s.TransmittanceLutSize = UVec2{100000, 1}
	assert.NoError(t, s.Validate(TextureLimits{}))
}

func TestViewUniformInverse(t *testing.T) {
	cam := NewCameraState()
	cam.Yaw = 0.4
	cam.Pitch = 0.2
	v := cam.ViewUniform(800, 600)

	id := v.ClipFromWorld.Mul4(v.WorldFromClip)
	assert.True(t, id.ApproxEqualThreshold(mgl32.Ident4(), 1e-3))
	assert.Equal(t, cam.Position, v.WorldPosition)
	assert.Equal(t, float32(800), v.Viewport[2])
}

func TestUniformWriterAlignment(t *testing.T) {
	w := NewUniformWriter(0)
	w.F32(1)
	w.Vec3(mgl32.Vec3{1, 2, 3})
	assert.Equal(t, 28, w.Len())
	w.F32(4)
	assert.Equal(t, 32, w.Len())
	w.UVec2(1, 2)
	assert.Equal(t, 40, w.Len())
	assert.Len(t, w.Bytes(), 48)
}
