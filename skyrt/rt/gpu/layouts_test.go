package gpu_test

import (
	"testing"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutRegistryEnabled(t *testing.T) {
	logger := &countingLogger{}
	reg, err := gpu.NewLayoutRegistry(softdev.New(), logger)
	require.NoError(t, err)

	assert.True(t, reg.Enabled())
	assert.NoError(t, reg.DisabledReason())
	for _, id := range []gpu.BindGroupLayoutID{reg.Transmittance, reg.Multiscattering, reg.SkyView, reg.AerialView, reg.RenderSky} {
		assert.NotZero(t, id)
	}
	assert.Empty(t, logger.warns)
}

func TestLayoutRegistryCapabilityGate(t *testing.T) {
	logger := &countingLogger{}
	reg, err := gpu.NewLayoutRegistry(softdev.New(softdev.WithoutStorageWrite()), logger)
	require.NoError(t, err)

	assert.False(t, reg.Enabled())
	assert.ErrorIs(t, reg.DisabledReason(), gpu.ErrCapabilityMissing)
	assert.Zero(t, reg.Multiscattering)
	assert.Len(t, logger.warns, 1)
	assert.Contains(t, logger.warns[0], "rgba16float")
}

func TestUniformBufferOffsets(t *testing.T) {
	dev := softdev.New()
	ub := gpu.NewUniformBuffer(dev, "atmosphere_uniforms", core.AtmosphereUniformSize)

	_, err := ub.Binding()
	assert.ErrorIs(t, err, gpu.ErrMissingUniformBinding)

	a := ub.Push(make([]byte, core.AtmosphereUniformSize))
	b := ub.Push(make([]byte, core.AtmosphereUniformSize))
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(256), b)

	// pushed but not uploaded yet
	_, err = ub.Binding()
	assert.ErrorIs(t, err, gpu.ErrMissingUniformBinding)

	require.NoError(t, ub.Write())
	binding, err := ub.Binding()
	require.NoError(t, err)
	assert.NotZero(t, binding.Buffer)
	assert.Equal(t, uint64(core.AtmosphereUniformSize), binding.Size)

	// a new frame keeps the buffer but needs a fresh upload
	ub.Clear()
	_, err = ub.Binding()
	assert.ErrorIs(t, err, gpu.ErrMissingUniformBinding)
	assert.Equal(t, uint32(0), ub.Push(make([]byte, 16)))
	require.NoError(t, ub.Write())
	again, err := ub.Binding()
	require.NoError(t, err)
	assert.Equal(t, binding.Buffer, again.Buffer)
	assert.Equal(t, 1, dev.Stats().BuffersCreated)
}

func TestUniformBufferGrows(t *testing.T) {
	dev := softdev.New()
	ub := gpu.NewUniformBuffer(dev, "view_uniforms", core.ViewUniformSize)
	for i := 0; i < 64; i++ {
		ub.Push(make([]byte, core.ViewUniformSize))
	}
	require.NoError(t, ub.Write())
	assert.Equal(t, 1, dev.Stats().BuffersCreated)

	ub.Clear()
	for i := 0; i < 128; i++ {
		ub.Push(make([]byte, core.ViewUniformSize))
	}
	require.NoError(t, ub.Write())
	assert.Equal(t, 2, dev.Stats().BuffersCreated)
}

func TestUniformBufferRejectsOversizedElement(t *testing.T) {
	ub := gpu.NewUniformBuffer(softdev.New(), "settings", core.SettingsUniformSize)
	assert.Panics(t, func() { ub.Push(make([]byte, core.SettingsUniformSize+1)) })
}

func TestSamplers(t *testing.T) {
	s, err := gpu.NewSamplers(softdev.New())
	require.NoError(t, err)
	ids := map[gpu.SamplerID]bool{s.Transmittance: true, s.Multiscattering: true, s.SkyView: true, s.AerialView: true}
	assert.Len(t, ids, 4)
}
