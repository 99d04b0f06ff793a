package gpu_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSources map[string]string

func (s staticSources) Compose(name string, defs []string) (string, error) {
	code, ok := s[name]
	if !ok {
		return "", fmt.Errorf("unknown shader %q", name)
	}
	return code + fmt.Sprint(defs), nil
}

type rejectValidator struct{ name string }

func (v rejectValidator) Validate(name, code string) error {
	if name == v.name {
		return errors.New("parse error")
	}
	return nil
}

type countingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *countingLogger) Debugf(string, ...any) {}

func (l *countingLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *countingLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func newLayout(t *testing.T, dev gpu.Device) gpu.BindGroupLayoutID {
	t.Helper()
	reg, err := gpu.NewLayoutRegistry(dev, nil)
	require.NoError(t, err)
	return reg.Multiscattering
}

func computeDesc(layout gpu.BindGroupLayoutID) gpu.PipelineDescriptor {
	return gpu.PipelineDescriptor{
		Label:  "multiscattering_lut_pipeline",
		Kind:   gpu.PipelineKindCompute,
		Layout: layout,
		Shader: "multiscattering",
		Entry:  "main",
	}
}

func TestPipelineCacheSharesHandlesByKey(t *testing.T) {
	dev := softdev.New()
	cache := gpu.NewPipelineCache(dev, staticSources{"multiscattering": "code"})
	layout := newLayout(t, dev)

	a := cache.GetOrCompile(computeDesc(layout))
	b := cache.GetOrCompile(computeDesc(layout))
	assert.Same(t, a, b)
	assert.Equal(t, 2, a.Refs())
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, dev.Stats().PipelinesCreated)

	id1, ok := a.Pipeline()
	require.True(t, ok)
	id2, _ := b.Pipeline()
	assert.Equal(t, id1, id2)

	cache.Release(a)
	cache.Release(b)
	assert.Equal(t, 0, a.Refs())
	assert.Panics(t, func() { cache.Release(a) })
}

func TestPipelineKeyDeterminism(t *testing.T) {
	base := gpu.PipelineDescriptor{
		Kind:   gpu.PipelineKindRender,
		Layout: 7,
		Shader: "render_sky",
		Entry:  "main",
		Defs:   []string{"B", "A", "A"},
		Format: gpu.TextureFormatBGRA8Unorm,
	}
	other := base
	other.Label = "different label"
	other.Defs = []string{"A", "B"}
	assert.Equal(t, base.Key(), other.Key())

	hdr := base
	hdr.Flags = gpu.PipelineFlagHDR
	assert.NotEqual(t, base.Key(), hdr.Key())

	format := base
	format.Format = gpu.TextureFormatRGBA16Float
	assert.NotEqual(t, base.Key(), format.Key())

	blended := base
	blended.Blend = &gpu.BlendState{Color: gpu.BlendComponent{SrcFactor: gpu.BlendFactorOne, DstFactor: gpu.BlendFactorSrcAlpha}}
	assert.NotEqual(t, base.Key(), blended.Key())
	blended2 := base
	blended2.Blend = &gpu.BlendState{Color: gpu.BlendComponent{SrcFactor: gpu.BlendFactorOne, DstFactor: gpu.BlendFactorSrcAlpha}}
	assert.Equal(t, blended.Key(), blended2.Key())
}

func TestPipelineCacheAsyncCompilation(t *testing.T) {
	dev := softdev.New()
	sched := &gpu.ManualScheduler{}
	cache := gpu.NewPipelineCache(dev, staticSources{"multiscattering": "code"}, gpu.WithScheduler(sched))
	layout := newLayout(t, dev)

	h := cache.GetOrCompile(computeDesc(layout))
	assert.Equal(t, gpu.PipelineQueued, h.State())
	_, ok := h.Pipeline()
	assert.False(t, ok)
	assert.Equal(t, gpu.PipelineStats{Pending: 1}, cache.Poll())

	// asking again does not queue a second job
	cache.GetOrCompile(computeDesc(layout))
	assert.Equal(t, 1, sched.Pending())

	assert.Equal(t, 1, sched.RunPending())
	_, ok = h.Pipeline()
	assert.True(t, ok)
	assert.Equal(t, gpu.PipelineStats{Ready: 1}, cache.Poll())
}

func TestPipelineCacheFailureIsLoggedOnce(t *testing.T) {
	dev := softdev.New()
	logger := &countingLogger{}
	cache := gpu.NewPipelineCache(dev,
		staticSources{"multiscattering": "code"},
		gpu.WithValidator(rejectValidator{name: "multiscattering"}),
		gpu.WithLogger(logger),
	)
	layout := newLayout(t, dev)

	h := cache.GetOrCompile(computeDesc(layout))
	assert.Equal(t, gpu.PipelineFailed, h.State())
	assert.ErrorIs(t, h.Err(), gpu.ErrPipelineFailed)
	_, ok := h.Pipeline()
	assert.False(t, ok)

	cache.Poll()
	cache.Poll()
	assert.Len(t, logger.errors, 1)
	assert.Equal(t, 0, dev.Stats().PipelinesCreated)
}

func TestPipelineCacheUnknownShaderFails(t *testing.T) {
	dev := softdev.New()
	cache := gpu.NewPipelineCache(dev, staticSources{})
	h := cache.GetOrCompile(computeDesc(newLayout(t, dev)))
	assert.Equal(t, gpu.PipelineFailed, h.State())
}

func TestPipelineCacheReset(t *testing.T) {
	dev := softdev.New()
	cache := gpu.NewPipelineCache(dev, staticSources{"multiscattering": "code"})
	layout := newLayout(t, dev)

	a := cache.GetOrCompile(computeDesc(layout))
	cache.Reset()
	assert.Equal(t, 0, cache.Len())
	b := cache.GetOrCompile(computeDesc(layout))
	assert.NotSame(t, a, b)
}

func TestPoolSchedulerCompiles(t *testing.T) {
	dev := softdev.New()
	cache := gpu.NewPipelineCache(dev, staticSources{"multiscattering": "code"}, gpu.WithScheduler(gpu.NewPoolScheduler(2)))
	h := cache.GetOrCompile(computeDesc(newLayout(t, dev)))

	assert.Eventually(t, func() bool {
		return h.State() == gpu.PipelineReady
	}, 5*time.Second, time.Millisecond)
}
