package sky

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	viewA = "6f2a1c1e-0d4b-4c52-9a57-1f0f3e2a9b01"
	viewB = "0b8d7c4a-5e1f-4a3b-8c2d-7e6f5a4b3c02"
)

type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debugf(string, ...any) {}

func (l *recordingLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func newTestRenderer(t *testing.T, dev gpu.Device, opts Options) *Renderer {
	t.Helper()
	opts.Shaders = shaders.NewComposer()
	r, err := NewRenderer(dev, opts)
	require.NoError(t, err)
	return r
}

type target struct {
	texture gpu.TextureID
	view    gpu.TextureViewID
}

func newTarget(t *testing.T, dev gpu.Device) target {
	t.Helper()
	tex, err := dev.CreateTexture(&gpu.TextureDescriptor{
		Label:         "view_target",
		Size:          gpu.Extent3D{Width: 1280, Height: 720, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gpu.TextureDimension2D,
		Format:        gpu.TextureFormatBGRA8Unorm,
		Usage:         gpu.TextureUsageRenderAttachment | gpu.TextureUsageTextureBinding,
	})
	require.NoError(t, err)
	view, err := dev.CreateTextureView(tex)
	require.NoError(t, err)
	return target{texture: tex, view: view}
}

func testView(id string, tgt target) ExtractedView {
	cam := core.NewCameraState()
	return ExtractedView{
		ID:           uuid.MustParse(id),
		Atmosphere:   core.EarthAtmosphere(),
		Settings:     core.DefaultViewLutSettings(),
		View:         cam.ViewUniform(1280, 720),
		Lights:       core.GpuLights{Directional: []core.DirectionalLight{core.NewSun(mgl32.Vec3{0.3, -1, -0.5})}},
		Target:       tgt.view,
		TargetFormat: gpu.TextureFormatBGRA8Unorm,
	}
}

// executed returns the draws and dispatches in the device log.
func executed(dev *softdev.Device) []softdev.Command {
	var out []softdev.Command
	for _, c := range dev.Log() {
		if c.Op == softdev.OpDraw || c.Op == softdev.OpDispatch {
			out = append(out, c)
		}
	}
	return out
}

func pipelineLabels(cmds []softdev.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Pipeline
	}
	return out
}
