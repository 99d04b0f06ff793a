package app

import (
	"context"
	"fmt"
	"math"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/debugdump"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/wgpudev"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
	"github.com/gekko3d/atmosphere/skyrt/rt/sky"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Options configure the sky renderer the app drives.
type Options struct {
	Atmosphere     core.AtmosphereParameters
	// Settings returns the LUT settings for the window size. Nil uses
	// core.SettingsForViewport.
	Settings       func(width, height uint32) core.ViewLutSettings
	MaxIdleFrames  int
	LogEveryFrames uint64
	CompileWorkers int
	ValidateWGSL   bool
	Readback       bool
	Logger         gpu.Logger
}

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Gpu    *wgpudev.Device
	Sky    *sky.Renderer
	Camera *core.CameraState
	// SunElevation and SunAzimuth are in radians.
	SunElevation float32
	SunAzimuth   float32
	// AnimateSun advances the sun elevation every update.
	AnimateSun bool

	Options       Options
	ViewID        uuid.UUID
	LastReports   []sky.Report
	MouseCaptured bool

	Frame          uint64
	LastTime       float64
	LastRenderTime float64
	FrameCount     int
	FPS            float64
	FPSTime        float64
}

func NewApp(window *glfw.Window, opts Options) *App {
	cam := core.NewCameraState()
	cam.Position = mgl32.Vec3{0, 200, 0}
	return &App{
		Window:       window,
		Camera:       cam,
		SunElevation: mgl32.DegToRad(10),
		Options:      opts,
		ViewID:       uuid.New(),
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	format := caps.Formats[0]
	for _, f := range caps.Formats {
		if wgpudev.FormatFromWGPU(f) != gpu.TextureFormatUndefined {
			format = f
			break
		}
	}

	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	a.Gpu = wgpudev.New(a.Device, a.Queue)
	return a.initSky()
}

func (a *App) initSky() error {
	var validator gpu.ShaderValidator
	if a.Options.ValidateWGSL {
		validator = shaders.NagaValidator{}
	}
	r, err := sky.NewRenderer(a.Gpu, sky.Options{
		MaxIdleFrames:  a.Options.MaxIdleFrames,
		LogEveryFrames: a.Options.LogEveryFrames,
		Readback:       a.Options.Readback,
		Shaders:        shaders.NewComposer(),
		Scheduler:      gpu.NewPoolScheduler(a.Options.CompileWorkers),
		Validator:      validator,
		Logger:         a.Options.Logger,
	})
	if err != nil {
		return err
	}
	if !r.Enabled() {
		return fmt.Errorf("atmosphere disabled: %w", r.Layouts().DisabledReason())
	}
	a.Sky = r
	return nil
}

func (a *App) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	a.Config.Width = uint32(w)
	a.Config.Height = uint32(h)
	a.Surface.Configure(a.Adapter, a.Device, a.Config)
}

// Update moves the camera from keyboard input and animates the sun.
func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	if a.LastTime == 0 {
		dt = 0
	}
	a.LastTime = now

	speed := a.Camera.Speed * dt
	if a.Window.GetKey(glfw.KeyLeftShift) == glfw.Press {
		speed *= 20
	}
	forward := a.Camera.GetForward()
	right := forward.Cross(mgl32.Vec3{0, 1, 0}).Normalize()
	if a.Window.GetKey(glfw.KeyW) == glfw.Press {
		a.Camera.Position = a.Camera.Position.Add(forward.Mul(speed))
	}
	if a.Window.GetKey(glfw.KeyS) == glfw.Press {
		a.Camera.Position = a.Camera.Position.Sub(forward.Mul(speed))
	}
	if a.Window.GetKey(glfw.KeyD) == glfw.Press {
		a.Camera.Position = a.Camera.Position.Add(right.Mul(speed))
	}
	if a.Window.GetKey(glfw.KeyA) == glfw.Press {
		a.Camera.Position = a.Camera.Position.Sub(right.Mul(speed))
	}
	// stay above ground
	a.Camera.Position[1] = max(a.Camera.Position[1], 1)

	if a.AnimateSun {
		a.SunElevation += dt * 0.05
		if a.SunElevation > math.Pi {
			a.SunElevation = -0.1
		}
	}
}

// SunDirection points from the sun towards the scene.
func (a *App) SunDirection() mgl32.Vec3 {
	el, az := float64(a.SunElevation), float64(a.SunAzimuth)
	toSun := mgl32.Vec3{
		float32(math.Cos(el) * math.Sin(az)),
		float32(math.Sin(el)),
		float32(-math.Cos(el) * math.Cos(az)),
	}
	return toSun.Mul(-1)
}

func (a *App) extractView(target gpu.TextureViewID) sky.ExtractedView {
	w, h := a.Config.Width, a.Config.Height
	settings := core.SettingsForViewport(w, h)
	if a.Options.Settings != nil {
		settings = a.Options.Settings(w, h)
	}
	sun := core.NewSun(a.SunDirection())
	sun.Illuminance = 10
	return sky.ExtractedView{
		ID:           a.ViewID,
		Atmosphere:   a.Options.Atmosphere,
		Settings:     settings,
		View:         a.Camera.ViewUniform(w, h),
		Lights:       core.GpuLights{Directional: []core.DirectionalLight{sun}},
		Target:       target,
		TargetFormat: wgpudev.FormatFromWGPU(a.Config.Format),
	}
}

func (a *App) clearTarget(target gpu.TextureViewID) error {
	enc, err := a.Gpu.CreateCommandEncoder("clear_target")
	if err != nil {
		return err
	}
	pass := enc.BeginRenderPass(&gpu.RenderPassDescriptor{
		Label: "clear_target",
		ColorAttachments: []gpu.RenderPassColorAttachment{{
			View:       target,
			LoadOp:     gpu.LoadOpClear,
			ClearValue: gpu.Color{A: 1},
		}},
	})
	if err := pass.End(); err != nil {
		return err
	}
	cb, err := enc.Finish()
	if err != nil {
		return err
	}
	return a.Gpu.Submit(cb)
}

func (a *App) Render() {
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		fmt.Printf("ERROR: GetCurrentTexture failed: %v\n", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		fmt.Printf("ERROR: CreateView failed: %v\n", err)
		return
	}
	defer view.Release()

	target := a.Gpu.ImportView(view)
	defer a.Gpu.ForgetView(target)

	if err := a.clearTarget(target); err != nil {
		fmt.Printf("ERROR: clear failed: %v\n", err)
		return
	}

	bundles := a.Sky.Prepare(a.Frame, []sky.ExtractedView{a.extractView(target)})
	reports, err := a.Sky.Render(context.Background(), bundles)
	if err != nil {
		fmt.Printf("ERROR: atmosphere render failed: %v\n", err)
	}
	a.LastReports = reports
	a.Sky.EndFrame()
	a.Surface.Present()
	a.Frame++

	now := glfw.GetTime()
	if a.LastRenderTime > 0 {
		a.FrameCount++
		a.FPSTime += now - a.LastRenderTime
		if a.FPSTime >= 1.0 {
			a.FPS = float64(a.FrameCount) / a.FPSTime
			a.FrameCount = 0
			a.FPSTime = 0
		}
	}
	a.LastRenderTime = now
}

// DumpLUTs renders one offscreen frame and writes its LUTs to dir. The app
// must have been created with Options.Readback.
func (a *App) DumpLUTs(dir string) ([]string, error) {
	if !a.Options.Readback {
		return nil, fmt.Errorf("dump requires readback usage on the LUTs")
	}
	// A dedicated target keeps the swapchain image out of the dump frame.
	desc := &gpu.TextureDescriptor{
		Label:         "dump_target",
		Size:          gpu.Extent3D{Width: a.Config.Width, Height: a.Config.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gpu.TextureDimension2D,
		Format:        gpu.TextureFormatRGBA16Float,
		Usage:         gpu.TextureUsageRenderAttachment | gpu.TextureUsageCopySrc,
	}
	tex, err := a.Gpu.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	defer a.Gpu.DestroyTexture(tex)
	target, err := a.Gpu.CreateTextureView(tex)
	if err != nil {
		return nil, err
	}

	v := a.extractView(target)
	v.TargetFormat = gpu.TextureFormatRGBA16Float
	v.HDR = true

	// pipelines compile in the background; give them a few frames
	for i := 0; i < 240; i++ {
		bundles := a.Sky.Prepare(a.Frame, []sky.ExtractedView{v})
		reports, err := a.Sky.Render(context.Background(), bundles)
		if err != nil {
			return nil, err
		}
		if len(reports) == 1 && reports[0].Complete() {
			files, err := debugdump.DumpView(a.Gpu, bundles[0], dir)
			a.Sky.EndFrame()
			a.Frame++
			return files, err
		}
		a.Sky.EndFrame()
		a.Frame++
		a.Device.Poll(true, nil)
		glfw.WaitEventsTimeout(0.01)
	}
	return nil, fmt.Errorf("atmosphere pipelines did not become ready")
}

func (a *App) Release() {
	if a.Gpu != nil {
		a.Gpu.Release()
	}
	if a.Queue != nil {
		a.Queue.Release()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}
