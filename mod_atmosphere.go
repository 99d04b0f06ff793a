package atmosphere

import (
	"context"
	"fmt"
	"sync"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/shaders"
	"github.com/gekko3d/atmosphere/skyrt/rt/sky"
	"github.com/google/uuid"
)

// AtmosphereModule renders the sky of every World view each frame. It
// installs a World and a TimeModule when the app has none.
type AtmosphereModule struct {
	Device gpu.Device
	// Config starts from DefaultConfig when zero. A non-zero Config must be
	// complete: Install panics if it does not validate. An explicit Config
	// also replaces the atmosphere of an existing World.
	Config Config
	// Scheduler overrides the compile worker pool.
	Scheduler gpu.Scheduler
}

// AtmosphereState is the render-side resource of the module.
type AtmosphereState struct {
	Renderer *sky.Renderer

	mu      sync.Mutex
	config  Config
	logger  Logger
	world   *World
	pending []sky.ExtractedView
	bundles []*sky.ViewBundle
	reports []sky.Report
	stats   gpu.PipelineStats
	seen    map[uuid.UUID]struct{}
}

func (m AtmosphereModule) Install(app *App, cmd *Commands) {
	if m.Device == nil {
		panic("AtmosphereModule requires a device")
	}
	cfg := m.Config
	explicit := cfg != (Config{})
	if !explicit {
		cfg = DefaultConfig()
	} else if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("AtmosphereModule: %v", err))
	}
	if _, ok := Resource[Time](app); !ok {
		TimeModule{}.Install(app, cmd)
	}
	world, ok := Resource[World](app)
	if !ok {
		world = NewWorld()
		cmd.AddResources(world)
	}
	if !ok || explicit {
		world.SetAtmosphere(cfg.Atmosphere.Parameters())
	}

	logger := app.Logger()
	scheduler := m.Scheduler
	if scheduler == nil {
		scheduler = gpu.NewPoolScheduler(cfg.CompileWorkers)
	}
	var validator gpu.ShaderValidator
	if cfg.ValidateShaders {
		validator = shaders.NagaValidator{}
	}
	renderer, err := sky.NewRenderer(m.Device, sky.Options{
		MaxIdleFrames:  cfg.MaxIdleFrames,
		LogEveryFrames: cfg.LogEveryFrames,
		ParallelViews:  cfg.ParallelViews,
		Readback:       cfg.Readback,
		Shaders:        shaders.NewComposer(),
		Scheduler:      scheduler,
		Validator:      validator,
		Logger:         logger,
	})
	if err != nil {
		panic(err)
	}

	cmd.AddResources(&AtmosphereState{
		Renderer: renderer,
		config:   cfg,
		logger:   logger,
		world:    world,
		seen:     make(map[uuid.UUID]struct{}),
	})
	cmd.UseSystem(System(extractAtmosphereViews).InStage(Extract))
	cmd.UseSystem(System(prepareAtmosphere).InStage(Prepare))
	cmd.UseSystem(System(renderAtmosphere).InStage(Render))
	cmd.UseSystem(System(cleanupAtmosphere).InStage(Cleanup))
}

func extractAtmosphereViews(world *World, state *AtmosphereState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	atmosphere := world.Atmosphere()
	lights := core.GpuLights{Directional: world.Lights()}
	views := world.Views()

	state.pending = state.pending[:0]
	current := make(map[uuid.UUID]struct{}, len(views))
	for _, v := range views {
		current[v.ID] = struct{}{}
		e := sky.ExtractedView{
			ID:           v.ID,
			Atmosphere:   atmosphere,
			Settings:     state.config.Lut.Settings(v.Width, v.Height),
			View:         v.Camera.ViewUniform(v.Width, v.Height),
			Lights:       lights,
			Target:       v.Target,
			TargetFormat: v.TargetFormat,
			HDR:          v.HDR,
			Depth:        v.Depth,
		}
		if v.Atmosphere != nil {
			e.Atmosphere = *v.Atmosphere
		}
		if v.Settings != nil {
			e.Settings = *v.Settings
		}
		state.pending = append(state.pending, e)
	}
	for id := range state.seen {
		if _, ok := current[id]; !ok {
			state.Renderer.ForgetView(sky.ExtractedView{ID: id})
		}
	}
	state.seen = current
}

func prepareAtmosphere(t *Time, state *AtmosphereState) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.bundles = state.Renderer.Prepare(t.Frame, state.pending)
}

func renderAtmosphere(state *AtmosphereState) {
	state.mu.Lock()
	defer state.mu.Unlock()
	reports, err := state.Renderer.Render(context.Background(), state.bundles)
	if err != nil {
		state.logger.Errorf("atmosphere: %v", err)
	}
	state.reports = reports
}

func cleanupAtmosphere(state *AtmosphereState) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.stats = state.Renderer.EndFrame()
	state.bundles = nil
	if state.stats.Pending > 0 && state.logger.DebugEnabled() {
		state.logger.Debugf("atmosphere: %d pipelines still compiling", state.stats.Pending)
	}
}

// Reports describes which passes ran for each view in the last frame.
func (s *AtmosphereState) Reports() []sky.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sky.Report(nil), s.reports...)
}

func (s *AtmosphereState) PipelineStats() gpu.PipelineStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *AtmosphereState) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// ApplyConfig takes the fields of c that are safe to change while running:
// debug logging, log cadence, LUT settings and the world atmosphere. Pool
// sizes and readback need a restart.
func (s *AtmosphereState) ApplyConfig(c Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Debug = c.Debug
	s.config.LogEveryFrames = c.LogEveryFrames
	s.config.Lut = c.Lut
	s.config.Atmosphere = c.Atmosphere
	s.world.SetAtmosphere(c.Atmosphere.Parameters())
	s.logger.SetDebug(c.Debug)
	s.Renderer.SetLogEveryFrames(c.LogEveryFrames)
}

// DeviceLost drops every GPU object and rebuilds layouts, samplers and
// pipelines against the device. LUTs are reallocated by the next frame.
func (s *AtmosphereState) DeviceLost() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles = nil
	s.reports = nil
	return s.Renderer.Reset()
}
