package atmosphere

import (
	"slices"
	"sync"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/google/uuid"
)

// View is a camera that receives a sky. Targets are owned by the caller and
// must stay valid until the frame that renders into them has been submitted.
type View struct {
	ID     uuid.UUID
	Camera *core.CameraState
	Width  uint32
	Height uint32

	Target       gpu.TextureViewID
	TargetFormat gpu.TextureFormat
	HDR          bool
	// Depth is optional. Without it the whole target is treated as sky.
	Depth gpu.TextureViewID

	// Atmosphere and Settings override the world parameters and the
	// configured LUT settings for this view only.
	Atmosphere *core.AtmosphereParameters
	Settings   *core.ViewLutSettings
}

// World is the simulation-side state the atmosphere renderer extracts from
// each frame.
type World struct {
	mu         sync.RWMutex
	atmosphere core.AtmosphereParameters
	lights     []core.DirectionalLight
	views      map[uuid.UUID]*View
	order      []uuid.UUID
}

func NewWorld() *World {
	return &World{
		atmosphere: core.EarthAtmosphere(),
		views:      make(map[uuid.UUID]*View),
	}
}

// AddView registers v and returns its ID, assigning a fresh one when v.ID
// is nil. Re-adding an existing ID replaces the view in place.
func (w *World) AddView(v View) uuid.UUID {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Camera == nil {
		v.Camera = core.NewCameraState()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.views[v.ID]; !ok {
		w.order = append(w.order, v.ID)
	}
	w.views[v.ID] = &v
	return v.ID
}

func (w *World) RemoveView(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.views[id]; !ok {
		return false
	}
	delete(w.views, id)
	w.order = slices.DeleteFunc(w.order, func(o uuid.UUID) bool { return o == id })
	return true
}

// UpdateView applies fn to the stored view under the world lock.
func (w *World) UpdateView(id uuid.UUID, fn func(v *View)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.views[id]
	if ok {
		fn(v)
	}
	return ok
}

// Views returns copies of the registered views in insertion order.
func (w *World) Views() []View {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]View, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.views[id])
	}
	return out
}

func (w *World) SetAtmosphere(a core.AtmosphereParameters) {
	w.mu.Lock()
	w.atmosphere = a
	w.mu.Unlock()
}

func (w *World) Atmosphere() core.AtmosphereParameters {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.atmosphere
}

// SetLights replaces the directional lights. Only the first
// core.MaxDirectionalLights reach the shaders.
func (w *World) SetLights(lights ...core.DirectionalLight) {
	w.mu.Lock()
	w.lights = slices.Clone(lights)
	w.mu.Unlock()
}

func (w *World) Lights() []core.DirectionalLight {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.lights)
}
