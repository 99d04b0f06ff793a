package gpu

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

type PipelineKind uint8

const (
	PipelineKindRender PipelineKind = iota
	PipelineKindCompute
)

type PipelineFlags uint32

const (
	// PipelineFlagHDR marks variants writing to an HDR target.
	PipelineFlagHDR PipelineFlags = 1 << iota
)

type PipelineState int32

const (
	PipelineQueued PipelineState = iota
	PipelineCompiling
	PipelineReady
	PipelineFailed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineQueued:
		return "queued"
	case PipelineCompiling:
		return "compiling"
	case PipelineReady:
		return "ready"
	case PipelineFailed:
		return "failed"
	}
	return fmt.Sprintf("PipelineState(%d)", int32(s))
}

// ShaderSource resolves a shader name and its defs to WGSL.
type ShaderSource interface {
	Compose(name string, defs []string) (string, error)
}

// ShaderValidator checks WGSL before it reaches the device.
type ShaderValidator interface {
	Validate(name, code string) error
}

type PipelineDescriptor struct {
	Label  string
	Kind   PipelineKind
	Layout BindGroupLayoutID
	Shader string
	// Entry is the fragment or compute entry point. Render pipelines use the
	// shader's "vertex" entry point for the full-screen triangle.
	Entry  string
	Defs   []string
	Format TextureFormat
	Blend  *BlendState
	Flags  PipelineFlags
}

// PipelineKey identifies a pipeline variant. Equal keys share one handle.
type PipelineKey struct {
	Kind     PipelineKind
	Layout   BindGroupLayoutID
	Shader   string
	Entry    string
	Defs     string
	Format   TextureFormat
	HasBlend bool
	Blend    BlendState
	Flags    PipelineFlags
}

func (d PipelineDescriptor) Key() PipelineKey {
	defs := slices.Clone(d.Defs)
	slices.Sort(defs)
	k := PipelineKey{
		Kind:   d.Kind,
		Layout: d.Layout,
		Shader: d.Shader,
		Entry:  d.Entry,
		Defs:   strings.Join(slices.Compact(defs), ","),
		Format: d.Format,
		Flags:  d.Flags,
	}
	if d.Blend != nil {
		k.HasBlend = true
		k.Blend = *d.Blend
	}
	return k
}

// PipelineHandle resolves to a compiled pipeline once its compilation job
// has finished. All methods are non-blocking.
type PipelineHandle struct {
	key   PipelineKey
	label string
	state atomic.Int32
	refs  atomic.Int32

	id  PipelineID
	err error

	reported bool // guarded by PipelineCache.mu
}

func (h *PipelineHandle) Key() PipelineKey { return h.key }

func (h *PipelineHandle) Label() string { return h.label }

func (h *PipelineHandle) State() PipelineState { return PipelineState(h.state.Load()) }

// Pipeline returns the compiled pipeline, or false while it is not ready.
func (h *PipelineHandle) Pipeline() (PipelineID, bool) {
	if h == nil || h.State() != PipelineReady {
		return 0, false
	}
	return h.id, true
}

func (h *PipelineHandle) Err() error {
	if h.State() != PipelineFailed {
		return nil
	}
	return h.err
}

func (h *PipelineHandle) Refs() int { return int(h.refs.Load()) }

// PipelineCache compiles pipelines asynchronously and shares them by key.
// Entries live until Reset.
type PipelineCache struct {
	mu        sync.Mutex
	device    Device
	sources   ShaderSource
	validator ShaderValidator
	scheduler Scheduler
	logger    Logger
	handles   map[PipelineKey]*PipelineHandle
}

type PipelineCacheOption func(*PipelineCache)

func WithScheduler(s Scheduler) PipelineCacheOption {
	return func(c *PipelineCache) { c.scheduler = s }
}

func WithValidator(v ShaderValidator) PipelineCacheOption {
	return func(c *PipelineCache) { c.validator = v }
}

func WithLogger(l Logger) PipelineCacheOption {
	return func(c *PipelineCache) { c.logger = orNop(l) }
}

func NewPipelineCache(device Device, sources ShaderSource, opts ...PipelineCacheOption) *PipelineCache {
	c := &PipelineCache{
		device:    device,
		sources:   sources,
		scheduler: InlineScheduler{},
		logger:    nopLogger{},
		handles:   make(map[PipelineKey]*PipelineHandle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompile returns the shared handle for desc's key, queueing a
// compilation the first time the key is seen.
func (c *PipelineCache) GetOrCompile(desc PipelineDescriptor) *PipelineHandle {
	key := desc.Key()

	c.mu.Lock()
	if h, ok := c.handles[key]; ok {
		h.refs.Add(1)
		c.mu.Unlock()
		return h
	}
	h := &PipelineHandle{key: key, label: desc.Label}
	h.refs.Store(1)
	c.handles[key] = h
	c.mu.Unlock()

	desc.Defs = slices.Clone(desc.Defs)
	c.scheduler.Schedule(func() { c.compile(h, desc) })
	return h
}

func (c *PipelineCache) Release(h *PipelineHandle) {
	if h != nil && h.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("pipeline %s released more times than acquired", h.label))
	}
}

func (c *PipelineCache) compile(h *PipelineHandle, desc PipelineDescriptor) {
	h.state.Store(int32(PipelineCompiling))
	id, err := c.build(desc)
	if err != nil {
		h.err = fmt.Errorf("%w: %s: %w", ErrPipelineFailed, desc.Label, err)
		h.state.Store(int32(PipelineFailed))
		return
	}
	h.id = id
	h.state.Store(int32(PipelineReady))
}

func (c *PipelineCache) build(desc PipelineDescriptor) (PipelineID, error) {
	code, err := c.sources.Compose(desc.Shader, desc.Defs)
	if err != nil {
		return 0, err
	}
	if c.validator != nil {
		if err := c.validator.Validate(desc.Shader, code); err != nil {
			return 0, err
		}
	}
	module, err := c.device.CreateShaderModule(&ShaderModuleDescriptor{Label: desc.Shader, Code: code})
	if err != nil {
		return 0, err
	}

	switch desc.Kind {
	case PipelineKindCompute:
		return c.device.CreateComputePipeline(&ComputePipelineDescriptor{
			Label:   desc.Label,
			Layouts: []BindGroupLayoutID{desc.Layout},
			Compute: ProgrammableStage{Module: module, EntryPoint: desc.Entry},
		})
	default:
		return c.device.CreateRenderPipeline(&RenderPipelineDescriptor{
			Label:    desc.Label,
			Layouts:  []BindGroupLayoutID{desc.Layout},
			Vertex:   ProgrammableStage{Module: module, EntryPoint: "vertex"},
			Fragment: ProgrammableStage{Module: module, EntryPoint: desc.Entry},
			Targets:  []ColorTargetState{{Format: desc.Format, Blend: desc.Blend}},
		})
	}
}

type PipelineStats struct {
	Pending int
	Ready   int
	Failed  int
}

// Poll reports compilation progress and logs each failed pipeline once.
func (c *PipelineCache) Poll() PipelineStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s PipelineStats
	for _, h := range c.handles {
		switch h.State() {
		case PipelineReady:
			s.Ready++
		case PipelineFailed:
			s.Failed++
			if !h.reported {
				h.reported = true
				c.logger.Errorf("%v", h.err)
			}
		default:
			s.Pending++
		}
	}
	return s
}

func (c *PipelineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Reset forgets every pipeline, e.g. after device loss. Handles held by
// callers keep their last state; jobs still in flight complete into
// orphaned handles.
func (c *PipelineCache) Reset() {
	c.mu.Lock()
	c.handles = make(map[PipelineKey]*PipelineHandle)
	c.mu.Unlock()
}
