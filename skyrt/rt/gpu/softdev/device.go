// Package softdev is a recording, CPU-only implementation of gpu.Device.
//
// It executes submitted command buffers symbolically: every texture carries
// a 64-bit content digest, and each draw or dispatch replaces the digest of
// the textures it writes with a hash of its pipeline, the uniform bytes it
// binds and the digests of the textures it samples. Two runs with identical
// inputs therefore produce identical digests, and a pass that reads a LUT
// before it was written this frame produces a different one.
package softdev

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
)

type texture struct {
	desc      gpu.TextureDescriptor
	contents  uint64
	destroyed bool
}

type buffer struct {
	desc gpu.BufferDescriptor
	data []byte
}

type pipeline struct {
	label    string
	kind     gpu.PipelineKind
	layouts  []gpu.BindGroupLayoutID
	codeHash uint64
	targets  []gpu.ColorTargetState
}

type Device struct {
	mu     sync.Mutex
	caps   gpu.Capabilities
	nextID uint64

	textures   map[gpu.TextureID]*texture
	views      map[gpu.TextureViewID]gpu.TextureID
	buffers    map[gpu.BufferID]*buffer
	samplers   map[gpu.SamplerID]gpu.SamplerDescriptor
	layouts    map[gpu.BindGroupLayoutID]gpu.BindGroupLayoutDescriptor
	bindGroups map[gpu.BindGroupID]gpu.BindGroupDescriptor
	modules    map[gpu.ShaderModuleID]gpu.ShaderModuleDescriptor
	pipelines  map[gpu.PipelineID]*pipeline

	textureFail  func(desc gpu.TextureDescriptor) error
	pipelineFail func(label string) error

	log   []Command
	stats Stats
}

type Stats struct {
	TexturesCreated    int
	TexturesDestroyed  int
	BuffersCreated     int
	BindGroupsCreated  int
	BindGroupsReleased int
	PipelinesCreated   int
	EncodersCreated    int
	EncodersFinished   int
	Submits            int
}

type Option func(*Device)

func WithLimits(l gpu.Limits) Option {
	return func(d *Device) { d.caps.Limits = l }
}

// WithoutStorageWrite models a device that cannot write rgba16float from
// compute shaders.
func WithoutStorageWrite() Option {
	return func(d *Device) { d.caps.StorageWriteFormats = nil }
}

// WithTextureFailure makes CreateTexture return fn's error when non-nil.
func WithTextureFailure(fn func(desc gpu.TextureDescriptor) error) Option {
	return func(d *Device) { d.textureFail = fn }
}

// WithPipelineFailure makes pipeline creation return fn's error when non-nil.
func WithPipelineFailure(fn func(label string) error) Option {
	return func(d *Device) { d.pipelineFail = fn }
}

func New(opts ...Option) *Device {
	d := &Device{
		caps: gpu.Capabilities{
			Limits:              gpu.DefaultLimits(),
			StorageWriteFormats: []gpu.TextureFormat{gpu.TextureFormatRGBA16Float, gpu.TextureFormatRGBA8Unorm},
		},
		textures:   make(map[gpu.TextureID]*texture),
		views:      make(map[gpu.TextureViewID]gpu.TextureID),
		buffers:    make(map[gpu.BufferID]*buffer),
		samplers:   make(map[gpu.SamplerID]gpu.SamplerDescriptor),
		layouts:    make(map[gpu.BindGroupLayoutID]gpu.BindGroupLayoutDescriptor),
		bindGroups: make(map[gpu.BindGroupID]gpu.BindGroupDescriptor),
		modules:    make(map[gpu.ShaderModuleID]gpu.ShaderModuleDescriptor),
		pipelines:  make(map[gpu.PipelineID]*pipeline),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) Capabilities() gpu.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.caps
	c.StorageWriteFormats = slices.Clone(c.StorageWriteFormats)
	return c
}

func (d *Device) SetTextureFailure(fn func(desc gpu.TextureDescriptor) error) {
	d.mu.Lock()
	d.textureFail = fn
	d.mu.Unlock()
}

func (d *Device) CreateTexture(desc *gpu.TextureDescriptor) (gpu.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.textureFail != nil {
		if err := d.textureFail(*desc); err != nil {
			return 0, err
		}
	}
	if desc.Size.Width == 0 || desc.Size.Height == 0 || desc.Size.DepthOrArrayLayers == 0 {
		return 0, fmt.Errorf("texture %q has an empty extent %+v", desc.Label, desc.Size)
	}
	limit := d.caps.Limits.MaxTextureDimension2D
	if desc.Dimension == gpu.TextureDimension3D {
		limit = d.caps.Limits.MaxTextureDimension3D
	}
	if desc.Size.Width > limit || desc.Size.Height > limit {
		return 0, fmt.Errorf("texture %q exceeds the %d texel limit", desc.Label, limit)
	}
	id := gpu.TextureID(d.id())
	d.textures[id] = &texture{desc: *desc}
	d.stats.TexturesCreated++
	return id, nil
}

func (d *Device) CreateTextureView(tex gpu.TextureID) (gpu.TextureViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok || t.destroyed {
		return 0, fmt.Errorf("texture %d is not alive", tex)
	}
	id := gpu.TextureViewID(d.id())
	d.views[id] = tex
	return id, nil
}

func (d *Device) DestroyTexture(tex gpu.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[tex]; ok && !t.destroyed {
		t.destroyed = true
		d.stats.TexturesDestroyed++
	}
}

func (d *Device) CreateBuffer(desc *gpu.BufferDescriptor) (gpu.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.BufferID(d.id())
	d.buffers[id] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	d.stats.BuffersCreated++
	return id, nil
}

func (d *Device) WriteBuffer(buf gpu.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf]
	if !ok {
		return fmt.Errorf("buffer %d does not exist", buf)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.desc.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *Device) DestroyBuffer(buf gpu.BufferID) {
	d.mu.Lock()
	delete(d.buffers, buf)
	d.mu.Unlock()
}

func (d *Device) CreateSampler(desc *gpu.SamplerDescriptor) (gpu.SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.SamplerID(d.id())
	d.samplers[id] = *desc
	return id, nil
}

func (d *Device) CreateBindGroupLayout(desc *gpu.BindGroupLayoutDescriptor) (gpu.BindGroupLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range desc.Entries {
		if e.Type == gpu.BindingTypeStorageTexture && !d.caps.SupportsStorageWrite(e.StorageFormat) {
			return 0, fmt.Errorf("layout %q: %s is not a storage format", desc.Label, e.StorageFormat)
		}
	}
	id := gpu.BindGroupLayoutID(d.id())
	d.layouts[id] = gpu.BindGroupLayoutDescriptor{Label: desc.Label, Entries: slices.Clone(desc.Entries)}
	return id, nil
}

func (d *Device) CreateBindGroup(desc *gpu.BindGroupDescriptor) (gpu.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	layout, ok := d.layouts[desc.Layout]
	if !ok {
		return 0, fmt.Errorf("bind group %q: unknown layout %d", desc.Label, desc.Layout)
	}
	if len(layout.Entries) != len(desc.Entries) {
		return 0, fmt.Errorf("bind group %q: %d entries for a layout of %d", desc.Label, len(desc.Entries), len(layout.Entries))
	}
	for _, le := range layout.Entries {
		e, ok := findEntry(desc.Entries, le.Binding)
		if !ok {
			return 0, fmt.Errorf("bind group %q: binding %d missing", desc.Label, le.Binding)
		}
		if err := d.checkEntry(le, e); err != nil {
			return 0, fmt.Errorf("bind group %q binding %d: %w", desc.Label, le.Binding, err)
		}
	}
	id := gpu.BindGroupID(d.id())
	d.bindGroups[id] = gpu.BindGroupDescriptor{Label: desc.Label, Layout: desc.Layout, Entries: slices.Clone(desc.Entries)}
	d.stats.BindGroupsCreated++
	return id, nil
}

func findEntry(entries []gpu.BindGroupEntry, binding uint32) (gpu.BindGroupEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpu.BindGroupEntry{}, false
}

func (d *Device) checkEntry(le gpu.BindGroupLayoutEntry, e gpu.BindGroupEntry) error {
	switch le.Type {
	case gpu.BindingTypeUniformBuffer:
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return fmt.Errorf("buffer %d does not exist", e.Buffer)
		}
		if b.desc.Usage&gpu.BufferUsageUniform == 0 {
			return fmt.Errorf("buffer %q lacks uniform usage", b.desc.Label)
		}
		if e.Size < le.MinBindingSize {
			return fmt.Errorf("binding size %d below minimum %d", e.Size, le.MinBindingSize)
		}
	case gpu.BindingTypeSampler:
		if _, ok := d.samplers[e.Sampler]; !ok {
			return fmt.Errorf("sampler %d does not exist", e.Sampler)
		}
	case gpu.BindingTypeSampledTexture, gpu.BindingTypeDepthTexture, gpu.BindingTypeStorageTexture:
		t, err := d.viewTexture(e.Texture)
		if err != nil {
			return err
		}
		wantDim := gpu.TextureDimension2D
		if le.ViewDimension == gpu.TextureViewDimension3D {
			wantDim = gpu.TextureDimension3D
		}
		if t.desc.Dimension != wantDim {
			return fmt.Errorf("texture %q has the wrong dimension", t.desc.Label)
		}
		switch le.Type {
		case gpu.BindingTypeStorageTexture:
			if t.desc.Usage&gpu.TextureUsageStorageBinding == 0 {
				return fmt.Errorf("texture %q lacks storage usage", t.desc.Label)
			}
			if t.desc.Format != le.StorageFormat {
				return fmt.Errorf("texture %q is %s, layout wants %s", t.desc.Label, t.desc.Format, le.StorageFormat)
			}
		case gpu.BindingTypeDepthTexture:
			if t.desc.Format != gpu.TextureFormatDepth32Float {
				return fmt.Errorf("texture %q is not a depth texture", t.desc.Label)
			}
		default:
			if t.desc.Usage&gpu.TextureUsageTextureBinding == 0 {
				return fmt.Errorf("texture %q lacks texture binding usage", t.desc.Label)
			}
		}
	}
	return nil
}

func (d *Device) viewTexture(view gpu.TextureViewID) (*texture, error) {
	tid, ok := d.views[view]
	if !ok {
		return nil, fmt.Errorf("texture view %d does not exist", view)
	}
	t := d.textures[tid]
	if t.destroyed {
		return nil, fmt.Errorf("texture %q was destroyed", t.desc.Label)
	}
	return t, nil
}

func (d *Device) ReleaseBindGroup(bg gpu.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bindGroups[bg]; ok {
		delete(d.bindGroups, bg)
		d.stats.BindGroupsReleased++
	}
}

func (d *Device) CreateShaderModule(desc *gpu.ShaderModuleDescriptor) (gpu.ShaderModuleID, error) {
	if desc.Code == "" {
		return 0, fmt.Errorf("shader module %q is empty", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.ShaderModuleID(d.id())
	d.modules[id] = *desc
	return id, nil
}

func (d *Device) createPipeline(label string, kind gpu.PipelineKind, layouts []gpu.BindGroupLayoutID, module gpu.ShaderModuleID, targets []gpu.ColorTargetState) (gpu.PipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipelineFail != nil {
		if err := d.pipelineFail(label); err != nil {
			return 0, err
		}
	}
	m, ok := d.modules[module]
	if !ok {
		return 0, fmt.Errorf("pipeline %q: unknown shader module", label)
	}
	for _, l := range layouts {
		if _, ok := d.layouts[l]; !ok {
			return 0, fmt.Errorf("pipeline %q: unknown layout %d", label, l)
		}
	}
	h := fnv.New64a()
	h.Write([]byte(m.Code))
	id := gpu.PipelineID(d.id())
	d.pipelines[id] = &pipeline{
		label:    label,
		kind:     kind,
		layouts:  slices.Clone(layouts),
		codeHash: h.Sum64(),
		targets:  slices.Clone(targets),
	}
	d.stats.PipelinesCreated++
	return id, nil
}

func (d *Device) CreateRenderPipeline(desc *gpu.RenderPipelineDescriptor) (gpu.PipelineID, error) {
	if desc.Vertex.Module != desc.Fragment.Module {
		return 0, fmt.Errorf("pipeline %q: vertex and fragment must share a module", desc.Label)
	}
	return d.createPipeline(desc.Label, gpu.PipelineKindRender, desc.Layouts, desc.Fragment.Module, desc.Targets)
}

func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDescriptor) (gpu.PipelineID, error) {
	return d.createPipeline(desc.Label, gpu.PipelineKindCompute, desc.Layouts, desc.Compute.Module, nil)
}

func (d *Device) CreateCommandEncoder(label string) (gpu.CommandEncoder, error) {
	d.mu.Lock()
	d.stats.EncodersCreated++
	d.mu.Unlock()
	return &encoder{dev: d, label: label}, nil
}

// Contents returns the digest of a texture's current contents. Zero means
// never written.
func (d *Device) Contents(tex gpu.TextureID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[tex]; ok {
		return t.contents
	}
	return 0
}

// TextureDescriptor returns the descriptor a texture was created with.
func (d *Device) TextureDescriptor(tex gpu.TextureID) (gpu.TextureDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return gpu.TextureDescriptor{}, false
	}
	return t.desc, true
}

// LiveTextures counts textures created and not yet destroyed.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.TexturesCreated - d.stats.TexturesDestroyed
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ReadTexture synthesizes rgba16float texels from the content digest. The
// alpha channel is always 1.
func (d *Device) ReadTexture(tex gpu.TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok || t.destroyed {
		return nil, fmt.Errorf("texture %d is not alive", tex)
	}
	if t.desc.Format != gpu.TextureFormatRGBA16Float {
		return nil, fmt.Errorf("texture %q: readback supports rgba16float only", t.desc.Label)
	}
	n := int(t.desc.Size.Width * t.desc.Size.Height * t.desc.Size.DepthOrArrayLayers)
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		h := mix(t.contents, uint64(i))
		for c := 0; c < 3; c++ {
			// exponent 14 keeps every channel in [0.5, 1)
			half := uint16(14<<10) | uint16(h>>(uint(c)*10))&0x3ff
			binary.LittleEndian.PutUint16(out[i*8+c*2:], half)
		}
		binary.LittleEndian.PutUint16(out[i*8+6:], 0x3c00)
	}
	return out, nil
}

func mix(a, b uint64) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	h.Write(buf[:])
	return h.Sum64()
}
