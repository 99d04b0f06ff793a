// Package wgpudev implements gpu.Device on top of cogentcore/webgpu.
package wgpudev

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
)

type texture struct {
	tex   *wgpu.Texture
	desc  gpu.TextureDescriptor
	views []gpu.TextureViewID
}

// Device wraps a wgpu device and queue. Native objects are kept in ID maps so
// render code only ever handles the opaque gpu IDs.
type Device struct {
	device *wgpu.Device
	queue  *wgpu.Queue
	caps   gpu.Capabilities

	mu     sync.Mutex
	nextID uint64

	textures   map[gpu.TextureID]*texture
	views      map[gpu.TextureViewID]*wgpu.TextureView
	external   map[gpu.TextureViewID]*wgpu.TextureView
	buffers    map[gpu.BufferID]*wgpu.Buffer
	samplers   map[gpu.SamplerID]*wgpu.Sampler
	layouts    map[gpu.BindGroupLayoutID]*wgpu.BindGroupLayout
	bindGroups map[gpu.BindGroupID]*wgpu.BindGroup
	modules    map[gpu.ShaderModuleID]*wgpu.ShaderModule
	renders    map[gpu.PipelineID]*wgpu.RenderPipeline
	computes   map[gpu.PipelineID]*wgpu.ComputePipeline
}

// New wraps an existing device. The caller keeps ownership of device and
// queue.
func New(device *wgpu.Device, queue *wgpu.Queue) *Device {
	return &Device{
		device: device,
		queue:  queue,
		caps: gpu.Capabilities{
			Limits: gpu.DefaultLimits(),
			// rgba16float write-only storage is core WebGPU
			StorageWriteFormats: []gpu.TextureFormat{gpu.TextureFormatRGBA16Float, gpu.TextureFormatRGBA8Unorm},
		},
		textures:   make(map[gpu.TextureID]*texture),
		views:      make(map[gpu.TextureViewID]*wgpu.TextureView),
		external:   make(map[gpu.TextureViewID]*wgpu.TextureView),
		buffers:    make(map[gpu.BufferID]*wgpu.Buffer),
		samplers:   make(map[gpu.SamplerID]*wgpu.Sampler),
		layouts:    make(map[gpu.BindGroupLayoutID]*wgpu.BindGroupLayout),
		bindGroups: make(map[gpu.BindGroupID]*wgpu.BindGroup),
		modules:    make(map[gpu.ShaderModuleID]*wgpu.ShaderModule),
		renders:    make(map[gpu.PipelineID]*wgpu.RenderPipeline),
		computes:   make(map[gpu.PipelineID]*wgpu.ComputePipeline),
	}
}

func (d *Device) Capabilities() gpu.Capabilities { return d.caps }

// Native returns the wrapped device for code that renders outside the
// atmosphere passes.
func (d *Device) Native() *wgpu.Device { return d.device }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// ImportView registers a view owned by the caller, such as the current
// swapchain image, so it can be used as a render target.
func (d *Device) ImportView(view *wgpu.TextureView) gpu.TextureViewID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.TextureViewID(d.id())
	d.external[id] = view
	return id
}

// ForgetView drops an imported view without releasing it.
func (d *Device) ForgetView(id gpu.TextureViewID) {
	d.mu.Lock()
	delete(d.external, id)
	d.mu.Unlock()
}

// lookupView must be called with d.mu held.
func (d *Device) lookupView(id gpu.TextureViewID) *wgpu.TextureView {
	if v, ok := d.views[id]; ok {
		return v
	}
	return d.external[id]
}

func (d *Device) CreateTexture(desc *gpu.TextureDescriptor) (gpu.TextureID, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              desc.Size.Width,
			Height:             desc.Size.Height,
			DepthOrArrayLayers: max(desc.Size.DepthOrArrayLayers, 1),
		},
		MipLevelCount: max(desc.MipLevelCount, 1),
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     textureDimension(desc.Dimension),
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return 0, fmt.Errorf("create texture %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.TextureID(d.id())
	d.textures[id] = &texture{tex: tex, desc: *desc}
	return id, nil
}

func (d *Device) CreateTextureView(id gpu.TextureID) (gpu.TextureViewID, error) {
	d.mu.Lock()
	t, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown texture %d", id)
	}

	viewDesc := &wgpu.TextureViewDescriptor{
		Label:           t.desc.Label + "_view",
		Format:          textureFormat(t.desc.Format),
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	}
	if t.desc.Dimension == gpu.TextureDimension3D {
		viewDesc.Dimension = wgpu.TextureViewDimension3D
	}
	if t.desc.Format == gpu.TextureFormatDepth32Float {
		viewDesc.Aspect = wgpu.TextureAspectDepthOnly
	}
	view, err := t.tex.CreateView(viewDesc)
	if err != nil {
		return 0, fmt.Errorf("create view for %s: %w", t.desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	vid := gpu.TextureViewID(d.id())
	d.views[vid] = view
	t.views = append(t.views, vid)
	return vid, nil
}

func (d *Device) DestroyTexture(id gpu.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	delete(d.textures, id)
	var views []*wgpu.TextureView
	if ok {
		for _, vid := range t.views {
			views = append(views, d.views[vid])
			delete(d.views, vid)
		}
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, v := range views {
		v.Release()
	}
	t.tex.Release()
}

func (d *Device) CreateBuffer(desc *gpu.BufferDescriptor) (gpu.BufferID, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return 0, fmt.Errorf("create buffer %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.BufferID(d.id())
	d.buffers[id] = buf
	return id, nil
}

func (d *Device) WriteBuffer(id gpu.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown buffer %d", id)
	}
	return d.queue.WriteBuffer(buf, offset, data)
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		buf.Release()
	}
}

func (d *Device) CreateSampler(desc *gpu.SamplerDescriptor) (gpu.SamplerID, error) {
	mode := wgpu.AddressModeClampToEdge
	if desc.AddressMode == gpu.AddressModeRepeat {
		mode = wgpu.AddressModeRepeat
	}
	mipmap := wgpu.MipmapFilterModeNearest
	if desc.MipmapFilter == gpu.FilterModeLinear {
		mipmap = wgpu.MipmapFilterModeLinear
	}
	s, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         desc.Label,
		AddressModeU:  mode,
		AddressModeV:  mode,
		AddressModeW:  mode,
		MagFilter:     filterMode(desc.MagFilter),
		MinFilter:     filterMode(desc.MinFilter),
		MipmapFilter:  mipmap,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return 0, fmt.Errorf("create sampler %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.SamplerID(d.id())
	d.samplers[id] = s
	return id, nil
}

func (d *Device) CreateBindGroupLayout(desc *gpu.BindGroupLayoutDescriptor) (gpu.BindGroupLayoutID, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: shaderStage(e.Visibility),
		}
		switch e.Type {
		case gpu.BindingTypeUniformBuffer:
			entry.Buffer = wgpu.BufferBindingLayout{
				Type:             wgpu.BufferBindingTypeUniform,
				HasDynamicOffset: e.HasDynamicOffset,
				MinBindingSize:   e.MinBindingSize,
			}
		case gpu.BindingTypeSampledTexture:
			entry.Texture = wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeFloat,
				ViewDimension: viewDimension(e.ViewDimension),
			}
		case gpu.BindingTypeDepthTexture:
			entry.Texture = wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeDepth,
				ViewDimension: wgpu.TextureViewDimension2D,
			}
		case gpu.BindingTypeSampler:
			entry.Sampler = wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering}
		case gpu.BindingTypeStorageTexture:
			entry.StorageTexture = wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        textureFormat(e.StorageFormat),
				ViewDimension: viewDimension(e.ViewDimension),
			}
		default:
			return 0, fmt.Errorf("layout %s: binding %d has unknown type %d", desc.Label, e.Binding, e.Type)
		}
		entries = append(entries, entry)
	}

	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("create bind group layout %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.BindGroupLayoutID(d.id())
	d.layouts[id] = bgl
	return id, nil
}

func (d *Device) CreateBindGroup(desc *gpu.BindGroupDescriptor) (gpu.BindGroupID, error) {
	d.mu.Lock()
	layout, ok := d.layouts[desc.Layout]
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	var missing error
	for _, e := range desc.Entries {
		entry := wgpu.BindGroupEntry{Binding: e.Binding}
		switch {
		case e.Buffer != 0:
			entry.Buffer = d.buffers[e.Buffer]
			entry.Offset = e.Offset
			entry.Size = e.Size
			if entry.Buffer == nil {
				missing = fmt.Errorf("binding %d: unknown buffer %d", e.Binding, e.Buffer)
			}
		case e.Texture != 0:
			entry.TextureView = d.lookupView(e.Texture)
			if entry.TextureView == nil {
				missing = fmt.Errorf("binding %d: unknown texture view %d", e.Binding, e.Texture)
			}
		case e.Sampler != 0:
			entry.Sampler = d.samplers[e.Sampler]
			if entry.Sampler == nil {
				missing = fmt.Errorf("binding %d: unknown sampler %d", e.Binding, e.Sampler)
			}
		}
		entries = append(entries, entry)
	}
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("bind group %s: unknown layout %d", desc.Label, desc.Layout)
	}
	if missing != nil {
		return 0, fmt.Errorf("bind group %s: %w", desc.Label, missing)
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("create bind group %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.BindGroupID(d.id())
	d.bindGroups[id] = bg
	return id, nil
}

func (d *Device) ReleaseBindGroup(id gpu.BindGroupID) {
	d.mu.Lock()
	bg, ok := d.bindGroups[id]
	delete(d.bindGroups, id)
	d.mu.Unlock()
	if ok {
		bg.Release()
	}
}

func (d *Device) CreateShaderModule(desc *gpu.ShaderModuleDescriptor) (gpu.ShaderModuleID, error) {
	mod, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Code},
	})
	if err != nil {
		return 0, fmt.Errorf("create shader module %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.ShaderModuleID(d.id())
	d.modules[id] = mod
	return id, nil
}

func (d *Device) pipelineLayout(label string, ids []gpu.BindGroupLayoutID) (*wgpu.PipelineLayout, error) {
	d.mu.Lock()
	layouts := make([]*wgpu.BindGroupLayout, len(ids))
	for i, id := range ids {
		layouts[i] = d.layouts[id]
	}
	d.mu.Unlock()
	for i, l := range layouts {
		if l == nil {
			return nil, fmt.Errorf("pipeline %s: unknown layout %d", label, ids[i])
		}
	}
	return d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_layout",
		BindGroupLayouts: layouts,
	})
}

func (d *Device) module(label string, id gpu.ShaderModuleID) (*wgpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modules[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: unknown shader module %d", label, id)
	}
	return m, nil
}

func (d *Device) CreateRenderPipeline(desc *gpu.RenderPipelineDescriptor) (gpu.PipelineID, error) {
	layout, err := d.pipelineLayout(desc.Label, desc.Layouts)
	if err != nil {
		return 0, err
	}
	vs, err := d.module(desc.Label, desc.Vertex.Module)
	if err != nil {
		return 0, err
	}
	fs, err := d.module(desc.Label, desc.Fragment.Module)
	if err != nil {
		return 0, err
	}

	targets := make([]wgpu.ColorTargetState, len(desc.Targets))
	for i, t := range desc.Targets {
		targets[i] = wgpu.ColorTargetState{
			Format:    textureFormat(t.Format),
			WriteMask: wgpu.ColorWriteMaskAll,
		}
		if t.Blend != nil {
			targets[i].Blend = &wgpu.BlendState{
				Color: blendComponent(t.Blend.Color),
				Alpha: blendComponent(t.Blend.Alpha),
			}
		}
	}

	p, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: desc.Vertex.EntryPoint,
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: desc.Fragment.EntryPoint,
			Targets:    targets,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create render pipeline %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.PipelineID(d.id())
	d.renders[id] = p
	return id, nil
}

func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDescriptor) (gpu.PipelineID, error) {
	layout, err := d.pipelineLayout(desc.Label, desc.Layouts)
	if err != nil {
		return 0, err
	}
	cs, err := d.module(desc.Label, desc.Compute.Module)
	if err != nil {
		return 0, err
	}
	p, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     cs,
			EntryPoint: desc.Compute.EntryPoint,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create compute pipeline %s: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpu.PipelineID(d.id())
	d.computes[id] = p
	return id, nil
}

func (d *Device) CreateCommandEncoder(label string) (gpu.CommandEncoder, error) {
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder %s: %w", label, err)
	}
	return &encoder{dev: d, enc: enc, label: label}, nil
}

func (d *Device) Submit(buffers ...gpu.CommandBuffer) error {
	cmds := make([]*wgpu.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		cb, ok := b.(*commandBuffer)
		if !ok {
			return fmt.Errorf("submit: command buffer %s was not recorded by this device", b.Label())
		}
		cmds = append(cmds, cb.cmd)
	}
	d.queue.Submit(cmds...)
	for _, c := range cmds {
		c.Release()
	}
	return nil
}

// ReadTexture copies a 2D or 3D texture into host memory. It blocks until
// the copy has been mapped.
func (d *Device) ReadTexture(id gpu.TextureID) ([]byte, error) {
	d.mu.Lock()
	t, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown texture %d", id)
	}
	texel := t.desc.Format.BytesPerTexel()
	if texel == 0 {
		return nil, fmt.Errorf("texture %s: format %s cannot be read back", t.desc.Label, t.desc.Format)
	}

	w, h := t.desc.Size.Width, t.desc.Size.Height
	depth := max(t.desc.Size.DepthOrArrayLayers, 1)
	row := w * texel
	paddedRow := (row + 255) & ^uint32(255)
	size := uint64(paddedRow) * uint64(h) * uint64(depth)

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: t.desc.Label + "_readback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("readback buffer for %s: %w", t.desc.Label, err)
	}
	defer buf.Release()

	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: t.desc.Label + "_readback"})
	if err != nil {
		return nil, err
	}
	enc.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
		},
		&wgpu.ImageCopyBuffer{
			Buffer: buf,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  paddedRow,
				RowsPerImage: h,
			},
		},
		&wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: depth},
	)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	d.queue.Submit(cmd)
	cmd.Release()

	var status wgpu.BufferMapAsyncStatus
	done := false
	err = buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, fmt.Errorf("map readback for %s: %w", t.desc.Label, err)
	}
	for !done {
		d.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map readback for %s: status %d", t.desc.Label, status)
	}
	defer buf.Unmap()

	mapped := buf.GetMappedRange(0, uint(size))
	out := make([]byte, 0, uint64(row)*uint64(h)*uint64(depth))
	for z := uint32(0); z < depth; z++ {
		for y := uint32(0); y < h; y++ {
			start := (uint64(z)*uint64(h) + uint64(y)) * uint64(paddedRow)
			out = append(out, mapped[start:start+uint64(row)]...)
		}
	}
	return out, nil
}

// Release drops every object created through this device.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, bg := range d.bindGroups {
		bg.Release()
	}
	for _, v := range d.views {
		v.Release()
	}
	for _, t := range d.textures {
		t.tex.Release()
	}
	for _, b := range d.buffers {
		b.Release()
	}
	for _, s := range d.samplers {
		s.Release()
	}
	for _, p := range d.renders {
		p.Release()
	}
	for _, p := range d.computes {
		p.Release()
	}
	for _, m := range d.modules {
		m.Release()
	}
	for _, l := range d.layouts {
		l.Release()
	}
	clear(d.bindGroups)
	clear(d.views)
	clear(d.external)
	clear(d.textures)
	clear(d.buffers)
	clear(d.samplers)
	clear(d.renders)
	clear(d.computes)
	clear(d.modules)
	clear(d.layouts)
}

var (
	_ gpu.Device        = (*Device)(nil)
	_ gpu.TextureReader = (*Device)(nil)
)
