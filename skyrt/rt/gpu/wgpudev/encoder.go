package wgpudev

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
)

type commandBuffer struct {
	label string
	cmd   *wgpu.CommandBuffer
}

func (c *commandBuffer) Label() string { return c.label }

func (c *commandBuffer) Release() { c.cmd.Release() }

type encoder struct {
	dev   *Device
	enc   *wgpu.CommandEncoder
	label string
	err   error
}

func (e *encoder) PushDebugGroup(label string) { e.enc.PushDebugGroup(label) }
func (e *encoder) PopDebugGroup()              { e.enc.PopDebugGroup() }

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) BeginRenderPass(desc *gpu.RenderPassDescriptor) gpu.RenderPassEncoder {
	e.dev.mu.Lock()
	attachments := make([]wgpu.RenderPassColorAttachment, len(desc.ColorAttachments))
	for i, a := range desc.ColorAttachments {
		view := e.dev.lookupView(a.View)
		if view == nil {
			e.fail(fmt.Errorf("render pass %s: unknown color view %d", desc.Label, a.View))
		}
		attachments[i] = wgpu.RenderPassColorAttachment{
			View:    view,
			LoadOp:  loadOp(a.LoadOp),
			StoreOp: wgpu.StoreOpStore,
			ClearValue: wgpu.Color{
				R: a.ClearValue.R,
				G: a.ClearValue.G,
				B: a.ClearValue.B,
				A: a.ClearValue.A,
			},
		}
	}
	var depth *wgpu.RenderPassDepthStencilAttachment
	if desc.Depth != nil {
		depth = &wgpu.RenderPassDepthStencilAttachment{
			View:            e.dev.lookupView(desc.Depth.View),
			DepthLoadOp:     loadOp(desc.Depth.LoadOp),
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: desc.Depth.ClearDepth,
		}
	}
	e.dev.mu.Unlock()

	pass := e.enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:                  desc.Label,
		ColorAttachments:       attachments,
		DepthStencilAttachment: depth,
	})
	return &renderPass{enc: e, pass: pass}
}

func (e *encoder) BeginComputePass(label string) gpu.ComputePassEncoder {
	pass := e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	return &computePass{enc: e, pass: pass}
}

func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.err != nil {
		e.enc.Release()
		return nil, e.err
	}
	cmd, err := e.enc.Finish(&wgpu.CommandBufferDescriptor{Label: e.label})
	e.enc.Release()
	if err != nil {
		return nil, fmt.Errorf("finish %s: %w", e.label, err)
	}
	return &commandBuffer{label: e.label, cmd: cmd}, nil
}

func (e *encoder) bindGroup(id gpu.BindGroupID) *wgpu.BindGroup {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	bg, ok := e.dev.bindGroups[id]
	if !ok {
		e.fail(fmt.Errorf("%s: unknown bind group %d", e.label, id))
	}
	return bg
}

type renderPass struct {
	enc  *encoder
	pass *wgpu.RenderPassEncoder
}

func (p *renderPass) SetPipeline(id gpu.PipelineID) {
	p.enc.dev.mu.Lock()
	rp, ok := p.enc.dev.renders[id]
	p.enc.dev.mu.Unlock()
	if !ok {
		p.enc.fail(fmt.Errorf("%s: unknown render pipeline %d", p.enc.label, id))
		return
	}
	p.pass.SetPipeline(rp)
}

func (p *renderPass) SetBindGroup(index uint32, id gpu.BindGroupID, offsets []uint32) {
	if bg := p.enc.bindGroup(id); bg != nil {
		p.pass.SetBindGroup(index, bg, offsets)
	}
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *renderPass) End() error {
	defer p.pass.Release()
	return p.pass.End()
}

type computePass struct {
	enc  *encoder
	pass *wgpu.ComputePassEncoder
}

func (p *computePass) SetPipeline(id gpu.PipelineID) {
	p.enc.dev.mu.Lock()
	cp, ok := p.enc.dev.computes[id]
	p.enc.dev.mu.Unlock()
	if !ok {
		p.enc.fail(fmt.Errorf("%s: unknown compute pipeline %d", p.enc.label, id))
		return
	}
	p.pass.SetPipeline(cp)
}

func (p *computePass) SetBindGroup(index uint32, id gpu.BindGroupID, offsets []uint32) {
	if bg := p.enc.bindGroup(id); bg != nil {
		p.pass.SetBindGroup(index, bg, offsets)
	}
}

func (p *computePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *computePass) End() error {
	defer p.pass.Release()
	return p.pass.End()
}
