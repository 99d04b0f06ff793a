package softdev

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
)

type Op int

const (
	OpPushDebugGroup Op = iota
	OpPopDebugGroup
	OpBeginRenderPass
	OpBeginComputePass
	OpDraw
	OpDispatch
	OpEndPass
)

func (o Op) String() string {
	return [...]string{"push_debug_group", "pop_debug_group", "begin_render_pass", "begin_compute_pass", "draw", "dispatch", "end_pass"}[o]
}

// Command is one executed entry of the device's command log.
type Command struct {
	Encoder    string
	Op         Op
	Label      string // debug group or pass label
	Pipeline   string
	Workgroups [3]uint32
	Writes     []gpu.TextureID
	Load       gpu.LoadOp
}

type recorded struct {
	cmd Command

	pipeline gpu.PipelineID
	bindings []boundGroup
	colors   []gpu.RenderPassColorAttachment
	depth    *gpu.RenderPassDepthAttachment
}

type boundGroup struct {
	index   uint32
	group   gpu.BindGroupID
	offsets []uint32
}

type encoder struct {
	dev      *Device
	label    string
	ops      []recorded
	finished bool
	err      error
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("encoder %q: "+format, append([]any{e.label}, args...)...)
	}
}

func (e *encoder) PushDebugGroup(label string) {
	e.ops = append(e.ops, recorded{cmd: Command{Op: OpPushDebugGroup, Label: label}})
}

func (e *encoder) PopDebugGroup() {
	e.ops = append(e.ops, recorded{cmd: Command{Op: OpPopDebugGroup}})
}

func (e *encoder) BeginRenderPass(desc *gpu.RenderPassDescriptor) gpu.RenderPassEncoder {
	p := &pass{enc: e, label: desc.Label, colors: slices.Clone(desc.ColorAttachments), depth: desc.Depth}
	r := recorded{cmd: Command{Op: OpBeginRenderPass, Label: desc.Label}, colors: p.colors, depth: desc.Depth}
	if len(desc.ColorAttachments) > 0 {
		r.cmd.Load = desc.ColorAttachments[0].LoadOp
	}
	e.ops = append(e.ops, r)
	return p
}

func (e *encoder) BeginComputePass(label string) gpu.ComputePassEncoder {
	e.ops = append(e.ops, recorded{cmd: Command{Op: OpBeginComputePass, Label: label}})
	return &pass{enc: e, label: label, compute: true}
}

func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("encoder %q finished twice", e.label)
	}
	e.finished = true
	e.dev.mu.Lock()
	e.dev.stats.EncodersFinished++
	e.dev.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &commandBuffer{label: e.label, ops: e.ops}, nil
}

type commandBuffer struct {
	label string
	ops   []recorded
}

func (c *commandBuffer) Label() string { return c.label }

func (c *commandBuffer) Release() {}

type pass struct {
	enc      *encoder
	label    string
	compute  bool
	pipeline gpu.PipelineID
	bindings []boundGroup
	colors   []gpu.RenderPassColorAttachment
	depth    *gpu.RenderPassDepthAttachment
	ended    bool
}

func (p *pass) SetPipeline(id gpu.PipelineID) { p.pipeline = id }

func (p *pass) SetBindGroup(index uint32, bg gpu.BindGroupID, dynamicOffsets []uint32) {
	p.bindings = slices.DeleteFunc(p.bindings, func(b boundGroup) bool { return b.index == index })
	p.bindings = append(p.bindings, boundGroup{index: index, group: bg, offsets: slices.Clone(dynamicOffsets)})
}

func (p *pass) record(op Op, groups [3]uint32) {
	if p.ended {
		p.enc.fail("pass %q used after End", p.label)
		return
	}
	if p.pipeline == 0 {
		p.enc.fail("pass %q: %s without a pipeline", p.label, op)
		return
	}
	p.enc.ops = append(p.enc.ops, recorded{
		cmd:      Command{Op: op, Label: p.label, Workgroups: groups},
		pipeline: p.pipeline,
		bindings: slices.Clone(p.bindings),
		colors:   p.colors,
		depth:    p.depth,
	})
}

func (p *pass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if p.compute {
		p.enc.fail("draw in compute pass %q", p.label)
		return
	}
	p.record(OpDraw, [3]uint32{vertexCount, instanceCount, 0})
}

func (p *pass) DispatchWorkgroups(x, y, z uint32) {
	if !p.compute {
		p.enc.fail("dispatch in render pass %q", p.label)
		return
	}
	if x == 0 || y == 0 || z == 0 {
		p.enc.fail("pass %q: empty dispatch %dx%dx%d", p.label, x, y, z)
		return
	}
	p.record(OpDispatch, [3]uint32{x, y, z})
}

func (p *pass) End() error {
	if p.ended {
		return fmt.Errorf("pass %q ended twice", p.label)
	}
	p.ended = true
	p.enc.ops = append(p.enc.ops, recorded{cmd: Command{Op: OpEndPass, Label: p.label}})
	return nil
}

// Submit executes the buffers in order, appending to the command log. A
// buffer that fails validation is not executed.
func (d *Device) Submit(buffers ...gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Submits++

	for _, b := range buffers {
		cb, ok := b.(*commandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer %T", b)
		}
		for i := range cb.ops {
			if err := d.validate(&cb.ops[i]); err != nil {
				return fmt.Errorf("submit %q: %w", cb.label, err)
			}
		}
		for _, op := range cb.ops {
			cmd := op.cmd
			cmd.Encoder = cb.label
			switch cmd.Op {
			case OpDraw, OpDispatch:
				cmd.Pipeline = d.pipelines[op.pipeline].label
				cmd.Writes = d.execute(op)
			case OpBeginRenderPass:
				cmd.Writes = d.clearAttachments(op)
			}
			d.log = append(d.log, cmd)
		}
	}
	return nil
}

func (d *Device) validate(op *recorded) error {
	if op.cmd.Op != OpDraw && op.cmd.Op != OpDispatch {
		return nil
	}
	p, ok := d.pipelines[op.pipeline]
	if !ok {
		return fmt.Errorf("pass %q: unknown pipeline", op.cmd.Label)
	}
	if (p.kind == gpu.PipelineKindCompute) != (op.cmd.Op == OpDispatch) {
		return fmt.Errorf("pass %q: pipeline %q has the wrong kind", op.cmd.Label, p.label)
	}
	if len(op.bindings) != len(p.layouts) {
		return fmt.Errorf("pass %q: %d bind groups set, pipeline %q wants %d", op.cmd.Label, len(op.bindings), p.label, len(p.layouts))
	}
	align := d.caps.Limits.MinUniformBufferOffsetAlignment
	for _, b := range op.bindings {
		if int(b.index) >= len(p.layouts) {
			return fmt.Errorf("pass %q: bind group index %d out of range", op.cmd.Label, b.index)
		}
		bg, ok := d.bindGroups[b.group]
		if !ok {
			return fmt.Errorf("pass %q: bind group %d was released", op.cmd.Label, b.group)
		}
		if bg.Layout != p.layouts[b.index] {
			return fmt.Errorf("pass %q: bind group %q does not match pipeline %q", op.cmd.Label, bg.Label, p.label)
		}
		layout := d.layouts[bg.Layout]
		dyn := 0
		for _, le := range layout.Entries {
			if le.Type != gpu.BindingTypeUniformBuffer || !le.HasDynamicOffset {
				continue
			}
			if dyn >= len(b.offsets) {
				return fmt.Errorf("pass %q: too few dynamic offsets for %q", op.cmd.Label, bg.Label)
			}
			off := b.offsets[dyn]
			dyn++
			if align > 0 && off%align != 0 {
				return fmt.Errorf("pass %q: dynamic offset %d not aligned to %d", op.cmd.Label, off, align)
			}
			e, _ := findEntry(bg.Entries, le.Binding)
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				return fmt.Errorf("pass %q: uniform buffer of %q was destroyed", op.cmd.Label, bg.Label)
			}
			if e.Offset+uint64(off)+e.Size > uint64(len(buf.data)) {
				return fmt.Errorf("pass %q: dynamic offset %d overruns %q", op.cmd.Label, off, buf.desc.Label)
			}
		}
		if dyn != len(b.offsets) {
			return fmt.Errorf("pass %q: %d dynamic offsets for %d dynamic bindings", op.cmd.Label, len(b.offsets), dyn)
		}
	}
	if op.cmd.Op == OpDraw {
		if len(op.colors) != len(p.targets) {
			return fmt.Errorf("pass %q: %d color attachments for %d targets", op.cmd.Label, len(op.colors), len(p.targets))
		}
		for i, c := range op.colors {
			t, err := d.viewTexture(c.View)
			if err != nil {
				return fmt.Errorf("pass %q: %w", op.cmd.Label, err)
			}
			if t.desc.Usage&gpu.TextureUsageRenderAttachment == 0 {
				return fmt.Errorf("pass %q: %q is not a render attachment", op.cmd.Label, t.desc.Label)
			}
			if t.desc.Format != p.targets[i].Format {
				return fmt.Errorf("pass %q: target %q is %s, pipeline %q renders %s", op.cmd.Label, t.desc.Label, t.desc.Format, p.label, p.targets[i].Format)
			}
		}
	}
	return nil
}

func (d *Device) clearAttachments(op recorded) []gpu.TextureID {
	var writes []gpu.TextureID
	for _, c := range op.colors {
		if c.LoadOp != gpu.LoadOpClear {
			continue
		}
		if t, err := d.viewTexture(c.View); err == nil {
			t.contents = mix(0, uint64(hashColor(c.ClearValue)))
			writes = append(writes, d.views[c.View])
		}
	}
	if op.depth != nil && op.depth.LoadOp == gpu.LoadOpClear {
		if t, err := d.viewTexture(op.depth.View); err == nil {
			t.contents = mix(1, uint64(op.depth.ClearDepth*1e6))
			writes = append(writes, d.views[op.depth.View])
		}
	}
	return writes
}

func hashColor(c gpu.Color) uint32 {
	return uint32(c.R*255)<<24 | uint32(c.G*255)<<16 | uint32(c.B*255)<<8 | uint32(c.A*255)
}

// execute folds the inputs of a draw or dispatch into a digest and stores
// it in every texture the operation writes.
func (d *Device) execute(op recorded) []gpu.TextureID {
	p := d.pipelines[op.pipeline]
	h := fnv.New64a()
	var word [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(word[:], v)
		h.Write(word[:])
	}
	h.Write([]byte(p.label))
	put(p.codeHash)
	put(uint64(op.cmd.Workgroups[0])<<32 | uint64(op.cmd.Workgroups[1]))

	var storage []gpu.TextureID
	bindings := slices.Clone(op.bindings)
	slices.SortFunc(bindings, func(a, b boundGroup) int { return int(a.index) - int(b.index) })
	for _, b := range bindings {
		bg := d.bindGroups[b.group]
		layout := d.layouts[bg.Layout]
		dyn := 0
		for _, le := range layout.Entries {
			e, _ := findEntry(bg.Entries, le.Binding)
			switch le.Type {
			case gpu.BindingTypeUniformBuffer:
				start := e.Offset
				if le.HasDynamicOffset {
					start += uint64(b.offsets[dyn])
					dyn++
				}
				h.Write(d.buffers[e.Buffer].data[start : start+e.Size])
			case gpu.BindingTypeSampledTexture, gpu.BindingTypeDepthTexture:
				put(d.textures[d.views[e.Texture]].contents)
			case gpu.BindingTypeSampler:
				s := d.samplers[e.Sampler]
				put(uint64(s.MagFilter)<<16 | uint64(s.MinFilter)<<8 | uint64(s.MipmapFilter))
			case gpu.BindingTypeStorageTexture:
				storage = append(storage, d.views[e.Texture])
			}
		}
	}
	digest := h.Sum64()

	var writes []gpu.TextureID
	if op.cmd.Op == OpDispatch {
		for i, tid := range storage {
			d.textures[tid].contents = mix(digest, uint64(i))
			writes = append(writes, tid)
		}
		return writes
	}
	for _, c := range op.colors {
		tid := d.views[c.View]
		t := d.textures[tid]
		if c.LoadOp == gpu.LoadOpLoad {
			t.contents = mix(t.contents, digest)
		} else {
			t.contents = digest
		}
		writes = append(writes, tid)
	}
	return writes
}

// Log returns a copy of every executed command since the last ResetLog.
func (d *Device) Log() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.log)
}

func (d *Device) ResetLog() {
	d.mu.Lock()
	d.log = nil
	d.mu.Unlock()
}
