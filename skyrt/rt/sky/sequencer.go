package sky

import (
	"fmt"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/google/uuid"
)

// Report lists what one view recorded in one frame.
type Report struct {
	View    uuid.UUID
	Ran     []Pass
	Skipped []Pass
}

func (r Report) Complete() bool { return len(r.Skipped) == 0 }

// Sequencer records the passes of a PassGraph for one view at a time. It
// holds no per-view state and may record several views concurrently.
type Sequencer struct {
	graph     *PassGraph
	pipelines *Pipelines
}

func NewSequencer(graph *PassGraph, pipelines *Pipelines) *Sequencer {
	return &Sequencer{graph: graph, pipelines: pipelines}
}

// RecordView records b's passes into enc in graph order. A pass whose
// pipeline is not ready yet is skipped, and so is every pass reading a
// resource a skipped pass would have written. Skips are not errors.
func (s *Sequencer) RecordView(enc gpu.CommandEncoder, b *ViewBundle) (Report, error) {
	report := Report{View: b.ID}
	missing := make(map[Resource]bool)

	for _, desc := range s.graph.Passes() {
		pipeline, ready := s.pipelines.Handle(desc.Pass, b.TargetFormat, b.HDR).Pipeline()
		for _, in := range desc.Inputs {
			if missing[in] {
				ready = false
			}
		}
		if !ready {
			for _, out := range desc.Outputs {
				missing[out] = true
			}
			report.Skipped = append(report.Skipped, desc.Pass)
			continue
		}

		if err := s.record(enc, desc, pipeline, b); err != nil {
			return report, fmt.Errorf("%s: %w", desc.Pass, err)
		}
		report.Ran = append(report.Ran, desc.Pass)
	}
	return report, nil
}

func (s *Sequencer) record(enc gpu.CommandEncoder, desc PassDescriptor, pipeline gpu.PipelineID, b *ViewBundle) error {
	bindGroup := b.BindGroups[desc.Pass]
	offsets := b.Offsets.forPass(desc.Pass)

	if desc.Kind == PassKindCompute {
		x, y := s.workgroups(desc.Pass, b)
		pass := enc.BeginComputePass(desc.Pass.String())
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, bindGroup, offsets)
		pass.DispatchWorkgroups(x, y, 1)
		return pass.End()
	}

	attachment := gpu.RenderPassColorAttachment{LoadOp: gpu.LoadOpClear}
	switch desc.Pass {
	case PassTransmittance:
		attachment.View = b.Textures.Transmittance.View
	case PassSkyView:
		attachment.View = b.Textures.SkyView.View
	case PassRenderSky:
		attachment.View = b.Target
		attachment.LoadOp = gpu.LoadOpLoad
	default:
		return fmt.Errorf("no color attachment for raster pass %s", desc.Pass)
	}

	pass := enc.BeginRenderPass(&gpu.RenderPassDescriptor{
		Label:            desc.Pass.String(),
		ColorAttachments: []gpu.RenderPassColorAttachment{attachment},
	})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, offsets)
	pass.Draw(3, 1, 0, 0)
	return pass.End()
}

// workgroups covers the LUT's X and Y. The aerial-view shader walks its
// depth slices in a loop, so Z is always one.
func (s *Sequencer) workgroups(pass Pass, b *ViewBundle) (uint32, uint32) {
	switch pass {
	case PassMultiscattering:
		size := b.Settings.MultiscatteringLutSize
		return WorkgroupCount(size[0], WorkgroupSize), WorkgroupCount(size[1], WorkgroupSize)
	default:
		size := b.Settings.AerialViewLutSize
		return WorkgroupCount(size[0], WorkgroupSize), WorkgroupCount(size[1], WorkgroupSize)
	}
}
