package sky

import (
	"fmt"
)

type Pass int

const (
	PassTransmittance Pass = iota
	PassMultiscattering
	PassSkyView
	PassAerialView
	PassRenderSky

	PassCount
)

func (p Pass) String() string {
	switch p {
	case PassTransmittance:
		return "transmittance_lut"
	case PassMultiscattering:
		return "multiscattering_lut"
	case PassSkyView:
		return "sky_view_lut"
	case PassAerialView:
		return "aerial_view_lut"
	case PassRenderSky:
		return "render_sky"
	}
	return fmt.Sprintf("Pass(%d)", int(p))
}

type PassKind uint8

const (
	PassKindRaster PassKind = iota
	PassKindCompute
)

// Resource names a texture flowing between passes.
type Resource string

const (
	ResourceTransmittanceLut   Resource = "transmittance_lut"
	ResourceMultiscatteringLut Resource = "multiscattering_lut"
	ResourceSkyViewLut         Resource = "sky_view_lut"
	ResourceAerialViewLut      Resource = "aerial_view_lut"

	// Provided by the view, never produced by a pass.
	ResourceViewTarget Resource = "view_target"
	ResourceViewDepth  Resource = "view_depth"
)

var externalResources = map[Resource]bool{
	ResourceViewTarget: true,
	ResourceViewDepth:  true,
}

type PassDescriptor struct {
	Pass    Pass
	Kind    PassKind
	Inputs  []Resource
	Outputs []Resource
}

// PassGraph is an ordered list of passes in which every input is either
// external or produced by an earlier pass.
type PassGraph struct {
	passes []PassDescriptor
}

// NewPassGraph panics if passes are out of dependency order.
func NewPassGraph(passes ...PassDescriptor) *PassGraph {
	produced := make(map[Resource]Pass)
	for _, p := range passes {
		for _, in := range p.Inputs {
			if externalResources[in] {
				continue
			}
			if _, ok := produced[in]; !ok {
				panic(fmt.Sprintf("pass %s reads %s before any pass writes it", p.Pass, in))
			}
		}
		for _, out := range p.Outputs {
			if prev, ok := produced[out]; ok {
				panic(fmt.Sprintf("passes %s and %s both write %s", prev, p.Pass, out))
			}
			produced[out] = p.Pass
		}
	}
	return &PassGraph{passes: passes}
}

// DefaultPassGraph is the atmosphere pass order: transmittance,
// multiscattering, sky-view, aerial-view, then the composite.
func DefaultPassGraph() *PassGraph {
	return NewPassGraph(
		PassDescriptor{
			Pass:    PassTransmittance,
			Kind:    PassKindRaster,
			Outputs: []Resource{ResourceTransmittanceLut},
		},
		PassDescriptor{
			Pass:    PassMultiscattering,
			Kind:    PassKindCompute,
			Inputs:  []Resource{ResourceTransmittanceLut},
			Outputs: []Resource{ResourceMultiscatteringLut},
		},
		PassDescriptor{
			Pass:    PassSkyView,
			Kind:    PassKindRaster,
			Inputs:  []Resource{ResourceTransmittanceLut, ResourceMultiscatteringLut},
			Outputs: []Resource{ResourceSkyViewLut},
		},
		PassDescriptor{
			Pass:    PassAerialView,
			Kind:    PassKindCompute,
			Inputs:  []Resource{ResourceTransmittanceLut, ResourceMultiscatteringLut},
			Outputs: []Resource{ResourceAerialViewLut},
		},
		PassDescriptor{
			Pass: PassRenderSky,
			Kind: PassKindRaster,
			Inputs: []Resource{
				ResourceTransmittanceLut,
				ResourceMultiscatteringLut,
				ResourceSkyViewLut,
				ResourceAerialViewLut,
				ResourceViewDepth,
			},
			Outputs: []Resource{ResourceViewTarget},
		},
	)
}

func (g *PassGraph) Passes() []PassDescriptor { return g.passes }
