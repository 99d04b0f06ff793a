package gpu

import "fmt"

// Samplers used by the LUT passes. All four filter linearly.
type Samplers struct {
	Transmittance   SamplerID
	Multiscattering SamplerID
	SkyView         SamplerID
	AerialView      SamplerID
}

func NewSamplers(device Device) (*Samplers, error) {
	create := func(label string) (SamplerID, error) {
		id, err := device.CreateSampler(&SamplerDescriptor{
			Label:        label,
			AddressMode:  AddressModeClampToEdge,
			MagFilter:    FilterModeLinear,
			MinFilter:    FilterModeLinear,
			MipmapFilter: FilterModeLinear,
		})
		if err != nil {
			return 0, fmt.Errorf("create sampler %s: %w", label, err)
		}
		return id, nil
	}

	var s Samplers
	var err error
	if s.Transmittance, err = create("transmittance_lut_sampler"); err != nil {
		return nil, err
	}
	if s.Multiscattering, err = create("multiscattering_lut_sampler"); err != nil {
		return nil, err
	}
	if s.SkyView, err = create("sky_view_lut_sampler"); err != nil {
		return nil, err
	}
	if s.AerialView, err = create("aerial_view_lut_sampler"); err != nil {
		return nil, err
	}
	return &s, nil
}
