package core

import (
	"errors"
	"fmt"
)

var ErrInvalidLutSettings = errors.New("invalid lut settings")

type UVec2 [2]uint32

type UVec3 [3]uint32

// ViewLutSettings controls the resolution and sample counts of a view's LUTs.
type ViewLutSettings struct {
	TransmittanceLutSize    UVec2
	TransmittanceLutSamples uint32

	MultiscatteringLutSize    UVec2
	MultiscatteringLutDirs    uint32
	MultiscatteringLutSamples uint32

	SkyViewLutSize    UVec2
	SkyViewLutSamples uint32

	AerialViewLutSize        UVec3
	AerialViewLutSamples     uint32
	AerialViewLutMaxDistance float32 // km

	SceneUnitsToKm float32
}

func DefaultViewLutSettings() ViewLutSettings {
	return ViewLutSettings{
		TransmittanceLutSize:      UVec2{256, 128},
		TransmittanceLutSamples:   40,
		MultiscatteringLutSize:    UVec2{32, 32},
		MultiscatteringLutDirs:    64,
		MultiscatteringLutSamples: 20,
		SkyViewLutSize:            UVec2{192, 108},
		SkyViewLutSamples:         30,
		AerialViewLutSize:         UVec3{32, 32, 32},
		AerialViewLutSamples:      30,
		AerialViewLutMaxDistance:  32,
		SceneUnitsToKm:            0.001,
	}
}

// SettingsForViewport derives the sky-view LUT size from a viewport, one
// texel per ten pixels. A zero viewport yields the defaults.
func SettingsForViewport(width, height uint32) ViewLutSettings {
	s := DefaultViewLutSettings()
	if width == 0 || height == 0 {
		return s
	}
	s.SkyViewLutSize = UVec2{max(1, width/10), max(1, height/10)}
	return s
}

// TextureLimits are the device limits LUT sizes are checked against.
type TextureLimits struct {
	MaxTextureDimension2D uint32
	MaxTextureDimension3D uint32
}

func (s ViewLutSettings) Validate(limits TextureLimits) error {
	check2D := func(name string, size UVec2) error {
		for _, d := range size {
			if d == 0 || (limits.MaxTextureDimension2D > 0 && d > limits.MaxTextureDimension2D) {
				return fmt.Errorf("%w: %s size %v outside (0, %d]", ErrInvalidLutSettings, name, size, limits.MaxTextureDimension2D)
			}
		}
		return nil
	}
	if err := check2D("transmittance", s.TransmittanceLutSize); err != nil {
		return err
	}
	if err := check2D("multiscattering", s.MultiscatteringLutSize); err != nil {
		return err
	}
	if err := check2D("sky-view", s.SkyViewLutSize); err != nil {
		return err
	}
	for _, d := range s.AerialViewLutSize {
		if d == 0 || (limits.MaxTextureDimension3D > 0 && d > limits.MaxTextureDimension3D) {
			return fmt.Errorf("%w: aerial-view size %v outside (0, %d]", ErrInvalidLutSettings, s.AerialViewLutSize, limits.MaxTextureDimension3D)
		}
	}
	samples := []uint32{
		s.TransmittanceLutSamples,
		s.MultiscatteringLutDirs,
		s.MultiscatteringLutSamples,
		s.SkyViewLutSamples,
		s.AerialViewLutSamples,
	}
	for _, n := range samples {
		if n == 0 {
			return fmt.Errorf("%w: sample counts must be positive", ErrInvalidLutSettings)
		}
	}
	return nil
}

// SettingsUniformSize is the packed size of the AtmosphereSettings WGSL struct.
const SettingsUniformSize = 80

func (s ViewLutSettings) Pack() []byte {
	w := NewUniformWriter(SettingsUniformSize)
	w.UVec2(s.TransmittanceLutSize[0], s.TransmittanceLutSize[1])
	w.UVec2(s.MultiscatteringLutSize[0], s.MultiscatteringLutSize[1])
	w.UVec2(s.SkyViewLutSize[0], s.SkyViewLutSize[1])
	w.UVec3(s.AerialViewLutSize[0], s.AerialViewLutSize[1], s.AerialViewLutSize[2])
	w.U32(s.TransmittanceLutSamples)
	w.U32(s.MultiscatteringLutDirs)
	w.U32(s.MultiscatteringLutSamples)
	w.U32(s.SkyViewLutSamples)
	w.U32(s.AerialViewLutSamples)
	w.F32(s.AerialViewLutMaxDistance)
	w.F32(s.SceneUnitsToKm)
	return w.Bytes()
}
