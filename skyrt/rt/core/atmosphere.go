package core

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrInvalidAtmosphere = errors.New("invalid atmosphere parameters")

// AtmosphereParameters describes one planet's atmosphere. Distances are in
// kilometers, coefficients in 1/km.
type AtmosphereParameters struct {
	BottomRadius float32
	TopRadius    float32
	GroundAlbedo mgl32.Vec3

	RayleighDensityExpScale float32
	RayleighScattering      mgl32.Vec3

	MieDensityExpScale float32
	MieScattering      float32
	MieAbsorption      float32
	MieAsymmetry       float32

	OzoneLayerCenterAltitude float32
	OzoneLayerHalfWidth      float32
	OzoneAbsorption          mgl32.Vec3
}

// EarthAtmosphere returns parameters approximating Earth's atmosphere.
func EarthAtmosphere() AtmosphereParameters {
	return AtmosphereParameters{
		BottomRadius:             6360,
		TopRadius:                6460,
		GroundAlbedo:             mgl32.Vec3{0.3, 0.3, 0.3},
		RayleighDensityExpScale:  -1.0 / 8.0,
		RayleighScattering:       mgl32.Vec3{0.005802, 0.013558, 0.033100},
		MieDensityExpScale:       -1.0 / 1.2,
		MieScattering:            0.03996,
		MieAbsorption:            0.000444,
		MieAsymmetry:             0.8,
		OzoneLayerCenterAltitude: 25,
		OzoneLayerHalfWidth:      15,
		OzoneAbsorption:          mgl32.Vec3{0.000650, 0.001881, 0.000085},
	}
}

func (a AtmosphereParameters) Validate() error {
	if !(a.BottomRadius > 0) {
		return fmt.Errorf("%w: bottom radius %v must be positive", ErrInvalidAtmosphere, a.BottomRadius)
	}
	if !(a.TopRadius > a.BottomRadius) {
		return fmt.Errorf("%w: top radius %v must exceed bottom radius %v", ErrInvalidAtmosphere, a.TopRadius, a.BottomRadius)
	}
	if !(a.MieAsymmetry > -1 && a.MieAsymmetry < 1) {
		return fmt.Errorf("%w: mie asymmetry %v must be in (-1, 1)", ErrInvalidAtmosphere, a.MieAsymmetry)
	}
	return nil
}

// AtmosphereUniformSize is the packed size of the Atmosphere WGSL struct.
const AtmosphereUniformSize = 96

func (a AtmosphereParameters) Pack() []byte {
	w := NewUniformWriter(AtmosphereUniformSize)
	w.F32(a.BottomRadius)
	w.F32(a.TopRadius)
	w.Vec3(a.GroundAlbedo)
	w.F32(a.RayleighDensityExpScale)
	w.Vec3(a.RayleighScattering)
	w.F32(a.MieDensityExpScale)
	w.F32(a.MieScattering)
	w.F32(a.MieAbsorption)
	w.F32(a.MieAsymmetry)
	w.F32(a.OzoneLayerCenterAltitude)
	w.F32(a.OzoneLayerHalfWidth)
	w.Vec3(a.OzoneAbsorption)
	return w.Bytes()
}
