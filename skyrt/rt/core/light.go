package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

const MaxDirectionalLights = 10

// DirectionalLight is a sun-like light. Direction points from the light
// towards the scene.
type DirectionalLight struct {
	Direction     mgl32.Vec3
	Color         mgl32.Vec3
	Illuminance   float32 // lux
	AngularSize   float32 // radians
	DiskIntensity float32
}

func NewSun(direction mgl32.Vec3) DirectionalLight {
	return DirectionalLight{
		Direction:     direction.Normalize(),
		Color:         mgl32.Vec3{1, 1, 1},
		Illuminance:   1,
		AngularSize:   0.00930842,
		DiskIntensity: 1,
	}
}

// GpuLights mirrors the Lights WGSL struct. Lights beyond
// MaxDirectionalLights are dropped.
type GpuLights struct {
	Directional []DirectionalLight
}

const LightsUniformSize = MaxDirectionalLights*48 + 16

func (l GpuLights) Count() uint32 {
	return uint32(min(len(l.Directional), MaxDirectionalLights))
}

func (l GpuLights) Pack() []byte {
	w := NewUniformWriter(LightsUniformSize)
	for i := 0; i < MaxDirectionalLights; i++ {
		var d DirectionalLight
		if i < len(l.Directional) {
			d = l.Directional[i]
		}
		toLight := d.Direction.Mul(-1)
		if toLight.Len() > 0 {
			toLight = toLight.Normalize()
		}
		w.Vec3(toLight)
		c := d.Color.Mul(d.Illuminance)
		w.Vec4(mgl32.Vec4{c[0], c[1], c[2], 1})
		w.F32(d.AngularSize)
		w.F32(d.DiskIntensity)
		w.Align(16)
	}
	w.U32(l.Count())
	return w.Bytes()
}
