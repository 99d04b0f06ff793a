package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a Y-up fly camera. Yaw rotates around +Y, pitch tilts
// towards +Y.
type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	FovY        float32 // radians
	Near        float32
	Speed       float32
	Sensitivity float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, 1, 0},
		FovY:        mgl32.DegToRad(60),
		Near:        0.1,
		Speed:       10.0,
		Sensitivity: 0.003,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 1, 0})
}

// GetProjectionMatrix returns an infinite reverse-Z perspective projection:
// depth 1 at the near plane, 0 at infinity.
func (c *CameraState) GetProjectionMatrix(aspect float32) mgl32.Mat4 {
	f := 1 / float32(math.Tan(float64(c.FovY)/2))
	return mgl32.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, 0, -1,
		0, 0, c.Near, 0,
	}
}

// ViewUniform mirrors the View WGSL struct.
type ViewUniform struct {
	ClipFromWorld mgl32.Mat4
	WorldFromClip mgl32.Mat4
	WorldFromView mgl32.Mat4
	ViewFromClip  mgl32.Mat4
	WorldPosition mgl32.Vec3
	Viewport      mgl32.Vec4 // x, y, width, height
}

func (c *CameraState) ViewUniform(width, height uint32) ViewUniform {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	view := c.GetViewMatrix()
	proj := c.GetProjectionMatrix(aspect)
	clipFromWorld := proj.Mul4(view)
	return ViewUniform{
		ClipFromWorld: clipFromWorld,
		WorldFromClip: clipFromWorld.Inv(),
		WorldFromView: view.Inv(),
		ViewFromClip:  proj.Inv(),
		WorldPosition: c.Position,
		Viewport:      mgl32.Vec4{0, 0, float32(width), float32(height)},
	}
}

const ViewUniformSize = 288

func (v ViewUniform) Pack() []byte {
	w := NewUniformWriter(ViewUniformSize)
	w.Mat4(v.ClipFromWorld)
	w.Mat4(v.WorldFromClip)
	w.Mat4(v.WorldFromView)
	w.Mat4(v.ViewFromClip)
	w.Vec3(v.WorldPosition)
	w.Vec4(v.Viewport)
	return w.Bytes()
}
