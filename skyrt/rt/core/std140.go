package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// UniformWriter packs values with WGSL uniform address space layout rules.
type UniformWriter struct {
	buf []byte
}

func NewUniformWriter(capacity int) *UniformWriter {
	return &UniformWriter{buf: make([]byte, 0, capacity)}
}

func (w *UniformWriter) Len() int { return len(w.buf) }

func (w *UniformWriter) Align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *UniformWriter) F32(v float32) {
	w.Align(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *UniformWriter) U32(v uint32) {
	w.Align(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *UniformWriter) UVec2(x, y uint32) {
	w.Align(8)
	w.U32(x)
	w.U32(y)
}

func (w *UniformWriter) UVec3(x, y, z uint32) {
	w.Align(16)
	w.U32(x)
	w.U32(y)
	w.U32(z)
}

// Vec3 leaves the trailing 4 bytes free so a following scalar packs into them.
func (w *UniformWriter) Vec3(v mgl32.Vec3) {
	w.Align(16)
	w.F32(v[0])
	w.F32(v[1])
	w.F32(v[2])
}

func (w *UniformWriter) Vec4(v mgl32.Vec4) {
	w.Align(16)
	for _, c := range v {
		w.F32(c)
	}
}

// Mat4 writes column-major, matching mgl32 storage order.
func (w *UniformWriter) Mat4(m mgl32.Mat4) {
	w.Align(16)
	for _, c := range m {
		w.F32(c)
	}
}

// Bytes pads the struct to its 16 byte alignment and returns it.
func (w *UniformWriter) Bytes() []byte {
	w.Align(16)
	return w.buf
}
