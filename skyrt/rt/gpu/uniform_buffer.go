package gpu

import (
	"fmt"
	"sync"
)

const uniformHeadroom = 4 * 1024

// UniformBuffer is a dynamically indexed uniform buffer rebuilt every
// frame. Each Push returns the dynamic offset of the pushed element.
type UniformBuffer struct {
	mu        sync.Mutex
	device    Device
	label     string
	elemSize  uint64
	alignment uint64

	data     []byte
	buffer   BufferID
	capacity uint64
	written  bool
}

func NewUniformBuffer(device Device, label string, elemSize uint64) *UniformBuffer {
	align := uint64(device.Capabilities().Limits.MinUniformBufferOffsetAlignment)
	if align == 0 {
		align = 256
	}
	return &UniformBuffer{device: device, label: label, elemSize: elemSize, alignment: align}
}

// Clear drops the previous frame's elements. The GPU buffer is kept.
func (u *UniformBuffer) Clear() {
	u.mu.Lock()
	u.data = u.data[:0]
	u.written = false
	u.mu.Unlock()
}

func (u *UniformBuffer) Push(elem []byte) uint32 {
	if uint64(len(elem)) > u.elemSize {
		panic(fmt.Sprintf("%s: element of %d bytes exceeds %d", u.label, len(elem), u.elemSize))
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	offset := alignUp(uint64(len(u.data)), u.alignment)
	grown := offset + u.elemSize
	for uint64(len(u.data)) < grown {
		u.data = append(u.data, 0)
	}
	copy(u.data[offset:], elem)
	return uint32(offset)
}

// Write uploads the pushed elements, growing the GPU buffer when needed.
func (u *UniformBuffer) Write() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.data) == 0 {
		return nil
	}
	size := alignUp(uint64(len(u.data)), 4)
	if u.buffer == 0 || size > u.capacity {
		if u.buffer != 0 {
			u.device.DestroyBuffer(u.buffer)
			u.buffer = 0
		}
		capacity := size + uniformHeadroom
		buf, err := u.device.CreateBuffer(&BufferDescriptor{
			Label: u.label,
			Size:  capacity,
			Usage: BufferUsageUniform | BufferUsageCopyDst,
		})
		if err != nil {
			u.capacity = 0
			return fmt.Errorf("%w: uniform buffer %s: %w", ErrAllocation, u.label, err)
		}
		u.buffer = buf
		u.capacity = capacity
	}
	if err := u.device.WriteBuffer(u.buffer, 0, u.data); err != nil {
		return fmt.Errorf("write %s: %w", u.label, err)
	}
	u.written = true
	return nil
}

// BufferBinding is the bind group entry for one element of a UniformBuffer.
type BufferBinding struct {
	Buffer BufferID
	Size   uint64
}

// Binding fails with ErrMissingUniformBinding unless this frame's data has
// been written.
func (u *UniformBuffer) Binding() (BufferBinding, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.written || u.buffer == 0 {
		return BufferBinding{}, fmt.Errorf("%w: %s", ErrMissingUniformBinding, u.label)
	}
	return BufferBinding{Buffer: u.buffer, Size: u.elemSize}, nil
}

func (u *UniformBuffer) Destroy() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.buffer != 0 {
		u.device.DestroyBuffer(u.buffer)
		u.buffer = 0
	}
	u.capacity = 0
	u.written = false
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
