package sky

// WorkgroupSize is the X and Y workgroup size of both compute shaders.
const WorkgroupSize = 16

// WorkgroupCount is the number of workgroups covering dim invocations.
func WorkgroupCount(dim, size uint32) uint32 {
	return (dim + size - 1) / size
}
