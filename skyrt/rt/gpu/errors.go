package gpu

import "errors"

var (
	// ErrCapabilityMissing disables the atmosphere for the whole session.
	ErrCapabilityMissing = errors.New("required device capability missing")
	// ErrAllocation is returned when a texture or buffer cannot be created.
	ErrAllocation = errors.New("gpu allocation failed")
	// ErrMissingUniformBinding means per-frame uniforms were not uploaded
	// before binding sets were built. It is a programming error.
	ErrMissingUniformBinding = errors.New("uniform buffer has no binding")
	ErrPipelineFailed        = errors.New("pipeline compilation failed")
)
