package shaders

import (
	"fmt"

	"github.com/gogpu/naga"
)

// NagaValidator compiles WGSL to SPIR-V with naga and discards the result.
// It catches parse and type errors before a pipeline reaches the device.
type NagaValidator struct{}

func (NagaValidator) Validate(name, code string) error {
	if _, err := naga.Compile(code); err != nil {
		return fmt.Errorf("failed to compile shader %s: %w", name, err)
	}
	return nil
}

// CompileSPIRV returns the SPIR-V words for code. SPIR-V is little-endian.
func CompileSPIRV(code string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
