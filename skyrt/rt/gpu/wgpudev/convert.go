package wgpudev

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
)

func textureFormat(f gpu.TextureFormat) wgpu.TextureFormat {
	switch f {
	case gpu.TextureFormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	case gpu.TextureFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case gpu.TextureFormatRGBA8UnormSrgb:
		return wgpu.TextureFormatRGBA8UnormSrgb
	case gpu.TextureFormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	case gpu.TextureFormatBGRA8UnormSrgb:
		return wgpu.TextureFormatBGRA8UnormSrgb
	case gpu.TextureFormatDepth32Float:
		return wgpu.TextureFormatDepth32Float
	}
	return wgpu.TextureFormatUndefined
}

// FormatFromWGPU maps a surface format back to the subset render code knows.
func FormatFromWGPU(f wgpu.TextureFormat) gpu.TextureFormat {
	switch f {
	case wgpu.TextureFormatRGBA16Float:
		return gpu.TextureFormatRGBA16Float
	case wgpu.TextureFormatRGBA8Unorm:
		return gpu.TextureFormatRGBA8Unorm
	case wgpu.TextureFormatRGBA8UnormSrgb:
		return gpu.TextureFormatRGBA8UnormSrgb
	case wgpu.TextureFormatBGRA8Unorm:
		return gpu.TextureFormatBGRA8Unorm
	case wgpu.TextureFormatBGRA8UnormSrgb:
		return gpu.TextureFormatBGRA8UnormSrgb
	case wgpu.TextureFormatDepth32Float:
		return gpu.TextureFormatDepth32Float
	}
	return gpu.TextureFormatUndefined
}

func textureUsage(u gpu.TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&gpu.TextureUsageCopySrc != 0 {
		out |= wgpu.TextureUsageCopySrc
	}
	if u&gpu.TextureUsageCopyDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	if u&gpu.TextureUsageTextureBinding != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&gpu.TextureUsageStorageBinding != 0 {
		out |= wgpu.TextureUsageStorageBinding
	}
	if u&gpu.TextureUsageRenderAttachment != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	return out
}

func bufferUsage(u gpu.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&gpu.BufferUsageMapRead != 0 {
		out |= wgpu.BufferUsageMapRead
	}
	if u&gpu.BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&gpu.BufferUsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	if u&gpu.BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	return out
}

func textureDimension(d gpu.TextureDimension) wgpu.TextureDimension {
	if d == gpu.TextureDimension3D {
		return wgpu.TextureDimension3D
	}
	return wgpu.TextureDimension2D
}

func viewDimension(d gpu.TextureViewDimension) wgpu.TextureViewDimension {
	if d == gpu.TextureViewDimension3D {
		return wgpu.TextureViewDimension3D
	}
	return wgpu.TextureViewDimension2D
}

func shaderStage(s gpu.ShaderStage) wgpu.ShaderStage {
	var out wgpu.ShaderStage
	if s&gpu.ShaderStageVertex != 0 {
		out |= wgpu.ShaderStageVertex
	}
	if s&gpu.ShaderStageFragment != 0 {
		out |= wgpu.ShaderStageFragment
	}
	if s&gpu.ShaderStageCompute != 0 {
		out |= wgpu.ShaderStageCompute
	}
	return out
}

func filterMode(f gpu.FilterMode) wgpu.FilterMode {
	if f == gpu.FilterModeLinear {
		return wgpu.FilterModeLinear
	}
	return wgpu.FilterModeNearest
}

func blendFactor(f gpu.BlendFactor) wgpu.BlendFactor {
	switch f {
	case gpu.BlendFactorOne:
		return wgpu.BlendFactorOne
	case gpu.BlendFactorSrcAlpha:
		return wgpu.BlendFactorSrcAlpha
	case gpu.BlendFactorOneMinusSrcAlpha:
		return wgpu.BlendFactorOneMinusSrcAlpha
	}
	return wgpu.BlendFactorZero
}

func blendComponent(c gpu.BlendComponent) wgpu.BlendComponent {
	return wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: blendFactor(c.SrcFactor),
		DstFactor: blendFactor(c.DstFactor),
	}
}

func loadOp(op gpu.LoadOp) wgpu.LoadOp {
	if op == gpu.LoadOpLoad {
		return wgpu.LoadOpLoad
	}
	return wgpu.LoadOpClear
}
