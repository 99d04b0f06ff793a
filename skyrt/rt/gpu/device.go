package gpu

// Opaque resource handles. Backends map them to their native objects; the
// zero value is never a live resource.
type (
	TextureID         uint64
	TextureViewID     uint64
	BufferID          uint64
	SamplerID         uint64
	ShaderModuleID    uint64
	BindGroupLayoutID uint64
	BindGroupID       uint64
	PipelineID        uint64
)

type TextureFormat uint32

const (
	TextureFormatUndefined TextureFormat = iota
	TextureFormatRGBA16Float
	TextureFormatRGBA8Unorm
	TextureFormatRGBA8UnormSrgb
	TextureFormatBGRA8Unorm
	TextureFormatBGRA8UnormSrgb
	TextureFormatDepth32Float
)

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA16Float:
		return "rgba16float"
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case TextureFormatRGBA8UnormSrgb:
		return "rgba8unorm-srgb"
	case TextureFormatBGRA8Unorm:
		return "bgra8unorm"
	case TextureFormatBGRA8UnormSrgb:
		return "bgra8unorm-srgb"
	case TextureFormatDepth32Float:
		return "depth32float"
	}
	return "undefined"
}

// BytesPerTexel is zero for formats that cannot be read back.
func (f TextureFormat) BytesPerTexel() uint32 {
	switch f {
	case TextureFormatRGBA16Float:
		return 8
	case TextureFormatRGBA8Unorm, TextureFormatRGBA8UnormSrgb, TextureFormatBGRA8Unorm, TextureFormatBGRA8UnormSrgb:
		return 4
	}
	return 0
}

type TextureUsage uint32

const (
	TextureUsageCopySrc TextureUsage = 1 << iota
	TextureUsageCopyDst
	TextureUsageTextureBinding
	TextureUsageStorageBinding
	TextureUsageRenderAttachment
)

type TextureDimension uint32

const (
	TextureDimension2D TextureDimension = iota
	TextureDimension3D
)

type Extent3D struct {
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
}

type TextureDescriptor struct {
	Label         string
	Size          Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     TextureDimension
	Format        TextureFormat
	Usage         TextureUsage
}

type BufferUsage uint32

const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageUniform
)

type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type FilterMode uint32

const (
	FilterModeNearest FilterMode = iota
	FilterModeLinear
)

type AddressMode uint32

const (
	AddressModeClampToEdge AddressMode = iota
	AddressModeRepeat
)

type SamplerDescriptor struct {
	Label        string
	AddressMode  AddressMode
	MagFilter    FilterMode
	MinFilter    FilterMode
	MipmapFilter FilterMode
}

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

type BindingType uint32

const (
	BindingTypeUniformBuffer BindingType = iota
	BindingTypeSampledTexture
	BindingTypeDepthTexture
	BindingTypeSampler
	BindingTypeStorageTexture
)

type TextureViewDimension uint32

const (
	TextureViewDimension2D TextureViewDimension = iota
	TextureViewDimension3D
)

// BindGroupLayoutEntry declares one slot. Fields not relevant to Type are
// ignored by backends.
type BindGroupLayoutEntry struct {
	Binding    uint32
	Visibility ShaderStage
	Type       BindingType

	HasDynamicOffset bool
	MinBindingSize   uint64

	ViewDimension TextureViewDimension
	StorageFormat TextureFormat
}

type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []BindGroupLayoutEntry
}

type BindGroupEntry struct {
	Binding uint32
	Buffer  BufferID
	Offset  uint64
	Size    uint64
	Texture TextureViewID
	Sampler SamplerID
}

type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayoutID
	Entries []BindGroupEntry
}

type ShaderModuleDescriptor struct {
	Label string
	Code  string
}

type ProgrammableStage struct {
	Module     ShaderModuleID
	EntryPoint string
}

type BlendFactor uint32

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
)

type BlendComponent struct {
	SrcFactor BlendFactor
	DstFactor BlendFactor
}

// BlendState uses additive operations for both components.
type BlendState struct {
	Color BlendComponent
	Alpha BlendComponent
}

type ColorTargetState struct {
	Format TextureFormat
	Blend  *BlendState
}

type RenderPipelineDescriptor struct {
	Label    string
	Layouts  []BindGroupLayoutID
	Vertex   ProgrammableStage
	Fragment ProgrammableStage
	Targets  []ColorTargetState
}

type ComputePipelineDescriptor struct {
	Label   string
	Layouts []BindGroupLayoutID
	Compute ProgrammableStage
}

type LoadOp uint32

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
)

type Color struct {
	R, G, B, A float64
}

type RenderPassColorAttachment struct {
	View       TextureViewID
	LoadOp     LoadOp
	ClearValue Color
}

type RenderPassDepthAttachment struct {
	View       TextureViewID
	LoadOp     LoadOp
	ClearDepth float32
}

type RenderPassDescriptor struct {
	Label            string
	ColorAttachments []RenderPassColorAttachment
	Depth            *RenderPassDepthAttachment
}

// Limits are the subset of device limits this module cares about.
type Limits struct {
	MaxTextureDimension2D           uint32
	MaxTextureDimension3D           uint32
	MinUniformBufferOffsetAlignment uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxTextureDimension2D:           8192,
		MaxTextureDimension3D:           2048,
		MinUniformBufferOffsetAlignment: 256,
	}
}

type Capabilities struct {
	Limits Limits
	// StorageWriteFormats lists formats usable as write-only storage textures.
	StorageWriteFormats []TextureFormat
}

func (c Capabilities) SupportsStorageWrite(f TextureFormat) bool {
	for _, s := range c.StorageWriteFormats {
		if s == f {
			return true
		}
	}
	return false
}

// Device is the command-submission API the atmosphere renderer records
// against. Implementations must be safe for concurrent use.
type Device interface {
	Capabilities() Capabilities

	CreateTexture(desc *TextureDescriptor) (TextureID, error)
	CreateTextureView(tex TextureID) (TextureViewID, error)
	DestroyTexture(tex TextureID)

	CreateBuffer(desc *BufferDescriptor) (BufferID, error)
	WriteBuffer(buf BufferID, offset uint64, data []byte) error
	DestroyBuffer(buf BufferID)

	CreateSampler(desc *SamplerDescriptor) (SamplerID, error)
	CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) (BindGroupLayoutID, error)
	CreateBindGroup(desc *BindGroupDescriptor) (BindGroupID, error)
	ReleaseBindGroup(bg BindGroupID)

	CreateShaderModule(desc *ShaderModuleDescriptor) (ShaderModuleID, error)
	CreateRenderPipeline(desc *RenderPipelineDescriptor) (PipelineID, error)
	CreateComputePipeline(desc *ComputePipelineDescriptor) (PipelineID, error)

	CreateCommandEncoder(label string) (CommandEncoder, error)
	Submit(buffers ...CommandBuffer) error
}

// TextureReader is implemented by devices that can copy a texture back to
// host memory. Rows are tightly packed.
type TextureReader interface {
	ReadTexture(tex TextureID) ([]byte, error)
}

type CommandBuffer interface {
	Label() string
	// Release frees a buffer that will not be submitted.
	Release()
}

type CommandEncoder interface {
	PushDebugGroup(label string)
	PopDebugGroup()
	BeginRenderPass(desc *RenderPassDescriptor) RenderPassEncoder
	BeginComputePass(label string) ComputePassEncoder
	Finish() (CommandBuffer, error)
}

type RenderPassEncoder interface {
	SetPipeline(p PipelineID)
	SetBindGroup(index uint32, bg BindGroupID, dynamicOffsets []uint32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	End() error
}

type ComputePassEncoder interface {
	SetPipeline(p PipelineID)
	SetBindGroup(index uint32, bg BindGroupID, dynamicOffsets []uint32)
	DispatchWorkgroups(x, y, z uint32)
	End() error
}

// Logger is the subset of the application logger used by render code.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
