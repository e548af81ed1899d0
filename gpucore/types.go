package gpucore

// Resource IDs
//
// These opaque IDs represent GPU resources. The adapter implementation
// maintains the mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// SamplerID is an opaque handle to a texture sampler.
type SamplerID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// RenderPipelineID is an opaque handle to a render pipeline.
type RenderPipelineID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 1

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 2

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 3

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 4
)

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats. The set mirrors the script buffer formats the engine
// supports plus the surface formats a host may hand us for presentation.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatRGBA16Float is 16-bit RGBA, floating point.
	TextureFormatRGBA16Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRG32Float is 32-bit RG, floating point.
	TextureFormatRG32Float
)

// String returns the WGSL name of the format.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case TextureFormatBGRA8Unorm:
		return "bgra8unorm"
	case TextureFormatRGBA16Float:
		return "rgba16float"
	case TextureFormatRGBA32Float:
		return "rgba32float"
	case TextureFormatR32Float:
		return "r32float"
	case TextureFormatRG32Float:
		return "rg32float"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the size of one pixel in bytes.
func (f TextureFormat) BytesPerPixel() uint32 {
	switch f {
	case TextureFormatRGBA16Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	case TextureFormatRG32Float:
		return 8
	case TextureFormatRGBA8Unorm, TextureFormatBGRA8Unorm, TextureFormatR32Float:
		return 4
	default:
		return 4
	}
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopySrc indicates the texture can be used as a copy source.
	TextureUsageCopySrc TextureUsage = 1 << 0

	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageTextureBinding indicates the texture can be bound as a sampled texture.
	TextureUsageTextureBinding TextureUsage = 1 << 2

	// TextureUsageRenderAttachment indicates the texture can be used as a render target.
	TextureUsageRenderAttachment TextureUsage = 1 << 3
)

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeSampledTexture is a sampled texture binding.
	BindingTypeSampledTexture

	// BindingTypeSampler is a texture sampler binding.
	BindingTypeSampler
)

// ShaderStages is a bitmask of pipeline stages a binding is visible to.
type ShaderStages uint32

// Shader stage visibility flags.
const (
	// StageVertex makes a binding visible to vertex shaders.
	StageVertex ShaderStages = 1 << 0

	// StageFragment makes a binding visible to fragment shaders.
	StageFragment ShaderStages = 1 << 1

	// StageCompute makes a binding visible to compute shaders.
	StageCompute ShaderStages = 1 << 2
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage BufferUsage
}

// TextureDesc describes a 2D texture to create.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the texture dimensions in pixels.
	Width, Height uint32

	// Format is the pixel format.
	Format TextureFormat

	// Usage specifies how the texture will be used.
	Usage TextureUsage
}

// ShaderModuleDesc describes a shader module compiled from WGSL source.
type ShaderModuleDesc struct {
	// Label is an optional debug label.
	Label string

	// WGSL is the shader source text.
	WGSL string
}

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType

	// Visibility is the set of shader stages that can access the binding.
	Visibility ShaderStages
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds a concrete resource to a layout slot. Exactly one of
// Buffer, Texture, or Sampler must be non-zero, matching the layout entry's
// binding type.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind (for buffer bindings).
	Buffer BufferID

	// Offset is the byte offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64

	// Texture is the texture to bind (for sampled texture bindings).
	Texture TextureID

	// Sampler is the sampler to bind (for sampler bindings).
	Sampler SamplerID
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// Module contains the compute shader.
	Module ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}

// RenderPipelineDesc describes a render pipeline with a single color target.
type RenderPipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// VertexModule and VertexEntryPoint describe the vertex stage.
	VertexModule     ShaderModuleID
	VertexEntryPoint string

	// FragmentModule and FragmentEntryPoint describe the fragment stage.
	FragmentModule     ShaderModuleID
	FragmentEntryPoint string

	// TargetFormat is the color attachment format. This is the consuming
	// script's own output buffer format, never a global surface format.
	TargetFormat TextureFormat
}

// Color is an RGBA clear color with float64 components in [0,1].
type Color struct {
	R, G, B, A float64
}

// AdapterCapabilities describes GPU adapter limits relevant to the engine.
type AdapterCapabilities struct {
	// SupportsCompute indicates compute shader support.
	SupportsCompute bool

	// MaxTextureDimension is the maximum texture width/height in pixels.
	MaxTextureDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxComputeWorkgroupsPerDimension is the maximum workgroups per
	// dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32
}
