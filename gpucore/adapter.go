// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the GPU adapter abstraction the shaderlab engine
// runs on.
//
// The [GPUAdapter] interface decouples the script engine, buffer manager,
// pipeline builder, and visualization adapter from the concrete GPU backend.
// The production implementation lives in backend/wgpu and talks to
// gogpu/wgpu's HAL; tests substitute the noop HAL backend or an in-memory
// stub.
//
// Resource lifecycle:
//   - Resources are created via Create* methods and addressed by opaque IDs
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
package gpucore

// GPUAdapter abstracts over the GPU backend.
//
// Implementations must be safe for concurrent use. Command recording is
// single-streamed: passes begun on the adapter record into one internal
// command encoder, and Submit flushes everything recorded since the last
// submit in order.
type GPUAdapter interface {
	// Capabilities returns static adapter limits.
	Capabilities() AdapterCapabilities

	// CreateShaderModule compiles WGSL source into a shader module.
	// The source is expected to have passed front-end validation already;
	// backend compile failures are still reported as errors.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateBuffer creates a GPU buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer at the given byte offset.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// ReadBuffer reads size bytes from a buffer starting at offset.
	// This synchronizes with the GPU: it waits for previously submitted
	// work to complete before copying, and returns a CPU-owned slice
	// that remains valid after the call.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// CopyBuffer copies size bytes between two buffers on the GPU timeline.
	CopyBuffer(src, dst BufferID, size uint64) error

	// ClearBuffer zero-fills a buffer on the GPU timeline.
	ClearBuffer(id BufferID) error

	// CreateTexture creates a 2D GPU texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a GPU texture and its cached view.
	DestroyTexture(id TextureID)

	// ReadTexture reads back a texture's full contents as tightly packed
	// rows (no alignment padding). Synchronizes with the GPU.
	ReadTexture(id TextureID) ([]byte, error)

	// CopyTextureToBuffer copies a texture's contents into a buffer as
	// tightly packed rows on the GPU timeline. The destination must be at
	// least width*height*bytesPerPixel bytes.
	CopyTextureToBuffer(src TextureID, dst BufferID) error

	// CreateSampler creates a clamping, linearly filtering sampler.
	CreateSampler(label string) (SamplerID, error)

	// DestroySampler releases a sampler.
	DestroySampler(id SamplerID)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout from bind group layouts.
	CreatePipelineLayout(label string, layouts []BindGroupLayoutID) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateRenderPipeline creates a render pipeline.
	CreateRenderPipeline(desc *RenderPipelineDesc) (RenderPipelineID, error)

	// DestroyRenderPipeline releases a render pipeline.
	DestroyRenderPipeline(id RenderPipelineID)

	// CreateBindGroup creates a bind group binding live resources to a layout.
	// It fails if any referenced resource ID does not resolve; callers must
	// treat that as "skip execution", not submit a partial group.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// BeginComputePass begins recording a compute pass.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// BeginRenderPass begins recording a render pass targeting the given
	// texture, cleared to the given color.
	BeginRenderPass(label string, target TextureID, clear Color) (RenderPassEncoder, error)

	// Submit submits all recorded commands and waits for completion.
	Submit() error

	// Destroy releases every live resource the adapter still tracks.
	Destroy()
}

// ComputePassEncoder records compute commands.
//
// The encoder is single-use: after End it cannot be used again.
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches x*y*z compute workgroups.
	Dispatch(x, y, z uint32)

	// End finishes the compute pass.
	End()
}

// RenderPassEncoder records render commands.
//
// The encoder is single-use: after End it cannot be used again.
type RenderPassEncoder interface {
	// SetPipeline sets the active render pipeline.
	SetPipeline(pipeline RenderPipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Draw draws vertexCount vertices of instanceCount instances.
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// End finishes the render pass.
	End()
}
