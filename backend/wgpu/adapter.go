// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderlab/gpucore"
)

// gpuTimeout bounds every fence wait.
const gpuTimeout = 5 * time.Second

// copyPitchAlignment is the required BytesPerRow alignment for
// texture-to-buffer copies (WebGPU and DX12 both mandate 256).
const copyPitchAlignment = 256

// bufferEntry tracks a HAL buffer together with its creation size, needed
// for whole-buffer bindings and for ClearBuffer.
type bufferEntry struct {
	buf  hal.Buffer
	size uint64
}

// textureEntry tracks a HAL texture, its cached default view, and the
// metadata readback needs.
type textureEntry struct {
	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	format gpucore.TextureFormat
}

// HALAdapter implements gpucore.GPUAdapter directly on gogpu/wgpu's HAL.
//
// Safe for concurrent use. Command recording is single-streamed: passes and
// copies record into one lazily created command encoder, and Submit flushes
// it with a fence wait.
type HALAdapter struct {
	device hal.Device
	queue  hal.Queue
	caps   gpucore.AdapterCapabilities

	nextID atomic.Uint64

	mu               sync.RWMutex
	buffers          map[gpucore.BufferID]bufferEntry
	textures         map[gpucore.TextureID]textureEntry
	samplers         map[gpucore.SamplerID]hal.Sampler
	shaderModules    map[gpucore.ShaderModuleID]hal.ShaderModule
	bindGroupLayouts map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]hal.PipelineLayout
	computePipelines map[gpucore.ComputePipelineID]hal.ComputePipeline
	renderPipelines  map[gpucore.RenderPipelineID]hal.RenderPipeline
	bindGroups       map[gpucore.BindGroupID]hal.BindGroup

	encoder hal.CommandEncoder
}

var _ gpucore.GPUAdapter = (*HALAdapter)(nil)

// NewAdapter builds a HALAdapter over the given device.
func NewAdapter(dev *Device) *HALAdapter {
	lim := gputypes.DefaultLimits()
	a := &HALAdapter{
		device: dev.device,
		queue:  dev.queue,
		caps: gpucore.AdapterCapabilities{
			SupportsCompute:                  true,
			MaxTextureDimension:              lim.MaxTextureDimension2D,
			MaxBufferSize:                    lim.MaxBufferSize,
			MaxComputeWorkgroupsPerDimension: lim.MaxComputeWorkgroupsPerDimension,
		},
		buffers:          make(map[gpucore.BufferID]bufferEntry),
		textures:         make(map[gpucore.TextureID]textureEntry),
		samplers:         make(map[gpucore.SamplerID]hal.Sampler),
		shaderModules:    make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]hal.PipelineLayout),
		computePipelines: make(map[gpucore.ComputePipelineID]hal.ComputePipeline),
		renderPipelines:  make(map[gpucore.RenderPipelineID]hal.RenderPipeline),
		bindGroups:       make(map[gpucore.BindGroupID]hal.BindGroup),
	}
	a.nextID.Store(1)
	return a
}

func (a *HALAdapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// Capabilities returns static adapter limits.
func (a *HALAdapter) Capabilities() gpucore.AdapterCapabilities {
	return a.caps
}

// === Shader modules ===

// CreateShaderModule compiles WGSL source into a shader module.
func (a *HALAdapter) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc == nil || desc.WGSL == "" {
		return gpucore.InvalidID, fmt.Errorf("wgpu: empty shader source")
	}
	module, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create shader module: %w", err)
	}

	id := gpucore.ShaderModuleID(a.newID())
	a.mu.Lock()
	a.shaderModules[id] = module
	a.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *HALAdapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	module, ok := a.shaderModules[id]
	if ok {
		delete(a.shaderModules, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyShaderModule(module)
	}
}

// === Buffers ===

// CreateBuffer creates a GPU buffer.
func (a *HALAdapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpu: buffer size must be positive")
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer: %w", err)
	}

	id := gpucore.BufferID(a.newID())
	a.mu.Lock()
	a.buffers[id] = bufferEntry{buf: buf, size: desc.Size}
	a.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	entry, ok := a.buffers[id]
	if ok {
		delete(a.buffers, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyBuffer(entry.buf)
	}
}

// WriteBuffer writes data to a buffer at the given byte offset.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) {
	a.mu.RLock()
	entry, ok := a.buffers[id]
	a.mu.RUnlock()
	if ok && len(data) > 0 {
		a.queue.WriteBuffer(entry.buf, offset, data)
	}
}

// ReadBuffer reads size bytes from a buffer starting at offset. Pending
// recorded commands are flushed first so the read observes them.
func (a *HALAdapter) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.RLock()
	entry, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wgpu: buffer %d not found", id)
	}
	if offset+size > entry.size {
		return nil, fmt.Errorf("wgpu: read [%d,%d) exceeds buffer size %d", offset, offset+size, entry.size)
	}

	if err := a.Submit(); err != nil {
		return nil, err
	}

	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	err = a.encodeAndWait("buffer_readback", func(encoder hal.CommandEncoder) {
		encoder.CopyBufferToBuffer(entry.buf, staging, []hal.BufferCopy{
			{SrcOffset: offset, DstOffset: 0, Size: size},
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, size)
	if err := a.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("wgpu: readback: %w", err)
	}
	return out, nil
}

// CopyBuffer copies size bytes between two buffers on the GPU timeline.
func (a *HALAdapter) CopyBuffer(src, dst gpucore.BufferID, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	srcEntry, ok := a.buffers[src]
	if !ok {
		return fmt.Errorf("wgpu: source buffer %d not found", src)
	}
	dstEntry, ok := a.buffers[dst]
	if !ok {
		return fmt.Errorf("wgpu: destination buffer %d not found", dst)
	}
	if size > srcEntry.size || size > dstEntry.size {
		return fmt.Errorf("wgpu: copy size %d exceeds buffer size", size)
	}

	encoder, err := a.ensureEncoderLocked()
	if err != nil {
		return err
	}
	encoder.CopyBufferToBuffer(srcEntry.buf, dstEntry.buf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
	return nil
}

// ClearBuffer zero-fills a buffer.
func (a *HALAdapter) ClearBuffer(id gpucore.BufferID) error {
	a.mu.RLock()
	entry, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("wgpu: buffer %d not found", id)
	}
	a.queue.WriteBuffer(entry.buf, 0, make([]byte, entry.size))
	return nil
}

// === Textures ===

// CreateTexture creates a 2D texture and its default view.
func (a *HALAdapter) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpu: texture dimensions must be positive")
	}
	if desc.Width > a.caps.MaxTextureDimension || desc.Height > a.caps.MaxTextureDimension {
		return gpucore.InvalidID, fmt.Errorf("wgpu: texture %dx%d exceeds max dimension %d",
			desc.Width, desc.Height, a.caps.MaxTextureDimension)
	}

	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        convertTextureFormat(desc.Format),
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create texture: %w", err)
	}
	view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		a.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("wgpu: create texture view: %w", err)
	}

	id := gpucore.TextureID(a.newID())
	a.mu.Lock()
	a.textures[id] = textureEntry{
		tex: tex, view: view,
		width: desc.Width, height: desc.Height, format: desc.Format,
	}
	a.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a texture and its cached view.
func (a *HALAdapter) DestroyTexture(id gpucore.TextureID) {
	a.mu.Lock()
	entry, ok := a.textures[id]
	if ok {
		delete(a.textures, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyTextureView(entry.view)
		a.device.DestroyTexture(entry.tex)
	}
}

// ReadTexture reads back a texture's full contents as tightly packed rows.
func (a *HALAdapter) ReadTexture(id gpucore.TextureID) ([]byte, error) {
	a.mu.RLock()
	entry, ok := a.textures[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wgpu: texture %d not found", id)
	}

	if err := a.Submit(); err != nil {
		return nil, err
	}

	bytesPerRow := entry.width * entry.format.BytesPerPixel()
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(entry.height)

	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texture_readback_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	err = a.encodeAndWait("texture_readback", func(encoder hal.CommandEncoder) {
		a.encodeTextureCopy(encoder, entry, staging, alignedBytesPerRow)
	})
	if err != nil {
		return nil, err
	}

	readback := make([]byte, stagingSize)
	if err := a.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("wgpu: readback: %w", err)
	}
	if alignedBytesPerRow == bytesPerRow {
		return readback[:uint64(bytesPerRow)*uint64(entry.height)], nil
	}
	return stripRowPadding(readback, bytesPerRow, alignedBytesPerRow, entry.height), nil
}

// CopyTextureToBuffer copies a texture's contents into a buffer as tightly
// packed rows. When the row pitch needs alignment padding, the copy round
// trips through the CPU to repack rows; this also synchronizes with the GPU.
func (a *HALAdapter) CopyTextureToBuffer(src gpucore.TextureID, dst gpucore.BufferID) error {
	a.mu.RLock()
	entry, texOK := a.textures[src]
	dstEntry, dstOK := a.buffers[dst]
	a.mu.RUnlock()
	if !texOK {
		return fmt.Errorf("wgpu: texture %d not found", src)
	}
	if !dstOK {
		return fmt.Errorf("wgpu: buffer %d not found", dst)
	}

	bytesPerRow := entry.width * entry.format.BytesPerPixel()
	tightSize := uint64(bytesPerRow) * uint64(entry.height)
	if dstEntry.size < tightSize {
		return fmt.Errorf("wgpu: buffer size %d too small for texture copy of %d bytes",
			dstEntry.size, tightSize)
	}
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)

	if alignedBytesPerRow == bytesPerRow {
		a.mu.Lock()
		encoder, err := a.ensureEncoderLocked()
		if err != nil {
			a.mu.Unlock()
			return err
		}
		a.encodeTextureCopy(encoder, entry, dstEntry.buf, alignedBytesPerRow)
		a.mu.Unlock()
		return nil
	}

	// Padded path: read back tight rows and upload them to the destination.
	data, err := a.ReadTexture(src)
	if err != nil {
		return err
	}
	a.queue.WriteBuffer(dstEntry.buf, 0, data)
	return nil
}

// encodeTextureCopy records transition-copy-transition for a texture that
// was last used as a render attachment. Vulkan requires the explicit layout
// transitions; they are no-ops on the noop backend.
func (a *HALAdapter) encodeTextureCopy(encoder hal.CommandEncoder, entry textureEntry, dst hal.Buffer, alignedBytesPerRow uint32) {
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: entry.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(entry.tex, dst, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  alignedBytesPerRow,
			RowsPerImage: entry.height,
		},
		TextureBase: hal.ImageCopyTexture{Texture: entry.tex, MipLevel: 0},
		Size:        hal.Extent3D{Width: entry.width, Height: entry.height, DepthOrArrayLayers: 1},
	}})
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: entry.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})
}

// stripRowPadding copies tight rows out of pitch-aligned readback data.
func stripRowPadding(data []byte, bytesPerRow, alignedBytesPerRow, height uint32) []byte {
	tight := make([]byte, uint64(bytesPerRow)*uint64(height))
	for row := uint32(0); row < height; row++ {
		srcOff := uint64(row) * uint64(alignedBytesPerRow)
		dstOff := uint64(row) * uint64(bytesPerRow)
		copy(tight[dstOff:dstOff+uint64(bytesPerRow)], data[srcOff:srcOff+uint64(bytesPerRow)])
	}
	return tight
}

// === Samplers ===

// CreateSampler creates a clamping, linearly filtering sampler.
func (a *HALAdapter) CreateSampler(label string) (gpucore.SamplerID, error) {
	sampler, err := a.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create sampler: %w", err)
	}

	id := gpucore.SamplerID(a.newID())
	a.mu.Lock()
	a.samplers[id] = sampler
	a.mu.Unlock()
	return id, nil
}

// DestroySampler releases a sampler.
func (a *HALAdapter) DestroySampler(id gpucore.SamplerID) {
	a.mu.Lock()
	sampler, ok := a.samplers[id]
	if ok {
		delete(a.samplers, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroySampler(sampler)
	}
}

// === Layouts and pipelines ===

// CreateBindGroupLayout creates a bind group layout.
func (a *HALAdapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil bind group layout descriptor")
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = convertLayoutEntry(e)
	}
	layout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}

	id := gpucore.BindGroupLayoutID(a.newID())
	a.mu.Lock()
	a.bindGroupLayouts[id] = layout
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *HALAdapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	layout, ok := a.bindGroupLayouts[id]
	if ok {
		delete(a.bindGroupLayouts, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroupLayout(layout)
	}
}

// CreatePipelineLayout creates a pipeline layout from bind group layouts.
func (a *HALAdapter) CreatePipelineLayout(label string, layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	a.mu.RLock()
	halLayouts := make([]hal.BindGroupLayout, len(layouts))
	for i, lid := range layouts {
		layout, ok := a.bindGroupLayouts[lid]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("wgpu: bind group layout %d not found", lid)
		}
		halLayouts[i] = layout
	}
	a.mu.RUnlock()

	pipelineLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: halLayouts,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}

	id := gpucore.PipelineLayoutID(a.newID())
	a.mu.Lock()
	a.pipelineLayouts[id] = pipelineLayout
	a.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *HALAdapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	layout, ok := a.pipelineLayouts[id]
	if ok {
		delete(a.pipelineLayouts, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyPipelineLayout(layout)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (a *HALAdapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil compute pipeline descriptor")
	}
	a.mu.RLock()
	layout, layoutOK := a.pipelineLayouts[desc.Layout]
	module, moduleOK := a.shaderModules[desc.Module]
	a.mu.RUnlock()
	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: pipeline layout %d not found", desc.Layout)
	}
	if !moduleOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: shader module %d not found", desc.Module)
	}

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create compute pipeline: %w", err)
	}

	id := gpucore.ComputePipelineID(a.newID())
	a.mu.Lock()
	a.computePipelines[id] = pipeline
	a.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *HALAdapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	pipeline, ok := a.computePipelines[id]
	if ok {
		delete(a.computePipelines, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyComputePipeline(pipeline)
	}
}

// CreateRenderPipeline creates a render pipeline with a single color target
// and a vertex-index-driven vertex stage (no vertex buffers).
func (a *HALAdapter) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil render pipeline descriptor")
	}
	a.mu.RLock()
	layout, layoutOK := a.pipelineLayouts[desc.Layout]
	vertModule, vertOK := a.shaderModules[desc.VertexModule]
	fragModule, fragOK := a.shaderModules[desc.FragmentModule]
	a.mu.RUnlock()
	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: pipeline layout %d not found", desc.Layout)
	}
	if !vertOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: vertex module %d not found", desc.VertexModule)
	}
	if !fragOK {
		return gpucore.InvalidID, fmt.Errorf("wgpu: fragment module %d not found", desc.FragmentModule)
	}

	pipeline, err := a.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     vertModule,
			EntryPoint: desc.VertexEntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     fragModule,
			EntryPoint: desc.FragmentEntryPoint,
			Targets: []gputypes.ColorTargetState{{
				Format:    convertTextureFormat(desc.TargetFormat),
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create render pipeline: %w", err)
	}

	id := gpucore.RenderPipelineID(a.newID())
	a.mu.Lock()
	a.renderPipelines[id] = pipeline
	a.mu.Unlock()
	return id, nil
}

// DestroyRenderPipeline releases a render pipeline.
func (a *HALAdapter) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	a.mu.Lock()
	pipeline, ok := a.renderPipelines[id]
	if ok {
		delete(a.renderPipelines, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyRenderPipeline(pipeline)
	}
}

// === Bind groups ===

// CreateBindGroup creates a bind group. Any unresolvable resource ID fails
// the whole call.
func (a *HALAdapter) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: nil bind group descriptor")
	}
	a.mu.RLock()
	layout, ok := a.bindGroupLayouts[desc.Layout]
	if !ok {
		a.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("wgpu: bind group layout %d not found", desc.Layout)
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		converted, err := a.convertBindGroupEntryLocked(e)
		if err != nil {
			a.mu.RUnlock()
			return gpucore.InvalidID, err
		}
		entries[i] = converted
	}
	a.mu.RUnlock()

	group, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group: %w", err)
	}

	id := gpucore.BindGroupID(a.newID())
	a.mu.Lock()
	a.bindGroups[id] = group
	a.mu.Unlock()
	return id, nil
}

// convertBindGroupEntryLocked resolves one entry under a.mu (read) held.
func (a *HALAdapter) convertBindGroupEntryLocked(entry gpucore.BindGroupEntry) (gputypes.BindGroupEntry, error) {
	result := gputypes.BindGroupEntry{Binding: entry.Binding}

	switch {
	case entry.Buffer != gpucore.InvalidID:
		buf, ok := a.buffers[entry.Buffer]
		if !ok {
			return result, fmt.Errorf("wgpu: buffer %d not found", entry.Buffer)
		}
		size := entry.Size
		if size == 0 {
			size = buf.size - entry.Offset
		}
		result.Resource = gputypes.BufferBinding{
			Buffer: buf.buf.NativeHandle(),
			Offset: entry.Offset,
			Size:   size,
		}
	case entry.Texture != gpucore.InvalidID:
		tex, ok := a.textures[entry.Texture]
		if !ok {
			return result, fmt.Errorf("wgpu: texture %d not found", entry.Texture)
		}
		result.Resource = gputypes.TextureViewBinding{
			TextureView: tex.view.NativeHandle(),
		}
	case entry.Sampler != gpucore.InvalidID:
		sampler, ok := a.samplers[entry.Sampler]
		if !ok {
			return result, fmt.Errorf("wgpu: sampler %d not found", entry.Sampler)
		}
		result.Resource = gputypes.SamplerBinding{
			Sampler: sampler.NativeHandle(),
		}
	default:
		return result, fmt.Errorf("wgpu: bind group entry %d references no resource", entry.Binding)
	}
	return result, nil
}

// DestroyBindGroup releases a bind group.
func (a *HALAdapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	group, ok := a.bindGroups[id]
	if ok {
		delete(a.bindGroups, id)
	}
	a.mu.Unlock()
	if ok {
		a.device.DestroyBindGroup(group)
	}
}

// === Command recording ===

// ensureEncoderLocked lazily creates the shared command encoder. Caller
// holds a.mu.
func (a *HALAdapter) ensureEncoderLocked() (hal.CommandEncoder, error) {
	if a.encoder != nil {
		return a.encoder, nil
	}
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "frame_encoder",
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("frame"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	a.encoder = encoder
	return encoder, nil
}

// BeginComputePass begins recording a compute pass.
func (a *HALAdapter) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	encoder, err := a.ensureEncoderLocked()
	if err != nil {
		return nil, err
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	return &computePassEncoder{adapter: a, pass: pass}, nil
}

// BeginRenderPass begins recording a render pass targeting the given
// texture, cleared to the given color.
func (a *HALAdapter) BeginRenderPass(label string, target gpucore.TextureID, clear gpucore.Color) (gpucore.RenderPassEncoder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.textures[target]
	if !ok {
		return nil, fmt.Errorf("wgpu: render target texture %d not found", target)
	}
	encoder, err := a.ensureEncoderLocked()
	if err != nil {
		return nil, err
	}
	pass := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       entry.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: clear.R, G: clear.G, B: clear.B, A: clear.A},
		}},
	})
	return &renderPassEncoder{adapter: a, pass: pass}, nil
}

// Submit flushes all recorded commands and waits for completion. A submit
// with nothing recorded is a no-op.
func (a *HALAdapter) Submit() error {
	a.mu.Lock()
	encoder := a.encoder
	a.encoder = nil
	a.mu.Unlock()

	if encoder == nil {
		return nil
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	return a.submitAndWait([]hal.CommandBuffer{cmdBuf})
}

// encodeAndWait runs one record callback in a private encoder and blocks
// until the GPU finishes it.
func (a *HALAdapter) encodeAndWait(label string, record func(hal.CommandEncoder)) error {
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	return a.submitAndWait([]hal.CommandBuffer{cmdBuf})
}

func (a *HALAdapter) submitAndWait(cmdBufs []hal.CommandBuffer) error {
	fence, err := a.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer a.device.DestroyFence(fence)

	if err := a.queue.Submit(cmdBufs, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	ok, err := a.device.Wait(fence, 1, gpuTimeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: GPU timeout after %s", gpuTimeout)
	}
	return nil
}

// Destroy releases every live resource the adapter still tracks.
func (a *HALAdapter) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, group := range a.bindGroups {
		a.device.DestroyBindGroup(group)
		delete(a.bindGroups, id)
	}
	for id, pipeline := range a.computePipelines {
		a.device.DestroyComputePipeline(pipeline)
		delete(a.computePipelines, id)
	}
	for id, pipeline := range a.renderPipelines {
		a.device.DestroyRenderPipeline(pipeline)
		delete(a.renderPipelines, id)
	}
	for id, layout := range a.pipelineLayouts {
		a.device.DestroyPipelineLayout(layout)
		delete(a.pipelineLayouts, id)
	}
	for id, layout := range a.bindGroupLayouts {
		a.device.DestroyBindGroupLayout(layout)
		delete(a.bindGroupLayouts, id)
	}
	for id, module := range a.shaderModules {
		a.device.DestroyShaderModule(module)
		delete(a.shaderModules, id)
	}
	for id, sampler := range a.samplers {
		a.device.DestroySampler(sampler)
		delete(a.samplers, id)
	}
	for id, entry := range a.textures {
		a.device.DestroyTextureView(entry.view)
		a.device.DestroyTexture(entry.tex)
		delete(a.textures, id)
	}
	for id, entry := range a.buffers {
		a.device.DestroyBuffer(entry.buf)
		delete(a.buffers, id)
	}
}

// === Pass encoders ===

type computePassEncoder struct {
	adapter *HALAdapter
	pass    hal.ComputePassEncoder
}

func (e *computePassEncoder) SetPipeline(pipeline gpucore.ComputePipelineID) {
	e.adapter.mu.RLock()
	halPipeline, ok := e.adapter.computePipelines[pipeline]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetPipeline(halPipeline)
	}
}

func (e *computePassEncoder) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	e.adapter.mu.RLock()
	halGroup, ok := e.adapter.bindGroups[group]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetBindGroup(index, halGroup, nil)
	}
}

func (e *computePassEncoder) Dispatch(x, y, z uint32) {
	e.pass.Dispatch(x, y, z)
}

func (e *computePassEncoder) End() {
	e.pass.End()
}

type renderPassEncoder struct {
	adapter *HALAdapter
	pass    hal.RenderPassEncoder
}

func (e *renderPassEncoder) SetPipeline(pipeline gpucore.RenderPipelineID) {
	e.adapter.mu.RLock()
	halPipeline, ok := e.adapter.renderPipelines[pipeline]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetPipeline(halPipeline)
	}
}

func (e *renderPassEncoder) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	e.adapter.mu.RLock()
	halGroup, ok := e.adapter.bindGroups[group]
	e.adapter.mu.RUnlock()
	if ok {
		e.pass.SetBindGroup(index, halGroup, nil)
	}
}

func (e *renderPassEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	e.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (e *renderPassEncoder) End() {
	e.pass.End()
}

// === Type conversion ===

func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if usage&gpucore.BufferUsageMapRead != 0 {
		result |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	return result
}

func convertTextureUsage(usage gpucore.TextureUsage) gputypes.TextureUsage {
	var result gputypes.TextureUsage
	if usage&gpucore.TextureUsageCopySrc != 0 {
		result |= gputypes.TextureUsageCopySrc
	}
	if usage&gpucore.TextureUsageCopyDst != 0 {
		result |= gputypes.TextureUsageCopyDst
	}
	if usage&gpucore.TextureUsageTextureBinding != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.TextureUsageRenderAttachment != 0 {
		result |= gputypes.TextureUsageRenderAttachment
	}
	return result
}

func convertTextureFormat(format gpucore.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.TextureFormatRGBA16Float:
		return gputypes.TextureFormatRGBA16Float
	case gpucore.TextureFormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	case gpucore.TextureFormatRG32Float:
		return gputypes.TextureFormatRG32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

func convertLayoutEntry(entry gpucore.BindGroupLayoutEntry) gputypes.BindGroupLayoutEntry {
	result := gputypes.BindGroupLayoutEntry{
		Binding:    entry.Binding,
		Visibility: convertVisibility(entry.Visibility),
	}
	switch entry.Type {
	case gpucore.BindingTypeUniformBuffer:
		result.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case gpucore.BindingTypeStorageBuffer:
		result.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case gpucore.BindingTypeSampledTexture:
		result.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case gpucore.BindingTypeSampler:
		result.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	}
	return result
}

func convertVisibility(stages gpucore.ShaderStages) gputypes.ShaderStage {
	var result gputypes.ShaderStage
	if stages&gpucore.StageVertex != 0 {
		result |= gputypes.ShaderStageVertex
	}
	if stages&gpucore.StageFragment != 0 {
		result |= gputypes.ShaderStageFragment
	}
	if stages&gpucore.StageCompute != 0 {
		result |= gputypes.ShaderStageCompute
	}
	return result
}
