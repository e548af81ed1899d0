// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package pipeline builds the GPU pipeline and bind group for a script from
// its compiled module and the current producer topology.
//
// The bind-group layout is generated from the same binding plan as the
// injected shader prologue, so layout entries and declared bindings always
// line up.
package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/shaderlab/buffers"
	"github.com/gogpu/shaderlab/gpucore"
	"github.com/gogpu/shaderlab/wgsl"
)

// ErrMissingProducer means a producer's GPU resource was unavailable when
// resolving the bind group. The caller should skip execution for this frame
// rather than submit a malformed bind group.
var ErrMissingProducer = errors.New("pipeline: producer resource unavailable")

// ErrBuild wraps GPU-side failures during pipeline construction.
var ErrBuild = errors.New("pipeline: build failed")

//go:embed fullscreen.wgsl
var fullscreenWGSL string

// FullscreenVertexCount is the draw count for the shared quad: two triangles.
const FullscreenVertexCount = 6

// fullscreenEntryPoint is the vertex entry point in fullscreen.wgsl.
const fullscreenEntryPoint = "vs_main"

// ResourceSource resolves script ids to live GPU resources.
// *buffers.Manager satisfies it.
type ResourceSource interface {
	Get(scriptID string) (*buffers.Resource, bool)
}

// Desc is everything needed to build one script's pipeline state.
type Desc struct {
	// Label names the created GPU objects, usually the script id.
	Label string

	// Compute selects compute versus render pipeline construction.
	Compute bool

	// Module is the script's compiled shader module.
	Module gpucore.ShaderModuleID

	// EntryPoint is the module's entry point name.
	EntryPoint string

	// Workgroup is the compute workgroup size. Ignored for render.
	Workgroup [3]uint32

	// TargetFormat is the render target format: the script's own output
	// buffer format. Ignored for compute.
	TargetFormat gpucore.TextureFormat

	// TimeBuffer and MouseBuffer are the shared uniform buffers.
	TimeBuffer, MouseBuffer gpucore.BufferID

	// Producers lists the visible producer scripts in binding order.
	Producers []wgsl.Producer

	// Output is the script's own resource. Bound as the output storage
	// buffer for compute scripts; its texture is the render target for
	// fragment scripts (the engine passes it to BeginRenderPass).
	Output *buffers.Resource
}

// Bundle is the built GPU state for one script. Valid for a specific
// snapshot of (module, kind, producer topology, output spec); any change
// there requires destroying and rebuilding.
type Bundle struct {
	Layout         gpucore.BindGroupLayoutID
	PipelineLayout gpucore.PipelineLayoutID
	BindGroup      gpucore.BindGroupID

	// Exactly one of the two pipelines is set, by script kind.
	ComputePipeline gpucore.ComputePipelineID
	RenderPipeline  gpucore.RenderPipelineID

	// Workgroup is the dispatch workgroup size for compute bundles.
	Workgroup [3]uint32
}

// Destroy releases the bundle's GPU objects. Idempotent.
func (b *Bundle) Destroy(adapter gpucore.GPUAdapter) {
	if b == nil {
		return
	}
	if b.ComputePipeline != gpucore.InvalidID {
		adapter.DestroyComputePipeline(b.ComputePipeline)
		b.ComputePipeline = gpucore.InvalidID
	}
	if b.RenderPipeline != gpucore.InvalidID {
		adapter.DestroyRenderPipeline(b.RenderPipeline)
		b.RenderPipeline = gpucore.InvalidID
	}
	if b.BindGroup != gpucore.InvalidID {
		adapter.DestroyBindGroup(b.BindGroup)
		b.BindGroup = gpucore.InvalidID
	}
	if b.PipelineLayout != gpucore.InvalidID {
		adapter.DestroyPipelineLayout(b.PipelineLayout)
		b.PipelineLayout = gpucore.InvalidID
	}
	if b.Layout != gpucore.InvalidID {
		adapter.DestroyBindGroupLayout(b.Layout)
		b.Layout = gpucore.InvalidID
	}
}

// Builder constructs bundles. It lazily owns two shared objects reused by
// every bundle: the fullscreen-quad vertex module and one filtering sampler.
type Builder struct {
	adapter gpucore.GPUAdapter

	mu         sync.Mutex
	quadModule gpucore.ShaderModuleID
	sampler    gpucore.SamplerID
}

// NewBuilder creates a Builder over the adapter.
func NewBuilder(adapter gpucore.GPUAdapter) *Builder {
	return &Builder{adapter: adapter}
}

// ensureShared creates the quad vertex module and sampler on first use.
func (b *Builder) ensureShared() (gpucore.ShaderModuleID, gpucore.SamplerID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quadModule == gpucore.InvalidID {
		mod, err := b.adapter.CreateShaderModule(&gpucore.ShaderModuleDesc{
			Label: "fullscreen_quad",
			WGSL:  fullscreenWGSL,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("%w: quad vertex module: %v", ErrBuild, err)
		}
		b.quadModule = mod
	}
	if b.sampler == gpucore.InvalidID {
		smp, err := b.adapter.CreateSampler("shared_linear")
		if err != nil {
			return 0, 0, fmt.Errorf("%w: shared sampler: %v", ErrBuild, err)
		}
		b.sampler = smp
	}
	return b.quadModule, b.sampler, nil
}

// Close releases the shared objects. Bundles must already be destroyed.
func (b *Builder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quadModule != gpucore.InvalidID {
		b.adapter.DestroyShaderModule(b.quadModule)
		b.quadModule = gpucore.InvalidID
	}
	if b.sampler != gpucore.InvalidID {
		b.adapter.DestroySampler(b.sampler)
		b.sampler = gpucore.InvalidID
	}
}

// Build constructs layout, bind group, and pipeline for one script. Fails
// with ErrMissingProducer if any producer in desc.Producers has no live
// resource in src, without creating a partial bundle.
func (b *Builder) Build(desc *Desc, src ResourceSource) (*Bundle, error) {
	quad, sampler, err := b.ensureShared()
	if err != nil {
		return nil, err
	}

	plan := wgsl.PlanBindings(desc.Producers, desc.Compute)

	visibility := gpucore.StageFragment
	if desc.Compute {
		visibility = gpucore.StageCompute
	}

	layoutEntries := make([]gpucore.BindGroupLayoutEntry, 0, len(plan))
	groupEntries := make([]gpucore.BindGroupEntry, 0, len(plan))
	for _, binding := range plan {
		entry := gpucore.BindGroupLayoutEntry{Binding: binding.Index, Visibility: visibility}
		switch binding.Role {
		case wgsl.RoleTimeUniform:
			entry.Type = gpucore.BindingTypeUniformBuffer
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Buffer: desc.TimeBuffer,
			})
		case wgsl.RoleMouseUniform:
			entry.Type = gpucore.BindingTypeUniformBuffer
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Buffer: desc.MouseBuffer,
			})
		case wgsl.RoleStorageBuffer:
			res, ok := src.Get(binding.ProducerID)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingProducer, binding.ProducerID)
			}
			entry.Type = gpucore.BindingTypeStorageBuffer
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Buffer: res.Buffer, Size: res.Size,
			})
		case wgsl.RoleTexture:
			res, ok := src.Get(binding.ProducerID)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingProducer, binding.ProducerID)
			}
			entry.Type = gpucore.BindingTypeSampledTexture
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Texture: res.Texture,
			})
		case wgsl.RoleSampler:
			entry.Type = gpucore.BindingTypeSampler
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Sampler: sampler,
			})
		case wgsl.RoleOutputBuffer:
			if desc.Output == nil {
				return nil, fmt.Errorf("%w: own output for %q", ErrMissingProducer, desc.Label)
			}
			entry.Type = gpucore.BindingTypeStorageBuffer
			groupEntries = append(groupEntries, gpucore.BindGroupEntry{
				Binding: binding.Index, Buffer: desc.Output.Buffer, Size: desc.Output.Size,
			})
		}
		layoutEntries = append(layoutEntries, entry)
	}

	bundle := &Bundle{Workgroup: desc.Workgroup}
	fail := func(err error) (*Bundle, error) {
		bundle.Destroy(b.adapter)
		return nil, err
	}

	bundle.Layout, err = b.adapter.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label:   desc.Label + "_layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: bind group layout: %v", ErrBuild, err))
	}

	bundle.PipelineLayout, err = b.adapter.CreatePipelineLayout(
		desc.Label+"_pipeline_layout",
		[]gpucore.BindGroupLayoutID{bundle.Layout},
	)
	if err != nil {
		return fail(fmt.Errorf("%w: pipeline layout: %v", ErrBuild, err))
	}

	bundle.BindGroup, err = b.adapter.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:   desc.Label + "_bind_group",
		Layout:  bundle.Layout,
		Entries: groupEntries,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: bind group: %v", ErrBuild, err))
	}

	if desc.Compute {
		bundle.ComputePipeline, err = b.adapter.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:      desc.Label,
			Layout:     bundle.PipelineLayout,
			Module:     desc.Module,
			EntryPoint: desc.EntryPoint,
		})
		if err != nil {
			return fail(fmt.Errorf("%w: compute pipeline: %v", ErrBuild, err))
		}
		return bundle, nil
	}

	bundle.RenderPipeline, err = b.adapter.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:              desc.Label,
		Layout:             bundle.PipelineLayout,
		VertexModule:       quad,
		VertexEntryPoint:   fullscreenEntryPoint,
		FragmentModule:     desc.Module,
		FragmentEntryPoint: desc.EntryPoint,
		TargetFormat:       desc.TargetFormat,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: render pipeline: %v", ErrBuild, err))
	}
	return bundle, nil
}

// DispatchSize converts output dimensions to workgroup counts, rounding up
// so partial workgroups still cover the edge pixels.
func DispatchSize(width, height uint32, workgroup [3]uint32) (x, y, z uint32) {
	wx, wy := workgroup[0], workgroup[1]
	if wx == 0 {
		wx = 1
	}
	if wy == 0 {
		wy = 1
	}
	return (width + wx - 1) / wx, (height + wy - 1) / wy, 1
}
