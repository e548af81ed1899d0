// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package viz inspects and presents script output: fullscreen blit to a
// target texture, pointwise sampling, aggregate statistics, and image
// export. It consumes the buffer manager's resources read-only and never
// mutates engine state.
package viz

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/shaderlab/buffers"
	"github.com/gogpu/shaderlab/gpucore"
)

// ErrBounds means a sample coordinate lies outside the buffer dimensions.
var ErrBounds = errors.New("viz: coordinates out of bounds")

//go:embed blit.wgsl
var blitWGSL string

// blitState is the cached fullscreen-copy pipeline for one target format.
type blitState struct {
	layout         gpucore.BindGroupLayoutID
	pipelineLayout gpucore.PipelineLayoutID
	pipeline       gpucore.RenderPipelineID
}

// Viewer renders and reads back script output.
//
// The blit pipeline is built lazily on first use and reused across calls;
// only a new target format triggers another pipeline build.
type Viewer struct {
	adapter gpucore.GPUAdapter
	manager *buffers.Manager

	mu      sync.Mutex
	module  gpucore.ShaderModuleID
	sampler gpucore.SamplerID
	blits   map[gpucore.TextureFormat]*blitState
}

// NewViewer creates a Viewer over the engine's buffer manager.
func NewViewer(adapter gpucore.GPUAdapter, manager *buffers.Manager) *Viewer {
	return &Viewer{
		adapter: adapter,
		manager: manager,
		blits:   make(map[gpucore.TextureFormat]*blitState),
	}
}

// ensureBlitLocked builds (or returns) the cached blit pipeline for a
// target format. Caller holds v.mu.
func (v *Viewer) ensureBlitLocked(format gpucore.TextureFormat) (*blitState, error) {
	if st, ok := v.blits[format]; ok {
		return st, nil
	}

	var err error
	if v.module == gpucore.InvalidID {
		v.module, err = v.adapter.CreateShaderModule(&gpucore.ShaderModuleDesc{
			Label: "viz_blit",
			WGSL:  blitWGSL,
		})
		if err != nil {
			return nil, fmt.Errorf("blit module: %w", err)
		}
	}
	if v.sampler == gpucore.InvalidID {
		v.sampler, err = v.adapter.CreateSampler("viz_blit")
		if err != nil {
			return nil, fmt.Errorf("blit sampler: %w", err)
		}
	}

	st := &blitState{}
	st.layout, err = v.adapter.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "viz_blit_layout",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Type: gpucore.BindingTypeSampledTexture, Visibility: gpucore.StageFragment},
			{Binding: 1, Type: gpucore.BindingTypeSampler, Visibility: gpucore.StageFragment},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blit layout: %w", err)
	}
	st.pipelineLayout, err = v.adapter.CreatePipelineLayout("viz_blit_pipeline_layout",
		[]gpucore.BindGroupLayoutID{st.layout})
	if err != nil {
		v.adapter.DestroyBindGroupLayout(st.layout)
		return nil, fmt.Errorf("blit pipeline layout: %w", err)
	}
	st.pipeline, err = v.adapter.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:              "viz_blit",
		Layout:             st.pipelineLayout,
		VertexModule:       v.module,
		VertexEntryPoint:   "vs_main",
		FragmentModule:     v.module,
		FragmentEntryPoint: "fs_main",
		TargetFormat:       format,
	})
	if err != nil {
		v.adapter.DestroyPipelineLayout(st.pipelineLayout)
		v.adapter.DestroyBindGroupLayout(st.layout)
		return nil, fmt.Errorf("blit pipeline: %w", err)
	}
	v.blits[format] = st
	return st, nil
}

// RenderToTexture draws a script's current output texture onto target,
// stretching to fill. targetFormat must match the target texture's format.
func (v *Viewer) RenderToTexture(scriptID string, target gpucore.TextureID, targetFormat gpucore.TextureFormat) error {
	res, ok := v.manager.Get(scriptID)
	if !ok {
		return fmt.Errorf("%w: %q", buffers.ErrNotFound, scriptID)
	}

	v.mu.Lock()
	st, err := v.ensureBlitLocked(targetFormat)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	sampler := v.sampler
	v.mu.Unlock()

	group, err := v.adapter.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:  "viz_blit_group",
		Layout: st.layout,
		Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Texture: res.Texture},
			{Binding: 1, Sampler: sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("blit bind group: %w", err)
	}
	defer v.adapter.DestroyBindGroup(group)

	pass, err := v.adapter.BeginRenderPass("viz_blit", target, gpucore.Color{A: 1})
	if err != nil {
		return err
	}
	pass.SetPipeline(st.pipeline)
	pass.SetBindGroup(0, group)
	pass.Draw(6, 1, 0, 0)
	pass.End()
	return v.adapter.Submit()
}

// Close releases the cached GPU objects.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for format, st := range v.blits {
		v.adapter.DestroyRenderPipeline(st.pipeline)
		v.adapter.DestroyPipelineLayout(st.pipelineLayout)
		v.adapter.DestroyBindGroupLayout(st.layout)
		delete(v.blits, format)
	}
	if v.module != gpucore.InvalidID {
		v.adapter.DestroyShaderModule(v.module)
		v.module = gpucore.InvalidID
	}
	if v.sampler != gpucore.InvalidID {
		v.adapter.DestroySampler(v.sampler)
		v.sampler = gpucore.InvalidID
	}
}

// Sample reads one pixel's channel values from a script's backing buffer.
// Coordinates are checked against the buffer dimensions before any GPU
// readback.
func (v *Viewer) Sample(scriptID string, x, y uint32) ([]float64, error) {
	res, ok := v.manager.Get(scriptID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", buffers.ErrNotFound, scriptID)
	}
	if x >= res.Width || y >= res.Height {
		return nil, fmt.Errorf("%w: (%d, %d) in %dx%d", ErrBounds, x, y, res.Width, res.Height)
	}

	data, err := v.manager.Read(scriptID)
	if err != nil {
		return nil, err
	}
	bpp := res.Format.BytesPerPixel()
	offset := (uint64(y)*uint64(res.Width) + uint64(x)) * uint64(bpp)
	return decodePixel(res.Format, data[offset:offset+uint64(bpp)]), nil
}

// Statistics are aggregate channel values over a whole buffer.
type Statistics struct {
	Mean, Min, Max   float64
	Variance, StdDev float64

	// Samples is the number of channel values aggregated.
	Samples int
}

// Stats computes aggregate statistics over every channel value in a
// script's backing buffer.
func (v *Viewer) Stats(scriptID string) (Statistics, error) {
	res, ok := v.manager.Get(scriptID)
	if !ok {
		return Statistics{}, fmt.Errorf("%w: %q", buffers.ErrNotFound, scriptID)
	}
	data, err := v.manager.Read(scriptID)
	if err != nil {
		return Statistics{}, err
	}

	bpp := uint64(res.Format.BytesPerPixel())
	stats := Statistics{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum, sumSq float64
	for off := uint64(0); off+bpp <= uint64(len(data)); off += bpp {
		for _, val := range decodePixel(res.Format, data[off:off+bpp]) {
			sum += val
			sumSq += val * val
			stats.Min = math.Min(stats.Min, val)
			stats.Max = math.Max(stats.Max, val)
			stats.Samples++
		}
	}
	if stats.Samples == 0 {
		return Statistics{}, nil
	}
	n := float64(stats.Samples)
	stats.Mean = sum / n
	stats.Variance = sumSq/n - stats.Mean*stats.Mean
	if stats.Variance < 0 {
		stats.Variance = 0
	}
	stats.StdDev = math.Sqrt(stats.Variance)
	return stats, nil
}

// decodePixel converts one pixel's raw bytes to per-channel float values.
func decodePixel(format gpucore.TextureFormat, px []byte) []float64 {
	switch format {
	case gpucore.TextureFormatRGBA16Float:
		return []float64{
			float64(halfToFloat(uint16(px[0]) | uint16(px[1])<<8)),
			float64(halfToFloat(uint16(px[2]) | uint16(px[3])<<8)),
			float64(halfToFloat(uint16(px[4]) | uint16(px[5])<<8)),
			float64(halfToFloat(uint16(px[6]) | uint16(px[7])<<8)),
		}
	case gpucore.TextureFormatRGBA32Float:
		return []float64{
			float64(float32FromBytes(px[0:])),
			float64(float32FromBytes(px[4:])),
			float64(float32FromBytes(px[8:])),
			float64(float32FromBytes(px[12:])),
		}
	case gpucore.TextureFormatR32Float:
		return []float64{float64(float32FromBytes(px))}
	case gpucore.TextureFormatRG32Float:
		return []float64{
			float64(float32FromBytes(px[0:])),
			float64(float32FromBytes(px[4:])),
		}
	default:
		// 8-bit unorm formats.
		return []float64{
			float64(px[0]) / 255,
			float64(px[1]) / 255,
			float64(px[2]) / 255,
			float64(px[3]) / 255,
		}
	}
}

func float32FromBytes(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

// halfToFloat expands an IEEE 754 binary16 value to float32.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h >> 10 & 0x1F)
	mant := uint32(h & 0x3FF)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize the mantissa.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3FF
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case 0x1F:
		return math.Float32frombits(sign | 0xFF<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
