// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/shaderlab/backend/wgpu"
	"github.com/gogpu/shaderlab/buffers"
	"github.com/gogpu/shaderlab/gpucore"
	"github.com/gogpu/shaderlab/wgsl"
)

func newTestAdapter(t *testing.T) gpucore.GPUAdapter {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	adapter := wgpu.NewAdapter(wgpu.FromHAL(openDev.Device, openDev.Queue))
	t.Cleanup(func() {
		adapter.Destroy()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return adapter
}

// testSetup builds the common fixtures: uniform buffers, one fragment
// producer "glow", one compute producer "sim", and the consumer's own
// resource under id "self".
type testSetup struct {
	adapter   gpucore.GPUAdapter
	manager   *buffers.Manager
	builder   *Builder
	module    gpucore.ShaderModuleID
	timeBuf   gpucore.BufferID
	mouseBuf  gpucore.BufferID
	selfRes   *buffers.Resource
	producers []wgsl.Producer
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	adapter := newTestAdapter(t)
	manager := buffers.NewManager(adapter)
	t.Cleanup(manager.DestroyAll)
	builder := NewBuilder(adapter)
	t.Cleanup(builder.Close)

	module, err := adapter.CreateShaderModule(&gpucore.ShaderModuleDesc{
		Label: "test_module",
		WGSL:  "@fragment fn main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }",
	})
	if err != nil {
		t.Fatalf("CreateShaderModule: %v", err)
	}
	timeBuf, err := adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: "time", Size: 16,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer time: %v", err)
	}
	mouseBuf, err := adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: "mouse", Size: 16,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer mouse: %v", err)
	}

	for _, id := range []string{"glow", "sim", "self"} {
		if _, err := manager.Create(id, buffers.Spec{Format: "rgba8unorm", Width: 32, Height: 32}); err != nil {
			t.Fatalf("Create %q: %v", id, err)
		}
	}
	selfRes, _ := manager.Get("self")

	return &testSetup{
		adapter:  adapter,
		manager:  manager,
		builder:  builder,
		module:   module,
		timeBuf:  timeBuf,
		mouseBuf: mouseBuf,
		selfRes:  selfRes,
		producers: []wgsl.Producer{
			{ID: "glow", Compute: false},
			{ID: "sim", Compute: true},
		},
	}
}

func TestBuildRenderBundle(t *testing.T) {
	s := newTestSetup(t)

	bundle, err := s.builder.Build(&Desc{
		Label:        "self",
		Module:       s.module,
		EntryPoint:   "main",
		TargetFormat: gpucore.TextureFormatRGBA8Unorm,
		TimeBuffer:   s.timeBuf,
		MouseBuffer:  s.mouseBuf,
		Producers:    s.producers,
		Output:       s.selfRes,
	}, s.manager)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer bundle.Destroy(s.adapter)

	if bundle.RenderPipeline == gpucore.InvalidID {
		t.Error("render bundle missing render pipeline")
	}
	if bundle.ComputePipeline != gpucore.InvalidID {
		t.Error("render bundle should not have a compute pipeline")
	}
	if bundle.BindGroup == gpucore.InvalidID {
		t.Error("bundle missing bind group")
	}
}

func TestBuildComputeBundle(t *testing.T) {
	s := newTestSetup(t)

	bundle, err := s.builder.Build(&Desc{
		Label:       "self",
		Compute:     true,
		Module:      s.module,
		EntryPoint:  "main",
		Workgroup:   [3]uint32{8, 8, 1},
		TimeBuffer:  s.timeBuf,
		MouseBuffer: s.mouseBuf,
		Producers:   s.producers,
		Output:      s.selfRes,
	}, s.manager)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer bundle.Destroy(s.adapter)

	if bundle.ComputePipeline == gpucore.InvalidID {
		t.Error("compute bundle missing compute pipeline")
	}
	if bundle.RenderPipeline != gpucore.InvalidID {
		t.Error("compute bundle should not have a render pipeline")
	}
	if bundle.Workgroup != [3]uint32{8, 8, 1} {
		t.Errorf("Workgroup = %v, want [8 8 1]", bundle.Workgroup)
	}
}

func TestBuildMissingProducerFailsFast(t *testing.T) {
	s := newTestSetup(t)
	s.manager.Destroy("sim")

	_, err := s.builder.Build(&Desc{
		Label:        "self",
		Module:       s.module,
		EntryPoint:   "main",
		TargetFormat: gpucore.TextureFormatRGBA8Unorm,
		TimeBuffer:   s.timeBuf,
		MouseBuffer:  s.mouseBuf,
		Producers:    s.producers,
		Output:       s.selfRes,
	}, s.manager)
	if !errors.Is(err, ErrMissingProducer) {
		t.Fatalf("err = %v, want ErrMissingProducer", err)
	}
	if !strings.Contains(err.Error(), "sim") {
		t.Errorf("error should name the missing producer: %v", err)
	}
}

func TestBuildComputeMissingOutput(t *testing.T) {
	s := newTestSetup(t)

	_, err := s.builder.Build(&Desc{
		Label:       "self",
		Compute:     true,
		Module:      s.module,
		EntryPoint:  "main",
		TimeBuffer:  s.timeBuf,
		MouseBuffer: s.mouseBuf,
	}, s.manager)
	if !errors.Is(err, ErrMissingProducer) {
		t.Fatalf("err = %v, want ErrMissingProducer", err)
	}
}

func TestBundleDestroyIdempotent(t *testing.T) {
	s := newTestSetup(t)

	bundle, err := s.builder.Build(&Desc{
		Label:        "self",
		Module:       s.module,
		EntryPoint:   "main",
		TargetFormat: gpucore.TextureFormatRGBA8Unorm,
		TimeBuffer:   s.timeBuf,
		MouseBuffer:  s.mouseBuf,
		Output:       s.selfRes,
	}, s.manager)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	bundle.Destroy(s.adapter)
	bundle.Destroy(s.adapter)
	var nilBundle *Bundle
	nilBundle.Destroy(s.adapter)
}

func TestDispatchSize(t *testing.T) {
	tests := []struct {
		w, h      uint32
		workgroup [3]uint32
		x, y      uint32
	}{
		{64, 64, [3]uint32{8, 8, 1}, 8, 8},
		{65, 64, [3]uint32{8, 8, 1}, 9, 8},
		{1, 1, [3]uint32{8, 8, 1}, 1, 1},
		{100, 50, [3]uint32{16, 4, 1}, 7, 13},
		{10, 10, [3]uint32{0, 0, 0}, 10, 10},
	}
	for _, tt := range tests {
		x, y, z := DispatchSize(tt.w, tt.h, tt.workgroup)
		if x != tt.x || y != tt.y || z != 1 {
			t.Errorf("DispatchSize(%d, %d, %v) = (%d, %d, %d), want (%d, %d, 1)",
				tt.w, tt.h, tt.workgroup, x, y, z, tt.x, tt.y)
		}
	}
}
