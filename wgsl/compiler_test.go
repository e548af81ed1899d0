// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/shaderlab/gpucore"
)

// moduleRecorder implements the shader-module subset of gpucore.GPUAdapter.
// Everything else panics via the embedded nil interface, which is fine: the
// compiler only ever creates and destroys modules.
type moduleRecorder struct {
	gpucore.GPUAdapter

	next      gpucore.ShaderModuleID
	created   int
	destroyed int
}

func (r *moduleRecorder) CreateShaderModule(*gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	r.next++
	r.created++
	return r.next, nil
}

func (r *moduleRecorder) DestroyShaderModule(gpucore.ShaderModuleID) {
	r.destroyed++
}

const validFragment = `
@fragment
fn main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

const validCompute = `
@compute @workgroup_size(16, 4, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let x = f32(gid.x) * 2.0;
}
`

func TestCompileFragment(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	a, err := c.Compile(validFragment, false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !a.Ok() {
		t.Fatalf("artifact not ok: %v", a.Diagnostics)
	}
	if a.EntryPoint != "main" {
		t.Errorf("entry point = %q, want main", a.EntryPoint)
	}
	if a.Module == gpucore.InvalidID {
		t.Error("module id not set")
	}
}

func TestCompileComputeWorkgroup(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	a, err := c.Compile(validCompute, true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if a.Workgroup != [3]uint32{16, 4, 1} {
		t.Errorf("workgroup = %v, want [16 4 1]", a.Workgroup)
	}
}

func TestCompileCachesResult(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	a1, err := c.Compile(validFragment, false)
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	a2, err := c.Compile(validFragment, false)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if a1 != a2 {
		t.Error("second compile should return the cached artifact")
	}
	if rec.created != 1 {
		t.Errorf("modules created = %d, want 1", rec.created)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Compiles != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 compile", stats)
	}
}

func TestCompileKindPartOfKey(t *testing.T) {
	// A shader with both entry points compiles differently per stage, so
	// the kind must be part of the cache key.
	src := validFragment + `
@compute @workgroup_size(1, 1, 1)
fn cs() {
}
`
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	af, err := c.Compile(src, false)
	if err != nil {
		t.Fatalf("fragment Compile: %v", err)
	}
	ac, err := c.Compile(src, true)
	if err != nil {
		t.Fatalf("compute Compile: %v", err)
	}
	if af == ac {
		t.Error("fragment and compute compiles of the same source must not share an artifact")
	}
	if rec.created != 2 {
		t.Errorf("modules created = %d, want 2", rec.created)
	}
}

func TestCompileParseErrorCached(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	const bad = "@fragment\nfn main( -> {"
	a1, err := c.Compile(bad, false)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", err)
	}
	if a1.Ok() {
		t.Fatal("artifact should not be ok")
	}
	if len(a1.Diagnostics) == 0 {
		t.Fatal("no diagnostics for parse failure")
	}

	a2, err := c.Compile(bad, false)
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("cached err = %v, want ErrCompile", err)
	}
	if a1 != a2 {
		t.Error("failed compile should be served from cache")
	}
	if stats := c.Stats(); stats.Compiles != 1 {
		t.Errorf("compiles = %d, want 1 (failure cached)", stats.Compiles)
	}
	if rec.created != 0 {
		t.Errorf("modules created = %d, want 0", rec.created)
	}
}

func TestCompileErrorPosition(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	a, err := c.Compile("@fragment\nfn main() -> @location(0) vec4<f32> {\n    return ;\n}\n", false)
	if err == nil {
		t.Fatal("expected compile error")
	}
	found := false
	for _, d := range a.Diagnostics {
		if d.Severity == SeverityError && d.Line > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %v, want one with a source position", a.Diagnostics)
	}
}

func TestCompileMissingEntryPoint(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	// Valid module, but only a fragment entry point; compiling for compute
	// must fail with a diagnostic.
	a, err := c.Compile(validFragment, true)
	if err == nil {
		t.Fatal("expected error for missing compute entry point")
	}
	found := false
	for _, d := range a.Diagnostics {
		if strings.Contains(d.Message, "@compute") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %v, want missing @compute entry point", a.Diagnostics)
	}
}

func TestEvictionDestroysModule(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 1)

	if _, err := c.Compile(validFragment, false); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	if _, err := c.Compile(validCompute, true); err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if rec.destroyed != 1 {
		t.Errorf("destroyed = %d, want 1 after eviction", rec.destroyed)
	}
	if c.Stats().Evicted != 1 {
		t.Errorf("evicted = %d, want 1", c.Stats().Evicted)
	}
}

func TestPurgeDestroysModules(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	if _, err := c.Compile(validFragment, false); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := c.Compile(validCompute, true); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	c.Purge()
	if rec.destroyed != 2 {
		t.Errorf("destroyed = %d, want 2", rec.destroyed)
	}
}

func TestCompileInjectedProducerSource(t *testing.T) {
	rec := &moduleRecorder{}
	c := NewCompiler(rec, 0)

	user := `
@fragment
fn main(@builtin(position) pos: vec4<f32>) -> @location(0) vec4<f32> {
    let t = u_time.seconds;
    let sample = textureSample(tex_src, smp_src, pos.xy);
    return sample * t;
}
`
	src := Inject(user, []Producer{{ID: "src", Compute: false}}, false)
	a, err := c.Compile(src, false)
	if err != nil {
		t.Fatalf("Compile injected source: %v\n%v", err, a.Diagnostics)
	}
	if !a.Ok() {
		t.Fatalf("artifact not ok: %v", a.Diagnostics)
	}
}
