// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	nagawgsl "github.com/gogpu/naga/wgsl"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/shaderlab/gpucore"
)

// ErrCompile is returned by Compile when the source fails to parse or
// validate. The returned Artifact still carries the diagnostics.
var ErrCompile = errors.New("wgsl: compilation failed")

// Severity classifies a diagnostic.
type Severity uint8

// Diagnostic severities.
const (
	SeverityWarning Severity = iota + 1
	SeverityError
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Diagnostic is one message produced while compiling a script. Line and
// Column are 1-based positions into the injected source; zero means the
// position is unknown.
type Diagnostic struct {
	Severity Severity
	Line     int
	Column   int
	Message  string
}

// String formats the diagnostic the way compiler output usually reads.
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s at %d:%d: %s", d.Severity, d.Line, d.Column, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// defaultWorkgroup is the dispatch workgroup size assumed when a compute
// entry point does not declare one.
var defaultWorkgroup = [3]uint32{8, 8, 1}

// Artifact is the result of compiling one script's injected source. Failed
// compiles produce an artifact too, with Module left invalid, so the result
// can be cached and the diagnostics replayed without recompiling.
type Artifact struct {
	// Compute reports the stage the artifact was compiled for.
	Compute bool

	// Source is the full injected source that was compiled.
	Source string

	// Module is the created shader module, or gpucore.InvalidID on failure.
	Module gpucore.ShaderModuleID

	// EntryPoint is the discovered entry point name for the stage.
	EntryPoint string

	// Workgroup is the compute workgroup size. Meaningful only for compute
	// artifacts.
	Workgroup [3]uint32

	// Diagnostics holds every message the compile produced.
	Diagnostics []Diagnostic
}

// Ok reports whether the artifact is usable: a module exists and no
// error-severity diagnostic was produced.
func (a *Artifact) Ok() bool {
	if a == nil || a.Module == gpucore.InvalidID {
		return false
	}
	for _, d := range a.Diagnostics {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// moduleKey identifies a cached compile. Two scripts with identical injected
// source but different kinds must not share an artifact.
type moduleKey struct {
	compute bool
	source  string
}

// CacheStats reports compile cache effectiveness.
type CacheStats struct {
	Hits     uint64
	Misses   uint64
	Evicted  uint64
	Compiles uint64
}

// DefaultCacheSize is the compile cache capacity used when NewCompiler is
// given a non-positive size.
const DefaultCacheSize = 128

// Compiler compiles injected WGSL source into shader modules, caching both
// successful and failed results keyed by (kind, injected source).
//
// Eviction destroys the evicted artifact's module, so cache capacity bounds
// live shader modules on the device.
type Compiler struct {
	adapter gpucore.GPUAdapter

	mu    sync.Mutex
	cache *lru.Cache[moduleKey, *Artifact]
	stats CacheStats
}

// NewCompiler builds a compiler over the given adapter. size bounds the
// number of cached artifacts; non-positive means DefaultCacheSize.
func NewCompiler(adapter gpucore.GPUAdapter, size int) *Compiler {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Compiler{adapter: adapter}
	// Size is validated above, so construction cannot fail.
	c.cache, _ = lru.NewWithEvict[moduleKey, *Artifact](size, c.onEvict)
	return c
}

func (c *Compiler) onEvict(_ moduleKey, a *Artifact) {
	c.stats.Evicted++
	if a.Module != gpucore.InvalidID {
		c.adapter.DestroyShaderModule(a.Module)
		a.Module = gpucore.InvalidID
	}
}

// Compile compiles the injected source for the given stage. Results are
// cached: a repeat call with the same kind and source returns the cached
// artifact without touching the parser or the device, including for sources
// that previously failed.
//
// On failure the returned error wraps ErrCompile (or ErrNoEntryPoint) and
// the artifact carries the diagnostics.
func (c *Compiler) Compile(source string, compute bool) (*Artifact, error) {
	key := moduleKey{compute: compute, source: source}

	c.mu.Lock()
	if a, ok := c.cache.Get(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		if !a.Ok() {
			return a, c.artifactErr(a)
		}
		return a, nil
	}
	c.stats.Misses++
	c.stats.Compiles++
	c.mu.Unlock()

	a := c.compile(source, compute)

	c.mu.Lock()
	c.cache.Add(key, a)
	c.mu.Unlock()

	if !a.Ok() {
		return a, c.artifactErr(a)
	}
	return a, nil
}

func (c *Compiler) artifactErr(a *Artifact) error {
	for _, d := range a.Diagnostics {
		if d.Severity == SeverityError {
			return fmt.Errorf("%w: %s", ErrCompile, d.Message)
		}
	}
	return ErrCompile
}

func (c *Compiler) compile(source string, compute bool) *Artifact {
	a := &Artifact{Compute: compute, Source: source, Workgroup: defaultWorkgroup}

	ast, err := naga.Parse(source)
	if err != nil {
		a.Diagnostics = append(a.Diagnostics, toDiagnostic(err))
		return a
	}

	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		a.Diagnostics = append(a.Diagnostics, toDiagnostic(err))
		return a
	}

	verrs, err := naga.Validate(module)
	if err != nil {
		a.Diagnostics = append(a.Diagnostics, toDiagnostic(err))
		return a
	}
	for _, ve := range verrs {
		a.Diagnostics = append(a.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  ve.Error(),
		})
	}
	if len(a.Diagnostics) > 0 {
		return a
	}

	if !c.findEntryPoint(a, module) {
		stage := "@fragment"
		if compute {
			stage = "@compute"
		}
		a.Diagnostics = append(a.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  "no " + stage + " entry point declared",
		})
		return a
	}

	id, err := c.adapter.CreateShaderModule(&gpucore.ShaderModuleDesc{
		Label: a.EntryPoint,
		WGSL:  source,
	})
	if err != nil {
		a.Diagnostics = append(a.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  "module creation failed: " + err.Error(),
		})
		return a
	}
	a.Module = id
	return a
}

// findEntryPoint fills EntryPoint (and Workgroup for compute) from the IR's
// entry point list, preferring "main" when several match the stage.
func (c *Compiler) findEntryPoint(a *Artifact, module *ir.Module) bool {
	want := ir.StageFragment
	if a.Compute {
		want = ir.StageCompute
	}
	found := false
	for _, ep := range module.EntryPoints {
		if ep.Stage != want {
			continue
		}
		if found && ep.Name != "main" {
			continue
		}
		a.EntryPoint = ep.Name
		if a.Compute && ep.Workgroup != [3]uint32{} {
			a.Workgroup = ep.Workgroup
		}
		found = true
	}
	return found
}

// toDiagnostic converts a parse or lowering error into a Diagnostic,
// recovering the source position when the underlying error carries one.
func toDiagnostic(err error) Diagnostic {
	var se *nagawgsl.SourceError
	if errors.As(err, &se) {
		return Diagnostic{
			Severity: SeverityError,
			Line:     se.Span.Start.Line,
			Column:   se.Span.Start.Column,
			Message:  se.Message,
		}
	}
	return Diagnostic{Severity: SeverityError, Message: err.Error()}
}

// Stats returns a snapshot of cache counters.
func (c *Compiler) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Invalidate drops a single cached artifact, destroying its module.
func (c *Compiler) Invalidate(source string, compute bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(moduleKey{compute: compute, source: source})
}

// Purge drops every cached artifact, destroying their modules.
func (c *Compiler) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
