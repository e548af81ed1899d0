// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderlab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/shaderlab/buffers"
	"github.com/gogpu/shaderlab/gpucore"
	"github.com/gogpu/shaderlab/pipeline"
	"github.com/gogpu/shaderlab/wgsl"
)

// Defaults for the error retry policy and compile cache.
const (
	// DefaultMaxRetries is how many consecutive failures a script survives
	// before being disabled.
	DefaultMaxRetries = 3

	// DefaultCooldown is the minimum wait after a script error before the
	// next attempt.
	DefaultCooldown = time.Second
)

// uniformBufferSize covers one vec4 of f32, the layout of both the time
// and mouse uniform structs.
const uniformBufferSize = 16

// ExecutionResult reports one script's outcome within an execution pass.
type ExecutionResult struct {
	// ID is the script id.
	ID string

	// Success reports whether the script executed and submitted.
	Success bool

	// Err is the failure when Success is false. Nil for scripts skipped
	// because they are disabled, absent, or cooling down.
	Err error
}

// Engine owns the script registry, the execution order, per-script error
// state, and the execution protocol. It coordinates the shader compiler,
// pipeline builder, and buffer manager.
//
// Methods are safe for concurrent use, but execution itself is serialized:
// one script's pass completes before the next begins.
type Engine struct {
	adapter  gpucore.GPUAdapter
	manager  *buffers.Manager
	compiler *wgsl.Compiler
	builder  *pipeline.Builder
	log      *slog.Logger

	maxRetries int
	cooldown   time.Duration
	cacheSize  int
	fallback   bool
	now        func() time.Time
	observer   Observer

	mu      sync.Mutex
	scripts map[string]*script
	order   []string
	closed  bool

	timeBuf  gpucore.BufferID
	mouseBuf gpucore.BufferID

	startedAt time.Time
	lastTick  time.Time
	frame     uint64

	pointerX, pointerY         float32
	pointerPrim, pointerSecond bool

	loopMu     sync.Mutex
	loopCancel func()
	loopDone   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries sets the consecutive-failure ceiling before a script is
// disabled. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxRetries = n
		}
	}
}

// WithCooldown sets the minimum wait after a script error before the next
// attempt.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cooldown = d
		}
	}
}

// WithFallbackMode controls error propagation: when enabled, execution
// failures are reported only through results and events instead of being
// returned to the caller. The per-script retry policy applies either way.
func WithFallbackMode(enabled bool) Option {
	return func(e *Engine) { e.fallback = enabled }
}

// WithCompileCacheSize bounds the compiled-module cache entry count.
func WithCompileCacheSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cacheSize = n
		}
	}
}

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver installs the event callback.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an engine over an initialized GPU adapter. The adapter
// must stay valid for the engine's lifetime; device loss is not handled.
func NewEngine(adapter gpucore.GPUAdapter, opts ...Option) (*Engine, error) {
	e := &Engine{
		adapter:    adapter,
		log:        Logger(),
		maxRetries: DefaultMaxRetries,
		cooldown:   DefaultCooldown,
		cacheSize:  wgsl.DefaultCacheSize,
		now:        time.Now,
		scripts:    make(map[string]*script),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.now()
	e.lastTick = e.startedAt

	e.manager = buffers.NewManager(adapter,
		buffers.WithClock(e.now),
		buffers.WithNotify(e.onBufferEvent),
	)
	e.compiler = wgsl.NewCompiler(adapter, e.cacheSize)
	e.builder = pipeline.NewBuilder(adapter)

	var err error
	e.timeBuf, err = adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: "uniform_time",
		Size:  uniformBufferSize,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create time uniform: %w", err)
	}
	e.mouseBuf, err = adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: "uniform_mouse",
		Size:  uniformBufferSize,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		adapter.DestroyBuffer(e.timeBuf)
		return nil, fmt.Errorf("create mouse uniform: %w", err)
	}
	return e, nil
}

// Buffers exposes the engine's buffer manager for read-only consumers such
// as the visualization adapter.
func (e *Engine) Buffers() *buffers.Manager { return e.manager }

// CompilerStats reports compile-cache counters.
func (e *Engine) CompilerStats() wgsl.CacheStats { return e.compiler.Stats() }

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		ev.At = e.now()
		e.observer(ev)
	}
}

// onBufferEvent forwards buffer manager lifecycle events.
func (e *Engine) onBufferEvent(ev buffers.Event) {
	kind := EventBufferCreated
	switch ev.Kind {
	case buffers.EventDestroyed:
		kind = EventBufferDestroyed
	case buffers.EventCopied:
		kind = EventBufferCopied
	case buffers.EventCleared:
		kind = EventBufferCleared
	}
	e.emit(Event{Kind: kind, ScriptID: ev.ScriptID, OtherID: ev.OtherID})
}

// validateConfig checks a config synchronously. Violations are never
// retried.
func validateConfig(cfg *Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	if cfg.Code == "" {
		return fmt.Errorf("%w: empty code for %q", ErrInvalidConfig, cfg.ID)
	}
	if cfg.Buffer.Width == 0 || cfg.Buffer.Height == 0 {
		return fmt.Errorf("%w: buffer dimensions %dx%d for %q",
			ErrInvalidConfig, cfg.Buffer.Width, cfg.Buffer.Height, cfg.ID)
	}
	return nil
}

// CreateScript validates and registers a script, allocating its output
// resource. Fails fast on an invalid config or duplicate id.
func (e *Engine) CreateScript(cfg Config) error {
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	kind := cfg.Kind
	if kind == 0 {
		kind = KindFragment
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, ok := e.scripts[cfg.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, cfg.ID)
	}

	if _, err := e.manager.Create(cfg.ID, cfg.Buffer); err != nil {
		return err
	}
	e.scripts[cfg.ID] = &script{
		id:      cfg.ID,
		code:    cfg.Code,
		kind:    kind,
		buffer:  cfg.Buffer,
		state:   StateCreated,
		enabled: true,
	}
	e.log.Info("script created", "id", cfg.ID, "kind", kind.String())
	e.emit(Event{Kind: EventScriptCreated, ScriptID: cfg.ID})
	return nil
}

// UpdateScript merges a partial config into a script. Any change
// invalidates the cached pipeline, forcing recompilation on next execution.
func (e *Engine) UpdateScript(id string, upd ConfigUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if upd.Code != nil {
		if *upd.Code == "" {
			return fmt.Errorf("%w: empty code for %q", ErrInvalidConfig, id)
		}
		s.code = *upd.Code
	}
	if upd.Kind != nil {
		s.kind = *upd.Kind
	}
	if upd.Buffer != nil {
		if upd.Buffer.Width == 0 || upd.Buffer.Height == 0 {
			return fmt.Errorf("%w: buffer dimensions %dx%d for %q",
				ErrInvalidConfig, upd.Buffer.Width, upd.Buffer.Height, id)
		}
		if _, _, err := e.manager.Update(id, *upd.Buffer); err != nil {
			return err
		}
		s.buffer = *upd.Buffer
	}

	e.invalidateLocked(s)
	e.log.Debug("script updated", "id", id)
	e.emit(Event{Kind: EventScriptUpdated, ScriptID: id})
	return nil
}

// invalidateLocked drops a script's derived pipeline state. Caller holds
// e.mu.
func (e *Engine) invalidateLocked(s *script) {
	s.bundle.Destroy(e.adapter)
	s.bundle = nil
	s.injected = ""
	s.topology = ""
	if s.state == StateReady || s.state == StateExecuting {
		s.state = StateCreated
	}
}

// DestroyScript removes a script, its pipeline state, its buffer resource,
// and its slot in the execution order.
func (e *Engine) DestroyScript(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	e.invalidateLocked(s)
	e.manager.Destroy(id)
	delete(e.scripts, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.log.Info("script destroyed", "id", id)
	e.emit(Event{Kind: EventScriptDestroyed, ScriptID: id})
	return nil
}

// SetExecutionOrder replaces the explicit execution order. The sequence is
// taken as given: no topological inference is applied, so a consumer listed
// before its producer reads the producer's previous output.
func (e *Engine) SetExecutionOrder(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append(e.order[:0:0], ids...)
}

// ExecutionOrder returns a copy of the current execution order.
func (e *Engine) ExecutionOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// SetEnabled toggles a script without touching its error state.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.enabled = enabled
	return nil
}

// ClearErrors resets a script's error record and retry count, re-enabling
// a disabled script.
func (e *Engine) ClearErrors(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scripts[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.clearErrors()
	e.log.Info("script errors cleared", "id", id)
	return nil
}

// ScriptCount returns the number of registered scripts.
func (e *Engine) ScriptCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scripts)
}

// Script returns a snapshot of one script's state.
func (e *Engine) Script(id string) (ScriptInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scripts[id]
	if !ok {
		return ScriptInfo{}, false
	}
	return s.info(), true
}

// Scripts returns snapshots of every registered script, execution-ordered
// scripts first, then the rest sorted by id.
func (e *Engine) Scripts() []ScriptInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScriptInfo, 0, len(e.scripts))
	for _, id := range e.enumerationLocked("") {
		out = append(out, e.scripts[id].info())
	}
	return out
}

// CopyBuffer copies one script's backing buffer into another's, clamped to
// the smaller size.
func (e *Engine) CopyBuffer(srcID, dstID string) error {
	return e.manager.Copy(srcID, dstID)
}

// ClearBuffer zero-fills a script's backing buffer.
func (e *Engine) ClearBuffer(id string) error {
	return e.manager.Clear(id)
}

// InjectedSource returns the final compilable source the script's current
// pipeline was built from. False until the script has been prepared at
// least once.
func (e *Engine) InjectedSource(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.scripts[id]
	if !ok || s.injected == "" {
		return "", false
	}
	return s.injected, true
}

// SetPointer updates the shared pointer position and button state written
// into the mouse uniform on the next execution.
func (e *Engine) SetPointer(x, y float32, primary, secondary bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointerX, e.pointerY = x, y
	e.pointerPrim, e.pointerSecond = primary, secondary
}

// enumerationLocked lists registered script ids deterministically:
// execution order first, then the remainder sorted by id, skipping
// excluding. Caller holds e.mu.
func (e *Engine) enumerationLocked(excluding string) []string {
	seen := make(map[string]bool, len(e.scripts))
	ids := make([]string, 0, len(e.scripts))
	for _, id := range e.order {
		if id == excluding || seen[id] {
			continue
		}
		if _, ok := e.scripts[id]; !ok {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	rest := make([]string, 0, len(e.scripts))
	for id := range e.scripts {
		if id != excluding && !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

// AvailableProducers returns the ordered producer list visible to a script:
// every other registered script with its kind. Source injection and
// bind-group layout generation both consume this same list, so their
// binding indices cannot diverge.
func (e *Engine) AvailableProducers(excludingID string) []wgsl.Producer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableProducersLocked(excludingID)
}

func (e *Engine) availableProducersLocked(excludingID string) []wgsl.Producer {
	ids := e.enumerationLocked(excludingID)
	producers := make([]wgsl.Producer, 0, len(ids))
	for _, id := range ids {
		producers = append(producers, wgsl.Producer{
			ID:      id,
			Compute: e.scripts[id].kind == KindCompute,
		})
	}
	return producers
}

// eligibleLocked reports whether a script may attempt execution now.
func (e *Engine) eligibleLocked(s *script, now time.Time) bool {
	if !s.enabled || s.state == StateDisabled {
		return false
	}
	if s.lastError != nil && now.Sub(s.lastError.At) < e.cooldown {
		return false
	}
	return true
}

// failLocked routes an error through the retry/disablement policy and
// returns it wrapped for the caller.
func (e *Engine) failLocked(s *script, err error, phase Phase, now time.Time) error {
	retries := s.recordError(err, phase, now)
	if retries >= e.maxRetries {
		s.state = StateDisabled
		s.enabled = false
		e.log.Warn("script disabled after repeated failures",
			"id", s.id, "retries", retries, "phase", phase.String(), "err", err)
	} else {
		e.log.Warn("script error", "id", s.id, "retries", retries,
			"phase", phase.String(), "err", err)
	}
	e.emit(Event{Kind: EventScriptError, ScriptID: s.id, Err: err, Phase: phase, Retries: retries})
	return err
}

// ExecuteScript runs one script. Returns false without error when the
// script is absent, disabled, or cooling down. In fallback mode failures
// are recorded and reported via events but not returned.
func (e *Engine) ExecuteScript(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, nil
	}
	ok, err := e.executeLocked(id)
	if err != nil && e.fallback {
		return ok, nil
	}
	return ok, err
}

func (e *Engine) executeLocked(id string) (bool, error) {
	s, ok := e.scripts[id]
	if !ok {
		return false, nil
	}
	now := e.now()
	if !e.eligibleLocked(s, now) {
		return false, nil
	}

	if err := e.prepareLocked(s); err != nil {
		// prepareLocked covers both compilation and pipeline assembly;
		// bind group resolution and build failures are execution errors.
		phase := PhaseCompilation
		if errors.Is(err, ErrExecution) {
			phase = PhaseExecution
		}
		return false, e.failLocked(s, err, phase, now)
	}
	if err := e.submitLocked(s, now); err != nil {
		return false, e.failLocked(s, err, PhaseExecution, now)
	}

	s.executionCount++
	s.lastExecutedAt = now
	s.lastError = nil
	s.state = StateReady
	e.emit(Event{Kind: EventScriptExecuted, ScriptID: id, Success: true})
	return true, nil
}

// topologyLocked fingerprints everything the bundle binds: the injected
// source plus the backing resource handles of the script and its producers.
// Handles change whenever the manager replaces a resource, so a producer
// buffer spec change is observed here even though the injected source is
// identical. Caller holds e.mu.
func (e *Engine) topologyLocked(s *script, producers []wgsl.Producer, injected string) string {
	var b strings.Builder
	b.WriteString(injected)
	if res, ok := e.manager.Get(s.id); ok {
		fmt.Fprintf(&b, "|self=%d/%d", res.Buffer, res.Texture)
	}
	for _, p := range producers {
		if res, ok := e.manager.Get(p.ID); ok {
			fmt.Fprintf(&b, "|%s=%d/%d", p.ID, res.Buffer, res.Texture)
		}
	}
	return b.String()
}

// prepareLocked ensures the script has a current compiled module and
// pipeline bundle for the live producer topology.
func (e *Engine) prepareLocked(s *script) error {
	producers := e.availableProducersLocked(s.id)
	compute := s.kind == KindCompute
	injected := wgsl.Inject(s.code, producers, compute)
	topology := e.topologyLocked(s, producers, injected)
	if s.bundle != nil && topology == s.topology {
		return nil
	}

	s.state = StateCompiling
	artifact, err := e.compiler.Compile(injected, compute)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCompilation, err)
	}
	e.log.Debug("compiled", "id", s.id, "diagnostics", len(artifact.Diagnostics))

	res, ok := e.manager.Get(s.id)
	if !ok {
		return fmt.Errorf("%w: no output resource for %q", ErrExecution, s.id)
	}

	s.bundle.Destroy(e.adapter)
	s.bundle = nil
	bundle, err := e.builder.Build(&pipeline.Desc{
		Label:        s.id,
		Compute:      compute,
		Module:       artifact.Module,
		EntryPoint:   artifact.EntryPoint,
		Workgroup:    artifact.Workgroup,
		TargetFormat: res.Format,
		TimeBuffer:   e.timeBuf,
		MouseBuffer:  e.mouseBuf,
		Producers:    producers,
		Output:       res,
	}, e.manager)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecution, err)
	}
	s.bundle = bundle
	s.injected = injected
	s.topology = topology
	return nil
}

// submitLocked updates the shared uniforms, encodes the script's pass, and
// submits it.
func (e *Engine) submitLocked(s *script, now time.Time) error {
	e.writeUniformsLocked(now)
	s.state = StateExecuting

	res, ok := e.manager.Get(s.id)
	if !ok {
		return fmt.Errorf("%w: no output resource for %q", ErrExecution, s.id)
	}

	if s.kind == KindCompute {
		pass, err := e.adapter.BeginComputePass(s.id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExecution, err)
		}
		pass.SetPipeline(s.bundle.ComputePipeline)
		pass.SetBindGroup(0, s.bundle.BindGroup)
		x, y, z := pipeline.DispatchSize(res.Width, res.Height, s.bundle.Workgroup)
		pass.Dispatch(x, y, z)
		pass.End()
	} else {
		pass, err := e.adapter.BeginRenderPass(s.id, res.Texture, gpucore.Color{A: 1})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExecution, err)
		}
		pass.SetPipeline(s.bundle.RenderPipeline)
		pass.SetBindGroup(0, s.bundle.BindGroup)
		pass.Draw(pipeline.FullscreenVertexCount, 1, 0, 0)
		pass.End()
	}

	if err := e.adapter.Submit(); err != nil {
		return fmt.Errorf("%w: submit: %v", ErrExecution, err)
	}
	if s.kind == KindFragment {
		// Mirror rendered output into the backing buffer so storage-side
		// consumers and readback observe it.
		if err := e.manager.SyncTexture(s.id); err != nil {
			return fmt.Errorf("%w: %v", ErrExecution, err)
		}
	}
	return nil
}

// writeUniformsLocked refreshes the shared time and mouse uniform buffers.
func (e *Engine) writeUniformsLocked(now time.Time) {
	seconds := float32(now.Sub(e.startedAt).Seconds())
	delta := float32(now.Sub(e.lastTick).Seconds())
	e.lastTick = now
	e.frame++

	var buf [uniformBufferSize]byte
	putFloat32(buf[0:], seconds)
	putFloat32(buf[4:], delta)
	putFloat32(buf[8:], float32(e.frame))
	e.adapter.WriteBuffer(e.timeBuf, 0, buf[:])

	var prim, second float32
	if e.pointerPrim {
		prim = 1
	}
	if e.pointerSecond {
		second = 1
	}
	putFloat32(buf[0:], e.pointerX)
	putFloat32(buf[4:], e.pointerY)
	putFloat32(buf[8:], prim)
	putFloat32(buf[12:], second)
	e.adapter.WriteBuffer(e.mouseBuf, 0, buf[:])
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// ExecuteAllScripts runs every script in the explicit execution order. A
// failure in one script never prevents attempting the next. The returned
// error joins per-script failures and is nil in fallback mode.
func (e *Engine) ExecuteAllScripts() ([]ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	order := e.order
	results := make([]ExecutionResult, 0, len(order))
	var errs []error
	for _, id := range order {
		ok, err := e.executeLocked(id)
		results = append(results, ExecutionResult{ID: id, Success: ok, Err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	e.emit(Event{Kind: EventAllScriptsExecuted, Results: results})

	if e.fallback || len(errs) == 0 {
		return results, nil
	}
	return results, errors.Join(errs...)
}

// Destroy stops real-time execution, then releases every script's derived
// state, all buffer resources, and the shared GPU objects. The engine is
// unusable afterwards.
func (e *Engine) Destroy() {
	e.StopRealTime()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, s := range e.scripts {
		s.bundle.Destroy(e.adapter)
		s.bundle = nil
	}
	e.scripts = map[string]*script{}
	e.order = nil
	e.manager.DestroyAll()
	e.compiler.Purge()
	e.builder.Close()
	e.adapter.DestroyBuffer(e.timeBuf)
	e.adapter.DestroyBuffer(e.mouseBuf)
	e.log.Info("engine destroyed")
}
