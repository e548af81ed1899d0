// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package buffers owns the GPU-side output storage for every script: a
// backing storage buffer plus a matching texture, addressed by script id.
package buffers

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/shaderlab/gpucore"
)

// ErrNotFound is returned when no resource exists for a script id.
var ErrNotFound = errors.New("buffers: resource not found")

// ErrAllocation wraps GPU allocation failures. Allocation errors are not
// retried here; callers decide.
var ErrAllocation = errors.New("buffers: allocation failed")

// Spec describes a script's output resource.
type Spec struct {
	// Format is the pixel format name, e.g. "rgba8unorm". Unknown names
	// fall back to rgba8unorm; reject them upstream if that matters.
	Format string

	// Width and Height are the resource dimensions in pixels.
	Width, Height uint32
}

// DefaultFormat is the fallback pixel format for unknown format names.
const DefaultFormat = "rgba8unorm"

// ParseFormat maps a format name to the texture format and its byte size
// per pixel. Unknown names map to rgba8unorm with 4 bytes per pixel.
func ParseFormat(name string) (gpucore.TextureFormat, uint32) {
	switch name {
	case "rgba8unorm":
		return gpucore.TextureFormatRGBA8Unorm, 4
	case "rgba16float":
		return gpucore.TextureFormatRGBA16Float, 8
	case "rgba32float":
		return gpucore.TextureFormatRGBA32Float, 16
	case "r32float":
		return gpucore.TextureFormatR32Float, 4
	case "rg32float":
		return gpucore.TextureFormatRG32Float, 8
	default:
		return gpucore.TextureFormatRGBA8Unorm, 4
	}
}

// BytesPerPixel returns the per-pixel byte size for a format name,
// falling back to 4 for unknown names.
func BytesPerPixel(name string) uint32 {
	_, bpp := ParseFormat(name)
	return bpp
}

// ByteSize returns the backing buffer size a spec requires.
func (s Spec) ByteSize() uint64 {
	return uint64(s.Width) * uint64(s.Height) * uint64(BytesPerPixel(s.Format))
}

// Resource is the GPU storage pair owned by one script: the storage buffer
// compute passes write and readback reads, and the texture fragment passes
// render into and other scripts sample.
type Resource struct {
	// Buffer is the backing storage buffer.
	Buffer gpucore.BufferID

	// Texture is the matching render-target texture.
	Texture gpucore.TextureID

	// Format is the resolved texture format.
	Format gpucore.TextureFormat

	// Width and Height are the dimensions in pixels.
	Width, Height uint32

	// Size is the backing buffer size in bytes.
	Size uint64

	// UpdatedAt is when the resource was created or last replaced.
	UpdatedAt time.Time
}

// EventKind identifies a resource lifecycle event.
type EventKind uint8

// Resource lifecycle events.
const (
	EventCreated EventKind = iota + 1
	EventDestroyed
	EventCopied
	EventCleared
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventDestroyed:
		return "destroyed"
	case EventCopied:
		return "copied"
	case EventCleared:
		return "cleared"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is one resource lifecycle notification. An event does not imply
// the associated GPU work has completed.
type Event struct {
	Kind     EventKind
	ScriptID string

	// OtherID is the destination script id for copy events.
	OtherID string
}

// Manager allocates, replaces, and destroys per-script resources.
//
// Safe for concurrent use.
type Manager struct {
	adapter gpucore.GPUAdapter
	now     func() time.Time
	notify  func(Event)

	mu        sync.RWMutex
	resources map[string]*Resource
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNotify installs a lifecycle event callback. The callback runs
// synchronously on the mutating goroutine and must not call back into the
// Manager.
func WithNotify(fn func(Event)) Option {
	return func(m *Manager) { m.notify = fn }
}

// NewManager builds a Manager over the given adapter.
func NewManager(adapter gpucore.GPUAdapter, opts ...Option) *Manager {
	m := &Manager{
		adapter:   adapter,
		now:       time.Now,
		resources: make(map[string]*Resource),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(ev Event) {
	if m.notify != nil {
		m.notify(ev)
	}
}

// Create allocates the buffer+texture pair for a script. An existing
// resource for the same id is replaced.
func (m *Manager) Create(scriptID string, spec Spec) (*Resource, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrAllocation, spec.Width, spec.Height)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.resources[scriptID]; ok {
		m.releaseLocked(scriptID, old)
	}

	res, err := m.allocate(scriptID, spec)
	if err != nil {
		return nil, err
	}
	m.resources[scriptID] = res
	m.emit(Event{Kind: EventCreated, ScriptID: scriptID})
	return res, nil
}

// allocate creates the GPU pair without touching the registry.
func (m *Manager) allocate(scriptID string, spec Spec) (*Resource, error) {
	format, bpp := ParseFormat(spec.Format)
	size := uint64(spec.Width) * uint64(spec.Height) * uint64(bpp)

	buf, err := m.adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: scriptID + "_buffer",
		Size:  size,
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: buffer for %q: %v", ErrAllocation, scriptID, err)
	}
	tex, err := m.adapter.CreateTexture(&gpucore.TextureDesc{
		Label:  scriptID + "_texture",
		Width:  spec.Width,
		Height: spec.Height,
		Format: format,
		Usage: gpucore.TextureUsageRenderAttachment |
			gpucore.TextureUsageTextureBinding |
			gpucore.TextureUsageCopySrc,
	})
	if err != nil {
		m.adapter.DestroyBuffer(buf)
		return nil, fmt.Errorf("%w: texture for %q: %v", ErrAllocation, scriptID, err)
	}

	return &Resource{
		Buffer:    buf,
		Texture:   tex,
		Format:    format,
		Width:     spec.Width,
		Height:    spec.Height,
		Size:      size,
		UpdatedAt: m.now(),
	}, nil
}

// Update applies a new spec. If the spec is unchanged the existing resource
// is returned as-is (same handles, same UpdatedAt); otherwise the resource
// is destroyed and recreated. Returns whether a replacement happened.
func (m *Manager) Update(scriptID string, spec Spec) (*Resource, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.resources[scriptID]
	if ok {
		format, _ := ParseFormat(spec.Format)
		if old.Format == format && old.Width == spec.Width && old.Height == spec.Height {
			return old, false, nil
		}
	}
	if spec.Width == 0 || spec.Height == 0 {
		return nil, false, fmt.Errorf("%w: zero dimension %dx%d", ErrAllocation, spec.Width, spec.Height)
	}
	if ok {
		m.releaseLocked(scriptID, old)
	}
	res, err := m.allocate(scriptID, spec)
	if err != nil {
		return nil, ok, err
	}
	m.resources[scriptID] = res
	m.emit(Event{Kind: EventCreated, ScriptID: scriptID})
	return res, true, nil
}

// releaseLocked destroys a resource's GPU objects and drops it from the
// registry. Caller holds m.mu.
func (m *Manager) releaseLocked(scriptID string, res *Resource) {
	m.adapter.DestroyTexture(res.Texture)
	m.adapter.DestroyBuffer(res.Buffer)
	delete(m.resources, scriptID)
	m.emit(Event{Kind: EventDestroyed, ScriptID: scriptID})
}

// Destroy releases a script's resource. No-op if absent.
func (m *Manager) Destroy(scriptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.resources[scriptID]; ok {
		m.releaseLocked(scriptID, res)
	}
}

// DestroyAll releases every tracked resource.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, res := range m.resources {
		m.releaseLocked(id, res)
	}
}

// Get returns a script's resource.
func (m *Manager) Get(scriptID string) (*Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resources[scriptID]
	return res, ok
}

// Count returns the number of live resources.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}

// Read reads back a script's full backing buffer. Blocks until previously
// submitted GPU work completes; the returned slice is CPU-owned.
func (m *Manager) Read(scriptID string) ([]byte, error) {
	m.mu.RLock()
	res, ok := m.resources[scriptID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, scriptID)
	}
	return m.adapter.ReadBuffer(res.Buffer, 0, res.Size)
}

// Copy copies between two scripts' backing buffers, clamped to the smaller
// of the two sizes.
func (m *Manager) Copy(srcID, dstID string) error {
	m.mu.RLock()
	src, srcOK := m.resources[srcID]
	dst, dstOK := m.resources[dstID]
	m.mu.RUnlock()
	if !srcOK {
		return fmt.Errorf("%w: %q", ErrNotFound, srcID)
	}
	if !dstOK {
		return fmt.Errorf("%w: %q", ErrNotFound, dstID)
	}

	size := min(src.Size, dst.Size)
	if err := m.adapter.CopyBuffer(src.Buffer, dst.Buffer, size); err != nil {
		return err
	}
	m.emit(Event{Kind: EventCopied, ScriptID: srcID, OtherID: dstID})
	return nil
}

// Clear zero-fills a script's backing buffer.
func (m *Manager) Clear(scriptID string) error {
	m.mu.RLock()
	res, ok := m.resources[scriptID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, scriptID)
	}
	if err := m.adapter.ClearBuffer(res.Buffer); err != nil {
		return err
	}
	m.emit(Event{Kind: EventCleared, ScriptID: scriptID})
	return nil
}

// SyncTexture copies a script's texture contents into its backing buffer so
// buffer readback observes fragment output.
func (m *Manager) SyncTexture(scriptID string) error {
	m.mu.RLock()
	res, ok := m.resources[scriptID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, scriptID)
	}
	return m.adapter.CopyTextureToBuffer(res.Texture, res.Buffer)
}
