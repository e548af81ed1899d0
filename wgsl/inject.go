// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgsl turns user-authored shader source into compilable WGSL.
//
// Every script's final source is the user text prefixed with a generated
// prologue declaring the shared uniforms and one binding per visible
// producer script. The prologue and the bind-group layout are two halves of
// one contract: both are derived from the same [PlanBindings] walk so that
// binding indices can never diverge between the injected source and the
// layout the pipeline builder constructs.
package wgsl

import (
	"fmt"
	"strings"
)

// Producer describes another script whose output buffer is visible to the
// script being compiled.
type Producer struct {
	// ID is the producer script's id.
	ID string

	// Compute reports whether the producer is a compute script. Compute
	// producers are bound as read-write storage buffers; fragment producers
	// are bound as a sampled texture plus a sampler. Storage buffers for
	// compute producers avoid the storage-texture capability requirements
	// on some backends.
	Compute bool
}

// BindingRole classifies what occupies a binding index.
type BindingRole uint8

// Binding roles.
const (
	// RoleTimeUniform is the shared time uniform buffer (binding 0).
	RoleTimeUniform BindingRole = iota + 1

	// RoleMouseUniform is the shared mouse uniform buffer (binding 1).
	RoleMouseUniform

	// RoleStorageBuffer is a compute producer's output storage buffer.
	RoleStorageBuffer

	// RoleTexture is a fragment producer's output texture.
	RoleTexture

	// RoleSampler is the sampler paired with a fragment producer's texture.
	RoleSampler

	// RoleOutputBuffer is the consuming script's own output storage buffer,
	// bound only for compute scripts (fragment scripts write through the
	// render attachment instead).
	RoleOutputBuffer
)

// String returns the role name.
func (r BindingRole) String() string {
	switch r {
	case RoleTimeUniform:
		return "time"
	case RoleMouseUniform:
		return "mouse"
	case RoleStorageBuffer:
		return "storage"
	case RoleTexture:
		return "texture"
	case RoleSampler:
		return "sampler"
	case RoleOutputBuffer:
		return "output"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Binding is one allocated binding index in group 0.
type Binding struct {
	// Index is the binding index.
	Index uint32

	// Role says what the binding holds.
	Role BindingRole

	// ProducerID is the owning producer's script id. Empty for the two
	// uniform bindings.
	ProducerID string
}

// UniformBindingCount is the number of fixed low bindings (time, mouse)
// that precede producer bindings.
const UniformBindingCount = 2

// PlanBindings allocates binding indices for the shared uniforms, one or two
// bindings per producer in the iteration order of producers, and finally the
// script's own output storage buffer when selfCompute is set.
//
// This is the single index-allocation routine: source injection and
// bind-group layout generation both walk the returned plan.
func PlanBindings(producers []Producer, selfCompute bool) []Binding {
	plan := make([]Binding, 0, UniformBindingCount+2*len(producers)+1)
	plan = append(plan,
		Binding{Index: 0, Role: RoleTimeUniform},
		Binding{Index: 1, Role: RoleMouseUniform},
	)
	next := uint32(UniformBindingCount)
	for _, p := range producers {
		if p.Compute {
			plan = append(plan, Binding{Index: next, Role: RoleStorageBuffer, ProducerID: p.ID})
			next++
			continue
		}
		plan = append(plan,
			Binding{Index: next, Role: RoleTexture, ProducerID: p.ID},
			Binding{Index: next + 1, Role: RoleSampler, ProducerID: p.ID},
		)
		next += 2
	}
	if selfCompute {
		plan = append(plan, Binding{Index: next, Role: RoleOutputBuffer})
	}
	return plan
}

// prologueHeader declares the shared uniform structs. Field layout matches
// the byte layout the engine writes with WriteBuffer.
const prologueHeader = `struct TimeUniform {
    seconds: f32,
    delta: f32,
    frame: f32,
    _pad: f32,
}

struct MouseUniform {
    pos: vec2<f32>,
    buttons: vec2<f32>,
}
`

// Inject returns the final compilable source: the generated prologue for the
// given producers followed by the user source. Compute scripts additionally
// get buf_out, their own output storage buffer, as the last binding. The
// result is deterministic in the producer order, so any change in producer
// set, order, or kind yields a different string (and therefore a different
// compile-cache key).
func Inject(userSource string, producers []Producer, selfCompute bool) string {
	plan := PlanBindings(producers, selfCompute)

	var sb strings.Builder
	sb.Grow(len(prologueHeader) + 96*len(plan) + len(userSource) + 2)
	sb.WriteString(prologueHeader)
	sb.WriteByte('\n')

	for _, b := range plan {
		name := Identifier(b.ProducerID)
		switch b.Role {
		case RoleTimeUniform:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> u_time: TimeUniform;\n", b.Index)
		case RoleMouseUniform:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> u_mouse: MouseUniform;\n", b.Index)
		case RoleStorageBuffer:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> buf_%s: array<vec4<f32>>;\n", b.Index, name)
		case RoleTexture:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var tex_%s: texture_2d<f32>;\n", b.Index, name)
		case RoleSampler:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var smp_%s: sampler;\n", b.Index, name)
		case RoleOutputBuffer:
			fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> buf_out: array<vec4<f32>>;\n", b.Index)
		}
	}

	sb.WriteByte('\n')
	sb.WriteString(userSource)
	return sb.String()
}

// Identifier maps a script id to a valid WGSL identifier fragment by
// replacing every byte outside [A-Za-z0-9_] with an underscore. A leading
// digit gets an underscore prefix.
func Identifier(id string) string {
	if id == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(id) + 1)
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
			sb.WriteByte(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
