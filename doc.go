// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shaderlab is a multi-pass GPU shader execution engine: it tracks
// user-authored WGSL scripts, injects uniform and cross-script binding
// declarations before compilation, caches compiled modules, manages each
// script's output buffer and texture, and drives an ordered execution loop
// over the script graph with per-script failure containment.
//
// A script is either a fragment pass rendering a fullscreen quad into its
// own texture or a compute pass writing its own storage buffer. Every
// script sees every other script's output: compute producers appear as
// storage-buffer bindings (buf_<id>), fragment producers as a sampled
// texture plus sampler (tex_<id>, smp_<id>). Execution follows an explicit
// caller-supplied order with no topological inference; a consumer ordered
// before its producer reads the producer's previous output.
//
// A persistently failing script is retried up to a ceiling with a cooldown
// between attempts, then disabled until ClearErrors re-enables it. One
// broken script never blocks the rest of the graph.
package shaderlab
