// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import (
	"strings"
	"testing"
)

func TestPlanBindingsUniformsOnly(t *testing.T) {
	plan := PlanBindings(nil, false)
	if len(plan) != 2 {
		t.Fatalf("plan length = %d, want 2", len(plan))
	}
	if plan[0].Role != RoleTimeUniform || plan[0].Index != 0 {
		t.Errorf("binding 0 = %v %d, want time at 0", plan[0].Role, plan[0].Index)
	}
	if plan[1].Role != RoleMouseUniform || plan[1].Index != 1 {
		t.Errorf("binding 1 = %v %d, want mouse at 1", plan[1].Role, plan[1].Index)
	}
}

func TestPlanBindingsMixedProducers(t *testing.T) {
	plan := PlanBindings([]Producer{
		{ID: "noise", Compute: true},
		{ID: "blur", Compute: false},
		{ID: "field", Compute: true},
	}, false)

	want := []Binding{
		{Index: 0, Role: RoleTimeUniform},
		{Index: 1, Role: RoleMouseUniform},
		{Index: 2, Role: RoleStorageBuffer, ProducerID: "noise"},
		{Index: 3, Role: RoleTexture, ProducerID: "blur"},
		{Index: 4, Role: RoleSampler, ProducerID: "blur"},
		{Index: 5, Role: RoleStorageBuffer, ProducerID: "field"},
	}
	if len(plan) != len(want) {
		t.Fatalf("plan length = %d, want %d", len(plan), len(want))
	}
	for i, b := range plan {
		if b != want[i] {
			t.Errorf("plan[%d] = %+v, want %+v", i, b, want[i])
		}
	}
}

func TestPlanBindingsOrderSensitive(t *testing.T) {
	a := PlanBindings([]Producer{{ID: "a", Compute: true}, {ID: "b", Compute: true}}, false)
	b := PlanBindings([]Producer{{ID: "b", Compute: true}, {ID: "a", Compute: true}}, false)
	if a[2].ProducerID == b[2].ProducerID {
		t.Error("reversed producer order should reassign indices")
	}
}

func TestPlanBindingsSelfOutputLast(t *testing.T) {
	plan := PlanBindings([]Producer{{ID: "src", Compute: false}}, true)
	last := plan[len(plan)-1]
	if last.Role != RoleOutputBuffer || last.Index != 4 || last.ProducerID != "" {
		t.Fatalf("last binding = %+v, want output buffer at index 4", last)
	}
}

func TestInjectDeclarations(t *testing.T) {
	src := Inject("fn noop() {}", []Producer{
		{ID: "sim", Compute: true},
		{ID: "glow", Compute: false},
	}, false)

	for _, decl := range []string{
		"@group(0) @binding(0) var<uniform> u_time: TimeUniform;",
		"@group(0) @binding(1) var<uniform> u_mouse: MouseUniform;",
		"@group(0) @binding(2) var<storage, read_write> buf_sim: array<vec4<f32>>;",
		"@group(0) @binding(3) var tex_glow: texture_2d<f32>;",
		"@group(0) @binding(4) var smp_glow: sampler;",
	} {
		if !strings.Contains(src, decl) {
			t.Errorf("injected source missing %q:\n%s", decl, src)
		}
	}
	if !strings.HasSuffix(src, "fn noop() {}") {
		t.Error("user source must come last")
	}
}

func TestInjectDeterministic(t *testing.T) {
	producers := []Producer{{ID: "p", Compute: true}}
	if Inject("fn f() {}", producers, false) != Inject("fn f() {}", producers, false) {
		t.Error("identical inputs must produce identical source")
	}
}

func TestInjectComputeOutputBinding(t *testing.T) {
	src := Inject("fn f() {}", nil, true)
	if !strings.Contains(src, "@group(0) @binding(2) var<storage, read_write> buf_out: array<vec4<f32>>;") {
		t.Fatalf("injected source missing buf_out declaration:\n%s", src)
	}
}

func TestIdentifierSanitizes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"has-dash", "has_dash"},
		{"dots.and spaces", "dots_and_spaces"},
		{"7start", "_7start"},
		{"mixed_OK2", "mixed_OK2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Identifier(tt.in); got != tt.want {
			t.Errorf("Identifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPreCheckEmptySource(t *testing.T) {
	diags := PreCheck("   \n\t", false)
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "empty") {
		t.Fatalf("diags = %v, want single empty-source warning", diags)
	}
}

func TestPreCheckMissingEntryAttribute(t *testing.T) {
	diags := PreCheck("fn main() {}", true)
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "@compute") {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %v, want missing @compute warning", diags)
	}
}

func TestPreCheckUnbalancedBraces(t *testing.T) {
	diags := PreCheck("@fragment\nfn main() { // }\n", false)
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "unbalanced") {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %v, want unbalanced-braces warning", diags)
	}
}

func TestPreCheckCleanSourceQuiet(t *testing.T) {
	src := "@fragment\nfn main() -> @location(0) vec4<f32> {\n\treturn vec4<f32>(1.0);\n}\n"
	if diags := PreCheck(src, false); len(diags) != 0 {
		t.Errorf("diags = %v, want none", diags)
	}
}
