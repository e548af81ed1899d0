// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderlab

import (
	"encoding/json"
	"errors"
	"testing"
)

const documentJSON = `{
  "id": "doc-1",
  "name": "plasma",
  "shader_scripts": [
    {
      "id": "sim",
      "code": "@compute @workgroup_size(8, 8, 1)\nfn main(@builtin(global_invocation_id) gid: vec3<u32>) {\n  let x = f32(gid.x);\n}\n",
      "buffer": {"format": "rgba32float", "width": 32, "height": 32},
      "kind": "compute"
    },
    {
      "id": "draw",
      "code": "@fragment\nfn main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }\n",
      "buffer": {"format": "rgba8unorm", "width": 64, "height": 64}
    }
  ],
  "tags": [{"name": "demo"}]
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(documentJSON))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.ID != "doc-1" || doc.Name != "plasma" {
		t.Errorf("header = %q %q, want doc-1 plasma", doc.ID, doc.Name)
	}
	if len(doc.Scripts) != 2 {
		t.Fatalf("got %d scripts, want 2", len(doc.Scripts))
	}
	if doc.Scripts[0].Kind != "compute" || doc.Scripts[1].Kind != "" {
		t.Errorf("kinds = %q %q, want compute and empty", doc.Scripts[0].Kind, doc.Scripts[1].Kind)
	}
	if len(doc.Tags) != 1 || doc.Tags[0].Name != "demo" {
		t.Errorf("tags = %+v, want [demo]", doc.Tags)
	}
}

func TestParseDocumentRejectsGarbage(t *testing.T) {
	if _, err := ParseDocument([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDocument(t *testing.T) {
	e := newTestEngine(t)
	doc, err := ParseDocument([]byte(documentJSON))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if err := e.LoadDocument(doc); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	if e.ScriptCount() != 2 {
		t.Fatalf("ScriptCount = %d, want 2", e.ScriptCount())
	}
	order := e.ExecutionOrder()
	if len(order) != 2 || order[0] != "sim" || order[1] != "draw" {
		t.Errorf("order = %v, want [sim draw]", order)
	}

	info, ok := e.Script("sim")
	if !ok || info.Kind != KindCompute {
		t.Errorf("sim = %+v, want compute kind", info)
	}
	info, ok = e.Script("draw")
	if !ok || info.Kind != KindFragment {
		t.Errorf("draw = %+v, want fragment kind (default)", info)
	}

	res, ok := e.Buffers().Get("sim")
	if !ok || res.Size != 32*32*16 {
		t.Errorf("sim resource = %+v, want size %d", res, 32*32*16)
	}
}

func TestLoadDocumentInvalidEntry(t *testing.T) {
	e := newTestEngine(t)
	doc := &Document{Scripts: []DocumentScript{{ID: "bad", Code: ""}}}
	if err := e.LoadDocument(doc); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	doc, err := ParseDocument([]byte(documentJSON))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if err := e.LoadDocument(doc); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	snap := e.Snapshot("doc-1", "plasma")
	if len(snap.Scripts) != 2 {
		t.Fatalf("snapshot has %d scripts, want 2", len(snap.Scripts))
	}
	if snap.Scripts[0].ID != "sim" || snap.Scripts[1].ID != "draw" {
		t.Errorf("snapshot order = %q %q, want sim draw", snap.Scripts[0].ID, snap.Scripts[1].ID)
	}
	if snap.Scripts[0].Kind != "compute" {
		t.Errorf("sim kind = %q, want compute", snap.Scripts[0].Kind)
	}
	if snap.Scripts[1].Buffer != (DocumentBuffer{Format: "rgba8unorm", Width: 64, Height: 64}) {
		t.Errorf("draw buffer = %+v", snap.Scripts[1].Buffer)
	}

	// The snapshot must serialize to the persistence shape.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	reparsed, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(reparsed.Scripts) != 2 {
		t.Errorf("reparsed %d scripts, want 2", len(reparsed.Scripts))
	}
}
