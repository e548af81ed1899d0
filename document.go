package shaderlab

import (
	"encoding/json"
	"fmt"

	"github.com/gogpu/shaderlab/buffers"
)

// DocumentBuffer is a buffer spec as stored by the persistence service.
type DocumentBuffer struct {
	Format string `json:"format"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// DocumentScript is one script entry in a stored document.
type DocumentScript struct {
	ID     string         `json:"id"`
	Code   string         `json:"code"`
	Buffer DocumentBuffer `json:"buffer"`
	Kind   string         `json:"kind,omitempty"`
}

// Tag is a document label.
type Tag struct {
	Name string `json:"name"`
}

// Document is the persistence-service shape for one saved workspace. The
// engine consumes it at load time and produces it at save time; transport
// and authentication belong to the caller.
type Document struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Scripts []DocumentScript `json:"shader_scripts"`
	Tags    []Tag            `json:"tags"`
}

// ParseDocument decodes a stored document from JSON.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// LoadDocument registers every script in the document and sets the
// execution order to the document's listed sequence. Fails on the first
// invalid entry, leaving earlier entries registered.
func (e *Engine) LoadDocument(doc *Document) error {
	order := make([]string, 0, len(doc.Scripts))
	for _, ds := range doc.Scripts {
		err := e.CreateScript(Config{
			ID:   ds.ID,
			Code: ds.Code,
			Kind: ParseKind(ds.Kind),
			Buffer: buffers.Spec{
				Format: ds.Buffer.Format,
				Width:  ds.Buffer.Width,
				Height: ds.Buffer.Height,
			},
		})
		if err != nil {
			return fmt.Errorf("load script %q: %w", ds.ID, err)
		}
		order = append(order, ds.ID)
	}
	e.SetExecutionOrder(order)
	return nil
}

// Snapshot reads back live script state into the persistence shape, in
// execution order.
func (e *Engine) Snapshot(id, name string) *Document {
	infos := e.Scripts()
	doc := &Document{ID: id, Name: name, Scripts: make([]DocumentScript, 0, len(infos)), Tags: []Tag{}}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inf := range infos {
		s, ok := e.scripts[inf.ID]
		if !ok {
			continue
		}
		doc.Scripts = append(doc.Scripts, DocumentScript{
			ID:   s.id,
			Code: s.code,
			Kind: s.kind.String(),
			Buffer: DocumentBuffer{
				Format: s.buffer.Format,
				Width:  s.buffer.Width,
				Height: s.buffer.Height,
			},
		})
	}
	return doc
}
