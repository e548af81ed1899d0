package shaderlab

import (
	"fmt"
	"time"

	"github.com/gogpu/shaderlab/buffers"
	"github.com/gogpu/shaderlab/pipeline"
)

// Kind distinguishes fragment scripts (rasterize into a texture) from
// compute scripts (dispatch a workgroup grid writing a storage buffer).
type Kind uint8

// Script kinds.
const (
	KindFragment Kind = iota + 1
	KindCompute
)

// String returns the kind name used in documents and logs.
func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindCompute:
		return "compute"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind maps a document kind string to a Kind. Empty and unknown
// strings map to fragment, the common case for authored shaders.
func ParseKind(s string) Kind {
	if s == "compute" {
		return KindCompute
	}
	return KindFragment
}

// State is a script's position in its execution lifecycle.
type State uint8

// Script states. Erroring returns to Compiling on retry while under the
// retry ceiling; Disabled is absorbing until ClearErrors.
const (
	StateCreated State = iota + 1
	StateCompiling
	StateReady
	StateExecuting
	StateErroring
	StateDisabled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCompiling:
		return "compiling"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateErroring:
		return "erroring"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Config is the caller-supplied description of a script.
type Config struct {
	// ID uniquely identifies the script. Required, non-empty.
	ID string

	// Code is the user-authored shader source. Required, non-empty.
	Code string

	// Kind selects fragment or compute. Zero value means fragment.
	Kind Kind

	// Buffer describes the script's output resource.
	Buffer buffers.Spec
}

// ConfigUpdate carries the fields of a partial update. Nil fields are left
// unchanged.
type ConfigUpdate struct {
	Code   *string
	Kind   *Kind
	Buffer *buffers.Spec
}

// ErrorRecord is the per-script error and retry bookkeeping.
type ErrorRecord struct {
	// Message is the last error's text.
	Message string

	// Phase is where the last error occurred.
	Phase Phase

	// At is when the last error occurred.
	At time.Time

	// Retries counts consecutive failed attempts.
	Retries int
}

// ScriptInfo is a read-only snapshot of one script's public state.
type ScriptInfo struct {
	ID             string
	Kind           Kind
	Buffer         buffers.Spec
	State          State
	Enabled        bool
	ExecutionCount uint64
	LastExecutedAt time.Time
	LastError      *ErrorRecord
}

// script is the engine-internal per-script record. Identity is stable
// across recompiles; only the derived artifact state is invalidated.
type script struct {
	id     string
	code   string
	kind   Kind
	buffer buffers.Spec

	state   State
	enabled bool

	executionCount uint64
	lastExecutedAt time.Time

	// bundle is the current pipeline state, nil when invalidated.
	bundle *pipeline.Bundle

	// injected is the source snapshot the bundle was built from, kept for
	// inspection via Engine.InjectedSource.
	injected string

	// topology fingerprints the injected source plus the resource handles
	// the bundle binds. A differing fresh fingerprint means a producer set,
	// kind, or backing resource changed and the bundle is stale.
	topology string

	lastError *ErrorRecord
}

// info snapshots the script for external observation.
func (s *script) info() ScriptInfo {
	inf := ScriptInfo{
		ID:             s.id,
		Kind:           s.kind,
		Buffer:         s.buffer,
		State:          s.state,
		Enabled:        s.enabled,
		ExecutionCount: s.executionCount,
		LastExecutedAt: s.lastExecutedAt,
	}
	if s.lastError != nil {
		rec := *s.lastError
		inf.LastError = &rec
	}
	return inf
}

// recordError updates the script's error bookkeeping and returns the new
// retry count.
func (s *script) recordError(err error, phase Phase, now time.Time) int {
	retries := 1
	if s.lastError != nil {
		retries = s.lastError.Retries + 1
	}
	s.lastError = &ErrorRecord{
		Message: err.Error(),
		Phase:   phase,
		At:      now,
		Retries: retries,
	}
	s.state = StateErroring
	return retries
}

// clearErrors resets error state and re-enables the script.
func (s *script) clearErrors() {
	s.lastError = nil
	s.enabled = true
	if s.state == StateDisabled || s.state == StateErroring {
		s.state = StateCreated
	}
}
