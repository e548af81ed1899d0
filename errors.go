package shaderlab

import "errors"

// Sentinel errors. Wrap sites add script and phase context; match with
// [errors.Is].
var (
	// ErrInvalidConfig means a script config failed synchronous validation
	// (bad id, empty code, invalid buffer dimensions). Never retried.
	ErrInvalidConfig = errors.New("shaderlab: invalid script config")

	// ErrDuplicateID means a script with the same id is already registered.
	ErrDuplicateID = errors.New("shaderlab: duplicate script id")

	// ErrNotFound means no script is registered under the given id.
	ErrNotFound = errors.New("shaderlab: script not found")

	// ErrCompilation means the shader compiler reported error-severity
	// diagnostics. Routed through the retry policy.
	ErrCompilation = errors.New("shaderlab: compilation failed")

	// ErrExecution means pipeline build or GPU submission failed for a
	// script. Routed through the retry policy.
	ErrExecution = errors.New("shaderlab: execution failed")

	// ErrEngineClosed means the engine has been destroyed.
	ErrEngineClosed = errors.New("shaderlab: engine destroyed")
)

// Phase identifies where in a script's lifecycle an error occurred.
type Phase uint8

// Error phases.
const (
	PhaseCreation Phase = iota + 1
	PhaseCompilation
	PhaseExecution
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreation:
		return "creation"
	case PhaseCompilation:
		return "compilation"
	case PhaseExecution:
		return "execution"
	default:
		return "unknown"
	}
}
