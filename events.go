package shaderlab

import (
	"fmt"
	"time"
)

// EventKind is the closed enumeration of engine notifications.
type EventKind uint8

// Event kinds.
const (
	EventScriptCreated EventKind = iota + 1
	EventScriptUpdated
	EventScriptDestroyed
	EventScriptExecuted
	EventScriptError
	EventAllScriptsExecuted
	EventBufferCreated
	EventBufferDestroyed
	EventBufferCopied
	EventBufferCleared
	EventRealTimeStarted
	EventRealTimeStopped
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventScriptCreated:
		return "scriptCreated"
	case EventScriptUpdated:
		return "scriptUpdated"
	case EventScriptDestroyed:
		return "scriptDestroyed"
	case EventScriptExecuted:
		return "scriptExecuted"
	case EventScriptError:
		return "scriptError"
	case EventAllScriptsExecuted:
		return "allScriptsExecuted"
	case EventBufferCreated:
		return "bufferCreated"
	case EventBufferDestroyed:
		return "bufferDestroyed"
	case EventBufferCopied:
		return "bufferCopied"
	case EventBufferCleared:
		return "bufferCleared"
	case EventRealTimeStarted:
		return "realTimeStarted"
	case EventRealTimeStopped:
		return "realTimeStopped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is one engine notification with a statically known payload shape.
// Fields beyond Kind are populated per kind; unused fields are zero.
type Event struct {
	Kind EventKind

	// ScriptID is set for every script- and buffer-scoped event.
	ScriptID string

	// OtherID is the destination script id for bufferCopied.
	OtherID string

	// Success is set for scriptExecuted.
	Success bool

	// Err and Phase are set for scriptError.
	Err   error
	Phase Phase

	// Retries is the script's retry count at the time of a scriptError.
	Retries int

	// Results is set for allScriptsExecuted.
	Results []ExecutionResult

	// At is when the event was emitted.
	At time.Time
}

// Observer receives engine events. Callbacks run synchronously on the
// goroutine that triggered the event and must not call back into the engine.
type Observer func(Event)
