package inkpad

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by model operations.
var (
	// ErrNodeNotFound is returned when an operation references a node ID
	// that is not present in the document.
	ErrNodeNotFound = errors.New("node not found")

	// ErrRunInFlight is returned when a run is requested on a block that
	// is already running. Duplicate concurrent runs of the same block are
	// rejected rather than cancelled.
	ErrRunInFlight = errors.New("run already in flight")

	// ErrNotRecognized is returned when a persisted element does not carry
	// the discriminator of the extension asked to parse it.
	ErrNotRecognized = errors.New("element not recognized")
)

// ValidationError reports invalid input that is recovered locally: a run
// requested with empty source, a malformed persisted element, or an element
// created with attributes the schema rejects.
type ValidationError struct {
	Element string // element type tag ("exec-block", "wiki-link", ...)
	Field   string // offending attribute or field, if known
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Element, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Element, e.Message)
}

// NewValidationError creates a ValidationError for an element type.
func NewValidationError(element, message string) *ValidationError {
	return &ValidationError{Element: element, Message: message}
}

// WithField attaches the offending field name to the error.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// StaleResponseError reports a terminal run response whose correlation id no
// longer matches the block's current run. It is discarded silently and only
// surfaces in diagnostics.
type StaleResponseError struct {
	BlockID string
	Got     string // correlation id carried by the response
	Want    string // correlation id the block is waiting on
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("block %s: stale response for run %s (current %s)", e.BlockID, e.Got, e.Want)
}

// ExecutionError reports that the backend ran the code and the code failed.
// The message is backend-supplied and shown inside the block.
type ExecutionError struct {
	RunID   string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Message)
}

// TransportKind distinguishes why a run never produced an execution result.
type TransportKind int

const (
	// TransportUnavailable means the request could not be dispatched at all.
	TransportUnavailable TransportKind = iota
	// TransportTimeout means no terminal response arrived before the local
	// deadline and the run was invalidated.
	TransportTimeout
)

func (k TransportKind) String() string {
	switch k {
	case TransportUnavailable:
		return "unavailable"
	case TransportTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TransportError reports that the run request itself failed: the backend was
// unreachable or the run timed out locally. It is distinct from
// ExecutionError so the UI can tell "your code failed" from "we couldn't run
// your code".
type TransportError struct {
	Kind  TransportKind
	RunID string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsTransport reports whether err is a TransportError of any kind.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
