package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a tool failure. Kinds travel in the error envelope
// fed back to the model, so the set is small and stable.
type Kind string

const (
	// KindValidation means the parameters failed schema or semantic
	// validation. Field names the offending parameter when known.
	KindValidation Kind = "validation"

	// KindExecution means the tool ran and failed.
	KindExecution Kind = "execution"

	// KindTransport means a publish or fetch to the event transport
	// failed.
	KindTransport Kind = "transport"

	// KindCancelled means the turn's cancellation signal tripped.
	KindCancelled Kind = "cancelled"

	// KindTimeout means the per-tool deadline elapsed.
	KindTimeout Kind = "timeout"

	// KindSystem means an internal invariant was violated, including a
	// recovered panic.
	KindSystem Kind = "system"
)

// Error is a structured tool failure. It satisfies the error interface
// so tools can return it directly from Execute; the registry folds any
// other error into KindExecution.
type Error struct {
	Kind    Kind   `json:"kind"`
	Tool    string `json:"tool,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationError builds a field-level validation failure.
func ValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// ExecutionError builds a runtime tool failure, optionally carrying the
// underlying cause.
func ExecutionError(tool, message string, cause error) *Error {
	e := &Error{Kind: KindExecution, Tool: tool, Message: message}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}

// TransportError builds a publish/fetch failure.
func TransportError(tool, message string, cause error) *Error {
	e := &Error{Kind: KindTransport, Tool: tool, Message: message}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}

// classify folds an arbitrary error into a structured Error, preserving
// an existing *Error and mapping context errors to their kinds.
func classify(tool string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		if te.Tool == "" && te.Kind != KindValidation {
			te.Tool = tool
		}
		return te
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Tool: tool, Message: "operation cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Tool: tool, Message: "tool execution timed out"}
	}
	return &Error{Kind: KindExecution, Tool: tool, Message: err.Error()}
}

type okEnvelope struct {
	OK    bool `json:"ok"`
	Value any  `json:"value"`
}

type errEnvelope struct {
	OK    bool   `json:"ok"`
	Error *Error `json:"error"`
}

// okResult wraps a tool value in the success envelope.
func okResult(value any) string {
	payload, err := json.Marshal(okEnvelope{OK: true, Value: value})
	if err != nil {
		return failResult(&Error{Kind: KindSystem, Message: "encode result: " + err.Error()})
	}
	return string(payload)
}

// failResult wraps a structured error in the failure envelope.
func failResult(e *Error) string {
	payload, err := json.Marshal(errEnvelope{OK: false, Error: e})
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":{"kind":"system","message":%q}}`, e.Message)
	}
	return string(payload)
}
