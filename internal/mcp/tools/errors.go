// Package tools implements the tool surface of the server. Each tool
// decodes its own argument record, applies namespace defaults and returns
// either a typed result or a typed *Error.
package tools

import "fmt"

// Kind classifies a tool error for clients.
type Kind string

const (
	KindNotInitialized     Kind = "not_initialized"
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindAuthRequired       Kind = "auth_required"
	KindAuthInvalid        Kind = "auth_invalid"
	KindExtractionFailed   Kind = "extraction_failed"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInternal           Kind = "internal"
)

// Error is the typed error record every tool returns on failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
