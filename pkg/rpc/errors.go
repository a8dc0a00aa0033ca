package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Pipeline errors. Stages wrap these with context; callers match with errors.Is.
var (
	// ErrInvalidMethod is returned for methods missing from the registry
	ErrInvalidMethod = errors.New("invalid rpc method")

	// ErrInvalidParams is returned when required params are missing or malformed
	ErrInvalidParams = errors.New("invalid params")

	// ErrUnauthorized is returned when the user denies a confirmation
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRejectedByUser is returned when the confirmation popup is dismissed
	ErrRejectedByUser = errors.New("rejected by user")

	// ErrUpstream is returned when the node reports GraphQL errors
	ErrUpstream = errors.New("upstream error")

	// ErrVetoedByUI is returned when the UI acknowledges an execution with a non-zero code
	ErrVetoedByUI = errors.New("vetoed by ui")

	// ErrUnsupported is returned for registered methods without a handler
	ErrUnsupported = fmt.Errorf("%w: unsupported", ErrInvalidMethod)
)

// ErrorCodeGeneric is the only error code put on the wire
const ErrorCodeGeneric = -1

// UpstreamError carries the raw GraphQL error list returned by the node
type UpstreamError struct {
	Errors json.RawMessage
}

func (e *UpstreamError) Error() string {
	return string(e.Errors)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// UIError is a refusal reported by the UI. Its message is the UI's own text
// and it matches its sentinel with errors.Is.
type UIError struct {
	Kind    error
	Message string
}

func (e *UIError) Error() string {
	return e.Message
}

func (e *UIError) Unwrap() error {
	return e.Kind
}

// Denied builds the error for a confirmation the user refused
func Denied(message string) error {
	if message == "" {
		return ErrUnauthorized
	}
	return &UIError{Kind: ErrUnauthorized, Message: message}
}

// Vetoed builds the error for an execution the UI refused to acknowledge
func Vetoed(message string) error {
	if message == "" {
		return ErrVetoedByUI
	}
	return &UIError{Kind: ErrVetoedByUI, Message: message}
}
