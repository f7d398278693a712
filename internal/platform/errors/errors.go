package errors

import (
	stderrors "errors"
)

// Error is the coded error type.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message for logs
	Metadata map[string]string // Additional context, e.g. terrain_id
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error with a message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a coded error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
		Cause:    cause,
	}
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// MetadataOf returns the value stored under key by the outermost coded error
// in err's chain that carries it, or "".
func MetadataOf(err error, key string) string {
	for err != nil {
		var coded *Error
		if !stderrors.As(err, &coded) {
			return ""
		}
		if value, ok := coded.Metadata[key]; ok {
			return value
		}
		err = coded.Cause
	}
	return ""
}
