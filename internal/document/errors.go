package document

import (
	"errors"
	"fmt"
)

// Code classifies a mutation failure.
type Code string

const (
	CodeInvalidOperation Code = "invalid_operation"
	CodeMissingValue     Code = "missing_value"
	CodePathNotFound     Code = "path_not_found"
	CodeTypeMismatch     Code = "type_mismatch"
	CodeIndexOutOfRange  Code = "index_out_of_range"
)

// Sentinels for errors.Is matching against an *Error.
var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrMissingValue     = errors.New("missing value")
	ErrPathNotFound     = errors.New("path not found")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrIndexOutOfRange  = errors.New("index out of range")
)

var sentinels = map[Code]error{
	CodeInvalidOperation: ErrInvalidOperation,
	CodeMissingValue:     ErrMissingValue,
	CodePathNotFound:     ErrPathNotFound,
	CodeTypeMismatch:     ErrTypeMismatch,
	CodeIndexOutOfRange:  ErrIndexOutOfRange,
}

// Error is returned by Apply and ParsePath. Callers receive it unmodified.
type Error struct {
	Code    Code
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s at %q: %s", e.Code, e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return sentinels[e.Code]
}

func newError(code Code, path string, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}
