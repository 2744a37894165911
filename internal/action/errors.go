package action

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a raw plan was rejected.
type ErrorCode string

const (
	CodeUnknownActionKind ErrorCode = "UnknownActionKind"
	CodeMissingField      ErrorCode = "MissingField"
	CodeInvalidTarget     ErrorCode = "InvalidTarget"
)

// Sentinels for errors.Is matching against a *ValidationError.
var (
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrMissingField      = errors.New("missing field")
	ErrInvalidTarget     = errors.New("invalid target")
)

// ValidationError describes a rejected raw plan.
type ValidationError struct {
	Code   ErrorCode
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Detail)
}

// Unwrap maps the code onto its sentinel.
func (e *ValidationError) Unwrap() error {
	switch e.Code {
	case CodeUnknownActionKind:
		return ErrUnknownActionKind
	case CodeMissingField:
		return ErrMissingField
	case CodeInvalidTarget:
		return ErrInvalidTarget
	}
	return nil
}

func unknownKind(kind string) *ValidationError {
	return &ValidationError{Code: CodeUnknownActionKind, Field: "type", Detail: fmt.Sprintf("%q is not one of navigate, click, type, scrape, stop", kind)}
}

func missingField(field, detail string) *ValidationError {
	return &ValidationError{Code: CodeMissingField, Field: field, Detail: detail}
}

func invalidTarget(field, detail string) *ValidationError {
	return &ValidationError{Code: CodeInvalidTarget, Field: field, Detail: detail}
}
