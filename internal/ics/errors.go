package ics

import (
	"errors"
	"fmt"
)

// Kind classifies a conversion failure.
type Kind int

const (
	// KindValidation means a required value is missing.
	KindValidation Kind = iota + 1
	// KindFormat means a value is present but has the wrong shape.
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation failure"
	case KindFormat:
		return "format failure"
	default:
		return "unknown failure"
	}
}

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrValidation = errors.New("validation failure")
	ErrFormat     = errors.New("format failure")
)

// Error is the failure type returned by the encoder and decoder. Field names
// the offending request attribute using Go field paths
// (e.g. "Visitors[0].LastName").
type Error struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrFormat:
		return e.Kind == KindFormat
	}
	return false
}

func validationError(field, reason string) error {
	return &Error{Kind: KindValidation, Field: field, Reason: reason}
}

func formatError(field, format string, args ...any) error {
	return &Error{Kind: KindFormat, Field: field, Reason: fmt.Sprintf(format, args...)}
}
