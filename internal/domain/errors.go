package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the client-visible failure category.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindMalformedDocument ErrorKind = "MalformedDocument"
	KindNoPagesRendered   ErrorKind = "NoPagesRendered"
	KindRenderFailure     ErrorKind = "RenderFailure"
	KindResourceError     ErrorKind = "ResourceError"
	KindTimeout           ErrorKind = "Timeout"
)

// ConversionError is the uniform failure result of a conversion. Message is safe to
// return to clients; Err holds the internal cause and is only meant for logs.
type ConversionError struct {
	Kind           ErrorKind
	Message        string
	ProcessingTime time.Duration
	Err            error
}

// NewConversionError builds a ConversionError with the given cause.
func NewConversionError(kind ErrorKind, message string, elapsed time.Duration, cause error) *ConversionError {
	return &ConversionError{Kind: kind, Message: message, ProcessingTime: elapsed, Err: cause}
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ProcessingTimeMs is ProcessingTime in whole milliseconds.
func (e *ConversionError) ProcessingTimeMs() int64 {
	return e.ProcessingTime.Milliseconds()
}

// AsConversionError extracts a ConversionError from err. Errors of any other type
// are reported as a RenderFailure so callers always get a classified result.
func AsConversionError(err error) *ConversionError {
	if err == nil {
		return nil
	}
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce
	}
	return NewConversionError(KindRenderFailure, "Conversion failed", 0, err)
}
