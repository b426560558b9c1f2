package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeInput covers requests that can never succeed: missing fields, unreadable audio, no speech.
	CodeInput Code = "INPUT"
	// CodeCapabilityUnavailable means a provider is not ready (breaker open, not configured).
	CodeCapabilityUnavailable Code = "CAPABILITY_UNAVAILABLE"
	// CodeCapabilityFailure means a provider call was attempted and failed.
	CodeCapabilityFailure Code = "CAPABILITY_FAILURE"
	// CodeCacheCorruption marks a cache entry whose referenced artifact is gone.
	CodeCacheCorruption Code = "CACHE_CORRUPTION"
	// CodeTimingAnomaly marks a degenerate re-transcription result.
	CodeTimingAnomaly Code = "TIMING_ANOMALY"
	CodeTimeout       Code = "TIMEOUT"
	CodeInternal      Code = "INTERNAL"
)

// AppError is the error contract shared by every layer of the pipeline.
type AppError struct {
	Code    Code
	Op      string // operation name, ex: "TranscriptionStage.Process"
	Message string // safe message
	Err     error  // wrapped error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *AppError) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &AppError{Code: code, Op: op, Message: msg, Err: err}
}

func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// CodeOf returns the outermost AppError code, CodeTimeout for deadline errors,
// and CodeInternal otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInput:
		return http.StatusBadRequest
	case CodeCapabilityUnavailable:
		return http.StatusServiceUnavailable
	case CodeCapabilityFailure:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
