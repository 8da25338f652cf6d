package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned by a FrameSource that has no more frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrSessionClosed is returned by Session.Next after the session closed
	ErrSessionClosed = errors.New("session closed")
	// ErrMalformedDetection marks a detection record missing required fields
	ErrMalformedDetection = errors.New("malformed detection")
	// ErrOutOfFrame marks a detection whose box lies entirely outside the frame
	ErrOutOfFrame = errors.New("detection outside frame")
)

// CaptureError is a device or stream failure. It is fatal to the session
// that owns the source and is never retried within the same session.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("capture failed: %v", e.Err)
	}
	return fmt.Sprintf("capture failed on %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// InferenceErrorKind classifies inference failures
type InferenceErrorKind string

const (
	InferenceUnavailable InferenceErrorKind = "unavailable" // Service unreachable
	InferenceTimeout     InferenceErrorKind = "timeout"
	InferenceStatus      InferenceErrorKind = "status"    // Non-2xx answer
	InferenceMalformed   InferenceErrorKind = "malformed" // Undecodable answer
)

// InferenceError is a failure of the remote detection service. It only
// affects the frame being processed.
type InferenceError struct {
	Kind       InferenceErrorKind
	StatusCode int // Set for InferenceStatus
	Err        error
}

func (e *InferenceError) Error() string {
	if e.Kind == InferenceStatus && e.StatusCode != 0 {
		return fmt.Sprintf("inference %s %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call may succeed
func (e *InferenceError) Retryable() bool {
	switch e.Kind {
	case InferenceUnavailable:
		return true
	case InferenceStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// AsInferenceError normalizes any error coming out of an InferenceClient
// into an *InferenceError.
func AsInferenceError(err error) *InferenceError {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InferenceError{Kind: InferenceTimeout, Err: err}
	}
	return &InferenceError{Kind: InferenceUnavailable, Err: err}
}

// IsCaptureError reports whether err is a *CaptureError
func IsCaptureError(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce)
}
