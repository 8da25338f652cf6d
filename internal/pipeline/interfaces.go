package pipeline

import (
	"context"
	"image"
)

// FrameSource produces frames from a live input
type FrameSource interface {
	// Next blocks until a frame is available. It returns ErrEndOfStream when
	// the input is exhausted and a *CaptureError when the device fails.
	Next(ctx context.Context) (*Frame, error)

	// Close releases the device or process. Safe to call more than once.
	Close() error
}

// SourceOpener opens a fresh FrameSource for a new session
type SourceOpener func(ctx context.Context) (FrameSource, error)

// InferenceClient submits one encoded frame to the detection service
type InferenceClient interface {
	// Infer returns the detections for a JPEG image or an *InferenceError
	Infer(ctx context.Context, jpeg []byte) (DetectionSet, error)

	// IsHealthy returns true if the service answered its health probe
	IsHealthy(ctx context.Context) bool

	// Close releases connections held by the client
	Close() error
}

// Annotator draws detections onto a frame. It never fails: malformed
// detections are reported in Annotation.Skipped instead.
type Annotator interface {
	Annotate(img image.Image, detections DetectionSet) Annotation
}

// Encoder turns an in-memory image into bytes for the wire
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// EventHandler receives pipeline events
type EventHandler interface {
	// OnEvent is called synchronously from the publishing session
	OnEvent(event *Event)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(event *Event)

// OnEvent implements EventHandler
func (f EventHandlerFunc) OnEvent(event *Event) {
	f(event)
}
