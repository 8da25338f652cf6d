package pipeline

import (
	"fmt"
	"image"
	"math"
	"time"
)

// Frame is a single decoded video frame pulled from a FrameSource.
// A frame is consumed by exactly one session iteration.
type Frame struct {
	Image     image.Image // Decoded pixels
	Encoded   []byte      // Source JPEG bytes, nil when the source produced raw pixels
	Seq       uint64      // Sequence number within the source
	Timestamp time.Time   // Capture timestamp
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Detection is one object reported by the inference service.
// Numeric fields are optional so that a record with missing fields can be
// represented and rejected at draw time instead of at parse time.
type Detection struct {
	Class      string   `json:"class"`
	ClassID    *int     `json:"class_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"` // [0-1]
	X          *float64 `json:"x,omitempty"`          // Pixels, meaning depends on the box origin
	Y          *float64 `json:"y,omitempty"`
	Width      *float64 `json:"width,omitempty"`
	Height     *float64 `json:"height,omitempty"`
}

// DetectionSet is an ordered list of detections, order is draw order
type DetectionSet []Detection

// Box is a validated detection geometry
type Box struct {
	X, Y          float64
	Width, Height float64
	Confidence    float64
}

// Label returns the class label, "unknown" when the service sent none
func (d Detection) Label() string {
	if d.Class == "" {
		return "unknown"
	}
	return d.Class
}

// Box checks that every geometry field is present and sane.
// The returned error wraps ErrMalformedDetection.
func (d Detection) Box() (Box, error) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"x", d.X},
		{"y", d.Y},
		{"width", d.Width},
		{"height", d.Height},
		{"confidence", d.Confidence},
	}
	for _, f := range fields {
		if f.value == nil {
			return Box{}, fmt.Errorf("%w: missing %s", ErrMalformedDetection, f.name)
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return Box{}, fmt.Errorf("%w: %s is not a finite number", ErrMalformedDetection, f.name)
		}
	}
	if *d.Width < 0 || *d.Height < 0 {
		return Box{}, fmt.Errorf("%w: negative size %gx%g", ErrMalformedDetection, *d.Width, *d.Height)
	}

	return Box{
		X:          *d.X,
		Y:          *d.Y,
		Width:      *d.Width,
		Height:     *d.Height,
		Confidence: *d.Confidence,
	}, nil
}

// Annotation is the result of drawing a DetectionSet onto a frame
type Annotation struct {
	Image   image.Image
	Drawn   int
	Skipped []SkippedDetection
}

// SkippedDetection reports a detection the annotator did not draw
type SkippedDetection struct {
	Index  int   // Position in the DetectionSet
	Reason error // Wraps ErrMalformedDetection or ErrOutOfFrame
}

// Chunk is one encoded, annotated frame ready to be written to a client
type Chunk struct {
	SessionID  string
	Seq        uint64
	Timestamp  time.Time
	Data       []byte // JPEG
	Width      int
	Height     int
	Detections DetectionSet
	Annotated  bool  // False when inference failed and the frame went out unannotated
	Skipped    int   // Detections dropped by the annotator
	Inference  error // Non-nil when inference failed for this frame
}

// State is the lifecycle state of a session
type State int32

const (
	StateInit State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Float64 returns a pointer to v, used when building detections by hand
func Float64(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}
