package ws

import (
	"encoding/base64"
	"time"

	"ringside/internal/pipeline"
)

// FrameMessage carries one annotated frame over the WebSocket feed
type FrameMessage struct {
	Type           string                `json:"type"` // "frame"
	SessionID      string                `json:"session_id"`
	Seq            uint64                `json:"seq"`
	Timestamp      time.Time             `json:"timestamp"`
	FrameWidth     int                   `json:"frame_width"`
	FrameHeight    int                   `json:"frame_height"`
	Detections     pipeline.DetectionSet `json:"detections"`
	Annotated      bool                  `json:"annotated"`
	InferenceError string                `json:"inference_error,omitempty"`
	Frame          string                `json:"frame"` // Base64 encoded JPEG frame
}

// ClosedMessage is the last message of a feed that ended on the server side
type ClosedMessage struct {
	Type      string `json:"type"` // "closed"
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
}

// NewFrameMessage converts a chunk into a frame message
func NewFrameMessage(c *pipeline.Chunk) *FrameMessage {
	m := &FrameMessage{
		Type:        "frame",
		SessionID:   c.SessionID,
		Seq:         c.Seq,
		Timestamp:   c.Timestamp,
		FrameWidth:  c.Width,
		FrameHeight: c.Height,
		Detections:  c.Detections,
		Annotated:   c.Annotated,
		Frame:       base64.StdEncoding.EncodeToString(c.Data),
	}
	if m.Detections == nil {
		m.Detections = pipeline.DetectionSet{}
	}
	if c.Inference != nil {
		m.InferenceError = c.Inference.Error()
	}
	return m
}

// NewClosedMessage creates a closed message
func NewClosedMessage(sessionID, reason string, err error) *ClosedMessage {
	m := &ClosedMessage{
		Type:      "closed",
		SessionID: sessionID,
		Reason:    reason,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// EventMessage relays a pipeline event to /ws/events clients
type EventMessage struct {
	Type string `json:"type"` // "event"
	*pipeline.Event
}

// NewEventMessage wraps a pipeline event
func NewEventMessage(e *pipeline.Event) *EventMessage {
	return &EventMessage{Type: "event", Event: e}
}
