package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Reasons a session reaches the CLOSED state
const (
	ReasonEndOfStream  = "end_of_stream"
	ReasonCaptureError = "capture_error"
	ReasonCancelled    = "client_disconnected"
	ReasonEncodeError  = "encode_error"
	ReasonShutdown     = "shutdown"
	ReasonClosed       = "closed"
)

// Session is the per-connection pull loop: each call to Next pulls one
// frame, runs inference, annotates and encodes it. Sessions share no
// per-frame state with each other.
type Session struct {
	id     string
	mux    *Multiplexer
	source FrameSource

	state     atomic.Int32
	emitted   atomic.Uint64
	closeOnce sync.Once
	reason    atomic.Value // string
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Emitted returns the number of chunks produced so far
func (s *Session) Emitted() uint64 {
	return s.emitted.Load()
}

// CloseReason returns why the session closed, empty while it is open
func (s *Session) CloseReason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// Next produces the next chunk. It returns ErrEndOfStream when the source
// is exhausted, a *CaptureError when the source failed, ctx.Err() when the
// client went away and ErrSessionClosed once the session is closed. An
// inference failure is not an error here: the chunk carries the frame
// unannotated and Chunk.Inference holds the cause.
func (s *Session) Next(ctx context.Context) (*Chunk, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		s.closeWith(ReasonCancelled)
		return nil, err
	}

	frame, err := s.source.Next(ctx)
	if err != nil {
		return nil, s.failPull(ctx, err)
	}
	if frame == nil || frame.Image == nil {
		return nil, s.failPull(ctx, &CaptureError{Err: errors.New("source returned an empty frame")})
	}
	s.state.CompareAndSwap(int32(StateInit), int32(StateRunning))

	detections, inferErr := s.infer(ctx, frame)
	if inferErr != nil && ctx.Err() != nil {
		s.closeWith(ReasonCancelled)
		return nil, ctx.Err()
	}

	annotation := s.mux.annotator.Annotate(frame.Image, detections)
	if len(annotation.Skipped) > 0 {
		log.Printf("[Session] %s frame %d: skipped %d of %d detections", s.id, frame.Seq, len(annotation.Skipped), len(detections))
	}

	data, err := s.mux.encoder.Encode(annotation.Image)
	if err != nil {
		if frame.Encoded == nil {
			s.closeWith(ReasonEncodeError)
			return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
		}
		log.Printf("[Session] %s frame %d: encode failed, sending source frame: %v", s.id, frame.Seq, err)
		data = frame.Encoded
		inferErr = errors.Join(inferErr, err)
	}

	chunk := &Chunk{
		SessionID:  s.id,
		Seq:        s.emitted.Add(1),
		Timestamp:  frame.Timestamp,
		Data:       data,
		Width:      frame.Width(),
		Height:     frame.Height(),
		Detections: detections,
		Annotated:  inferErr == nil,
		Skipped:    len(annotation.Skipped),
		Inference:  inferErr,
	}
	s.publishFrame(chunk)

	return chunk, nil
}

// infer runs one inference call bounded by the configured timeout
func (s *Session) infer(ctx context.Context, frame *Frame) (DetectionSet, error) {
	payload := frame.Encoded
	if payload == nil {
		var err error
		payload, err = s.mux.encoder.Encode(frame.Image)
		if err != nil {
			return nil, &InferenceError{Kind: InferenceMalformed, Err: fmt.Errorf("failed to encode inference payload: %w", err)}
		}
	}

	ictx, cancel := context.WithTimeout(ctx, s.mux.inferenceTimeout)
	defer cancel()

	start := time.Now()
	detections, err := s.mux.client.Infer(ictx, payload)
	if err != nil {
		ie := AsInferenceError(err)
		if ctx.Err() == nil {
			log.Printf("[Session] %s frame %d: inference failed after %v, emitting unannotated: %v", s.id, frame.Seq, time.Since(start).Round(time.Millisecond), ie)
		}
		return nil, ie
	}
	return detections, nil
}

func (s *Session) failPull(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrEndOfStream):
		s.closeWith(ReasonEndOfStream)
		return ErrEndOfStream
	case ctx.Err() != nil:
		s.closeWith(ReasonCancelled)
		return ctx.Err()
	case s.State() == StateClosed:
		return ErrSessionClosed
	}

	var ce *CaptureError
	if !errors.As(err, &ce) {
		ce = &CaptureError{Err: err}
	}
	log.Printf("[Session] %s: %v", s.id, ce)
	s.closeWith(ReasonCaptureError)
	return ce
}

func (s *Session) publishFrame(chunk *Chunk) {
	event := &Event{
		Kind:       EventFrame,
		SessionID:  s.id,
		Seq:        chunk.Seq,
		Timestamp:  chunk.Timestamp,
		Detections: chunk.Detections,
		Skipped:    chunk.Skipped,
	}
	if chunk.Inference != nil {
		event.InferenceError = chunk.Inference.Error()
		var ie *InferenceError
		if errors.As(chunk.Inference, &ie) {
			event.InferenceKind = string(ie.Kind)
		}
	}
	s.mux.bus.Publish(event)
}

// Run drives the session until it closes, handing each chunk to emit.
// It returns nil when the source ended or ctx was cancelled, the
// *CaptureError when the source failed, and the emit error when writing
// to the client failed.
func (s *Session) Run(ctx context.Context, emit func(*Chunk) error) error {
	defer s.Close()

	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := emit(chunk); err != nil {
			s.closeWith(ReasonCancelled)
			return fmt.Errorf("failed to emit chunk %d: %w", chunk.Seq, err)
		}
	}
}

// Close moves the session to CLOSED and releases its source
func (s *Session) Close() error {
	s.closeWith(ReasonClosed)
	return nil
}

func (s *Session) closeWith(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.state.Store(int32(StateClosed))

		if err := s.source.Close(); err != nil {
			log.Printf("[Session] %s: failed to close source: %v", s.id, err)
		}
		s.mux.release(s)

		log.Printf("[Session] %s closed (%s) after %d frames", s.id, reason, s.emitted.Load())
		s.mux.bus.Publish(&Event{
			Kind:      EventSessionClosed,
			SessionID: s.id,
			Timestamp: time.Now(),
			Reason:    reason,
		})
	})
}
