package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"ringside/internal/pipeline"
)

// Boundary separates the parts of the multipart/x-mixed-replace response
const Boundary = "frame"

// PartWriter writes self-delimited JPEG parts and flushes after each one
type PartWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewPartWriter wraps a response writer. ok is false when the writer
// cannot stream.
func NewPartWriter(w http.ResponseWriter) (pw *PartWriter, ok bool) {
	// Middlewares that wrap the writer may expose the flusher through Unwrap
	inner := w
	for {
		if flusher, ok := inner.(http.Flusher); ok {
			return &PartWriter{w: w, flusher: flusher}, true
		}
		u, ok := inner.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil, false
		}
		inner = u.Unwrap()
	}
}

// WritePart writes one --frame part holding data
func (p *PartWriter) WritePart(data []byte) error {
	if _, err := fmt.Fprintf(p.w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := p.w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(p.w, "\r\n"); err != nil {
		return err
	}
	p.flusher.Flush()
	return nil
}

// Close writes the closing delimiter
func (p *PartWriter) Close() error {
	if _, err := fmt.Fprintf(p.w, "--%s--\r\n", Boundary); err != nil {
		return err
	}
	p.flusher.Flush()
	return nil
}

// MJPEGHandler serves GET /video_feed. Every request gets its own session
// and therefore its own frame source.
type MJPEGHandler struct {
	mux *pipeline.Multiplexer
}

// NewMJPEGHandler creates a new MJPEG handler
func NewMJPEGHandler(mux *pipeline.Multiplexer) *MJPEGHandler {
	return &MJPEGHandler{mux: mux}
}

// ServeHTTP streams annotated frames until the source ends, fails, or the
// client disconnects.
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pw, ok := NewPartWriter(w)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	session, err := h.mux.NewSession(ctx)
	if err != nil {
		log.Printf("[MJPEGStream] Failed to open session for %s: %v", r.RemoteAddr, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "video source unavailable",
			"details": err.Error(),
		})
		return
	}

	// Set MJPEG headers
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	pw.flusher.Flush()

	log.Printf("[MJPEGStream] Client %s connected (session %s)", r.RemoteAddr, session.ID())

	err = session.Run(ctx, func(c *pipeline.Chunk) error {
		return pw.WritePart(c.Data)
	})

	switch {
	case ctx.Err() != nil:
		log.Printf("[MJPEGStream] Client %s disconnected (session %s, %d frames)", r.RemoteAddr, session.ID(), session.Emitted())
		return
	case err != nil && !pipeline.IsCaptureError(err):
		// Write failed, the client is gone
		log.Printf("[MJPEGStream] Session %s: %v", session.ID(), err)
		return
	case err != nil:
		log.Printf("[MJPEGStream] Session %s ended by source failure: %v", session.ID(), err)
	default:
		log.Printf("[MJPEGStream] Session %s reached end of stream after %d frames", session.ID(), session.Emitted())
	}

	if err := pw.Close(); err != nil {
		log.Printf("[MJPEGStream] Session %s: failed to write closing boundary: %v", session.ID(), err)
	}
}
