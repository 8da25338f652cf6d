// Package capture provides the FrameSource implementations: an ffmpeg
// pipe for RTSP, HTTP and V4L2 inputs, HTTP snapshot polling, a watched
// directory of stills, and an OpenCV device behind the gocv build tag.
package capture

import (
	"image"
	"time"

	"ringside/internal/pipeline"
)

// Decoder turns JPEG (or other still image) bytes into pixels
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// No frame start, keep only a trailing 0xFF that may begin one
		if (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = (*buffer)[len(*buffer)-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		if startIdx > 0 {
			*buffer = (*buffer)[startIdx:]
		}
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

// newFrame decodes data into a Frame. JPEG source bytes are kept so the
// session can send them to inference without re-encoding.
func newFrame(dec Decoder, data []byte, seq uint64) (*pipeline.Frame, error) {
	img, err := dec.Decode(data)
	if err != nil {
		return nil, err
	}

	frame := &pipeline.Frame{
		Image:     img,
		Seq:       seq,
		Timestamp: time.Now(),
	}
	if len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8 {
		frame.Encoded = data
	}
	return frame, nil
}
