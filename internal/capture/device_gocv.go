//go:build gocv
// +build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"ringside/internal/pipeline"
)

// DeviceSupported reports whether OpenDevice can open local cameras
const DeviceSupported = true

// maxEmptyReads is how many empty grabs in a row count as a dead device
const maxEmptyReads = 30

// DeviceSource grabs frames from a local camera through OpenCV
type DeviceSource struct {
	device string
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	seq    uint64
	mu     sync.Mutex
	closed bool
}

// OpenDevice opens a camera by index ("0") or device path ("/dev/video0")
func OpenDevice(ctx context.Context, cfg Config) (pipeline.FrameSource, error) {
	device := strings.TrimPrefix(cfg.URL, "device://")

	var target interface{} = device
	if idx, err := strconv.Atoi(device); err == nil {
		target = idx
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, &pipeline.CaptureError{Source: device, Err: fmt.Errorf("failed to open device: %w", err)}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &pipeline.CaptureError{Source: device, Err: errors.New("device did not open")}
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	log.Printf("[DeviceSource] Opened %s", device)
	return &DeviceSource{device: device, vc: vc, mat: gocv.NewMat()}, nil
}

// Next implements pipeline.FrameSource
func (s *DeviceSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pipeline.ErrSessionClosed
	}

	for empty := 0; empty < maxEmptyReads; empty++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok := s.vc.Read(&s.mat); !ok {
			return nil, &pipeline.CaptureError{Source: s.device, Err: errors.New("device read failed")}
		}
		if s.mat.Empty() {
			continue
		}

		img, err := s.mat.ToImage()
		if err != nil {
			return nil, &pipeline.CaptureError{Source: s.device, Err: fmt.Errorf("failed to convert frame: %w", err)}
		}

		s.seq++
		return &pipeline.Frame{Image: img, Seq: s.seq, Timestamp: time.Now()}, nil
	}

	return nil, &pipeline.CaptureError{Source: s.device, Err: fmt.Errorf("%d empty frames in a row", maxEmptyReads)}
}

// Close releases the camera
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.vc.Close()
}

var _ pipeline.FrameSource = (*DeviceSource)(nil)
