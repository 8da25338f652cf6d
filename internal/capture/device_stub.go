//go:build !gocv
// +build !gocv

package capture

import (
	"context"
	"errors"
	"strings"

	"ringside/internal/pipeline"
)

// DeviceSupported reports whether OpenDevice can open local cameras
const DeviceSupported = false

// OpenDevice is unavailable without OpenCV; build with -tags gocv
func OpenDevice(ctx context.Context, cfg Config) (pipeline.FrameSource, error) {
	return nil, &pipeline.CaptureError{
		Source: strings.TrimPrefix(cfg.URL, "device://"),
		Err:    errors.New("built without OpenCV support, rebuild with -tags gocv"),
	}
}
