package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ringside/internal/pipeline"
)

// Config describes the video input every session opens
type Config struct {
	URL         string // rtsp://, http(s)://, dir://, device://N, /dev/videoN or a file path
	FPS         int
	Width       int
	Height      int
	Follow      bool // dir:// keeps watching for new files
	MaxFailures int  // Snapshot polling failures before giving up
	FFmpegPath  string
	DropStale   bool // Live ffmpeg inputs keep only the newest unread frame
}

// Kind names the FrameSource implementation chosen for a URL
type Kind string

const (
	KindFFmpeg   Kind = "ffmpeg"
	KindSnapshot Kind = "snapshot"
	KindDir      Kind = "dir"
	KindDevice   Kind = "device"
)

// Classify picks the FrameSource implementation for a source URL
func Classify(url string) Kind {
	switch {
	case strings.HasPrefix(url, "dir://"):
		return KindDir
	case strings.HasPrefix(url, "device://"):
		return KindDevice
	case isSnapshotURL(url):
		return KindSnapshot
	case strings.HasPrefix(url, "/dev/video"):
		if DeviceSupported {
			return KindDevice
		}
		return KindFFmpeg
	}
	if _, err := strconv.Atoi(url); err == nil {
		return KindDevice
	}
	return KindFFmpeg
}

// IsLive reports whether the URL is a live feed rather than a recording
func IsLive(url string) bool {
	return strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "http://") ||
		strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "/dev/video")
}

// NewOpener returns a SourceOpener that gives every session its own
// FrameSource for cfg.URL.
func NewOpener(cfg Config, dec Decoder) (pipeline.SourceOpener, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("source url is required")
	}

	kind := Classify(cfg.URL)
	if kind == KindDevice && !DeviceSupported {
		return nil, fmt.Errorf("source %q needs OpenCV support, rebuild with -tags gocv", cfg.URL)
	}

	return func(ctx context.Context) (pipeline.FrameSource, error) {
		switch kind {
		case KindDir:
			return OpenDir(cfg, dec)
		case KindSnapshot:
			return OpenSnapshot(cfg, dec), nil
		case KindDevice:
			return OpenDevice(ctx, cfg)
		default:
			return OpenFFmpeg(ctx, cfg, dec)
		}
	}, nil
}
