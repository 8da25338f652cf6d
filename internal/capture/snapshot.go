package capture

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"ringside/internal/pipeline"
)

// DefaultMaxFailures is how many consecutive failed polls end a session
const DefaultMaxFailures = 3

// SnapshotSource polls an HTTP endpoint serving one still image per request
type SnapshotSource struct {
	url         string
	client      *http.Client
	decoder     Decoder
	interval    time.Duration
	maxFailures int

	lastPoll time.Time
	failures int
	seq      uint64
}

// isSnapshotURL reports whether u looks like a still-image endpoint rather
// than a stream ffmpeg should open.
func isSnapshotURL(u string) bool {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	lower := strings.ToLower(u)
	return strings.Contains(lower, ".jpg") || strings.Contains(lower, ".jpeg") ||
		strings.Contains(lower, ".png") || strings.Contains(lower, "snapshot") || strings.Contains(lower, "image")
}

// OpenSnapshot creates a polling source. No request is made until Next.
func OpenSnapshot(cfg Config, dec Decoder) *SnapshotSource {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 5
	}
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}

	return &SnapshotSource{
		url:         cfg.URL,
		client:      &http.Client{Timeout: 10 * time.Second},
		decoder:     dec,
		interval:    interval,
		maxFailures: maxFailures,
	}
}

// Next implements pipeline.FrameSource
func (s *SnapshotSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	for {
		if wait := s.interval - time.Since(s.lastPoll); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		s.lastPoll = time.Now()

		frame, err := s.poll(ctx)
		if err == nil {
			s.failures = 0
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.failures++
		if s.failures >= s.maxFailures {
			return nil, &pipeline.CaptureError{
				Source: s.url,
				Err:    fmt.Errorf("%d consecutive failures, last: %w", s.failures, err),
			}
		}
		log.Printf("[SnapshotSource] Error fetching frame from %s (%d/%d): %v", s.url, s.failures, s.maxFailures, err)
	}
}

func (s *SnapshotSource) poll(ctx context.Context) (*pipeline.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	s.seq++
	return newFrame(s.decoder, data, s.seq)
}

// Close implements pipeline.FrameSource
func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var _ pipeline.FrameSource = (*SnapshotSource)(nil)
