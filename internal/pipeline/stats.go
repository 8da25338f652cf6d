package pipeline

import (
	"sync"
	"time"
)

// Stats aggregates counters from pipeline events
type Stats struct {
	mu sync.RWMutex

	activeSessions    int
	totalSessions     uint64
	framesEmitted     uint64
	framesAnnotated   uint64
	inferenceFailures uint64
	skippedDetections uint64
	closeReasons      map[string]uint64
	lastFrameTime     time.Time
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	ActiveSessions    int               `json:"active_sessions"`
	TotalSessions     uint64            `json:"total_sessions"`
	FramesEmitted     uint64            `json:"frames_emitted"`
	FramesAnnotated   uint64            `json:"frames_annotated"`
	InferenceFailures uint64            `json:"inference_failures"`
	SkippedDetections uint64            `json:"skipped_detections"`
	CloseReasons      map[string]uint64 `json:"close_reasons"`
	LastFrameTime     *time.Time        `json:"last_frame_time,omitempty"`
}

// NewStats creates an empty counter set
func NewStats() *Stats {
	return &Stats{
		closeReasons: make(map[string]uint64),
	}
}

// OnEvent implements EventHandler
func (s *Stats) OnEvent(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case EventSessionOpened:
		s.activeSessions++
		s.totalSessions++
	case EventSessionClosed:
		if s.activeSessions > 0 {
			s.activeSessions--
		}
		s.closeReasons[event.Reason]++
	case EventFrame:
		s.framesEmitted++
		if event.InferenceError != "" {
			s.inferenceFailures++
		} else {
			s.framesAnnotated++
		}
		s.skippedDetections += uint64(event.Skipped)
		s.lastFrameTime = event.Timestamp
	}
}

// Snapshot returns a copy of the counters
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reasons := make(map[string]uint64, len(s.closeReasons))
	for k, v := range s.closeReasons {
		reasons[k] = v
	}

	snap := StatsSnapshot{
		ActiveSessions:    s.activeSessions,
		TotalSessions:     s.totalSessions,
		FramesEmitted:     s.framesEmitted,
		FramesAnnotated:   s.framesAnnotated,
		InferenceFailures: s.inferenceFailures,
		SkippedDetections: s.skippedDetections,
		CloseReasons:      reasons,
	}
	if !s.lastFrameTime.IsZero() {
		t := s.lastFrameTime
		snap.LastFrameTime = &t
	}
	return snap
}

var _ EventHandler = (*Stats)(nil)
