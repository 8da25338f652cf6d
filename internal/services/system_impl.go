package services

import (
	"context"
	"time"

	"ringside/internal/pipeline"
)

// SessionCounter reports how many streaming sessions are open
type SessionCounter interface {
	ActiveSessions() int
}

// ClientCounter reports how many event subscribers are connected
type ClientCounter interface {
	ClientCount() int
}

// SystemImplementation reports pipeline counters
type SystemImplementation struct {
	stats     *pipeline.Stats
	sessions  SessionCounter
	clients   ClientCounter
	startTime time.Time
}

// NewSystemService creates a new system service implementation. clients
// may be nil when the events feed is not mounted.
func NewSystemService(stats *pipeline.Stats, sessions SessionCounter, clients ClientCounter) *SystemImplementation {
	return &SystemImplementation{
		stats:     stats,
		sessions:  sessions,
		clients:   clients,
		startTime: time.Now(),
	}
}

// Stats returns the session and frame counters
func (s *SystemImplementation) Stats(ctx context.Context) (*StatsResult, error) {
	res := &StatsResult{
		StatsSnapshot: s.stats.Snapshot(),
		OpenSessions:  s.sessions.ActiveSessions(),
		Uptime:        time.Since(s.startTime).Seconds(),
	}
	if s.clients != nil {
		res.EventClients = s.clients.ClientCount()
	}
	return res, nil
}
