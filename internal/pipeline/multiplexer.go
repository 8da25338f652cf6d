package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInferenceTimeout bounds a single inference call when no timeout is configured
const DefaultInferenceTimeout = 10 * time.Second

// ErrShuttingDown is returned by NewSession once Shutdown was called
var ErrShuttingDown = errors.New("multiplexer is shutting down")

// Multiplexer creates one Session per connected client and owns the
// collaborators every session shares: the inference client, the annotator
// and the encoder. None of them hold per-frame state.
type Multiplexer struct {
	open             SourceOpener
	client           InferenceClient
	annotator        Annotator
	encoder          Encoder
	bus              *EventBus
	inferenceTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Multiplexer
type Option func(*Multiplexer)

// WithEventBus publishes session and frame events on bus
func WithEventBus(bus *EventBus) Option {
	return func(m *Multiplexer) {
		m.bus = bus
	}
}

// WithInferenceTimeout bounds each inference call
func WithInferenceTimeout(d time.Duration) Option {
	return func(m *Multiplexer) {
		if d > 0 {
			m.inferenceTimeout = d
		}
	}
}

// NewMultiplexer creates a multiplexer. Every collaborator is required.
func NewMultiplexer(open SourceOpener, client InferenceClient, annotator Annotator, encoder Encoder, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		open:             open,
		client:           client,
		annotator:        annotator,
		encoder:          encoder,
		inferenceTimeout: DefaultInferenceTimeout,
		sessions:         make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSession opens a dedicated FrameSource and returns a session in the
// INIT state. Failing to open the source returns a *CaptureError.
func (m *Multiplexer) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.mu.Unlock()

	source, err := m.open(ctx)
	if err != nil {
		var ce *CaptureError
		if !errors.As(err, &ce) {
			ce = &CaptureError{Err: err}
		}
		return nil, ce
	}

	s := &Session{
		id:     uuid.New().String(),
		mux:    m,
		source: source,
	}
	s.state.Store(int32(StateInit))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		source.Close()
		return nil, ErrShuttingDown
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	log.Printf("[Multiplexer] Session %s opened", s.id)
	m.bus.Publish(&Event{
		Kind:      EventSessionOpened,
		SessionID: s.id,
		Timestamp: time.Now(),
	})

	return s, nil
}

// ActiveSessions returns the number of sessions not yet closed
func (m *Multiplexer) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and refuses new ones
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(ReasonShutdown)
	}
	log.Printf("[Multiplexer] Shut down %d sessions", len(sessions))
}

func (m *Multiplexer) release(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}
