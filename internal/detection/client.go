package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ringside/internal/pipeline"
)

const (
	// MaxAttempts caps retries of a single inference call
	MaxAttempts = 3

	// DefaultModel and DefaultVersion name the hosted boxing model
	DefaultModel   = "boxing-lelg6"
	DefaultVersion = 3

	healthCacheTTL = 30 * time.Second
)

// Config holds configuration for an inference client
type Config struct {
	Transport   string // "http" or "grpc"
	Endpoint    string
	APIKey      string
	Model       string
	Version     int
	Confidence  int // Percent, 0-100
	Overlap     int // Percent, 0-100
	Timeout     time.Duration
	MaxAttempts int
	GRPCMethod  string
}

// NewClient builds the client selected by cfg.Transport
func NewClient(cfg Config) (pipeline.InferenceClient, error) {
	switch cfg.Transport {
	case "", "http":
		return NewRoboflowClient(cfg), nil
	case "grpc":
		return NewGRPCClient(cfg)
	default:
		return nil, fmt.Errorf("unknown inference transport %q (valid: http, grpc)", cfg.Transport)
	}
}

// Prediction is the detect API response body. The service also echoes
// image metadata whose field types vary between deployments, so only the
// predictions are decoded. Records are decoded one by one so that a single
// bad record does not cost the frame its other detections.
type Prediction struct {
	Predictions []json.RawMessage `json:"predictions"`
}

// parsePrediction decodes a response body. Records with missing fields are
// kept and left to the annotator; records that do not decode at all are
// dropped. Only a malformed envelope is an error.
func parsePrediction(body []byte) (pipeline.DetectionSet, error) {
	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &pipeline.InferenceError{Kind: pipeline.InferenceMalformed, Err: fmt.Errorf("failed to decode prediction: %w", err)}
	}

	detections := make(pipeline.DetectionSet, 0, len(p.Predictions))
	for i, raw := range p.Predictions {
		var d pipeline.Detection
		if err := json.Unmarshal(raw, &d); err != nil {
			log.Printf("[Detection] Dropping prediction %d: %v", i, err)
			continue
		}
		detections = append(detections, d)
	}
	return detections, nil
}

// withRetry calls fn up to attempts times while the error is retryable
func withRetry(ctx context.Context, name string, attempts int, fn func() (pipeline.DetectionSet, error)) (pipeline.DetectionSet, error) {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > MaxAttempts {
		attempts = MaxAttempts
	}

	var lastErr *pipeline.InferenceError
	for attempt := 1; attempt <= attempts; attempt++ {
		detections, err := fn()
		if err == nil {
			return detections, nil
		}

		lastErr = pipeline.AsInferenceError(err)
		if !lastErr.Retryable() || attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * 200 * time.Millisecond
		log.Printf("[%s] Attempt %d/%d failed, retrying in %v: %v", name, attempt, attempts, backoff, lastErr)

		select {
		case <-ctx.Done():
			return nil, pipeline.AsInferenceError(ctx.Err())
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}
