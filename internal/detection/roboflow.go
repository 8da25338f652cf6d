package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ringside/internal/pipeline"
)

// RoboflowClient calls a hosted detect API over HTTP
type RoboflowClient struct {
	endpoint    string
	apiKey      string
	model       string
	version     int
	confidence  int
	overlap     int
	maxAttempts int
	client      *http.Client
	healthCheck time.Time
	mu          sync.RWMutex
}

// NewRoboflowClient creates a new HTTP inference client
func NewRoboflowClient(cfg Config) *RoboflowClient {
	c := &RoboflowClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		version:     cfg.Version,
		confidence:  cfg.Confidence,
		overlap:     cfg.Overlap,
		maxAttempts: cfg.MaxAttempts,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	if c.endpoint == "" {
		c.endpoint = "https://detect.roboflow.com"
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.version == 0 {
		c.version = DefaultVersion
	}
	if c.client.Timeout <= 0 {
		c.client.Timeout = pipeline.DefaultInferenceTimeout
	}
	return c
}

// detectURL builds {endpoint}/{model}/{version}?api_key=&confidence=&overlap=
func (c *RoboflowClient) detectURL() string {
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	q.Set("confidence", strconv.Itoa(c.confidence))
	q.Set("overlap", strconv.Itoa(c.overlap))
	return fmt.Sprintf("%s/%s/%d?%s", c.endpoint, url.PathEscape(c.model), c.version, q.Encode())
}

// Infer implements pipeline.InferenceClient
func (c *RoboflowClient) Infer(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	return withRetry(ctx, "RoboflowClient", c.maxAttempts, func() (pipeline.DetectionSet, error) {
		return c.detect(ctx, jpeg)
	})
}

func (c *RoboflowClient) detect(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	body := base64.StdEncoding.EncodeToString(jpeg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.detectURL(), strings.NewReader(body))
	if err != nil {
		return nil, &pipeline.InferenceError{Kind: pipeline.InferenceUnavailable, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &pipeline.InferenceError{
			Kind:       pipeline.InferenceStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("detection failed: %s", truncate(string(respBody), 200)),
		}
	}

	return parsePrediction(respBody)
}

// IsHealthy reports whether the service answered recently.
// Any answer below 500 counts: the detect API has no health route.
func (c *RoboflowClient) IsHealthy(ctx context.Context) bool {
	// Cache health check for 30 seconds
	c.mu.RLock()
	if time.Since(c.healthCheck) < healthCacheTTL {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false
	}

	c.mu.Lock()
	c.healthCheck = time.Now()
	c.mu.Unlock()
	return true
}

// Close implements pipeline.InferenceClient
func (c *RoboflowClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func classifyTransportError(err error) *pipeline.InferenceError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &pipeline.InferenceError{Kind: pipeline.InferenceTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &pipeline.InferenceError{Kind: pipeline.InferenceTimeout, Err: err}
	}
	return &pipeline.InferenceError{Kind: pipeline.InferenceUnavailable, Err: err}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ pipeline.InferenceClient = (*RoboflowClient)(nil)
