package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"ringside/internal/pipeline"
)

// DefaultGRPCMethod is the unary method invoked when none is configured
const DefaultGRPCMethod = "/ringside.inference.v1.Inference/Detect"

// GRPCClient calls a detection service over a unary gRPC method.
// Messages are google.protobuf.Struct so that any service accepting the
// JSON-shaped request can be used without generated stubs.
type GRPCClient struct {
	endpoint    string
	method      string
	model       string
	version     int
	confidence  int
	overlap     int
	timeout     time.Duration
	maxAttempts int

	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	healthMu   sync.RWMutex
	lastHealth time.Time
}

// NewGRPCClient creates a client. The connection is established lazily.
func NewGRPCClient(cfg Config) (*GRPCClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("grpc inference endpoint is required")
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	c := &GRPCClient{
		endpoint:    cfg.Endpoint,
		method:      cfg.GRPCMethod,
		model:       cfg.Model,
		version:     cfg.Version,
		confidence:  cfg.Confidence,
		overlap:     cfg.Overlap,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		conn:        conn,
		health:      healthpb.NewHealthClient(conn),
	}
	if c.method == "" {
		c.method = DefaultGRPCMethod
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.version == 0 {
		c.version = DefaultVersion
	}
	if c.timeout <= 0 {
		c.timeout = pipeline.DefaultInferenceTimeout
	}

	log.Printf("[GRPCClient] Using %s on %s", c.method, c.endpoint)
	return c, nil
}

// Infer implements pipeline.InferenceClient
func (c *GRPCClient) Infer(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	return withRetry(ctx, "GRPCClient", c.maxAttempts, func() (pipeline.DetectionSet, error) {
		return c.detect(ctx, jpeg)
	})
}

func (c *GRPCClient) detect(ctx context.Context, jpeg []byte) (pipeline.DetectionSet, error) {
	req, err := structpb.NewStruct(map[string]any{
		"image":      base64.StdEncoding.EncodeToString(jpeg),
		"model":      c.model,
		"version":    c.version,
		"confidence": c.confidence,
		"overlap":    c.overlap,
	})
	if err != nil {
		return nil, &pipeline.InferenceError{Kind: pipeline.InferenceMalformed, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, c.method, req, resp); err != nil {
		return nil, classifyRPCError(err)
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		return nil, &pipeline.InferenceError{Kind: pipeline.InferenceMalformed, Err: err}
	}
	return parsePrediction(body)
}

// IsHealthy checks the standard gRPC health service, cached for 30 seconds
func (c *GRPCClient) IsHealthy(ctx context.Context) bool {
	c.healthMu.RLock()
	if time.Since(c.lastHealth) < healthCacheTTL {
		c.healthMu.RUnlock()
		return true
	}
	c.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false
	}

	c.healthMu.Lock()
	c.lastHealth = time.Now()
	c.healthMu.Unlock()
	return true
}

// Close closes the connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func classifyRPCError(err error) *pipeline.InferenceError {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return &pipeline.InferenceError{Kind: pipeline.InferenceTimeout, Err: err}
	case codes.Unavailable, codes.ResourceExhausted, codes.Canceled:
		return &pipeline.InferenceError{Kind: pipeline.InferenceUnavailable, Err: err}
	case codes.Internal, codes.Unknown:
		return &pipeline.InferenceError{Kind: pipeline.InferenceStatus, StatusCode: 500, Err: err}
	default:
		return &pipeline.InferenceError{Kind: pipeline.InferenceStatus, StatusCode: 400, Err: err}
	}
}

var _ pipeline.InferenceClient = (*GRPCClient)(nil)
