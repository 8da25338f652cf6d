package services

import (
	"context"
	"time"

	"ringside/internal/pipeline"
)

// Pinger reports whether a dependency answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthImplementation implements the liveness and readiness probes
type HealthImplementation struct {
	db     Pinger
	client pipeline.InferenceClient
}

// NewHealthService creates a new health service implementation
func NewHealthService(db Pinger, client pipeline.InferenceClient) *HealthImplementation {
	return &HealthImplementation{db: db, client: client}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) (*HealthResult, error) {
	return &HealthResult{Status: "ok"}, nil
}

// Readyz is ready when the database answers and the inference service
// passes its health probe.
func (h *HealthImplementation) Readyz(ctx context.Context) (*HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "inference": "ok"}
	ready := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		}
	}
	if !h.client.IsHealthy(ctx) {
		checks["inference"] = "unhealthy"
		ready = false
	}

	if !ready {
		return &HealthResult{Status: "unavailable", Checks: checks}, unavailable("not ready")
	}
	return &HealthResult{Status: "ok", Checks: checks}, nil
}
