package http

import (
	"github.com/fyrsmithlabs/autofixd/internal/engine"
	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Running   bool                    `json:"running"`
	Connected bool                    `json:"connected"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Version string        `json:"version,omitempty"`
	Engine  engine.Status `json:"engine"`
}

// ToggleResponse reports whether a start or stop request changed state.
type ToggleResponse struct {
	Changed bool   `json:"changed"`
	State   string `json:"state"`
}

// PlannerRequest is the request body for PUT /api/v1/planner.
type PlannerRequest struct {
	Enabled *bool `json:"enabled"`
}

// PlannerResponse is the response body for PUT /api/v1/planner.
type PlannerResponse struct {
	Enabled bool `json:"enabled"`
}

// EvolveResponse is the response body for POST /api/v1/evolve.
type EvolveResponse struct {
	Actions []evolution.Action `json:"actions"`
}

// HeaderPlannerStatus carries the planner status when a tick returns no
// decision.
const HeaderPlannerStatus = "X-Planner-Status"
