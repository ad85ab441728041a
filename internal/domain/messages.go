package domain

import (
	"encoding/json"
	"time"
)

const PriorityNormal = "Normal"

// ProcessingRequest is enqueued once per enrichment-completed event for the
// downstream evaluation engine.
type ProcessingRequest struct {
	EvalRunID              string    `json:"evalRunId"`
	MetricsConfigurationID string    `json:"metricsConfigurationId"`
	RequestedAt            time.Time `json:"requestedAt"`
	Priority               string    `json:"priority"`
}

// EvaluationResults is the combined view of a run's persisted result blobs.
// Either part may be absent.
type EvaluationResults struct {
	EvalRunID string          `json:"evalRunId"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Dataset   json.RawMessage `json:"dataset,omitempty"`
}

// ResultsPublication is republished to the data platform queue after results are saved.
type ResultsPublication struct {
	EvalRunID string          `json:"evalRunId"`
	AgentID   string          `json:"agentId"`
	Summary   json.RawMessage `json:"summary"`
	Dataset   json.RawMessage `json:"dataset"`
	SavedAt   time.Time       `json:"savedAt"`
}
