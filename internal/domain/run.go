package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// ResultsPathPrefix is the folder inside an agent container holding result blobs.
const ResultsPathPrefix = "evaluation-results/"

// EvaluationRun tracks one enrich-evaluate-persist unit of work.
type EvaluationRun struct {
	EvalRunID              string     `json:"evalRunId"`
	AgentID                string     `json:"agentId"`
	DataSetID              string     `json:"dataSetId"`
	MetricsConfigurationID string     `json:"metricsConfigurationId"`
	EnvironmentID          string     `json:"environmentId"`
	AgentSchemaName        string     `json:"agentSchemaName"`
	EvalRunName            string     `json:"evalRunName"`
	Status                 RunStatus  `json:"status"`
	ContainerName          string     `json:"containerName"`
	ResultsPathPrefix      string     `json:"resultsPathPrefix"`
	StartedAt              time.Time  `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
	LastUpdatedBy          string     `json:"lastUpdatedBy"`
	LastUpdatedOn          time.Time  `json:"lastUpdatedOn"`

	// Display-only joins, never persisted.
	DataSetName              *string `json:"dataSetName,omitempty"`
	MetricsConfigurationName *string `json:"metricsConfigurationName,omitempty"`

	// ETag is the store's concurrency token for the row this value was read from.
	ETag string `json:"-"`
}

func (r EvaluationRun) Validate() error {
	if strings.TrimSpace(r.EvalRunID) == "" {
		return errors.New("eval run id is required")
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(r.DataSetID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(r.MetricsConfigurationID) == "" {
		return errors.New("metrics configuration id is required")
	}
	if strings.TrimSpace(r.ContainerName) == "" {
		return errors.New("container name is required")
	}
	if statusOrder(r.Status) == 0 {
		return errors.New("status is required")
	}
	return nil
}

// StatusChange is one accepted transition in a run's history.
type StatusChange struct {
	EvalRunID string    `json:"evalRunId"`
	From      RunStatus `json:"from"`
	To        RunStatus `json:"to"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

// ContainerName derives the object-store container owned by an agent:
// every whitespace rune is removed and the rest lower-cased.
func ContainerName(agentID string) string {
	var b strings.Builder
	b.Grow(len(agentID))
	for _, r := range agentID {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
