package repo

import (
	"context"
	"net/url"
	"strings"

	"github.com/animus-labs/evalcore/internal/domain"
)

// RunFilter selects runs by status. Results are ordered by agent id, then
// run id, and start after After when it is set.
type RunFilter struct {
	Status domain.RunStatus
	After  RunCursor
	Limit  int
}

// RunCursor marks the last run of a page.
type RunCursor struct {
	AgentID   string
	EvalRunID string
}

func CursorAfter(run domain.EvaluationRun) RunCursor {
	return RunCursor{AgentID: run.AgentID, EvalRunID: run.EvalRunID}
}

// RunRepository manages evaluation runs partitioned by agent.
type RunRepository interface {
	Create(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, error)
	Get(ctx context.Context, agentID, evalRunID string) (domain.EvaluationRun, error)
	// Find locates a run without knowing its agent.
	Find(ctx context.Context, evalRunID string) (domain.EvaluationRun, error)
	// Replace writes run if its ETag still matches the stored row.
	Replace(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, error)
	ListByAgent(ctx context.Context, agentID string) ([]domain.EvaluationRun, error)
	List(ctx context.Context, filter RunFilter) ([]domain.EvaluationRun, error)
}

// DatasetRepository manages dataset metadata rows.
type DatasetRepository interface {
	Create(ctx context.Context, dataset domain.Dataset) error
	Update(ctx context.Context, dataset domain.Dataset) error
	Get(ctx context.Context, agentID, datasetID string) (domain.Dataset, error)
	List(ctx context.Context, agentID string) ([]domain.Dataset, error)
	Delete(ctx context.Context, agentID, datasetID string) error
}

// MetricsConfigurationRepository manages metrics configuration metadata rows.
type MetricsConfigurationRepository interface {
	Create(ctx context.Context, cfg domain.MetricsConfiguration) error
	Update(ctx context.Context, cfg domain.MetricsConfiguration) error
	Get(ctx context.Context, agentID, configurationID string) (domain.MetricsConfiguration, error)
	List(ctx context.Context, agentID string) ([]domain.MetricsConfiguration, error)
	Delete(ctx context.Context, agentID, configurationID string) error
}

// BusinessKeyRepository reserves natural keys so that at most one entity
// exists per key. Reserve fails with domain.ErrConflict when taken.
type BusinessKeyRepository interface {
	Reserve(ctx context.Context, agentID, key, ownerID string) error
	Lookup(ctx context.Context, agentID, key string) (string, error)
	Release(ctx context.Context, agentID, key string) error
}

// StatusHistoryRepository records accepted run status transitions.
type StatusHistoryRepository interface {
	Append(ctx context.Context, change domain.StatusChange) error
	List(ctx context.Context, evalRunID string) ([]domain.StatusChange, error)
}

// DatasetKey is the reservation row key of a dataset. Components are
// path-escaped so the separator cannot appear inside one, and compared
// case-sensitively.
func DatasetKey(datasetType, name string) string {
	return businessKey("dataset", datasetType, name)
}

func MetricsConfigurationKey(environmentName, name string) string {
	return businessKey("metricsconfig", environmentName, name)
}

func businessKey(kind string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, kind)
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(strings.TrimSpace(p)))
	}
	return strings.Join(escaped, "|")
}
