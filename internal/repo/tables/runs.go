package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/tablestore"
)

// RunStore keeps runs under their agent partition with the status as the
// secondary key, so runs can be listed by status across agents.
type RunStore struct {
	table Table
}

func NewRunStore(table Table) *RunStore {
	if table == nil {
		return nil
	}
	return &RunStore{table: table}
}

func (s *RunStore) Create(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return domain.EvaluationRun{}, fmt.Errorf("run store not initialized")
	}
	entity, err := runEntity(run)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	created, err := s.table.Insert(ctx, TableRuns, entity)
	if err != nil {
		return domain.EvaluationRun{}, fmt.Errorf("insert run: %w", err)
	}
	return runFromEntity(created)
}

func (s *RunStore) Get(ctx context.Context, agentID, evalRunID string) (domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return domain.EvaluationRun{}, fmt.Errorf("run store not initialized")
	}
	agentID = strings.TrimSpace(agentID)
	evalRunID = strings.TrimSpace(evalRunID)
	if agentID == "" || evalRunID == "" {
		return domain.EvaluationRun{}, fmt.Errorf("agent id and eval run id are required")
	}
	e, err := s.table.Get(ctx, TableRuns, agentID, evalRunID)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	return runFromEntity(e)
}

func (s *RunStore) Find(ctx context.Context, evalRunID string) (domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return domain.EvaluationRun{}, fmt.Errorf("run store not initialized")
	}
	evalRunID = strings.TrimSpace(evalRunID)
	if evalRunID == "" {
		return domain.EvaluationRun{}, fmt.Errorf("eval run id is required")
	}
	entities, err := s.table.Query(ctx, TableRuns, tablestore.Query{RowKey: evalRunID, Limit: 1})
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	if len(entities) == 0 {
		return domain.EvaluationRun{}, repo.ErrNotFound
	}
	return runFromEntity(entities[0])
}

func (s *RunStore) Replace(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return domain.EvaluationRun{}, fmt.Errorf("run store not initialized")
	}
	entity, err := runEntity(run)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	entity.ETag = run.ETag
	updated, err := s.table.Replace(ctx, TableRuns, entity)
	if err != nil {
		return domain.EvaluationRun{}, fmt.Errorf("replace run: %w", err)
	}
	return runFromEntity(updated)
}

func (s *RunStore) ListByAgent(ctx context.Context, agentID string) ([]domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	entities, err := s.table.Query(ctx, TableRuns, tablestore.Query{PartitionKey: agentID})
	if err != nil {
		return nil, err
	}
	return runsFromEntities(entities)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.EvaluationRun, error) {
	if s == nil || s.table == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	entities, err := s.table.Query(ctx, TableRuns, tablestore.Query{
		SecondaryKey:      string(filter.Status),
		AfterPartitionKey: filter.After.AgentID,
		AfterRowKey:       filter.After.EvalRunID,
		Limit:             filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	return runsFromEntities(entities)
}

func runEntity(run domain.EvaluationRun) (tablestore.Entity, error) {
	if err := run.Validate(); err != nil {
		return tablestore.Entity{}, err
	}
	run.DataSetName = nil
	run.MetricsConfigurationName = nil
	data, err := json.Marshal(run)
	if err != nil {
		return tablestore.Entity{}, fmt.Errorf("encode run: %w", err)
	}
	return tablestore.Entity{
		PartitionKey: run.AgentID,
		RowKey:       run.EvalRunID,
		SecondaryKey: string(run.Status),
		Data:         data,
	}, nil
}

func runFromEntity(e tablestore.Entity) (domain.EvaluationRun, error) {
	run, err := decodeEntity[domain.EvaluationRun](e)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	run.ETag = e.ETag
	return run, nil
}

func runsFromEntities(entities []tablestore.Entity) ([]domain.EvaluationRun, error) {
	out := make([]domain.EvaluationRun, 0, len(entities))
	for _, e := range entities {
		run, err := runFromEntity(e)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}
