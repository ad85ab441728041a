package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"golang.org/x/sync/errgroup"
)

// GetRun reads a run from its agent partition.
func (s *Service) GetRun(ctx context.Context, agentID, evalRunID string) (domain.EvaluationRun, error) {
	agentID = strings.TrimSpace(agentID)
	evalRunID = strings.TrimSpace(evalRunID)
	run, err := cache.GetOrLoad(ctx, s.cache, cache.RunKey(agentID, evalRunID), s.ttls().Metadata,
		func(ctx context.Context) (domain.EvaluationRun, error) {
			return s.runs.Get(ctx, agentID, evalRunID)
		})
	return run, s.readError("evaluation run", evalRunID, err)
}

// FindRun locates a run when the caller does not know its agent.
func (s *Service) FindRun(ctx context.Context, evalRunID string) (domain.EvaluationRun, error) {
	evalRunID = strings.TrimSpace(evalRunID)
	if agentID, ok := cache.GetJSON[string](ctx, s.cache, cache.RunOwnerKey(evalRunID)); ok {
		run, err := s.GetRun(ctx, agentID, evalRunID)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.EvaluationRun{}, err
		}
		s.cache.Invalidate(ctx, cache.RunOwnerKey(evalRunID))
	}

	run, err := s.runs.Find(ctx, evalRunID)
	if err != nil {
		return domain.EvaluationRun{}, s.readError("evaluation run", evalRunID, err)
	}
	s.cache.SetJSON(ctx, cache.RunOwnerKey(evalRunID), run.AgentID, s.ttls().Metadata)
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, agentID string) ([]domain.EvaluationRun, error) {
	agentID = strings.TrimSpace(agentID)
	runs, err := cache.GetOrLoad(ctx, s.cache, cache.RunListKey(agentID), s.ttls().List,
		func(ctx context.Context) ([]domain.EvaluationRun, error) {
			return s.runs.ListByAgent(ctx, agentID)
		})
	if err != nil {
		return nil, domain.NewStorageError("list", "evaluation runs", agentID, err)
	}
	return runs, nil
}

// ListRunsByStatus scans every agent partition, one page of at most limit
// runs after the cursor. It bypasses the cache.
func (s *Service) ListRunsByStatus(ctx context.Context, status domain.RunStatus, after repo.RunCursor, limit int) ([]domain.EvaluationRun, error) {
	runs, err := s.runs.List(ctx, repo.RunFilter{Status: status, After: after, Limit: limit})
	if err != nil {
		return nil, domain.NewStorageError("list", "evaluation runs", string(status), err)
	}
	return runs, nil
}

func (s *Service) StatusHistory(ctx context.Context, evalRunID string) ([]domain.StatusChange, error) {
	if s.history == nil {
		return []domain.StatusChange{}, nil
	}
	changes, err := s.history.List(ctx, strings.TrimSpace(evalRunID))
	if err != nil {
		return nil, domain.NewStorageError("list", "status history", evalRunID, err)
	}
	return changes, nil
}

// EnrichWithNames fills the display names of the run's dataset and metrics
// configuration. A failed lookup leaves its name nil.
func (s *Service) EnrichWithNames(ctx context.Context, run domain.EvaluationRun) domain.EvaluationRun {
	var datasetName, metricsName *string

	var g errgroup.Group
	g.Go(func() error {
		ds, err := s.lookupDataset(ctx, run.AgentID, run.DataSetID)
		if err != nil {
			s.logger.Warn("dataset name lookup failed", "eval_run_id", run.EvalRunID, "dataset_id", run.DataSetID, "error", err)
			return nil
		}
		datasetName = &ds.DatasetName
		return nil
	})
	g.Go(func() error {
		mc, err := s.lookupMetricsConfiguration(ctx, run.AgentID, run.MetricsConfigurationID)
		if err != nil {
			s.logger.Warn("metrics configuration name lookup failed", "eval_run_id", run.EvalRunID, "metrics_configuration_id", run.MetricsConfigurationID, "error", err)
			return nil
		}
		metricsName = &mc.ConfigurationName
		return nil
	})
	_ = g.Wait()

	run.DataSetName = datasetName
	run.MetricsConfigurationName = metricsName
	return run
}

// lookupDataset shares the dataset metadata cache entry with the artifact
// service. Ids are global, so an entry owned by another agent is a miss.
func (s *Service) lookupDataset(ctx context.Context, agentID, datasetID string) (domain.Dataset, error) {
	ds, err := cache.GetOrLoad(ctx, s.cache, cache.DatasetKey(datasetID), s.ttls().Metadata,
		func(ctx context.Context) (domain.Dataset, error) {
			return s.datasets.Get(ctx, agentID, datasetID)
		})
	if err != nil {
		return domain.Dataset{}, err
	}
	if ds.AgentID != agentID {
		return domain.Dataset{}, domain.ErrNotFound
	}
	return ds, nil
}

func (s *Service) lookupMetricsConfiguration(ctx context.Context, agentID, configurationID string) (domain.MetricsConfiguration, error) {
	mc, err := cache.GetOrLoad(ctx, s.cache, cache.MetricsConfigKey(configurationID), s.ttls().Metadata,
		func(ctx context.Context) (domain.MetricsConfiguration, error) {
			return s.metrics.Get(ctx, agentID, configurationID)
		})
	if err != nil {
		return domain.MetricsConfiguration{}, err
	}
	if mc.AgentID != agentID {
		return domain.MetricsConfiguration{}, domain.ErrNotFound
	}
	return mc, nil
}

func (s *Service) ttls() cache.TTLs {
	if s.cache == nil {
		return cache.DefaultTTLs()
	}
	return s.cache.TTLs
}

func (s *Service) readError(entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}
	return domain.NewStorageError("get", entity, id, err)
}
