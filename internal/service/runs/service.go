// Package runs owns the evaluation run lifecycle: creation, the enrichment
// hand-off to the upstream platform, and every status transition.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/upstream"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	SystemActor = "system"

	defaultDispatchTimeout   = 30 * time.Second
	defaultMaxUpdateAttempts = 5
)

// Enricher starts dataset enrichment on the upstream platform.
type Enricher interface {
	RequestEnrichment(ctx context.Context, req upstream.EnrichmentRequest) error
}

// StatusMirror reports accepted status changes back to the upstream platform.
type StatusMirror interface {
	SetStatus(ctx context.Context, evalRunID, status string) error
}

type Deps struct {
	Runs     repo.RunRepository
	Datasets repo.DatasetRepository
	Metrics  repo.MetricsConfigurationRepository
	History  repo.StatusHistoryRepository
	Enricher Enricher
	Mirror   StatusMirror
	Cache    *cache.Aside
	Logger   *slog.Logger
}

type Options struct {
	DispatchTimeout   time.Duration
	MaxUpdateAttempts int
}

type CreateRunInput struct {
	AgentID                string `json:"agentId" validate:"required,max=256"`
	DataSetID              string `json:"dataSetId" validate:"required,max=256"`
	MetricsConfigurationID string `json:"metricsConfigurationId" validate:"required,max=256"`
	EnvironmentID          string `json:"environmentId" validate:"max=256"`
	AgentSchemaName        string `json:"agentSchemaName" validate:"max=256"`
	EvalRunName            string `json:"evalRunName" validate:"max=512"`
}

type Service struct {
	runs     repo.RunRepository
	datasets repo.DatasetRepository
	metrics  repo.MetricsConfigurationRepository
	history  repo.StatusHistoryRepository
	enricher Enricher
	mirror   StatusMirror
	cache    *cache.Aside
	logger   *slog.Logger
	validate *validator.Validate

	dispatchTimeout   time.Duration
	maxUpdateAttempts int
	now               func() time.Time
	newID             func() string

	background sync.WaitGroup
}

func New(deps Deps, opts Options) (*Service, error) {
	if deps.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if deps.Datasets == nil {
		return nil, errors.New("dataset repository is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("metrics configuration repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.MaxUpdateAttempts <= 0 {
		opts.MaxUpdateAttempts = defaultMaxUpdateAttempts
	}
	return &Service{
		runs:              deps.Runs,
		datasets:          deps.Datasets,
		metrics:           deps.Metrics,
		history:           deps.History,
		enricher:          deps.Enricher,
		mirror:            deps.Mirror,
		cache:             deps.Cache,
		logger:            logger.With("component", "runs"),
		validate:          validator.New(),
		dispatchTimeout:   opts.DispatchTimeout,
		maxUpdateAttempts: opts.MaxUpdateAttempts,
		now:               time.Now,
		newID:             uuid.NewString,
	}, nil
}

// CreateRun persists a new run in RequestSubmitted and requests enrichment
// in the background. An unreachable upstream platform is logged and leaves
// the run in place.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput, actor string) (domain.EvaluationRun, error) {
	run, err := s.create(ctx, in, actor)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		dctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
		defer cancel()
		s.dispatchEnrichment(dctx, run)
	}()
	return run, nil
}

// CreateRunWait is CreateRun with the enrichment request made inline. The
// returned run reflects the outcome: EnrichingDataset when the platform
// accepted the request, RequestSubmitted otherwise.
func (s *Service) CreateRunWait(ctx context.Context, in CreateRunInput, actor string) (domain.EvaluationRun, error) {
	run, err := s.create(ctx, in, actor)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	defer cancel()
	if updated, ok := s.dispatchEnrichment(dctx, run); ok {
		return updated, nil
	}
	return run, nil
}

func (s *Service) create(ctx context.Context, in CreateRunInput, actor string) (domain.EvaluationRun, error) {
	in = trimInput(in)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return domain.EvaluationRun{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := s.validateReferences(ctx, in); err != nil {
		return domain.EvaluationRun{}, err
	}

	now := s.now().UTC()
	run := domain.EvaluationRun{
		EvalRunID:              s.newID(),
		AgentID:                in.AgentID,
		DataSetID:              in.DataSetID,
		MetricsConfigurationID: in.MetricsConfigurationID,
		EnvironmentID:          in.EnvironmentID,
		AgentSchemaName:        in.AgentSchemaName,
		EvalRunName:            in.EvalRunName,
		Status:                 domain.StatusRequestSubmitted,
		ContainerName:          domain.ContainerName(in.AgentID),
		ResultsPathPrefix:      domain.ResultsPathPrefix,
		StartedAt:              now,
		LastUpdatedBy:          actorOrSystem(actor),
		LastUpdatedOn:          now,
	}
	created, err := s.runs.Create(ctx, run)
	if err != nil {
		return domain.EvaluationRun{}, domain.NewStorageError("create", "evaluation run", run.EvalRunID, err)
	}
	s.cache.Invalidate(ctx, cache.RunListKey(created.AgentID))
	s.recordChange(ctx, domain.StatusChange{EvalRunID: created.EvalRunID, To: created.Status, Actor: created.LastUpdatedBy, At: now})

	s.logger.Info("evaluation run created",
		"eval_run_id", created.EvalRunID,
		"agent_id", created.AgentID,
		"dataset_id", created.DataSetID,
		"metrics_configuration_id", created.MetricsConfigurationID,
	)
	return created, nil
}

func (s *Service) validateReferences(ctx context.Context, in CreateRunInput) error {
	if _, err := s.lookupDataset(ctx, in.AgentID, in.DataSetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: dataset %s does not exist for agent %s", domain.ErrReferenceValidation, in.DataSetID, in.AgentID)
		}
		return domain.NewStorageError("get", "dataset", in.DataSetID, err)
	}
	if _, err := s.lookupMetricsConfiguration(ctx, in.AgentID, in.MetricsConfigurationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: metrics configuration %s does not exist for agent %s", domain.ErrReferenceValidation, in.MetricsConfigurationID, in.AgentID)
		}
		return domain.NewStorageError("get", "metrics configuration", in.MetricsConfigurationID, err)
	}
	return nil
}

// dispatchEnrichment reports whether the run advanced to EnrichingDataset.
func (s *Service) dispatchEnrichment(ctx context.Context, run domain.EvaluationRun) (domain.EvaluationRun, bool) {
	logger := s.logger.With("eval_run_id", run.EvalRunID, "agent_id", run.AgentID)
	if s.enricher == nil {
		logger.Warn("no upstream platform configured, enrichment not requested")
		return run, false
	}
	err := s.enricher.RequestEnrichment(ctx, upstream.EnrichmentRequest{
		EvalRunID:       run.EvalRunID,
		AgentID:         run.AgentID,
		EnvironmentID:   run.EnvironmentID,
		AgentSchemaName: run.AgentSchemaName,
		DatasetID:       run.DataSetID,
	})
	if err != nil {
		logger.Warn("enrichment request failed", "error_kind", "UpstreamCallFailure", "error", err)
		return run, false
	}

	updated, err := s.transition(ctx, run.AgentID, run.EvalRunID, domain.StatusEnrichingDataset, SystemActor)
	switch {
	case err == nil:
		return updated, true
	case errors.Is(err, domain.ErrInvalidTransition):
		// The enriched dataset arrived before the acknowledgement.
		logger.Debug("run already past enrichment request", "error", err)
		return run, false
	default:
		logger.Warn("failed to mark run as enriching", "error", err)
		return run, false
	}
}

// UpdateStatus applies a caller-supplied status after normalizing it.
func (s *Service) UpdateStatus(ctx context.Context, agentID, evalRunID, newStatus, actor string) (domain.EvaluationRun, error) {
	requested, err := domain.NormalizeStatus(newStatus)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	return s.transition(ctx, strings.TrimSpace(agentID), strings.TrimSpace(evalRunID), requested, actorOrSystem(actor))
}

// MarkFailed moves the run to EvalRunFailed from any state.
func (s *Service) MarkFailed(ctx context.Context, agentID, evalRunID, actor string) (domain.EvaluationRun, error) {
	return s.transition(ctx, strings.TrimSpace(agentID), strings.TrimSpace(evalRunID), domain.StatusEvalRunFailed, actorOrSystem(actor))
}

func (s *Service) transition(ctx context.Context, agentID, evalRunID string, requested domain.RunStatus, actor string) (domain.EvaluationRun, error) {
	for attempt := 1; attempt <= s.maxUpdateAttempts; attempt++ {
		current, err := s.runs.Get(ctx, agentID, evalRunID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.EvaluationRun{}, fmt.Errorf("eval run %s: %w", evalRunID, domain.ErrNotFound)
			}
			return domain.EvaluationRun{}, domain.NewStorageError("get", "evaluation run", evalRunID, err)
		}

		next, changed, err := domain.Transition(current.Status, requested)
		if err != nil {
			return domain.EvaluationRun{}, fmt.Errorf("eval run %s: %w", evalRunID, err)
		}
		if !changed {
			return current, nil
		}

		now := s.now().UTC()
		updated := current
		updated.Status = next
		updated.LastUpdatedBy = actor
		updated.LastUpdatedOn = now
		// CompletedAt records the first terminal write only.
		if next.IsTerminal() && current.CompletedAt == nil {
			updated.CompletedAt = &now
		}

		saved, err := s.runs.Replace(ctx, updated)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("status write raced, retrying", "eval_run_id", evalRunID, "attempt", attempt)
			continue
		}
		if err != nil {
			return domain.EvaluationRun{}, domain.NewStorageError("update", "evaluation run", evalRunID, err)
		}

		s.cache.Invalidate(ctx, cache.RunKey(agentID, evalRunID), cache.RunListKey(agentID))
		s.recordChange(ctx, domain.StatusChange{EvalRunID: evalRunID, From: current.Status, To: next, Actor: actor, At: now})
		s.mirrorStatus(saved)
		if current.Status == domain.StatusEvalRunCompleted {
			s.logger.Warn("completed evaluation run marked failed, its results are no longer served",
				"eval_run_id", evalRunID,
				"agent_id", agentID,
				"completed_at", current.CompletedAt,
				"actor", actor,
			)
		}
		s.logger.Info("evaluation run status changed",
			"eval_run_id", evalRunID,
			"agent_id", agentID,
			"from", current.Status,
			"to", next,
			"actor", actor,
		)
		return saved, nil
	}
	return domain.EvaluationRun{}, fmt.Errorf("eval run %s: status update gave up after %d attempts: %w", evalRunID, s.maxUpdateAttempts, domain.ErrConflict)
}

func (s *Service) recordChange(ctx context.Context, change domain.StatusChange) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, change); err != nil {
		s.logger.Warn("status history append failed", "eval_run_id", change.EvalRunID, "to", change.To, "error", err)
	}
}

func (s *Service) mirrorStatus(run domain.EvaluationRun) {
	if s.mirror == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
		defer cancel()
		if err := s.mirror.SetStatus(ctx, run.EvalRunID, string(run.Status)); err != nil {
			s.logger.Warn("status mirror failed", "error_kind", "UpstreamCallFailure", "eval_run_id", run.EvalRunID, "status", run.Status, "error", err)
		}
	}()
}

// Wait blocks until background enrichment requests and status mirrors finish.
func (s *Service) Wait() {
	s.background.Wait()
}

func trimInput(in CreateRunInput) CreateRunInput {
	in.AgentID = strings.TrimSpace(in.AgentID)
	in.DataSetID = strings.TrimSpace(in.DataSetID)
	in.MetricsConfigurationID = strings.TrimSpace(in.MetricsConfigurationID)
	in.EnvironmentID = strings.TrimSpace(in.EnvironmentID)
	in.AgentSchemaName = strings.TrimSpace(in.AgentSchemaName)
	in.EvalRunName = strings.TrimSpace(in.EvalRunName)
	return in
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return SystemActor
	}
	return actor
}
