// Package results persists evaluation output for finished runs and serves it
// back.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/storage/blobstore"
	"golang.org/x/sync/errgroup"
)

const DefaultDataPlatformQueue = "eval-results-data-platform"

type RunFinder interface {
	FindRun(ctx context.Context, evalRunID string) (domain.EvaluationRun, error)
}

// EnrichedDatasets retires the enrichment output once results exist.
type EnrichedDatasets interface {
	RetireEnrichedDataset(ctx context.Context, run domain.EvaluationRun) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, queueName, dedupeKey string, v any) (string, error)
}

type Deps struct {
	Runs      RunFinder
	Blobs     blobstore.Store
	Enriched  EnrichedDatasets
	Publisher Publisher
	Logger    *slog.Logger
}

type Options struct {
	DataPlatformEnabled bool
	DataPlatformQueue   string
}

type Service struct {
	runs      RunFinder
	blobs     blobstore.Store
	enriched  EnrichedDatasets
	publisher Publisher
	logger    *slog.Logger

	dataPlatformEnabled bool
	dataPlatformQueue   string
	now                 func() time.Time
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Runs == nil {
		return nil, errors.New("run finder is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.DataPlatformEnabled && deps.Publisher == nil {
		return nil, errors.New("publisher is required when the data platform is enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.DataPlatformQueue) == "" {
		opts.DataPlatformQueue = DefaultDataPlatformQueue
	}
	return &Service{
		runs:                deps.Runs,
		blobs:               deps.Blobs,
		enriched:            deps.Enriched,
		publisher:           deps.Publisher,
		logger:              logger.With("component", "results"),
		dataPlatformEnabled: opts.DataPlatformEnabled,
		dataPlatformQueue:   opts.DataPlatformQueue,
		now:                 time.Now,
	}, nil
}

// SaveResults stores the summary and per-record results of a finished run.
// Nothing is written unless the run is completed or failed.
func (s *Service) SaveResults(ctx context.Context, evalRunID string, summary, dataset json.RawMessage) error {
	evalRunID = strings.TrimSpace(evalRunID)
	if evalRunID == "" {
		return fmt.Errorf("%w: evalRunId is required", domain.ErrInvalidInput)
	}
	if !json.Valid(summary) || !json.Valid(dataset) {
		return fmt.Errorf("%w: summary and dataset must be valid JSON", domain.ErrInvalidInput)
	}
	run, err := s.runs.FindRun(ctx, evalRunID)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("eval run %s is %s: %w", evalRunID, run.Status, domain.ErrRunNotTerminal)
	}

	if err := s.blobs.Write(ctx, run.ContainerName, domain.ResultsSummaryBlobPath(evalRunID), summary); err != nil {
		return domain.NewStorageError("write", "results summary", evalRunID, err)
	}
	if err := s.blobs.Write(ctx, run.ContainerName, domain.ResultsDatasetBlobPath(evalRunID), dataset); err != nil {
		return domain.NewStorageError("write", "results dataset", evalRunID, err)
	}
	s.logger.Info("results saved", "eval_run_id", evalRunID, "agent_id", run.AgentID, "status", run.Status)

	if s.dataPlatformEnabled {
		s.publish(ctx, run, summary, dataset)
	}
	if s.enriched != nil {
		if err := s.enriched.RetireEnrichedDataset(ctx, run); err != nil {
			s.logger.Warn("retire enriched dataset failed", "eval_run_id", evalRunID, "error", err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, run domain.EvaluationRun, summary, dataset json.RawMessage) {
	msg := domain.ResultsPublication{
		EvalRunID: run.EvalRunID,
		AgentID:   run.AgentID,
		Summary:   summary,
		Dataset:   dataset,
		SavedAt:   s.now().UTC(),
	}
	if _, err := s.publisher.PublishJSON(ctx, s.dataPlatformQueue, run.EvalRunID, msg); err != nil {
		s.logger.Error("data platform publish failed", "eval_run_id", run.EvalRunID, "queue", s.dataPlatformQueue, "error", err)
		return
	}
	s.logger.Info("results published to data platform", "eval_run_id", run.EvalRunID, "queue", s.dataPlatformQueue)
}

// GetResults returns whichever result blobs exist for a completed run.
func (s *Service) GetResults(ctx context.Context, evalRunID string) (domain.EvaluationResults, error) {
	evalRunID = strings.TrimSpace(evalRunID)
	run, err := s.runs.FindRun(ctx, evalRunID)
	if err != nil {
		return domain.EvaluationResults{}, err
	}
	if run.Status != domain.StatusEvalRunCompleted {
		return domain.EvaluationResults{}, fmt.Errorf("eval run %s is %s: %w", evalRunID, run.Status, domain.ErrRunNotTerminal)
	}

	out := domain.EvaluationResults{EvalRunID: evalRunID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := s.readOptional(gctx, run.ContainerName, domain.ResultsSummaryBlobPath(evalRunID))
		out.Summary = raw
		return err
	})
	g.Go(func() error {
		raw, err := s.readOptional(gctx, run.ContainerName, domain.ResultsDatasetBlobPath(evalRunID))
		out.Dataset = raw
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.EvaluationResults{}, domain.NewStorageError("read", "results", evalRunID, err)
	}
	if out.Summary == nil && out.Dataset == nil {
		return domain.EvaluationResults{}, fmt.Errorf("results for %s: %w", evalRunID, domain.ErrNotFound)
	}
	return out, nil
}

func (s *Service) readOptional(ctx context.Context, container, path string) (json.RawMessage, error) {
	raw, err := s.blobs.Read(ctx, container, path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}
