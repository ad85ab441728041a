package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/storage/blobstore"
)

// StoreEnrichedDataset persists the enrichment output for a run, advances the
// run to DatasetEnrichmentCompleted and hands it to the evaluation engine.
// The run is resolved without its agent since enrichment callbacks only carry
// the run id.
func (s *Service) StoreEnrichedDataset(ctx context.Context, evalRunID string, records []domain.DatasetRecord, actor string) (domain.EvaluationRun, error) {
	evalRunID = strings.TrimSpace(evalRunID)
	if err := requireFields(map[string]string{"evalRunId": evalRunID}); err != nil {
		return domain.EvaluationRun{}, err
	}
	run, err := s.runs.FindRun(ctx, evalRunID)
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	// Refuse before writing so a finished run never gets a fresh blob.
	if _, _, err := domain.Transition(run.Status, domain.StatusDatasetEnrichmentCompleted); err != nil {
		return domain.EvaluationRun{}, fmt.Errorf("store enriched dataset for %s: %w", evalRunID, err)
	}

	if records == nil {
		records = []domain.DatasetRecord{}
	}
	now := s.now().UTC()
	content, err := json.Marshal(domain.EnrichedDataset{
		EvalRunID:       evalRunID,
		AgentID:         run.AgentID,
		EnrichedDataset: records,
		CreatedAt:       now,
		LastUpdated:     now,
	})
	if err != nil {
		return domain.EvaluationRun{}, fmt.Errorf("encode enriched dataset: %w", err)
	}
	if err := s.blobs.Write(ctx, run.ContainerName, domain.EnrichedDatasetBlobPath(evalRunID), content); err != nil {
		return domain.EvaluationRun{}, domain.NewStorageError("write", "enriched dataset", evalRunID, err)
	}

	updated, err := s.runs.UpdateStatus(ctx, run.AgentID, evalRunID, string(domain.StatusDatasetEnrichmentCompleted), actorOrSystem(actor))
	if err != nil {
		return domain.EvaluationRun{}, err
	}
	s.logger.Info("enriched dataset stored", "eval_run_id", evalRunID, "agent_id", run.AgentID, "records", len(records))

	if err := s.PublishProcessingRequest(ctx, updated); err != nil {
		s.logger.Error("publish processing request failed", "eval_run_id", evalRunID, "queue", s.processingQueue, "error", err)
	}
	return updated, nil
}

// PublishProcessingRequest enqueues the run for the evaluation engine. The
// run id is the dedupe key.
func (s *Service) PublishProcessingRequest(ctx context.Context, run domain.EvaluationRun) error {
	if s.publisher == nil {
		return errors.New("processing queue publisher is not configured")
	}
	msg := domain.ProcessingRequest{
		EvalRunID:              run.EvalRunID,
		MetricsConfigurationID: run.MetricsConfigurationID,
		RequestedAt:            s.now().UTC(),
		Priority:               domain.PriorityNormal,
	}
	id, err := s.publisher.PublishJSON(ctx, s.processingQueue, run.EvalRunID, msg)
	if err != nil {
		return err
	}
	s.logger.Info("processing request published", "eval_run_id", run.EvalRunID, "queue", s.processingQueue, "message_id", id)
	return nil
}

func (s *Service) GetEnrichedDataset(ctx context.Context, evalRunID string) (domain.EnrichedDataset, error) {
	evalRunID = strings.TrimSpace(evalRunID)
	run, err := s.runs.FindRun(ctx, evalRunID)
	if err != nil {
		return domain.EnrichedDataset{}, err
	}
	raw, err := s.blobs.Read(ctx, run.ContainerName, domain.EnrichedDatasetBlobPath(evalRunID))
	if errors.Is(err, blobstore.ErrNotFound) {
		return domain.EnrichedDataset{}, notFound("enriched dataset", evalRunID)
	}
	if err != nil {
		return domain.EnrichedDataset{}, domain.NewStorageError("read", "enriched dataset", evalRunID, err)
	}
	var out domain.EnrichedDataset
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.EnrichedDataset{}, domain.NewStorageError("decode", "enriched dataset", evalRunID, err)
	}
	return out, nil
}

func (s *Service) EnrichedDatasetExists(ctx context.Context, run domain.EvaluationRun) (bool, error) {
	ok, err := s.blobs.Exists(ctx, run.ContainerName, domain.EnrichedDatasetBlobPath(run.EvalRunID))
	if err != nil {
		return false, domain.NewStorageError("stat", "enriched dataset", run.EvalRunID, err)
	}
	return ok, nil
}

// DeleteEnrichedDataset removes the run's enriched dataset. Deleting one
// that is already gone succeeds.
func (s *Service) DeleteEnrichedDataset(ctx context.Context, evalRunID string) error {
	run, err := s.runs.FindRun(ctx, strings.TrimSpace(evalRunID))
	if err != nil {
		return err
	}
	return s.RetireEnrichedDataset(ctx, run)
}

// RetireEnrichedDataset is DeleteEnrichedDataset for a run already in hand.
func (s *Service) RetireEnrichedDataset(ctx context.Context, run domain.EvaluationRun) error {
	err := s.blobs.Delete(ctx, run.ContainerName, domain.EnrichedDatasetBlobPath(run.EvalRunID))
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return domain.NewStorageError("delete", "enriched dataset", run.EvalRunID, err)
	}
	if err == nil {
		s.logger.Info("enriched dataset deleted", "eval_run_id", run.EvalRunID)
	}
	return nil
}
