package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/cache"
	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
)

// SaveDataset creates the dataset named by (datasetType, name) for the agent,
// or overwrites its content when it already exists.
func (s *Service) SaveDataset(ctx context.Context, agentID, name, datasetType string, records []domain.DatasetRecord, actor string) (SaveResult, error) {
	agentID, name, datasetType = strings.TrimSpace(agentID), strings.TrimSpace(name), strings.TrimSpace(datasetType)
	if err := requireFields(map[string]string{"agentId": agentID, "datasetName": name, "datasetType": datasetType}); err != nil {
		return SaveResult{}, err
	}
	if records == nil {
		records = []domain.DatasetRecord{}
	}
	content, err := json.Marshal(records)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode dataset: %w", err)
	}
	actor = actorOrSystem(actor)
	container := domain.ContainerName(agentID)
	if err := s.checkContainer(agentID, container); err != nil {
		return SaveResult{}, err
	}

	res, err := s.upsert(ctx, upsertPlan{
		entity:    "dataset",
		agentID:   agentID,
		key:       repo.DatasetKey(datasetType, name),
		container: container,
		content:   content,
		pathFor: func(id string) string {
			return domain.DatasetBlobPath(s.datasetsFolder, datasetType, name, id)
		},
		existingPath: func(ctx context.Context, id string) (string, error) {
			ds, err := s.datasets.Get(ctx, agentID, id)
			return ds.BlobFilePath, err
		},
		putMetadata: func(ctx context.Context, id, path string, created bool) error {
			now := s.now().UTC()
			if !created {
				ds, err := s.datasets.Get(ctx, agentID, id)
				if err != nil {
					return err
				}
				ds.LastUpdatedBy, ds.LastUpdatedOn = actor, now
				return s.datasets.Update(ctx, ds)
			}
			ds := domain.Dataset{
				DatasetID:     id,
				AgentID:       agentID,
				DatasetName:   name,
				DatasetType:   datasetType,
				ContainerName: container,
				BlobFilePath:  path,
				CreatedBy:     actor,
				CreatedOn:     now,
				LastUpdatedBy: actor,
				LastUpdatedOn: now,
			}
			err := s.datasets.Create(ctx, ds)
			if errors.Is(err, domain.ErrConflict) {
				return s.datasets.Update(ctx, ds)
			}
			return err
		},
	})
	if err != nil {
		return SaveResult{}, err
	}

	s.cache.Invalidate(ctx, cache.DatasetKey(res.ID), cache.DatasetContentKey(res.ID), cache.DatasetListKey(agentID))
	s.logger.Info("dataset saved", "agent_id", agentID, "dataset_id", res.ID, "status", res.Status, "records", len(records))
	return res, nil
}

// ImportDataset copies dataset content held by the upstream platform into
// the agent's store under the given name and type.
func (s *Service) ImportDataset(ctx context.Context, agentID, upstreamDatasetID, name, datasetType, actor string) (SaveResult, error) {
	if s.fetcher == nil {
		return SaveResult{}, errors.New("dataset import is not configured")
	}
	upstreamDatasetID = strings.TrimSpace(upstreamDatasetID)
	if err := requireFields(map[string]string{"datasetId": upstreamDatasetID}); err != nil {
		return SaveResult{}, err
	}
	raw, err := s.fetcher.FetchDatasetContent(ctx, upstreamDatasetID)
	if err != nil {
		return SaveResult{}, err
	}
	var records []domain.DatasetRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return SaveResult{}, fmt.Errorf("%w: upstream dataset %s is not a record list: %v", domain.ErrInvalidInput, upstreamDatasetID, err)
	}
	return s.SaveDataset(ctx, agentID, name, datasetType, records, actor)
}

func (s *Service) GetDatasetMetadata(ctx context.Context, agentID, datasetID string) (domain.Dataset, error) {
	agentID, datasetID = strings.TrimSpace(agentID), strings.TrimSpace(datasetID)
	ds, err := cache.GetOrLoad(ctx, s.cache, cache.DatasetKey(datasetID), s.ttls().Metadata,
		func(ctx context.Context) (domain.Dataset, error) {
			return s.datasets.Get(ctx, agentID, datasetID)
		})
	if errors.Is(err, domain.ErrNotFound) || (err == nil && ds.AgentID != agentID) {
		return domain.Dataset{}, notFound("dataset", datasetID)
	}
	if err != nil {
		return domain.Dataset{}, domain.NewStorageError("get", "dataset", datasetID, err)
	}
	return ds, nil
}

// GetDataset returns the dataset's records.
func (s *Service) GetDataset(ctx context.Context, agentID, datasetID string) ([]domain.DatasetRecord, error) {
	agentID, datasetID = strings.TrimSpace(agentID), strings.TrimSpace(datasetID)
	key := cache.DatasetContentKey(datasetID)
	if hit, ok := cache.GetJSON[ownedContent[[]domain.DatasetRecord]](ctx, s.cache, key); ok && hit.AgentID == agentID {
		return hit.Content, nil
	}

	ds, err := s.GetDatasetMetadata(ctx, agentID, datasetID)
	if err != nil {
		return nil, err
	}
	records, err := readContent[[]domain.DatasetRecord](ctx, s, "dataset", datasetID, ds.ContainerName, ds.BlobFilePath)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, ownedContent[[]domain.DatasetRecord]{AgentID: agentID, Content: records}, s.ttls().Content)
	return records, nil
}

func (s *Service) ListDatasets(ctx context.Context, agentID string) ([]domain.Dataset, error) {
	agentID = strings.TrimSpace(agentID)
	out, err := cache.GetOrLoad(ctx, s.cache, cache.DatasetListKey(agentID), s.ttls().List,
		func(ctx context.Context) ([]domain.Dataset, error) {
			return s.datasets.List(ctx, agentID)
		})
	if err != nil {
		return nil, domain.NewStorageError("list", "datasets", agentID, err)
	}
	return out, nil
}

// DeleteDataset removes the metadata row first; it is authoritative, so a
// failure to clean up the reservation or blob afterwards is only logged.
func (s *Service) DeleteDataset(ctx context.Context, agentID, datasetID string) error {
	agentID, datasetID = strings.TrimSpace(agentID), strings.TrimSpace(datasetID)
	ds, err := s.datasets.Get(ctx, agentID, datasetID)
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("dataset", datasetID)
	}
	if err != nil {
		return domain.NewStorageError("get", "dataset", datasetID, err)
	}
	if err := s.datasets.Delete(ctx, agentID, datasetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound("dataset", datasetID)
		}
		return domain.NewStorageError("delete", "dataset", datasetID, err)
	}

	s.releaseKey(ctx, agentID, repo.DatasetKey(ds.DatasetType, ds.DatasetName), datasetID)
	s.deleteBlobQuietly(ctx, ds.ContainerName, ds.BlobFilePath)
	s.cache.Invalidate(ctx, cache.DatasetKey(datasetID), cache.DatasetContentKey(datasetID), cache.DatasetListKey(agentID))
	s.logger.Info("dataset deleted", "agent_id", agentID, "dataset_id", datasetID)
	return nil
}
