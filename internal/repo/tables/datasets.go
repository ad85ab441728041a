package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/tablestore"
)

type DatasetStore struct {
	table Table
}

func NewDatasetStore(table Table) *DatasetStore {
	if table == nil {
		return nil
	}
	return &DatasetStore{table: table}
}

func (s *DatasetStore) Create(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	entity, err := datasetEntity(dataset)
	if err != nil {
		return err
	}
	if _, err := s.table.Insert(ctx, TableDatasets, entity); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

func (s *DatasetStore) Update(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	entity, err := datasetEntity(dataset)
	if err != nil {
		return err
	}
	if _, err := s.table.Upsert(ctx, TableDatasets, entity); err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}

func (s *DatasetStore) Get(ctx context.Context, agentID, datasetID string) (domain.Dataset, error) {
	if s == nil || s.table == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	agentID = strings.TrimSpace(agentID)
	datasetID = strings.TrimSpace(datasetID)
	if agentID == "" || datasetID == "" {
		return domain.Dataset{}, fmt.Errorf("agent id and dataset id are required")
	}
	e, err := s.table.Get(ctx, TableDatasets, agentID, datasetID)
	if err != nil {
		return domain.Dataset{}, err
	}
	return decodeEntity[domain.Dataset](e)
}

func (s *DatasetStore) List(ctx context.Context, agentID string) ([]domain.Dataset, error) {
	if s == nil || s.table == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	entities, err := s.table.Query(ctx, TableDatasets, tablestore.Query{PartitionKey: strings.TrimSpace(agentID)})
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Dataset](entities)
}

func (s *DatasetStore) Delete(ctx context.Context, agentID, datasetID string) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	return s.table.Delete(ctx, TableDatasets, strings.TrimSpace(agentID), strings.TrimSpace(datasetID))
}

func datasetEntity(dataset domain.Dataset) (tablestore.Entity, error) {
	if err := dataset.Validate(); err != nil {
		return tablestore.Entity{}, err
	}
	data, err := json.Marshal(dataset)
	if err != nil {
		return tablestore.Entity{}, fmt.Errorf("encode dataset: %w", err)
	}
	return tablestore.Entity{PartitionKey: dataset.AgentID, RowKey: dataset.DatasetID, Data: data}, nil
}
