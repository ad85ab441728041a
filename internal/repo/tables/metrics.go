package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/tablestore"
)

type MetricsConfigurationStore struct {
	table Table
}

func NewMetricsConfigurationStore(table Table) *MetricsConfigurationStore {
	if table == nil {
		return nil
	}
	return &MetricsConfigurationStore{table: table}
}

func (s *MetricsConfigurationStore) Create(ctx context.Context, cfg domain.MetricsConfiguration) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("metrics configuration store not initialized")
	}
	entity, err := metricsEntity(cfg)
	if err != nil {
		return err
	}
	if _, err := s.table.Insert(ctx, TableMetricsConfigurations, entity); err != nil {
		return fmt.Errorf("insert metrics configuration: %w", err)
	}
	return nil
}

func (s *MetricsConfigurationStore) Update(ctx context.Context, cfg domain.MetricsConfiguration) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("metrics configuration store not initialized")
	}
	entity, err := metricsEntity(cfg)
	if err != nil {
		return err
	}
	if _, err := s.table.Upsert(ctx, TableMetricsConfigurations, entity); err != nil {
		return fmt.Errorf("upsert metrics configuration: %w", err)
	}
	return nil
}

func (s *MetricsConfigurationStore) Get(ctx context.Context, agentID, configurationID string) (domain.MetricsConfiguration, error) {
	if s == nil || s.table == nil {
		return domain.MetricsConfiguration{}, fmt.Errorf("metrics configuration store not initialized")
	}
	agentID = strings.TrimSpace(agentID)
	configurationID = strings.TrimSpace(configurationID)
	if agentID == "" || configurationID == "" {
		return domain.MetricsConfiguration{}, fmt.Errorf("agent id and configuration id are required")
	}
	e, err := s.table.Get(ctx, TableMetricsConfigurations, agentID, configurationID)
	if err != nil {
		return domain.MetricsConfiguration{}, err
	}
	return decodeEntity[domain.MetricsConfiguration](e)
}

func (s *MetricsConfigurationStore) List(ctx context.Context, agentID string) ([]domain.MetricsConfiguration, error) {
	if s == nil || s.table == nil {
		return nil, fmt.Errorf("metrics configuration store not initialized")
	}
	entities, err := s.table.Query(ctx, TableMetricsConfigurations, tablestore.Query{PartitionKey: strings.TrimSpace(agentID)})
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.MetricsConfiguration](entities)
}

func (s *MetricsConfigurationStore) Delete(ctx context.Context, agentID, configurationID string) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("metrics configuration store not initialized")
	}
	return s.table.Delete(ctx, TableMetricsConfigurations, strings.TrimSpace(agentID), strings.TrimSpace(configurationID))
}

func metricsEntity(cfg domain.MetricsConfiguration) (tablestore.Entity, error) {
	if err := cfg.Validate(); err != nil {
		return tablestore.Entity{}, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return tablestore.Entity{}, fmt.Errorf("encode metrics configuration: %w", err)
	}
	return tablestore.Entity{PartitionKey: cfg.AgentID, RowKey: cfg.ConfigurationID, Data: data}, nil
}
