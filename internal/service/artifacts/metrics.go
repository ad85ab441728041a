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

// SaveMetricsConfiguration creates the configuration named by
// (environmentName, name) for the agent, or overwrites its metrics when it
// already exists. The description is only recorded on create.
func (s *Service) SaveMetricsConfiguration(ctx context.Context, agentID, name, environmentName, description string, metrics []domain.MetricConfig, actor string) (SaveResult, error) {
	agentID, name, environmentName = strings.TrimSpace(agentID), strings.TrimSpace(name), strings.TrimSpace(environmentName)
	if err := requireFields(map[string]string{"agentId": agentID, "configurationName": name, "environmentName": environmentName}); err != nil {
		return SaveResult{}, err
	}
	for i, m := range metrics {
		if strings.TrimSpace(m.MetricName) == "" {
			return SaveResult{}, fmt.Errorf("%w: metrics[%d].metricName is required", domain.ErrInvalidInput, i)
		}
	}
	if metrics == nil {
		metrics = []domain.MetricConfig{}
	}
	content, err := json.Marshal(metrics)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode metrics configuration: %w", err)
	}
	actor = actorOrSystem(actor)
	container := domain.ContainerName(agentID)
	if err := s.checkContainer(agentID, container); err != nil {
		return SaveResult{}, err
	}

	res, err := s.upsert(ctx, upsertPlan{
		entity:    "metrics configuration",
		agentID:   agentID,
		key:       repo.MetricsConfigurationKey(environmentName, name),
		container: container,
		content:   content,
		pathFor: func(id string) string {
			return domain.MetricsConfigurationBlobPath(s.metricsFolder, name, environmentName, id)
		},
		existingPath: func(ctx context.Context, id string) (string, error) {
			mc, err := s.metrics.Get(ctx, agentID, id)
			return mc.BlobFilePath, err
		},
		putMetadata: func(ctx context.Context, id, path string, created bool) error {
			now := s.now().UTC()
			if !created {
				mc, err := s.metrics.Get(ctx, agentID, id)
				if err != nil {
					return err
				}
				mc.LastUpdatedBy, mc.LastUpdatedOn = actor, now
				return s.metrics.Update(ctx, mc)
			}
			mc := domain.MetricsConfiguration{
				ConfigurationID:   id,
				AgentID:           agentID,
				ConfigurationName: name,
				EnvironmentName:   environmentName,
				Description:       strings.TrimSpace(description),
				ContainerName:     container,
				BlobFilePath:      path,
				CreatedBy:         actor,
				CreatedOn:         now,
				LastUpdatedBy:     actor,
				LastUpdatedOn:     now,
			}
			err := s.metrics.Create(ctx, mc)
			if errors.Is(err, domain.ErrConflict) {
				return s.metrics.Update(ctx, mc)
			}
			return err
		},
	})
	if err != nil {
		return SaveResult{}, err
	}

	s.cache.Invalidate(ctx, cache.MetricsConfigKey(res.ID), cache.MetricsConfigContentKey(res.ID), cache.MetricsConfigListKey(agentID))
	s.logger.Info("metrics configuration saved", "agent_id", agentID, "configuration_id", res.ID, "status", res.Status)
	return res, nil
}

func (s *Service) GetMetricsConfigurationMetadata(ctx context.Context, agentID, configurationID string) (domain.MetricsConfiguration, error) {
	agentID, configurationID = strings.TrimSpace(agentID), strings.TrimSpace(configurationID)
	mc, err := cache.GetOrLoad(ctx, s.cache, cache.MetricsConfigKey(configurationID), s.ttls().Metadata,
		func(ctx context.Context) (domain.MetricsConfiguration, error) {
			return s.metrics.Get(ctx, agentID, configurationID)
		})
	if errors.Is(err, domain.ErrNotFound) || (err == nil && mc.AgentID != agentID) {
		return domain.MetricsConfiguration{}, notFound("metrics configuration", configurationID)
	}
	if err != nil {
		return domain.MetricsConfiguration{}, domain.NewStorageError("get", "metrics configuration", configurationID, err)
	}
	return mc, nil
}

func (s *Service) GetMetricsConfiguration(ctx context.Context, agentID, configurationID string) ([]domain.MetricConfig, error) {
	agentID, configurationID = strings.TrimSpace(agentID), strings.TrimSpace(configurationID)
	key := cache.MetricsConfigContentKey(configurationID)
	if hit, ok := cache.GetJSON[ownedContent[[]domain.MetricConfig]](ctx, s.cache, key); ok && hit.AgentID == agentID {
		return hit.Content, nil
	}

	mc, err := s.GetMetricsConfigurationMetadata(ctx, agentID, configurationID)
	if err != nil {
		return nil, err
	}
	metrics, err := readContent[[]domain.MetricConfig](ctx, s, "metrics configuration", configurationID, mc.ContainerName, mc.BlobFilePath)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, ownedContent[[]domain.MetricConfig]{AgentID: agentID, Content: metrics}, s.ttls().Content)
	return metrics, nil
}

// GetMetricsConfigurationForRun returns the metrics the run was created with.
func (s *Service) GetMetricsConfigurationForRun(ctx context.Context, evalRunID string) ([]domain.MetricConfig, error) {
	run, err := s.runs.FindRun(ctx, evalRunID)
	if err != nil {
		return nil, err
	}
	return s.GetMetricsConfiguration(ctx, run.AgentID, run.MetricsConfigurationID)
}

func (s *Service) ListMetricsConfigurations(ctx context.Context, agentID string) ([]domain.MetricsConfiguration, error) {
	agentID = strings.TrimSpace(agentID)
	out, err := cache.GetOrLoad(ctx, s.cache, cache.MetricsConfigListKey(agentID), s.ttls().List,
		func(ctx context.Context) ([]domain.MetricsConfiguration, error) {
			return s.metrics.List(ctx, agentID)
		})
	if err != nil {
		return nil, domain.NewStorageError("list", "metrics configurations", agentID, err)
	}
	return out, nil
}

func (s *Service) DeleteMetricsConfiguration(ctx context.Context, agentID, configurationID string) error {
	agentID, configurationID = strings.TrimSpace(agentID), strings.TrimSpace(configurationID)
	mc, err := s.metrics.Get(ctx, agentID, configurationID)
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("metrics configuration", configurationID)
	}
	if err != nil {
		return domain.NewStorageError("get", "metrics configuration", configurationID, err)
	}
	if err := s.metrics.Delete(ctx, agentID, configurationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound("metrics configuration", configurationID)
		}
		return domain.NewStorageError("delete", "metrics configuration", configurationID, err)
	}

	s.releaseKey(ctx, agentID, repo.MetricsConfigurationKey(mc.EnvironmentName, mc.ConfigurationName), configurationID)
	s.deleteBlobQuietly(ctx, mc.ContainerName, mc.BlobFilePath)
	s.cache.Invalidate(ctx, cache.MetricsConfigKey(configurationID), cache.MetricsConfigContentKey(configurationID), cache.MetricsConfigListKey(agentID))
	s.logger.Info("metrics configuration deleted", "agent_id", agentID, "configuration_id", configurationID)
	return nil
}
