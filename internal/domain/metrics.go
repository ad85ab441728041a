package domain

import (
	"errors"
	"strings"
	"time"
)

// MetricsConfiguration is the metadata row for a named, per-environment set
// of metric thresholds.
type MetricsConfiguration struct {
	ConfigurationID   string    `json:"configurationId"`
	AgentID           string    `json:"agentId"`
	ConfigurationName string    `json:"configurationName"`
	EnvironmentName   string    `json:"environmentName"`
	Description       string    `json:"description,omitempty"`
	ContainerName     string    `json:"containerName"`
	BlobFilePath      string    `json:"blobFilePath"`
	CreatedBy         string    `json:"createdBy"`
	CreatedOn         time.Time `json:"createdOn"`
	LastUpdatedBy     string    `json:"lastUpdatedBy"`
	LastUpdatedOn     time.Time `json:"lastUpdatedOn"`
}

func (m MetricsConfiguration) Validate() error {
	if strings.TrimSpace(m.ConfigurationID) == "" {
		return errors.New("configuration id is required")
	}
	if strings.TrimSpace(m.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(m.ConfigurationName) == "" {
		return errors.New("configuration name is required")
	}
	if strings.TrimSpace(m.EnvironmentName) == "" {
		return errors.New("environment name is required")
	}
	if strings.TrimSpace(m.BlobFilePath) == "" {
		return errors.New("blob file path is required")
	}
	return nil
}

// MetricConfig is a single metric and the score it must reach to pass.
type MetricConfig struct {
	MetricName   string  `json:"metricName"`
	CategoryName string  `json:"categoryName,omitempty"`
	Threshold    float64 `json:"threshold"`
}
