package cache

func RunKey(agentID, evalRunID string) string {
	return "evalrun:" + agentID + ":" + evalRunID
}

func RunListKey(agentID string) string {
	return "evalruns:" + agentID
}

// RunOwnerKey maps a run id to its owning agent for global lookups.
func RunOwnerKey(evalRunID string) string {
	return "evalrun_owner:" + evalRunID
}

func DatasetKey(datasetID string) string {
	return "dataset:" + datasetID
}

func DatasetContentKey(datasetID string) string {
	return "dataset_content:" + datasetID
}

func DatasetListKey(agentID string) string {
	return "datasets:" + agentID
}

func MetricsConfigKey(configurationID string) string {
	return "metricsconfig:" + configurationID
}

func MetricsConfigContentKey(configurationID string) string {
	return "metricsconfig_content:" + configurationID
}

func MetricsConfigListKey(agentID string) string {
	return "metricsconfigs:" + agentID
}
