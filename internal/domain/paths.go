package domain

import (
	"fmt"
	"strings"
)

const EnrichedDatasetsFolder = "enriched-datasets"

func joinFolder(folder, file string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return file
	}
	return folder + "/" + file
}

// DatasetBlobPath returns {folder}/{type}_{name}_{id}.json.
func DatasetBlobPath(folder, datasetType, name, id string) string {
	return joinFolder(folder, fmt.Sprintf("%s_%s_%s.json", datasetType, name, id))
}

// MetricsConfigurationBlobPath returns {folder}/{configName}_{envName}_{id}.json.
func MetricsConfigurationBlobPath(folder, configName, envName, id string) string {
	return joinFolder(folder, fmt.Sprintf("%s_%s_%s.json", configName, envName, id))
}

// EnrichedDatasetBlobPath returns enriched-datasets/{evalRunId}.json.
func EnrichedDatasetBlobPath(evalRunID string) string {
	return joinFolder(EnrichedDatasetsFolder, evalRunID+".json")
}

func ResultsSummaryBlobPath(evalRunID string) string {
	return ResultsPathPrefix + evalRunID + "_summary.json"
}

func ResultsDatasetBlobPath(evalRunID string) string {
	return ResultsPathPrefix + evalRunID + "_dataset.json"
}
