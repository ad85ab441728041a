// Package tables implements the repositories on top of the partitioned
// table store. Partition keys are agent ids except for status history,
// which is partitioned by run.
package tables

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/animus-labs/evalcore/internal/tablestore"
)

var (
	_ repo.RunRepository                  = (*RunStore)(nil)
	_ repo.DatasetRepository              = (*DatasetStore)(nil)
	_ repo.MetricsConfigurationRepository = (*MetricsConfigurationStore)(nil)
	_ repo.BusinessKeyRepository          = (*BusinessKeyStore)(nil)
	_ repo.StatusHistoryRepository        = (*StatusHistoryStore)(nil)
)

const (
	TableRuns                  = "evalruns"
	TableDatasets              = "datasets"
	TableMetricsConfigurations = "metricsconfigurations"
	TableBusinessKeys          = "businesskeys"
	TableStatusHistory         = "statushistory"
)

// Table is the subset of the table store the repositories need.
type Table interface {
	Get(ctx context.Context, table, partitionKey, rowKey string) (tablestore.Entity, error)
	Insert(ctx context.Context, table string, e tablestore.Entity) (tablestore.Entity, error)
	Upsert(ctx context.Context, table string, e tablestore.Entity) (tablestore.Entity, error)
	Replace(ctx context.Context, table string, e tablestore.Entity) (tablestore.Entity, error)
	Delete(ctx context.Context, table, partitionKey, rowKey string) error
	Query(ctx context.Context, table string, q tablestore.Query) ([]tablestore.Entity, error)
}

func decodeEntity[T any](e tablestore.Entity) (T, error) {
	var out T
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", e.PartitionKey, e.RowKey, err)
	}
	return out, nil
}

func decodeAll[T any](entities []tablestore.Entity) ([]T, error) {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		v, err := decodeEntity[T](e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
