package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/tablestore"
	"github.com/google/uuid"
)

// StatusHistoryStore appends transitions under the run's partition. Row keys
// sort by time so a partition query returns the history in order.
type StatusHistoryStore struct {
	table Table
}

func NewStatusHistoryStore(table Table) *StatusHistoryStore {
	if table == nil {
		return nil
	}
	return &StatusHistoryStore{table: table}
}

func (s *StatusHistoryStore) Append(ctx context.Context, change domain.StatusChange) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("status history store not initialized")
	}
	if strings.TrimSpace(change.EvalRunID) == "" {
		return fmt.Errorf("eval run id is required")
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	change.At = change.At.UTC()
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode status change: %w", err)
	}
	rowKey := fmt.Sprintf("%020d-%s", change.At.UnixNano(), uuid.NewString())
	_, err = s.table.Insert(ctx, TableStatusHistory, tablestore.Entity{
		PartitionKey: change.EvalRunID,
		RowKey:       rowKey,
		SecondaryKey: string(change.To),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("append status change: %w", err)
	}
	return nil
}

func (s *StatusHistoryStore) List(ctx context.Context, evalRunID string) ([]domain.StatusChange, error) {
	if s == nil || s.table == nil {
		return nil, fmt.Errorf("status history store not initialized")
	}
	evalRunID = strings.TrimSpace(evalRunID)
	if evalRunID == "" {
		return nil, fmt.Errorf("eval run id is required")
	}
	entities, err := s.table.Query(ctx, TableStatusHistory, tablestore.Query{PartitionKey: evalRunID})
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.StatusChange](entities)
}
