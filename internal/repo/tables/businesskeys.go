package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/evalcore/internal/tablestore"
)

type reservation struct {
	OwnerID string `json:"ownerId"`
}

// BusinessKeyStore reserves natural keys with a conditional insert.
type BusinessKeyStore struct {
	table Table
}

func NewBusinessKeyStore(table Table) *BusinessKeyStore {
	if table == nil {
		return nil
	}
	return &BusinessKeyStore{table: table}
}

func (s *BusinessKeyStore) Reserve(ctx context.Context, agentID, key, ownerID string) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("business key store not initialized")
	}
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	data, err := json.Marshal(reservation{OwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}
	_, err = s.table.Insert(ctx, TableBusinessKeys, tablestore.Entity{
		PartitionKey: strings.TrimSpace(agentID),
		RowKey:       key,
		SecondaryKey: ownerID,
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("reserve %s: %w", key, err)
	}
	return nil
}

func (s *BusinessKeyStore) Lookup(ctx context.Context, agentID, key string) (string, error) {
	if s == nil || s.table == nil {
		return "", fmt.Errorf("business key store not initialized")
	}
	e, err := s.table.Get(ctx, TableBusinessKeys, strings.TrimSpace(agentID), key)
	if err != nil {
		return "", err
	}
	r, err := decodeEntity[reservation](e)
	if err != nil {
		return "", err
	}
	return r.OwnerID, nil
}

func (s *BusinessKeyStore) Release(ctx context.Context, agentID, key string) error {
	if s == nil || s.table == nil {
		return fmt.Errorf("business key store not initialized")
	}
	return s.table.Delete(ctx, TableBusinessKeys, strings.TrimSpace(agentID), key)
}
