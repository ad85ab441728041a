// Package tablestore is a partitioned entity table over database/sql.
//
// Every logical table shares one physical table keyed by
// (table_name, partition_key, row_key). Entities carry an opaque JSON
// payload, an optional secondary key for cross-partition lookups and an
// ETag that changes on every write, which callers use for optimistic
// concurrency.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/google/uuid"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		table_name    TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		row_key       TEXT NOT NULL,
		secondary_key TEXT NOT NULL DEFAULT '',
		etag          TEXT NOT NULL,
		data          TEXT NOT NULL,
		updated_at    BIGINT NOT NULL,
		PRIMARY KEY (table_name, partition_key, row_key)
	)`,
	`CREATE INDEX IF NOT EXISTS entities_row_key_idx ON entities (table_name, row_key)`,
	`CREATE INDEX IF NOT EXISTS entities_secondary_key_idx ON entities (table_name, secondary_key)`,
}

type Entity struct {
	PartitionKey string
	RowKey       string
	SecondaryKey string
	ETag         string
	Timestamp    time.Time
	Data         []byte
}

// Query selects entities of one table. Empty fields do not filter.
type Query struct {
	PartitionKey string
	RowKey       string
	SecondaryKey string
	// AfterPartitionKey and AfterRowKey resume a query after the last entity
	// of a previous page.
	AfterPartitionKey string
	AfterRowKey       string
	Limit             int
}

type Store struct {
	db  *sqldb.DB
	now func() time.Time
}

func New(db *sqldb.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db, now: time.Now}
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("table store not initialized")
	}
	return s.db.Migrate(ctx, schema...)
}

func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	if s == nil || s.db == nil {
		return Entity{}, fmt.Errorf("table store not initialized")
	}
	entities, err := s.Query(ctx, table, Query{PartitionKey: partitionKey, RowKey: rowKey, Limit: 1})
	if err != nil {
		return Entity{}, err
	}
	if len(entities) == 0 {
		return Entity{}, ErrNotFound
	}
	return entities[0], nil
}

// Insert creates the entity and fails with ErrConflict when the key is taken.
func (s *Store) Insert(ctx context.Context, table string, e Entity) (Entity, error) {
	if s == nil || s.db == nil {
		return Entity{}, fmt.Errorf("table store not initialized")
	}
	if err := validateKeys(table, e); err != nil {
		return Entity{}, err
	}
	e = s.stamp(e)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO entities (table_name, partition_key, row_key, secondary_key, etag, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_name, partition_key, row_key) DO NOTHING`),
		table, e.PartitionKey, e.RowKey, e.SecondaryKey, e.ETag, string(e.Data), e.Timestamp.UnixNano(),
	)
	if err != nil {
		if s.db.IsUniqueViolation(err) {
			return Entity{}, ErrConflict
		}
		return Entity{}, fmt.Errorf("insert %s entity: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entity{}, fmt.Errorf("insert %s entity: %w", table, err)
	}
	if n == 0 {
		return Entity{}, ErrConflict
	}
	return e, nil
}

// Upsert writes the entity whether or not it exists.
func (s *Store) Upsert(ctx context.Context, table string, e Entity) (Entity, error) {
	if s == nil || s.db == nil {
		return Entity{}, fmt.Errorf("table store not initialized")
	}
	if err := validateKeys(table, e); err != nil {
		return Entity{}, err
	}
	e = s.stamp(e)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO entities (table_name, partition_key, row_key, secondary_key, etag, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_name, partition_key, row_key) DO UPDATE SET
			secondary_key = excluded.secondary_key,
			etag = excluded.etag,
			data = excluded.data,
			updated_at = excluded.updated_at`),
		table, e.PartitionKey, e.RowKey, e.SecondaryKey, e.ETag, string(e.Data), e.Timestamp.UnixNano(),
	)
	if err != nil {
		return Entity{}, fmt.Errorf("upsert %s entity: %w", table, err)
	}
	return e, nil
}

// Replace overwrites an existing entity. When e.ETag is set the write only
// succeeds if the stored ETag still matches, otherwise ErrConflict.
func (s *Store) Replace(ctx context.Context, table string, e Entity) (Entity, error) {
	if s == nil || s.db == nil {
		return Entity{}, fmt.Errorf("table store not initialized")
	}
	if err := validateKeys(table, e); err != nil {
		return Entity{}, err
	}
	expected := e.ETag
	e = s.stamp(e)

	query := `UPDATE entities SET secondary_key = ?, etag = ?, data = ?, updated_at = ?
		 WHERE table_name = ? AND partition_key = ? AND row_key = ?`
	args := []any{e.SecondaryKey, e.ETag, string(e.Data), e.Timestamp.UnixNano(), table, e.PartitionKey, e.RowKey}
	if expected != "" {
		query += ` AND etag = ?`
		args = append(args, expected)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return Entity{}, fmt.Errorf("replace %s entity: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entity{}, fmt.Errorf("replace %s entity: %w", table, err)
	}
	if n > 0 {
		return e, nil
	}
	if _, err := s.Get(ctx, table, e.PartitionKey, e.RowKey); err != nil {
		return Entity{}, err
	}
	return Entity{}, ErrConflict
}

func (s *Store) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("table store not initialized")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM entities WHERE table_name = ? AND partition_key = ? AND row_key = ?`),
		table, partitionKey, rowKey,
	)
	if err != nil {
		return fmt.Errorf("delete %s entity: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s entity: %w", table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Query returns matching entities ordered by partition and row key.
func (s *Store) Query(ctx context.Context, table string, q Query) ([]Entity, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("table store not initialized")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("table name is required")
	}

	var where strings.Builder
	where.WriteString(`table_name = ?`)
	args := []any{table}
	if q.PartitionKey != "" {
		where.WriteString(` AND partition_key = ?`)
		args = append(args, q.PartitionKey)
	}
	if q.RowKey != "" {
		where.WriteString(` AND row_key = ?`)
		args = append(args, q.RowKey)
	}
	if q.SecondaryKey != "" {
		where.WriteString(` AND secondary_key = ?`)
		args = append(args, q.SecondaryKey)
	}
	if q.AfterPartitionKey != "" {
		where.WriteString(` AND (partition_key > ? OR (partition_key = ? AND row_key > ?))`)
		args = append(args, q.AfterPartitionKey, q.AfterPartitionKey, q.AfterRowKey)
	}
	query := `SELECT partition_key, row_key, secondary_key, etag, data, updated_at
		 FROM entities WHERE ` + where.String() + ` ORDER BY partition_key, row_key`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s entities: %w", table, err)
	}
	defer rows.Close()

	out := make([]Entity, 0)
	for rows.Next() {
		var (
			e         Entity
			data      string
			updatedAt int64
		)
		if err := rows.Scan(&e.PartitionKey, &e.RowKey, &e.SecondaryKey, &e.ETag, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan %s entity: %w", table, err)
		}
		e.Data = []byte(data)
		e.Timestamp = time.Unix(0, updatedAt).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s entities: %w", table, err)
	}
	return out, nil
}

func (s *Store) stamp(e Entity) Entity {
	e.ETag = uuid.NewString()
	e.Timestamp = s.now().UTC()
	if e.Data == nil {
		e.Data = []byte("{}")
	}
	return e
}

func validateKeys(table string, e Entity) error {
	if strings.TrimSpace(table) == "" {
		return errors.New("table name is required")
	}
	if strings.TrimSpace(e.PartitionKey) == "" {
		return errors.New("partition key is required")
	}
	if strings.TrimSpace(e.RowKey) == "" {
		return errors.New("row key is required")
	}
	return nil
}
