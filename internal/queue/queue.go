// Package queue is a message queue persisted in the service database.
//
// Delivery is at-least-once: Receive hides claimed messages for a visibility
// timeout and they reappear unless the consumer deletes them. Each message
// carries a dedupe key (the evaluation run id for processing requests) so
// producers can ask whether work for a key is still outstanding.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/platform/sqldb"
	"github.com/google/uuid"
)

const DefaultVisibilityTimeout = 5 * time.Minute

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queue_messages (
		message_id    TEXT PRIMARY KEY,
		queue_name    TEXT NOT NULL,
		dedupe_key    TEXT NOT NULL DEFAULT '',
		body          TEXT NOT NULL,
		enqueued_at   BIGINT NOT NULL,
		visible_at    BIGINT NOT NULL,
		dequeue_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS queue_messages_visible_idx ON queue_messages (queue_name, visible_at)`,
	`CREATE INDEX IF NOT EXISTS queue_messages_dedupe_idx ON queue_messages (queue_name, dedupe_key)`,
}

type Message struct {
	ID           string
	Queue        string
	DedupeKey    string
	Body         []byte
	EnqueuedAt   time.Time
	DequeueCount int
}

type Queue struct {
	db     *sqldb.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sqldb.DB, logger *slog.Logger) *Queue {
	if db == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger, now: time.Now}
}

func (q *Queue) Migrate(ctx context.Context) error {
	if q == nil || q.db == nil {
		return fmt.Errorf("queue not initialized")
	}
	return q.db.Migrate(ctx, schema...)
}

func (q *Queue) Publish(ctx context.Context, queueName, dedupeKey string, body []byte) (string, error) {
	if q == nil || q.db == nil {
		return "", fmt.Errorf("queue not initialized")
	}
	if strings.TrimSpace(queueName) == "" {
		return "", errors.New("queue name is required")
	}
	id := uuid.NewString()
	now := q.now().UTC().UnixNano()
	_, err := q.db.ExecContext(ctx, q.db.Rebind(
		`INSERT INTO queue_messages (message_id, queue_name, dedupe_key, body, enqueued_at, visible_at, dequeue_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`),
		id, queueName, dedupeKey, string(body), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", queueName, err)
	}
	q.logger.Debug("queue message published", "queue", queueName, "message_id", id, "dedupe_key", dedupeKey)
	return id, nil
}

// PublishJSON marshals v and publishes it.
func (q *Queue) PublishJSON(ctx context.Context, queueName, dedupeKey string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return q.Publish(ctx, queueName, dedupeKey, body)
}

// Receive claims up to limit visible messages, hiding them for visibility.
func (q *Queue) Receive(ctx context.Context, queueName string, limit int, visibility time.Duration) ([]Message, error) {
	if q == nil || q.db == nil {
		return nil, fmt.Errorf("queue not initialized")
	}
	if limit <= 0 {
		limit = 1
	}
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	now := q.now().UTC()

	type candidate struct {
		msg       Message
		visibleAt int64
	}
	rows, err := q.db.QueryContext(ctx, q.db.Rebind(
		`SELECT message_id, dedupe_key, body, enqueued_at, visible_at, dequeue_count
		 FROM queue_messages
		 WHERE queue_name = ? AND visible_at <= ?
		 ORDER BY enqueued_at, message_id
		 LIMIT ?`),
		queueName, now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queueName, err)
	}
	var candidates []candidate
	for rows.Next() {
		var (
			c          candidate
			body       string
			enqueuedAt int64
		)
		if err := rows.Scan(&c.msg.ID, &c.msg.DedupeKey, &body, &enqueuedAt, &c.visibleAt, &c.msg.DequeueCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		c.msg.Queue = queueName
		c.msg.Body = []byte(body)
		c.msg.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("receive from %s: %w", queueName, err)
	}
	rows.Close()

	hiddenUntil := now.Add(visibility).UnixNano()
	claimed := make([]Message, 0, len(candidates))
	for _, c := range candidates {
		res, err := q.db.ExecContext(ctx, q.db.Rebind(
			`UPDATE queue_messages SET visible_at = ?, dequeue_count = dequeue_count + 1
			 WHERE message_id = ? AND visible_at = ?`),
			hiddenUntil, c.msg.ID, c.visibleAt,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim message %s: %w", c.msg.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			// Another consumer claimed it first.
			continue
		}
		c.msg.DequeueCount++
		claimed = append(claimed, c.msg)
	}
	return claimed, nil
}

// Delete acknowledges a message.
func (q *Queue) Delete(ctx context.Context, messageID string) error {
	if q == nil || q.db == nil {
		return fmt.Errorf("queue not initialized")
	}
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM queue_messages WHERE message_id = ?`), messageID)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Pending reports whether any undeleted message for dedupeKey remains,
// whether or not it is currently claimed.
func (q *Queue) Pending(ctx context.Context, queueName, dedupeKey string) (bool, error) {
	if q == nil || q.db == nil {
		return false, fmt.Errorf("queue not initialized")
	}
	var n int
	err := q.db.QueryRowContext(ctx, q.db.Rebind(
		`SELECT COUNT(*) FROM queue_messages WHERE queue_name = ? AND dedupe_key = ?`),
		queueName, dedupeKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending %s/%s: %w", queueName, dedupeKey, err)
	}
	return n > 0, nil
}

func (q *Queue) Len(ctx context.Context, queueName string) (int, error) {
	if q == nil || q.db == nil {
		return 0, fmt.Errorf("queue not initialized")
	}
	var n int
	err := q.db.QueryRowContext(ctx, q.db.Rebind(`SELECT COUNT(*) FROM queue_messages WHERE queue_name = ?`), queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", queueName, err)
	}
	return n, nil
}
