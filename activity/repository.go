package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIncompleteEntry signals a log entry missing its entity or action.
var ErrIncompleteEntry = errors.New("activity: entry missing entity or action")

// Repository is the append-only activity log store. Appends run on the pool,
// outside any business transaction, so a log failure never rolls back the
// change it describes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes one log entry.
func (r *Repository) Append(ctx context.Context, entry Entry) error {
	if entry.EntityType == "" || entry.EntityID == "" || entry.Action == "" {
		return ErrIncompleteEntry
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("activity: marshal metadata: %w", err)
	}

	var actor any
	if entry.ActorID != nil && *entry.ActorID != "" {
		actor = *entry.ActorID
	}

	const insertSQL = `
INSERT INTO activity_logs (entity_type, entity_id, action, metadata, actor_id)
VALUES ($1, $2, $3, $4::jsonb, $5::uuid)
`
	if _, err := r.pool.Exec(ctx, insertSQL, entry.EntityType, entry.EntityID, entry.Action, body, actor); err != nil {
		return fmt.Errorf("activity: append: %w", err)
	}
	return nil
}

// LastTransition returns the timestamp of the most recent stage transition
// recorded for the entity, or nil when none exists. It runs inside the
// caller's transaction so the concurrency guard and the row lock observe a
// consistent view.
func (r *Repository) LastTransition(ctx context.Context, tx pgx.Tx, entityType, entityID string) (*time.Time, error) {
	const query = `
SELECT created_at
FROM activity_logs
WHERE entity_type = $1 AND entity_id = $2 AND action = $3
ORDER BY created_at DESC
LIMIT 1
`
	var ts time.Time
	err := tx.QueryRow(ctx, query, entityType, entityID, ActionStageTransition).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("activity: last transition: %w", err)
	}
	return &ts, nil
}

// ListForEntity returns the most recent entries for an entity, newest first.
func (r *Repository) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
SELECT id, entity_type, entity_id, action, metadata, actor_id, created_at
FROM activity_logs
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
LIMIT $3
`
	rows, err := r.pool.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("activity: list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry Entry
			body  []byte
			actor *string
		)
		if err := rows.Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.Action, &body, &actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("activity: scan entry: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("activity: decode metadata: %w", err)
			}
		}
		entry.ActorID = actor
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate entries: %w", err)
	}

	return entries, nil
}
