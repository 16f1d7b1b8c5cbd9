package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auditflow/activity"
)

// ErrClientUnknown signals the engagement references a missing client.
var ErrClientUnknown = errors.New("engagement: client not found")

// CreateParams enumerates the fields callers supply when opening an
// engagement. Stage and the six status fields are stage-implied, not
// caller-chosen.
type CreateParams struct {
	ClientID         string
	Title            string
	ClerksCanApprove bool
}

// ListFilters scopes and pages engagement listings.
type ListFilters struct {
	ClientID string
	Page     int
	PageSize int
}

// CRUDService covers the creation and listing flows that feed the lifecycle
// core. Everything else about generic entity CRUD lives outside this module.
type CRUDService struct {
	pool     *pgxpool.Pool
	catalog  *Catalog
	statuses *StatusEngine
}

func NewCRUDService(pool *pgxpool.Pool, catalog *Catalog, statuses *StatusEngine) *CRUDService {
	return &CRUDService{pool: pool, catalog: catalog, statuses: statuses}
}

// Create opens an engagement in the initial stage with every status field at
// its stage-implied default, and records the creation in the activity log
// within the same transaction.
func (s *CRUDService) Create(ctx context.Context, userID string, params CreateParams) (Engagement, error) {
	if params.ClientID == "" {
		return Engagement{}, fmt.Errorf("engagement: client id required")
	}
	if params.Title == "" {
		return Engagement{}, fmt.Errorf("engagement: title required")
	}

	initial := s.catalog.Initial()
	statuses, err := s.statuses.InitialStatuses(initial)
	if err != nil {
		return Engagement{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Engagement{}, fmt.Errorf("engagement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var clientExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, params.ClientID).Scan(&clientExists); err != nil {
		return Engagement{}, fmt.Errorf("engagement: verify client: %w", err)
	}
	if !clientExists {
		return Engagement{}, ErrClientUnknown
	}

	insertSQL := `
        INSERT INTO engagements (client_id, title, stage, client_status, letter_client_status,
            letter_auditor_status, post_rfi_client_status, post_rfi_auditor_status, auditor_status,
            clerks_can_approve)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING ` + engagementColumns

	eng, err := scanEngagement(tx.QueryRow(ctx, insertSQL,
		params.ClientID,
		params.Title,
		initial,
		statuses[FieldClientStatus],
		statuses[FieldLetterClientStatus],
		statuses[FieldLetterAuditorStatus],
		statuses[FieldPostRFIClientStatus],
		statuses[FieldPostRFIAuditorStatus],
		statuses[FieldAuditorStatus],
		params.ClerksCanApprove,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Engagement{}, ErrClientUnknown
		}
		return Engagement{}, fmt.Errorf("engagement: insert: %w", err)
	}

	metadata := map[string]any{
		"client_id": params.ClientID,
		"stage":     string(initial),
	}
	body, err := json.Marshal(metadata)
	if err != nil {
		return Engagement{}, fmt.Errorf("engagement: marshal creation metadata: %w", err)
	}
	var actor any
	if userID != "" {
		actor = userID
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO activity_logs (entity_type, entity_id, action, metadata, actor_id)
        VALUES ($1, $2, $3, $4::jsonb, $5::uuid)
    `, entityType, eng.ID, activity.ActionCreated, body, actor); err != nil {
		return Engagement{}, fmt.Errorf("engagement: log creation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Engagement{}, fmt.Errorf("engagement: commit: %w", err)
	}

	return eng, nil
}

// Get fetches a single engagement snapshot.
func (s *CRUDService) Get(ctx context.Context, id string) (Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE id = $1`
	eng, err := scanEngagement(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Engagement{}, ErrNotFound
		}
		return Engagement{}, fmt.Errorf("engagement: get: %w", err)
	}
	return eng, nil
}

// List returns a page of engagements plus the total count, newest first.
func (s *CRUDService) List(ctx context.Context, filters ListFilters) ([]Engagement, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `SELECT ` + engagementColumns + ` FROM engagements`
	countQuery := `SELECT COUNT(*) FROM engagements`
	args := []any{}
	if filters.ClientID != "" {
		query += ` WHERE client_id = $1`
		countQuery += ` WHERE client_id = $1`
		args = append(args, filters.ClientID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("engagement: list: %w", err)
	}
	defer rows.Close()

	records := []Engagement{}
	for rows.Next() {
		eng, err := scanEngagement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("engagement: scan: %w", err)
		}
		records = append(records, eng)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("engagement: iterate: %w", err)
	}

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("engagement: count: %w", err)
	}

	return records, total, nil
}
