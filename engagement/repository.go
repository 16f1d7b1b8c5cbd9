package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when no engagement row exists for the identifier.
	ErrNotFound = errors.New("engagement: not found")
	// ErrPersistence wraps storage failures during a transition commit. The
	// caller owns the retry policy; this core never retries.
	ErrPersistence = errors.New("engagement: persistence failure")
)

const engagementColumns = `id, client_id, title, stage, client_status, letter_client_status,
	letter_auditor_status, post_rfi_client_status, post_rfi_auditor_status, auditor_status,
	last_transition_at, transition_attempts, commencement_date,
	has_engagement_letter, has_team, has_rfi_responses, progress, clerks_can_approve,
	created_at, updated_at`

// Repository performs engagement row access inside a caller-owned
// transaction, mirroring the scope of atomicity the lifecycle needs: one
// row, one update.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetForUpdate reads the engagement row under a row lock so validation and
// the subsequent update see the same snapshot.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Engagement, error) {
	if id == "" {
		return Engagement{}, fmt.Errorf("engagement: missing engagement id")
	}

	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE id = $1 FOR UPDATE`
	eng, err := scanEngagement(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Engagement{}, ErrNotFound
		}
		return Engagement{}, fmt.Errorf("engagement: get for update: %w", err)
	}
	return eng, nil
}

// ApplyTransitionParams enumerates the single-row update an accepted
// transition performs.
type ApplyTransitionParams struct {
	EngagementID    string
	To              Stage
	SetCommencement bool
}

// ApplyTransition writes the stage change: new stage, transition timestamp,
// attempt counter reset, and the commencement date on first entry into
// commencement.
func (r *Repository) ApplyTransition(ctx context.Context, tx pgx.Tx, params ApplyTransitionParams) error {
	const updateSQL = `
UPDATE engagements
SET stage = $1,
    last_transition_at = get_tx_timestamp(),
    transition_attempts = 0,
    commencement_date = CASE WHEN $2 THEN COALESCE(commencement_date, get_tx_timestamp()) ELSE commencement_date END,
    updated_at = get_tx_timestamp()
WHERE id = $3
`
	tag, err := tx.Exec(ctx, updateSQL, params.To, params.SetCommencement, params.EngagementID)
	if err != nil {
		return fmt.Errorf("engagement: apply transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempts bumps the attempt counter after a rejected transition.
func (r *Repository) IncrementAttempts(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `
UPDATE engagements
SET transition_attempts = transition_attempts + 1,
    updated_at = get_tx_timestamp()
WHERE id = $1
`, id); err != nil {
		return fmt.Errorf("engagement: increment attempts: %w", err)
	}
	return nil
}

// UpdateStatusField writes a single dependent status field. Callers validate
// the transition against the StatusEngine first.
func (r *Repository) UpdateStatusField(ctx context.Context, tx pgx.Tx, id string, field StatusField, value string) error {
	column, ok := statusColumn(field)
	if !ok {
		return fmt.Errorf("engagement: unknown status field %q", field)
	}

	query := fmt.Sprintf(`UPDATE engagements SET %s = $1, updated_at = get_tx_timestamp() WHERE id = $2`, column)
	tag, err := tx.Exec(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("engagement: update %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// statusColumn maps a status field to its column. The set is closed so field
// names never reach SQL unchecked.
func statusColumn(field StatusField) (string, bool) {
	switch field {
	case FieldClientStatus:
		return "client_status", true
	case FieldLetterClientStatus:
		return "letter_client_status", true
	case FieldLetterAuditorStatus:
		return "letter_auditor_status", true
	case FieldPostRFIClientStatus:
		return "post_rfi_client_status", true
	case FieldPostRFIAuditorStatus:
		return "post_rfi_auditor_status", true
	case FieldAuditorStatus:
		return "auditor_status", true
	default:
		return "", false
	}
}

func scanEngagement(row pgx.Row) (Engagement, error) {
	var eng Engagement
	err := row.Scan(
		&eng.ID,
		&eng.ClientID,
		&eng.Title,
		&eng.Stage,
		&eng.ClientStatus,
		&eng.LetterClientStatus,
		&eng.LetterAuditorStatus,
		&eng.PostRFIClientStatus,
		&eng.PostRFIAuditorStatus,
		&eng.AuditorStatus,
		&eng.LastTransitionAt,
		&eng.TransitionAttempts,
		&eng.CommencementDate,
		&eng.HasEngagementLetter,
		&eng.HasTeam,
		&eng.HasRFIResponses,
		&eng.Progress,
		&eng.ClerksCanApprove,
		&eng.CreatedAt,
		&eng.UpdatedAt,
	)
	if err != nil {
		return Engagement{}, err
	}
	return eng, nil
}
