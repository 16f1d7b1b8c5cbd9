package engagement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"auditflow/activity"
)

const entityType = "engagement"

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StageRepository defines the row access the executor needs.
type StageRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Engagement, error)
	ApplyTransition(ctx context.Context, tx pgx.Tx, params ApplyTransitionParams) error
	IncrementAttempts(ctx context.Context, tx pgx.Tx, id string) error
	UpdateStatusField(ctx context.Context, tx pgx.Tx, id string, field StatusField, value string) error
}

// AuditLog is the external activity log collaborator. Append is best-effort:
// the executor logs and swallows its failures after a successful commit.
type AuditLog interface {
	Append(ctx context.Context, entry activity.Entry) error
	LastTransition(ctx context.Context, tx pgx.Tx, entityType, entityID string) (*time.Time, error)
}

// StageService executes stage and status transitions. All writes go through
// a single FOR UPDATE transaction per call; validation always re-runs inside
// that transaction, never trusting an earlier read.
type StageService struct {
	pool      TxBeginner
	repo      StageRepository
	audit     AuditLog
	catalog   *Catalog
	statuses  *StatusEngine
	validator *Validator
	lockout   time.Duration
	window    time.Duration
	now       func() time.Time
	idGen     func() string
	logf      func(format string, args ...any)
}

// NewStageService wires the executor. repo defaults to the PostgreSQL
// repository when nil.
func NewStageService(pool TxBeginner, repo StageRepository, audit AuditLog, catalog *Catalog, statuses *StatusEngine, cfg Config) *StageService {
	if repo == nil {
		repo = NewRepository()
	}
	svc := &StageService{
		pool:     pool,
		repo:     repo,
		audit:    audit,
		catalog:  catalog,
		statuses: statuses,
		lockout:  cfg.Lockout(),
		window:   cfg.ConcurrencyWindow(),
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
		logf:     log.Printf,
	}
	svc.validator = NewValidator(catalog, svc.lockout)
	svc.validator.now = func() time.Time { return svc.now() }
	return svc
}

// Transition moves an engagement to the target stage. On rejection it returns
// a *TransitionError and bumps the engagement's attempt counter; other errors
// are persistence failures the caller may retry.
func (s *StageService) Transition(ctx context.Context, id string, to Stage, actor Actor, reason string) (TransitionResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	eng, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return TransitionResult{}, err
	}

	if terr := s.validator.Validate(eng, to, actor); terr != nil {
		tx.Rollback(ctx)
		s.recordAttempt(ctx, id)
		return TransitionResult{}, terr
	}

	// A validation pass is not proof we are alone: another request may have
	// committed between this engagement's last snapshot and our row lock.
	last, err := s.audit.LastTransition(ctx, tx, entityType, id)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: concurrency probe: %v", ErrPersistence, err)
	}
	if last != nil && s.now().Sub(*last) < s.window {
		tx.Rollback(ctx)
		s.recordAttempt(ctx, id)
		return TransitionResult{}, transitionErrorf(CodeConcurrentTransition,
			"another transition for this engagement was accepted within the last %s", s.window)
	}

	setCommencement := to == StageCommencement && eng.CommencementDate == nil
	if err := s.repo.ApplyTransition(ctx, tx, ApplyTransitionParams{
		EngagementID:    id,
		To:              to,
		SetCommencement: setCommencement,
	}); err != nil {
		return TransitionResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}

	s.appendAudit(ctx, id, actor, activity.ActionStageTransition, map[string]any{
		"transition_id": s.idGen(),
		"from":          string(eng.Stage),
		"to":            string(to),
		"reason":        reason,
		"actor_role":    string(actor.Role),
	})

	return TransitionResult{Success: true, From: eng.Stage, To: to}, nil
}

// SetStatus applies one dependent status-field change after validating it
// against the field's graph. Stage transitions never call this; suggested
// status changes reach it only through an explicit caller request.
func (s *StageService) SetStatus(ctx context.Context, id string, field StatusField, to string, actor Actor) (Engagement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Engagement{}, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	eng, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Engagement{}, err
	}

	from := eng.StatusValue(field)
	if terr := s.statuses.ValidateTransition(field, from, to); terr != nil {
		return Engagement{}, terr
	}

	if err := s.repo.UpdateStatusField(ctx, tx, id, field, to); err != nil {
		return Engagement{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Engagement{}, fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}

	s.appendAudit(ctx, id, actor, "status_transition", map[string]any{
		"field":      string(field),
		"from":       from,
		"to":         to,
		"actor_role": string(actor.Role),
	})

	eng.SetStatusValue(field, to)
	return eng, nil
}

// AvailableTransitions lists every stage the actor could move the engagement
// to right now, with direction flags for rendering.
func (s *StageService) AvailableTransitions(eng Engagement, actor Actor) []TransitionOption {
	options := make([]TransitionOption, 0, 2)
	for _, stage := range s.catalog.Stages() {
		if stage == eng.Stage {
			continue
		}
		edge, ok := s.catalog.LegalEdge(eng.Stage, stage)
		if !ok {
			continue
		}
		if terr := s.validator.Validate(eng, stage, actor); terr != nil {
			continue
		}
		options = append(options, TransitionOption{
			Stage:    stage,
			Label:    s.catalog.Label(stage),
			Forward:  edge.Forward,
			Backward: edge.Backward,
		})
	}
	return options
}

// TransitionStatus reports lockout state and failing gates for UI polling.
func (s *StageService) TransitionStatus(eng Engagement) TransitionStatus {
	return StatusFor(eng, s.now(), s.lockout)
}

// SuggestedStatuses reports the status changes a stage change would imply.
func (s *StageService) SuggestedStatuses(from, to Stage) ([]Suggestion, error) {
	return s.statuses.SuggestedForStageChange(from, to)
}

// recordAttempt bumps the attempt counter after a rejection. It runs in its
// own short transaction once the main one has released the row lock, and is
// best-effort: losing a count never blocks the rejection result.
func (s *StageService) recordAttempt(ctx context.Context, id string) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.logf("engagement: record attempt begin for %s: %v", id, err)
		return
	}
	defer tx.Rollback(ctx)

	if err := s.repo.IncrementAttempts(ctx, tx, id); err != nil {
		s.logf("engagement: record attempt for %s: %v", id, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.logf("engagement: record attempt commit for %s: %v", id, err)
	}
}

func (s *StageService) appendAudit(ctx context.Context, id string, actor Actor, action string, metadata map[string]any) {
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	err := s.audit.Append(ctx, activity.Entry{
		EntityType: entityType,
		EntityID:   id,
		Action:     action,
		Metadata:   metadata,
		ActorID:    actorID,
	})
	if err != nil {
		s.logf("engagement: audit append for %s: %v", id, err)
	}
}
