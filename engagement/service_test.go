package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"auditflow/activity"
	"auditflow/auth"
)

var serviceNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo *fakeStageRepo, audit *fakeAudit) (*StageService, *fakePool) {
	t.Helper()
	catalog := mustCatalog(t)
	statuses := mustStatusEngine(t)
	pool := &fakePool{}

	svc := NewStageService(pool, repo, audit, catalog, statuses, DefaultConfig())
	svc.now = func() time.Time { return serviceNow }
	svc.idGen = func() string { return "txn-fixed" }
	svc.logf = func(string, ...any) {}
	return svc, pool
}

func TestTransition_Success(t *testing.T) {
	repo := &fakeStageRepo{eng: Engagement{
		ID:                  "e1",
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
	}}
	audit := &fakeAudit{}
	svc, pool := newTestService(t, repo, audit)

	result, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{ID: "u1", Role: auth.RoleManager}, "kickoff")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.Success || result.From != StageInfoGathering || result.To != StageCommencement {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(pool.txes) != 1 {
		t.Fatalf("expected one transaction, got %d", len(pool.txes))
	}
	if !pool.txes[0].committed {
		t.Error("expected the transaction to commit")
	}

	if len(repo.applied) != 1 {
		t.Fatalf("expected one ApplyTransition call, got %d", len(repo.applied))
	}
	params := repo.applied[0]
	if params.EngagementID != "e1" || params.To != StageCommencement {
		t.Fatalf("unexpected params %+v", params)
	}
	if !params.SetCommencement {
		t.Error("first move into commencement should stamp the commencement date")
	}
	if repo.attempts != 0 {
		t.Errorf("accepted transition must not bump attempts, got %d", repo.attempts)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Action != activity.ActionStageTransition || entry.EntityID != "e1" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	if entry.Metadata["from"] != "info_gathering" || entry.Metadata["to"] != "commencement" {
		t.Fatalf("unexpected audit metadata %v", entry.Metadata)
	}
	if entry.Metadata["reason"] != "kickoff" {
		t.Fatalf("expected reason in metadata, got %v", entry.Metadata)
	}
	if entry.ActorID == nil || *entry.ActorID != "u1" {
		t.Fatalf("expected actor on audit entry, got %v", entry.ActorID)
	}
}

func TestTransition_NoCommencementRestamp(t *testing.T) {
	commenced := serviceNow.Add(-30 * 24 * time.Hour)
	repo := &fakeStageRepo{eng: Engagement{
		ID:                  "e1",
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
		CommencementDate:    &commenced,
	}}
	svc, _ := newTestService(t, repo, &fakeAudit{})

	_, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.applied[0].SetCommencement {
		t.Fatal("a re-entry into commencement must keep the original date")
	}
}

func TestTransition_RejectionBumpsAttempts(t *testing.T) {
	repo := &fakeStageRepo{eng: Engagement{ID: "e1", Stage: StageInfoGathering}}
	audit := &fakeAudit{}
	svc, pool := newTestService(t, repo, audit)

	_, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, "")
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Code != CodeGateFailed {
		t.Fatalf("expected GATE_FAILED, got %v", err)
	}

	// Main tx rolled back, then a second short tx records the attempt.
	if len(pool.txes) != 2 {
		t.Fatalf("expected two transactions, got %d", len(pool.txes))
	}
	if pool.txes[0].committed || !pool.txes[0].rolled {
		t.Error("main transaction must roll back on rejection")
	}
	if !pool.txes[1].committed {
		t.Error("attempt counter transaction must commit")
	}
	if repo.attempts != 1 {
		t.Errorf("expected one recorded attempt, got %d", repo.attempts)
	}
	if len(repo.applied) != 0 {
		t.Error("rejected transition must not write the stage")
	}
	if len(audit.entries) != 0 {
		t.Error("rejected transition must not append to the audit log")
	}
}

func TestTransition_ConcurrentWindow(t *testing.T) {
	last := serviceNow.Add(-2 * time.Second)
	repo := &fakeStageRepo{eng: Engagement{
		ID:                  "e1",
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
	}}
	audit := &fakeAudit{last: &last}
	svc, pool := newTestService(t, repo, audit)

	_, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, "")
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Code != CodeConcurrentTransition {
		t.Fatalf("expected CONCURRENT_TRANSITION, got %v", err)
	}
	if pool.txes[0].committed {
		t.Error("concurrent rejection must not commit")
	}
	if repo.attempts != 1 {
		t.Errorf("concurrent rejection should count as an attempt, got %d", repo.attempts)
	}
}

func TestTransition_OutsideConcurrentWindow(t *testing.T) {
	last := serviceNow.Add(-10 * time.Minute)
	repo := &fakeStageRepo{eng: Engagement{
		ID:                  "e1",
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
	}}
	audit := &fakeAudit{last: &last}
	svc, _ := newTestService(t, repo, audit)

	if _, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, ""); err != nil {
		t.Fatalf("an old audit record must not trip the window, got %v", err)
	}
}

func TestTransition_AuditFailureDoesNotFailCall(t *testing.T) {
	repo := &fakeStageRepo{eng: Engagement{
		ID:                  "e1",
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
	}}
	audit := &fakeAudit{appendErr: errors.New("activity log down")}
	svc, pool := newTestService(t, repo, audit)

	logged := false
	svc.logf = func(string, ...any) { logged = true }

	result, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, "")
	if err != nil || !result.Success {
		t.Fatalf("audit failure after commit must not fail the transition, got %v", err)
	}
	if !pool.txes[0].committed {
		t.Error("transaction should have committed before the audit write")
	}
	if !logged {
		t.Error("the swallowed audit error should at least be logged")
	}
}

func TestTransition_PersistenceErrors(t *testing.T) {
	repo := &fakeStageRepo{
		eng:      Engagement{ID: "e1", Stage: StageInfoGathering, HasEngagementLetter: true},
		applyErr: errors.New("boom"),
	}
	svc, _ := newTestService(t, repo, &fakeAudit{})

	_, err := svc.Transition(context.Background(), "e1", StageCommencement, Actor{Role: auth.RoleManager}, "")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	var terr *TransitionError
	if errors.As(err, &terr) {
		t.Fatal("persistence failures must not masquerade as business rejections")
	}
}

func TestTransition_NotFound(t *testing.T) {
	repo := &fakeStageRepo{getErr: ErrNotFound}
	svc, _ := newTestService(t, repo, &fakeAudit{})

	_, err := svc.Transition(context.Background(), "missing", StageCommencement, Actor{Role: auth.RoleManager}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus_Success(t *testing.T) {
	repo := &fakeStageRepo{eng: Engagement{
		ID:           "e1",
		Stage:        StageCommencement,
		ClientStatus: "engaged",
	}}
	audit := &fakeAudit{}
	svc, pool := newTestService(t, repo, audit)

	eng, err := svc.SetStatus(context.Background(), "e1", FieldClientStatus, "active", Actor{ID: "u1", Role: auth.RoleManager})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if eng.ClientStatus != "active" {
		t.Fatalf("returned snapshot should carry the new value, got %q", eng.ClientStatus)
	}
	if !pool.txes[0].committed {
		t.Error("expected commit")
	}
	if len(repo.statusUpdates) != 1 || repo.statusUpdates[0].value != "active" {
		t.Fatalf("unexpected status updates %+v", repo.statusUpdates)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != "status_transition" {
		t.Fatalf("expected status_transition audit entry, got %+v", audit.entries)
	}
	if audit.entries[0].Metadata["from"] != "engaged" {
		t.Fatalf("unexpected audit metadata %v", audit.entries[0].Metadata)
	}
}

func TestSetStatus_RejectsIllegalEdge(t *testing.T) {
	repo := &fakeStageRepo{eng: Engagement{
		ID:           "e1",
		Stage:        StageCommencement,
		ClientStatus: "prospective",
	}}
	svc, pool := newTestService(t, repo, &fakeAudit{})

	_, err := svc.SetStatus(context.Background(), "e1", FieldClientStatus, "closed", Actor{Role: auth.RoleManager})
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Code != CodeStatusTransitionInvalid {
		t.Fatalf("expected STATUS_TRANSITION_INVALID, got %v", err)
	}
	if pool.txes[0].committed {
		t.Error("rejected status change must not commit")
	}
	if len(repo.statusUpdates) != 0 {
		t.Error("rejected status change must not write")
	}
}

func TestAvailableTransitions(t *testing.T) {
	repo := &fakeStageRepo{}
	svc, _ := newTestService(t, repo, &fakeAudit{})

	eng := Engagement{
		Stage:               StageTeamExecution,
		HasEngagementLetter: true,
		HasTeam:             true,
	}

	options := svc.AvailableTransitions(eng, Actor{Role: auth.RoleManager})
	if len(options) != 2 {
		t.Fatalf("expected forward and backward options, got %+v", options)
	}
	byStage := map[Stage]TransitionOption{}
	for _, o := range options {
		byStage[o.Stage] = o
	}
	if o := byStage[StagePartnerReview]; !o.Forward || o.Label != "Partner Review" {
		t.Fatalf("unexpected forward option %+v", o)
	}
	if o := byStage[StageCommencement]; !o.Backward {
		t.Fatalf("unexpected backward option %+v", o)
	}

	// A clerk without the approval override sees nothing at all.
	if options := svc.AvailableTransitions(eng, Actor{Role: auth.RoleClerk}); len(options) != 0 {
		t.Fatalf("expected no options for clerk, got %+v", options)
	}
}

func TestTransitionStatusAndSuggestions(t *testing.T) {
	svc, _ := newTestService(t, &fakeStageRepo{}, &fakeAudit{})

	last := serviceNow.Add(-30 * time.Second)
	status := svc.TransitionStatus(Engagement{LastTransitionAt: &last})
	if !status.InLockout || status.MinutesRemaining != 5 {
		t.Fatalf("unexpected transition status %+v", status)
	}

	suggestions, err := svc.SuggestedStatuses(StageInfoGathering, StageCommencement)
	if err != nil || len(suggestions) == 0 {
		t.Fatalf("expected suggestions, got %v err=%v", suggestions, err)
	}
}

type fakeStageRepo struct {
	eng      Engagement
	getErr   error
	applyErr error

	applied       []ApplyTransitionParams
	attempts      int
	statusUpdates []statusUpdate
}

type statusUpdate struct {
	field StatusField
	value string
}

func (f *fakeStageRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Engagement, error) {
	if f.getErr != nil {
		return Engagement{}, f.getErr
	}
	return f.eng, nil
}

func (f *fakeStageRepo) ApplyTransition(ctx context.Context, tx pgx.Tx, params ApplyTransitionParams) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, params)
	return nil
}

func (f *fakeStageRepo) IncrementAttempts(ctx context.Context, tx pgx.Tx, id string) error {
	f.attempts++
	return nil
}

func (f *fakeStageRepo) UpdateStatusField(ctx context.Context, tx pgx.Tx, id string, field StatusField, value string) error {
	f.statusUpdates = append(f.statusUpdates, statusUpdate{field: field, value: value})
	return nil
}

type fakeAudit struct {
	entries   []activity.Entry
	appendErr error
	last      *time.Time
	lastErr   error
}

func (f *fakeAudit) Append(ctx context.Context, entry activity.Entry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) LastTransition(ctx context.Context, tx pgx.Tx, entityType, entityID string) (*time.Time, error) {
	return f.last, f.lastErr
}

type fakePool struct {
	txes []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txes = append(f.txes, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
