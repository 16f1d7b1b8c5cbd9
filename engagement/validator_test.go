package engagement

import (
	"errors"
	"strings"
	"testing"
	"time"

	"auditflow/auth"
)

var validatorNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator(mustCatalog(t), 5*time.Minute)
	v.now = func() time.Time { return validatorNow }
	return v
}

func assertCode(t *testing.T, err *TransitionError, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s rejection, got nil", code)
	}
	if err.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, err.Code, err.Message)
	}
}

func TestValidate_ForwardHappyPath(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageInfoGathering, HasEngagementLetter: true}
	actor := Actor{ID: "u1", Role: auth.RoleManager}

	if err := v.Validate(eng, StageCommencement, actor); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestValidate_UnknownStages(t *testing.T) {
	v := newTestValidator(t)
	actor := Actor{Role: auth.RolePartner}

	err := v.Validate(Engagement{Stage: "limbo"}, StageCommencement, actor)
	assertCode(t, err, CodeInvalidTransition)

	err = v.Validate(Engagement{Stage: StageInfoGathering}, "limbo", actor)
	assertCode(t, err, CodeInvalidTransition)
}

func TestValidate_SameStage(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(Engagement{Stage: StageCommencement}, StageCommencement, Actor{Role: auth.RolePartner})
	assertCode(t, err, CodeInvalidTransition)
}

func TestValidate_SkippingStages(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageInfoGathering, HasEngagementLetter: true, HasTeam: true}

	err := v.Validate(eng, StageTeamExecution, Actor{Role: auth.RolePartner})
	assertCode(t, err, CodeInvalidTransition)
}

func TestValidate_GateFailure(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageInfoGathering}

	err := v.Validate(eng, StageCommencement, Actor{Role: auth.RoleManager})
	assertCode(t, err, CodeGateFailed)
	if !strings.Contains(err.Message, GateEngagementLetter) {
		t.Fatalf("expected failing gate name in message, got %q", err.Message)
	}
}

func TestValidate_ClerkBlockedWithoutOverride(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageInfoGathering, HasEngagementLetter: true}
	clerk := Actor{Role: auth.RoleClerk}

	err := v.Validate(eng, StageCommencement, clerk)
	assertCode(t, err, CodeInsufficientRole)

	eng.ClerksCanApprove = true
	if err := v.Validate(eng, StageCommencement, clerk); err != nil {
		t.Fatalf("clerk with approval override should pass, got %v", err)
	}
}

// The clerk block outranks gate evaluation: a clerk without the override is
// rejected for the role even when a gate would also fail.
func TestValidate_ClerkBlockBeforeGates(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageInfoGathering}

	err := v.Validate(eng, StageCommencement, Actor{Role: auth.RoleClerk})
	assertCode(t, err, CodeInsufficientRole)
}

func TestValidate_RoleListOnPartnerReview(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StageTeamExecution, ClerksCanApprove: true}

	for _, role := range []auth.Role{auth.RoleClerk, auth.RoleClient} {
		err := v.Validate(eng, StagePartnerReview, Actor{Role: role})
		assertCode(t, err, CodeInsufficientRole)
	}
	if err := v.Validate(eng, StagePartnerReview, Actor{Role: auth.RoleManager}); err != nil {
		t.Fatalf("manager should reach partner_review, got %v", err)
	}
}

func TestValidate_PartnerOnlyEntry(t *testing.T) {
	v := newTestValidator(t)
	eng := Engagement{Stage: StagePartnerReview, HasRFIResponses: true}

	err := v.Validate(eng, StageFinalization, Actor{Role: auth.RoleManager})
	assertCode(t, err, CodeInsufficientRole)

	if err := v.Validate(eng, StageFinalization, Actor{Role: auth.RolePartner}); err != nil {
		t.Fatalf("partner should reach finalization, got %v", err)
	}
}

func TestValidate_TerminalStagesAreIrrevocable(t *testing.T) {
	v := newTestValidator(t)
	partner := Actor{Role: auth.RolePartner}

	err := v.Validate(Engagement{Stage: StageFinalization}, StagePartnerReview, partner)
	assertCode(t, err, CodeBackwardBlocked)

	err = v.Validate(Engagement{Stage: StageCloseout}, StageFinalization, partner)
	assertCode(t, err, CodeBackwardBlocked)
}

func TestValidate_BackwardToInitialAfterCommencement(t *testing.T) {
	v := newTestValidator(t)
	commenced := validatorNow.Add(-48 * time.Hour)
	eng := Engagement{Stage: StageCommencement, CommencementDate: &commenced}

	err := v.Validate(eng, StageInfoGathering, Actor{Role: auth.RolePartner})
	assertCode(t, err, CodeBackwardBlocked)

	eng.CommencementDate = nil
	if err := v.Validate(eng, StageInfoGathering, Actor{Role: auth.RolePartner}); err != nil {
		t.Fatalf("backward to initial without commencement should pass, got %v", err)
	}
}

func TestValidate_Lockout(t *testing.T) {
	v := newTestValidator(t)
	last := validatorNow.Add(-10 * time.Second)
	eng := Engagement{
		Stage:               StageInfoGathering,
		HasEngagementLetter: true,
		LastTransitionAt:    &last,
	}

	err := v.Validate(eng, StageCommencement, Actor{Role: auth.RoleManager})
	assertCode(t, err, CodeLockout)
	if !strings.Contains(err.Message, "5 minute") {
		t.Fatalf("expected ceiling-rounded minutes in message, got %q", err.Message)
	}

	expired := validatorNow.Add(-6 * time.Minute)
	eng.LastTransitionAt = &expired
	if err := v.Validate(eng, StageCommencement, Actor{Role: auth.RoleManager}); err != nil {
		t.Fatalf("expected lockout expiry, got %v", err)
	}
}

// Structural rejections must fire before the lockout check so callers learn
// the real problem first.
func TestValidate_GateBeatsLockout(t *testing.T) {
	v := newTestValidator(t)
	last := validatorNow.Add(-10 * time.Second)
	eng := Engagement{Stage: StageInfoGathering, LastTransitionAt: &last}

	err := v.Validate(eng, StageCommencement, Actor{Role: auth.RoleManager})
	assertCode(t, err, CodeGateFailed)
}

func TestTransitionError_ErrorsAs(t *testing.T) {
	var err error = transitionErrorf(CodeLockout, "locked")
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Code != CodeLockout {
		t.Fatalf("errors.As should surface the TransitionError, got %v", err)
	}
}
