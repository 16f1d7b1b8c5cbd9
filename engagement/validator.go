package engagement

import (
	"fmt"
	"time"

	"auditflow/auth"
)

// Machine-readable reason codes carried by TransitionError. These are business
// rule rejections, not programmer errors, and are stable API for callers.
const (
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeInsufficientRole        = "INSUFFICIENT_ROLE"
	CodeGateFailed              = "GATE_FAILED"
	CodeLockout                 = "LOCKOUT"
	CodeBackwardBlocked         = "BACKWARD_BLOCKED"
	CodeConcurrentTransition    = "CONCURRENT_TRANSITION"
	CodeStatusTransitionInvalid = "STATUS_TRANSITION_INVALID"
)

// TransitionError is the typed rejection returned for every expected business
// rule failure.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("engagement: %s: %s", e.Code, e.Message)
}

func transitionErrorf(code, format string, args ...any) *TransitionError {
	return &TransitionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validator decides whether a specific stage transition is legal right now.
// It is pure over the engagement snapshot apart from reading the clock.
type Validator struct {
	catalog *Catalog
	lockout time.Duration
	now     func() time.Time
}

// NewValidator builds a validator over an immutable catalog.
func NewValidator(catalog *Catalog, lockout time.Duration) *Validator {
	return &Validator{
		catalog: catalog,
		lockout: lockout,
		now:     time.Now,
	}
}

// Validate checks the transition in rule order; the first failing rule wins.
// A nil return means the transition may be applied.
func (v *Validator) Validate(eng Engagement, to Stage, actor Actor) *TransitionError {
	from := eng.Stage

	fromDef, ok := v.catalog.Definition(from)
	if !ok {
		return transitionErrorf(CodeInvalidTransition, "engagement is in unknown stage %q", from)
	}
	toDef, ok := v.catalog.Definition(to)
	if !ok {
		return transitionErrorf(CodeInvalidTransition, "unknown target stage %q", to)
	}
	if from == to {
		return transitionErrorf(CodeInvalidTransition, "engagement is already in stage %q", to)
	}

	backwardMove := toDef.Order < fromDef.Order

	// Finalization and closeout are irrevocable for every role.
	if backwardMove && fromDef.Terminal {
		return transitionErrorf(CodeBackwardBlocked, "stage %q cannot be left backwards", from)
	}

	edge, exists := v.catalog.LegalEdge(from, to)
	if !exists {
		return transitionErrorf(CodeInvalidTransition, "no transition from %q to %q", from, to)
	}
	if backwardMove && !edge.Backward {
		return transitionErrorf(CodeInvalidTransition, "no backward transition from %q to %q", from, to)
	}

	if len(toDef.RequiresRole) > 0 && !roleAllowed(toDef.RequiresRole, actor.Role) {
		return transitionErrorf(CodeInsufficientRole, "role %q may not move an engagement into %q", actor.Role, to)
	}
	if toDef.Entry == EntryPartnerOnly && actor.Role != auth.RolePartner {
		return transitionErrorf(CodeInsufficientRole, "only a partner may move an engagement into %q", to)
	}

	// Clerks are layered on top of role authorization: even a stage open to
	// any role stays closed to clerks unless the engagement opts in.
	if actor.Role == auth.RoleClerk && !eng.ClerksCanApprove {
		return transitionErrorf(CodeInsufficientRole, "clerks may not transition this engagement without the clerk approval override")
	}

	if len(toDef.Gates) > 0 {
		results := EvaluateGates(eng)
		for _, gate := range toDef.Gates {
			if result := results[gate]; !result.Passed {
				return transitionErrorf(CodeGateFailed, "gate %q failed: %s", gate, result.Reason)
			}
		}
	}

	if backwardMove && to == v.catalog.Initial() && commencementPassed(eng, v.now()) {
		return transitionErrorf(CodeBackwardBlocked, "engagement commenced on %s and cannot return to %q",
			eng.CommencementDate.Format("2006-01-02"), to)
	}

	if remaining := lockoutRemaining(eng.LastTransitionAt, v.now(), v.lockout); remaining > 0 {
		return transitionErrorf(CodeLockout, "last transition was too recent; retry in %d minute(s)", minutesRemaining(remaining))
	}

	return nil
}

func roleAllowed(allowed []auth.Role, role auth.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func commencementPassed(eng Engagement, now time.Time) bool {
	return eng.CommencementDate != nil && eng.CommencementDate.Before(now)
}
