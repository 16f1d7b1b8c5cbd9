package engagement

import (
	"math"
	"time"
)

// TransitionStatus is the read-only lockout and gate summary exposed for UI
// polling.
type TransitionStatus struct {
	InLockout        bool
	MinutesRemaining int
	FailedGates      []string
}

// lockoutRemaining returns how long the engagement stays locked, or zero when
// no lockout applies.
func lockoutRemaining(lastTransition *time.Time, now time.Time, interval time.Duration) time.Duration {
	if lastTransition == nil || interval <= 0 {
		return 0
	}
	elapsed := now.Sub(*lastTransition)
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

func minutesRemaining(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds() / 60))
}

// StatusFor summarizes lockout state and failing gates for an engagement
// snapshot. Safe to call at any time; it reads nothing but the snapshot and
// the supplied clock.
func StatusFor(eng Engagement, now time.Time, interval time.Duration) TransitionStatus {
	remaining := lockoutRemaining(eng.LastTransitionAt, now, interval)
	return TransitionStatus{
		InLockout:        remaining > 0,
		MinutesRemaining: minutesRemaining(remaining),
		FailedGates:      FailedGates(eng),
	}
}
