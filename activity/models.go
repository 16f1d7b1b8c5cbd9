package activity

import "time"

// Entry is one append-only activity log record. Stage transitions write one
// with Action "stage_transition" and metadata {from, to, reason, actor_role}.
type Entry struct {
	ID         int64
	EntityType string
	EntityID   string
	Action     string
	Metadata   map[string]any
	ActorID    *string
	CreatedAt  time.Time
}

const (
	// ActionStageTransition marks an accepted engagement stage change.
	ActionStageTransition = "stage_transition"
	// ActionCreated marks entity creation.
	ActionCreated = "created"
)
