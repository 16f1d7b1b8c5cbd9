package engagement

import (
	"time"

	"auditflow/auth"
)

// Stage is the primary, totally-ordered lifecycle state of an engagement.
type Stage string

const (
	StageInfoGathering Stage = "info_gathering"
	StageCommencement  Stage = "commencement"
	StageTeamExecution Stage = "team_execution"
	StagePartnerReview Stage = "partner_review"
	StageFinalization  Stage = "finalization"
	StageCloseout      Stage = "closeout"
)

// StatusField names one of the six dependent status fields tracked alongside
// the stage. Each field has its own transition graph.
type StatusField string

const (
	FieldClientStatus         StatusField = "client_status"
	FieldLetterClientStatus   StatusField = "letter_client_status"
	FieldLetterAuditorStatus  StatusField = "letter_auditor_status"
	FieldPostRFIClientStatus  StatusField = "post_rfi_client_status"
	FieldPostRFIAuditorStatus StatusField = "post_rfi_auditor_status"
	FieldAuditorStatus        StatusField = "auditor_status"
)

// statusFieldOrder is the canonical iteration order for the six fields so
// reports and suggestions are deterministic.
var statusFieldOrder = []StatusField{
	FieldClientStatus,
	FieldLetterClientStatus,
	FieldLetterAuditorStatus,
	FieldPostRFIClientStatus,
	FieldPostRFIAuditorStatus,
	FieldAuditorStatus,
}

// Engagement mirrors the engagements table columns touched by the lifecycle
// core. It is a snapshot: mutating it does not write anything back.
type Engagement struct {
	ID                   string
	ClientID             string
	Title                string
	Stage                Stage
	ClientStatus         string
	LetterClientStatus   string
	LetterAuditorStatus  string
	PostRFIClientStatus  string
	PostRFIAuditorStatus string
	AuditorStatus        string
	LastTransitionAt     *time.Time
	TransitionAttempts   int
	CommencementDate     *time.Time
	HasEngagementLetter  bool
	HasTeam              bool
	HasRFIResponses      bool
	Progress             int
	ClerksCanApprove     bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StatusValue returns the engagement's current value for the named field.
func (e Engagement) StatusValue(field StatusField) string {
	switch field {
	case FieldClientStatus:
		return e.ClientStatus
	case FieldLetterClientStatus:
		return e.LetterClientStatus
	case FieldLetterAuditorStatus:
		return e.LetterAuditorStatus
	case FieldPostRFIClientStatus:
		return e.PostRFIClientStatus
	case FieldPostRFIAuditorStatus:
		return e.PostRFIAuditorStatus
	case FieldAuditorStatus:
		return e.AuditorStatus
	default:
		return ""
	}
}

// SetStatusValue assigns the named field on the snapshot. Unknown fields are
// ignored; callers validate field names before writing.
func (e *Engagement) SetStatusValue(field StatusField, value string) {
	switch field {
	case FieldClientStatus:
		e.ClientStatus = value
	case FieldLetterClientStatus:
		e.LetterClientStatus = value
	case FieldLetterAuditorStatus:
		e.LetterAuditorStatus = value
	case FieldPostRFIClientStatus:
		e.PostRFIClientStatus = value
	case FieldPostRFIAuditorStatus:
		e.PostRFIAuditorStatus = value
	case FieldAuditorStatus:
		e.AuditorStatus = value
	}
}

// Actor identifies the user requesting a transition.
type Actor struct {
	ID   string
	Role auth.Role
}

// TransitionResult reports an accepted stage change.
type TransitionResult struct {
	Success bool
	From    Stage
	To      Stage
}

// TransitionOption describes a stage currently reachable from an engagement's
// stage for a given actor.
type TransitionOption struct {
	Stage    Stage
	Label    string
	Forward  bool
	Backward bool
}
