package engagement

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"auditflow/auth"
)

// ConfigError reports malformed lifecycle configuration. It is fatal at boot:
// a process must not serve transitions with an inconsistent rule set.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "engagement: config: " + e.Detail
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

// EntryPolicy restricts who may move an engagement into a stage on top of the
// stage's role list.
type EntryPolicy string

const (
	EntryDefault     EntryPolicy = "default"
	EntryPartnerOnly EntryPolicy = "partner_only"
)

// StageConfig declares a single stage of the lifecycle.
type StageConfig struct {
	Name         Stage       `yaml:"name"`
	Label        string      `yaml:"label"`
	Order        int         `yaml:"order"`
	Forward      []Stage     `yaml:"forward"`
	Backward     []Stage     `yaml:"backward"`
	RequiresRole []auth.Role `yaml:"requires_role"`
	Entry        EntryPolicy `yaml:"entry"`
	ReadOnly     bool        `yaml:"readonly"`
	Terminal     bool        `yaml:"terminal"`
	Gates        []string    `yaml:"gates"`
}

// StatusFieldConfig declares one dependent status field: its transition graph
// and the value each stage expects the field to hold.
type StatusFieldConfig struct {
	Transitions map[string][]string `yaml:"transitions"`
	Expected    map[Stage]string    `yaml:"expected"`
}

// Config is the immutable lifecycle rule set. It is loaded once, validated by
// NewCatalog/NewStatusEngine, and injected into the services that consult it.
type Config struct {
	LockoutSeconds           int                               `yaml:"lockout_seconds"`
	ConcurrencyWindowSeconds int                               `yaml:"concurrency_window_seconds"`
	Stages                   []StageConfig                     `yaml:"stages"`
	StatusFields             map[StatusField]StatusFieldConfig `yaml:"status_fields"`
}

// Lockout returns the minimum interval between accepted transitions.
func (c Config) Lockout() time.Duration {
	if c.LockoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LockoutSeconds) * time.Second
}

// ConcurrencyWindow returns the near-simultaneous detection window.
func (c Config) ConcurrencyWindow() time.Duration {
	if c.ConcurrencyWindowSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ConcurrencyWindowSeconds) * time.Second
}

// LoadConfigFile reads a YAML lifecycle configuration. Callers still need to
// run the result through NewCatalog and NewStatusEngine, which perform the
// structural validation.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engagement: read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, configErrorf("parse %s: %v", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in six-stage rule set.
func DefaultConfig() Config {
	return Config{
		LockoutSeconds:           300,
		ConcurrencyWindowSeconds: 5,
		Stages: []StageConfig{
			{
				Name:    StageInfoGathering,
				Label:   "Information Gathering",
				Order:   0,
				Forward: []Stage{StageCommencement},
			},
			{
				Name:     StageCommencement,
				Label:    "Commencement",
				Order:    1,
				Forward:  []Stage{StageTeamExecution},
				Backward: []Stage{StageInfoGathering},
				Gates:    []string{GateEngagementLetter},
			},
			{
				Name:     StageTeamExecution,
				Label:    "Team Execution",
				Order:    2,
				Forward:  []Stage{StagePartnerReview},
				Backward: []Stage{StageCommencement},
				Gates:    []string{GateTeamAssigned},
			},
			{
				Name:         StagePartnerReview,
				Label:        "Partner Review",
				Order:        3,
				Forward:      []Stage{StageFinalization},
				Backward:     []Stage{StageTeamExecution},
				RequiresRole: []auth.Role{auth.RolePartner, auth.RoleManager},
			},
			{
				Name:         StageFinalization,
				Label:        "Finalization",
				Order:        4,
				Forward:      []Stage{StageCloseout},
				RequiresRole: []auth.Role{auth.RolePartner, auth.RoleManager},
				Entry:        EntryPartnerOnly,
				Terminal:     true,
				Gates:        []string{GateRFIResponses},
			},
			{
				Name:         StageCloseout,
				Label:        "Closeout",
				Order:        5,
				RequiresRole: []auth.Role{auth.RolePartner, auth.RoleManager},
				Entry:        EntryPartnerOnly,
				ReadOnly:     true,
				Terminal:     true,
				Gates:        []string{GateLetterAccepted},
			},
		},
		StatusFields: map[StatusField]StatusFieldConfig{
			FieldClientStatus: {
				Transitions: map[string][]string{
					"prospective": {"engaged"},
					"engaged":     {"active", "prospective"},
					"active":      {"wrapped_up"},
					"wrapped_up":  {"closed", "active"},
					"closed":      {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "prospective",
					StageCommencement:  "engaged",
					StageTeamExecution: "active",
					StagePartnerReview: "active",
					StageFinalization:  "wrapped_up",
					StageCloseout:      "closed",
				},
			},
			FieldLetterClientStatus: {
				Transitions: map[string][]string{
					"not_sent": {"sent"},
					"sent":     {"signed", "not_sent"},
					"signed":   {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "not_sent",
					StageCommencement:  "sent",
					StageTeamExecution: "signed",
					StagePartnerReview: "signed",
					StageFinalization:  "signed",
					StageCloseout:      "signed",
				},
			},
			FieldLetterAuditorStatus: {
				Transitions: map[string][]string{
					"draft":    {"issued"},
					"issued":   {"accepted", "draft"},
					"accepted": {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "draft",
					StageCommencement:  "issued",
					StageTeamExecution: "accepted",
					StagePartnerReview: "accepted",
					StageFinalization:  "accepted",
					StageCloseout:      "accepted",
				},
			},
			FieldPostRFIClientStatus: {
				Transitions: map[string][]string{
					"not_requested": {"requested"},
					"requested":     {"responded"},
					"responded":     {"complete", "requested"},
					"complete":      {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "not_requested",
					StageCommencement:  "not_requested",
					StageTeamExecution: "requested",
					StagePartnerReview: "responded",
					StageFinalization:  "complete",
					StageCloseout:      "complete",
				},
			},
			FieldPostRFIAuditorStatus: {
				Transitions: map[string][]string{
					"not_reviewed": {"reviewing"},
					"reviewing":    {"reviewed"},
					"reviewed":     {"closed_out"},
					"closed_out":   {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "not_reviewed",
					StageCommencement:  "not_reviewed",
					StageTeamExecution: "not_reviewed",
					StagePartnerReview: "reviewing",
					StageFinalization:  "reviewed",
					StageCloseout:      "closed_out",
				},
			},
			FieldAuditorStatus: {
				Transitions: map[string][]string{
					"preparing":  {"commenced"},
					"commenced":  {"fieldwork"},
					"fieldwork":  {"reviewing"},
					"reviewing":  {"finalizing", "fieldwork"},
					"finalizing": {"closed_out"},
					"closed_out": {},
				},
				Expected: map[Stage]string{
					StageInfoGathering: "preparing",
					StageCommencement:  "commenced",
					StageTeamExecution: "fieldwork",
					StagePartnerReview: "reviewing",
					StageFinalization:  "finalizing",
					StageCloseout:      "closed_out",
				},
			},
		},
	}
}
