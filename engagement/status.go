package engagement

import (
	"fmt"
	"sort"
	"strings"
)

// StatusEngine owns the six dependent status-field graphs. It validates field
// transitions, derives the defaults a new engagement starts with, reports the
// status changes a stage change implies, and flags drift between an
// engagement's stage and its field values. It never mutates an engagement.
type StatusEngine struct {
	fields   map[StatusField]statusGraph
	expected map[Stage]map[StatusField]string
	initial  Stage
}

type statusGraph struct {
	transitions map[string][]string
	values      []string
}

// Suggestion describes a status change implied by a stage change. It is never
// auto-applied; CanTransition tells the caller whether the field's own graph
// would accept it.
type Suggestion struct {
	Field         StatusField
	From          string
	To            string
	CanTransition bool
	Reason        string
}

// ConsistencyReport is the result of CheckConsistency. Errors mean corrupt
// data (a value outside the field's graph); warnings mean legal values that
// differ from what the current stage expects.
type ConsistencyReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// NewStatusEngine validates the status-field section of cfg against the stage
// catalog and builds the engine. Every stage must declare an expected value
// for every field so drift detection never hits a missing entry at runtime.
func NewStatusEngine(cfg Config, catalog *Catalog) (*StatusEngine, error) {
	fields := make(map[StatusField]statusGraph, len(statusFieldOrder))
	for _, field := range statusFieldOrder {
		fc, ok := cfg.StatusFields[field]
		if !ok {
			return nil, configErrorf("status field %q is not configured", field)
		}
		if len(fc.Transitions) == 0 {
			return nil, configErrorf("status field %q has an empty transition graph", field)
		}

		valueSet := make(map[string]struct{}, len(fc.Transitions))
		for value, nexts := range fc.Transitions {
			valueSet[value] = struct{}{}
			for _, next := range nexts {
				if next == value {
					return nil, configErrorf("status field %q declares a self-loop on %q", field, value)
				}
				valueSet[next] = struct{}{}
			}
		}
		for value := range valueSet {
			if _, ok := fc.Transitions[value]; !ok {
				return nil, configErrorf("status field %q value %q is a target but has no entry (declare it terminal with an empty list)", field, value)
			}
		}

		values := make([]string, 0, len(valueSet))
		for value := range valueSet {
			values = append(values, value)
		}
		sort.Strings(values)
		fields[field] = statusGraph{transitions: fc.Transitions, values: values}
	}

	for field := range cfg.StatusFields {
		if _, ok := fields[field]; !ok {
			return nil, configErrorf("unknown status field %q configured", field)
		}
	}

	expected := make(map[Stage]map[StatusField]string, len(catalog.Stages()))
	for _, stage := range catalog.Stages() {
		expected[stage] = make(map[StatusField]string, len(statusFieldOrder))
		for _, field := range statusFieldOrder {
			value, ok := cfg.StatusFields[field].Expected[stage]
			if !ok {
				return nil, configErrorf("status field %q has no expected value for stage %q", field, stage)
			}
			if _, known := fields[field].transitions[value]; !known {
				return nil, configErrorf("status field %q expects unknown value %q at stage %q", field, value, stage)
			}
			expected[stage][field] = value
		}
	}

	return &StatusEngine{fields: fields, expected: expected, initial: catalog.Initial()}, nil
}

// Fields returns the six field names in canonical order.
func (e *StatusEngine) Fields() []StatusField {
	out := make([]StatusField, len(statusFieldOrder))
	copy(out, statusFieldOrder)
	return out
}

// Options returns every value the field can hold, sorted.
func (e *StatusEngine) Options(field StatusField) ([]string, error) {
	graph, ok := e.fields[field]
	if !ok {
		return nil, fmt.Errorf("engagement: unknown status field %q", field)
	}
	out := make([]string, len(graph.values))
	copy(out, graph.values)
	return out, nil
}

// Default returns the value a new engagement starts with for the field.
func (e *StatusEngine) Default(field StatusField) (string, error) {
	value, ok := e.expected[e.initial][field]
	if !ok {
		return "", fmt.Errorf("engagement: unknown status field %q", field)
	}
	return value, nil
}

// InitialStatuses returns the stage-implied value for every field, used to
// populate a newly created engagement.
func (e *StatusEngine) InitialStatuses(stage Stage) (map[StatusField]string, error) {
	byField, ok := e.expected[stage]
	if !ok {
		return nil, fmt.Errorf("engagement: unknown stage %q", stage)
	}
	out := make(map[StatusField]string, len(byField))
	for field, value := range byField {
		out[field] = value
	}
	return out, nil
}

// CanTransition reports whether from -> to is an edge in the field's graph.
// Unknown fields, unknown values, and self-loops are all false.
func (e *StatusEngine) CanTransition(field StatusField, from, to string) bool {
	graph, ok := e.fields[field]
	if !ok {
		return false
	}
	for _, next := range graph.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition is CanTransition with a descriptive rejection listing
// the legal next values.
func (e *StatusEngine) ValidateTransition(field StatusField, from, to string) *TransitionError {
	graph, ok := e.fields[field]
	if !ok {
		return transitionErrorf(CodeStatusTransitionInvalid, "unknown status field %q", field)
	}
	allowed, known := graph.transitions[from]
	if !known {
		return transitionErrorf(CodeStatusTransitionInvalid, "%s has no value %q", field, from)
	}
	if e.CanTransition(field, from, to) {
		return nil
	}
	if len(allowed) == 0 {
		return transitionErrorf(CodeStatusTransitionInvalid, "%s value %q is terminal", field, from)
	}
	return transitionErrorf(CodeStatusTransitionInvalid, "%s cannot move from %q to %q; allowed: %s",
		field, from, to, strings.Join(allowed, ", "))
}

// SuggestedForStageChange reports, for every field whose expected value
// differs between the two stages, the implied field transition and whether
// the field's own graph would accept it. Illegal suggestions are reported,
// not suppressed, so callers see the drift a stage change would create.
func (e *StatusEngine) SuggestedForStageChange(from, to Stage) ([]Suggestion, error) {
	fromExpected, ok := e.expected[from]
	if !ok {
		return nil, fmt.Errorf("engagement: unknown stage %q", from)
	}
	toExpected, ok := e.expected[to]
	if !ok {
		return nil, fmt.Errorf("engagement: unknown stage %q", to)
	}

	suggestions := make([]Suggestion, 0, len(statusFieldOrder))
	for _, field := range statusFieldOrder {
		fromValue := fromExpected[field]
		toValue := toExpected[field]
		if fromValue == toValue {
			continue
		}
		s := Suggestion{
			Field: field,
			From:  fromValue,
			To:    toValue,
		}
		if e.CanTransition(field, fromValue, toValue) {
			s.CanTransition = true
			s.Reason = fmt.Sprintf("stage %s expects %s=%q", to, field, toValue)
		} else {
			s.Reason = fmt.Sprintf("stage %s expects %s=%q but the field graph forbids %q -> %q",
				to, field, toValue, fromValue, toValue)
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// CheckConsistency verifies every field value against its graph (errors) and
// against the current stage's expectations (warnings). Warnings are non-fatal
// drift; errors mean the stored data is corrupt.
func (e *StatusEngine) CheckConsistency(eng Engagement) ConsistencyReport {
	report := ConsistencyReport{Valid: true}

	expected, stageKnown := e.expected[eng.Stage]
	if !stageKnown {
		report.Valid = false
		report.Errors = append(report.Errors, fmt.Sprintf("unknown stage %q", eng.Stage))
	}

	for _, field := range statusFieldOrder {
		value := eng.StatusValue(field)
		graph := e.fields[field]
		if _, known := graph.transitions[value]; !known {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("%s holds unknown value %q", field, value))
			continue
		}
		if stageKnown && value != expected[field] {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s is %q but stage %s expects %q", field, value, eng.Stage, expected[field]))
		}
	}

	return report
}
