package engagement

import (
	"reflect"
	"testing"
)

func TestEvaluateGates_AllFailOnZeroValueEngagement(t *testing.T) {
	// Progress 0 means the letter_accepted gate still passes.
	results := EvaluateGates(Engagement{})

	for _, name := range []string{GateEngagementLetter, GateTeamAssigned, GateRFIResponses} {
		result := results[name]
		if result.Passed {
			t.Errorf("gate %s: expected failure", name)
		}
		if result.Reason == "" {
			t.Errorf("gate %s: expected a reason on failure", name)
		}
	}
	if !results[GateLetterAccepted].Passed {
		t.Errorf("gate %s should pass when progress is zero", GateLetterAccepted)
	}
}

func TestEvaluateGates_FlagsDriveOutcomes(t *testing.T) {
	eng := Engagement{
		HasEngagementLetter: true,
		HasTeam:             true,
		HasRFIResponses:     true,
		LetterAuditorStatus: "accepted",
		Progress:            80,
	}

	results := EvaluateGates(eng)
	for name, result := range results {
		if !result.Passed {
			t.Errorf("gate %s: expected pass, got reason %q", name, result.Reason)
		}
		if result.Reason != "" {
			t.Errorf("gate %s: expected empty reason on pass", name)
		}
	}
}

func TestEvaluateGates_LetterAcceptedRequiresAcceptanceOnceStarted(t *testing.T) {
	eng := Engagement{LetterAuditorStatus: "issued", Progress: 40}

	if EvaluateGates(eng)[GateLetterAccepted].Passed {
		t.Fatal("letter_accepted must fail when work started and the letter is not accepted")
	}
}

func TestEvaluateGates_Deterministic(t *testing.T) {
	eng := Engagement{HasTeam: true, Progress: 10}

	first := EvaluateGates(eng)
	second := EvaluateGates(eng)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same snapshot produced different results: %v vs %v", first, second)
	}
}

func TestFailedGates_StableOrder(t *testing.T) {
	eng := Engagement{Progress: 25}

	got := FailedGates(eng)
	want := []string{GateEngagementLetter, GateTeamAssigned, GateRFIResponses, GateLetterAccepted}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	eng.HasTeam = true
	got = FailedGates(eng)
	want = []string{GateEngagementLetter, GateRFIResponses, GateLetterAccepted}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
