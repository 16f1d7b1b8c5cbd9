package engagement

// Gate names referenced by stage configuration. Each gate is a precondition
// for entering the stage that declares it.
const (
	GateEngagementLetter = "engagement_letter"
	GateTeamAssigned     = "team_assigned"
	GateRFIResponses     = "rfi_responses"
	GateLetterAccepted   = "letter_accepted"
)

// gateOrder keeps gate reports deterministic.
var gateOrder = []string{
	GateEngagementLetter,
	GateTeamAssigned,
	GateRFIResponses,
	GateLetterAccepted,
}

func knownGate(name string) bool {
	for _, g := range gateOrder {
		if g == name {
			return true
		}
	}
	return false
}

// GateResult is the outcome of one gate evaluation. Reason is empty when the
// gate passed.
type GateResult struct {
	Passed bool
	Reason string
}

// EvaluateGates inspects an engagement snapshot and reports every gate's
// outcome. It has no side effects, so it is safe both inside validation and
// for UI previews of what is blocking a stage.
func EvaluateGates(eng Engagement) map[string]GateResult {
	results := make(map[string]GateResult, len(gateOrder))

	if eng.HasEngagementLetter {
		results[GateEngagementLetter] = GateResult{Passed: true}
	} else {
		results[GateEngagementLetter] = GateResult{
			Reason: "engagement letter has not been received",
		}
	}

	if eng.HasTeam {
		results[GateTeamAssigned] = GateResult{Passed: true}
	} else {
		results[GateTeamAssigned] = GateResult{
			Reason: "no audit team has been assigned",
		}
	}

	if eng.HasRFIResponses {
		results[GateRFIResponses] = GateResult{Passed: true}
	} else {
		results[GateRFIResponses] = GateResult{
			Reason: "RFI responses are outstanding",
		}
	}

	// A zero-progress engagement may be closed out without the letter being
	// accepted: nothing was ever started.
	if eng.LetterAuditorStatus == "accepted" || eng.Progress == 0 {
		results[GateLetterAccepted] = GateResult{Passed: true}
	} else {
		results[GateLetterAccepted] = GateResult{
			Reason: "auditor letter is not accepted and work is in progress",
		}
	}

	return results
}

// FailedGates lists the names of gates that currently fail, in stable order.
func FailedGates(eng Engagement) []string {
	results := EvaluateGates(eng)
	failed := make([]string, 0, len(gateOrder))
	for _, name := range gateOrder {
		if !results[name].Passed {
			failed = append(failed, name)
		}
	}
	return failed
}
