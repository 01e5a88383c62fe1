// Package consensus computes per-issue decisions from an opinion thread.
// The computation is pure: the same thread and roster always produce the
// same decision.
package consensus

import (
	"sort"

	"github.com/arvlabs/arv/internal/model"
)

// DefaultThreshold is the weight margin one side must hold over the other
// for consensus without a full roster of votes.
const DefaultThreshold = 2.0

// Decision is the outcome of evaluating one issue.
type Decision struct {
	// Decided is true when the issue reached a terminal consensus state.
	Decided bool
	// Type is fix_required, dismissed, or closed when Decided; undecided
	// otherwise.
	Type model.ConsensusType
	// FinalSeverity is the weighted-median suggested severity, falling back
	// to the raise severity.
	FinalSeverity model.Severity
	// FixWeight and NoFixWeight are the summed vote weights of each side.
	FixWeight   float64
	NoFixWeight float64
	// ReviewRequested is set when a false_positive vote asks the raiser to
	// re-examine the report.
	ReviewRequested bool
	// AllVoicesHeard is true when every enabled non-raiser reviewer has a
	// vote on record, enabling the majority fallback.
	AllVoicesHeard bool
}

// Evaluate computes the decision for an issue given its full opinion thread
// in insertion order and the enabled agent roster. threshold <= 0 uses the
// default.
func Evaluate(issue *model.Issue, opinions []model.Opinion, agents []model.Agent, threshold float64) Decision {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	strictness := make(map[string]string, len(agents))
	for _, a := range agents {
		strictness[a.Model] = a.Strictness
	}

	// A raiser withdrawal closes the issue outright
	for _, op := range opinions {
		if op.Action == model.ActionWithdraw && op.ModelID == issue.RaisedBy {
			return Decision{
				Decided:       true,
				Type:          model.ConsensusClosed,
				FinalSeverity: issue.Severity,
			}
		}
	}

	// Latest vote-bearing opinion per voter; the thread is already in
	// insertion order, so later entries overwrite earlier ones
	latest := make(map[string]model.Opinion)
	var voters []string
	for _, op := range opinions {
		if !op.Action.VoteBearing() {
			continue
		}
		if _, seen := latest[op.ModelID]; !seen {
			voters = append(voters, op.ModelID)
		}
		latest[op.ModelID] = op
	}

	decision := Decision{Type: model.ConsensusUndecided}
	fixCount, noFixCount := 0, 0
	for _, voter := range voters {
		op := latest[voter]
		weight := op.Weight(strictness[voter])
		switch op.Action {
		case model.ActionFixRequired:
			decision.FixWeight += weight
			fixCount++
		case model.ActionNoFix:
			decision.NoFixWeight += weight
			noFixCount++
		case model.ActionFalsePositive:
			decision.NoFixWeight += weight
			decision.ReviewRequested = true
			noFixCount++
		}
	}

	decision.AllVoicesHeard = allVoicesHeard(issue, agents, latest)
	decision.FinalSeverity = weightedMedianSeverity(issue, voters, latest, strictness)

	switch {
	case decision.FixWeight-decision.NoFixWeight >= threshold:
		decision.Decided = true
		decision.Type = model.ConsensusFixRequired
	case decision.NoFixWeight-decision.FixWeight >= threshold:
		decision.Decided = true
		decision.Type = model.ConsensusDismissed
	case decision.AllVoicesHeard && fixCount != noFixCount:
		// Deadlock bypass: simple majority once every voice is on record
		decision.Decided = true
		if fixCount > noFixCount {
			decision.Type = model.ConsensusFixRequired
		} else {
			decision.Type = model.ConsensusDismissed
		}
	}

	return decision
}

// allVoicesHeard reports whether every enabled reviewer other than the
// raiser has a vote on record.
func allVoicesHeard(issue *model.Issue, agents []model.Agent, latest map[string]model.Opinion) bool {
	heard := false
	for _, a := range agents {
		if !a.Enabled || a.Model == issue.RaisedBy {
			continue
		}
		if _, ok := latest[a.Model]; !ok {
			return false
		}
		heard = true
	}
	return heard
}

// weightedMedianSeverity computes the weighted median of suggested
// severities across the latest votes. Votes without a suggestion are
// skipped; with no suggestions at all, the raise severity stands.
func weightedMedianSeverity(issue *model.Issue, voters []string, latest map[string]model.Opinion, strictness map[string]string) model.Severity {
	type weighted struct {
		severity model.Severity
		weight   float64
	}
	var suggestions []weighted
	total := 0.0
	for _, voter := range voters {
		op := latest[voter]
		if op.SuggestedSeverity == "" {
			continue
		}
		w := op.Weight(strictness[voter])
		suggestions = append(suggestions, weighted{op.SuggestedSeverity, w})
		total += w
	}
	if len(suggestions) == 0 {
		return issue.Severity
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].severity.Rank() < suggestions[j].severity.Rank()
	})

	cumulative := 0.0
	for _, s := range suggestions {
		cumulative += s.weight
		if cumulative >= total/2 {
			return s.severity
		}
	}
	return suggestions[len(suggestions)-1].severity
}
