package orchestrator

// Default thresholds. Validity and integration are critical categories and
// need a higher score than the rest.
const (
	DefaultCriticalThreshold = 17
	DefaultStandardThreshold = 15
)

// Gate approves an artifact only when every rubric category meets its own
// threshold. A high total never compensates for one weak category.
type Gate struct {
	Thresholds map[RubricCategory]int
}

// DefaultGate returns the standard thresholds.
func DefaultGate() Gate {
	return Gate{Thresholds: map[RubricCategory]int{
		RubricValidity:       DefaultCriticalThreshold,
		RubricIntegration:    DefaultCriticalThreshold,
		RubricResponsiveness: DefaultStandardThreshold,
		RubricBestPractices:  DefaultStandardThreshold,
		RubricAccessibility:  DefaultStandardThreshold,
	}}
}

// Threshold returns the minimum passing score for a category.
func (g Gate) Threshold(c RubricCategory) int {
	if t, ok := g.Thresholds[c]; ok {
		return t
	}
	return DefaultStandardThreshold
}

// Normalize clamps every rubric category into [0, MaxScore]. Missing
// categories score 0; categories outside the rubric are dropped.
func Normalize(raw Scores) Scores {
	out := make(Scores, len(RubricCategories))
	for _, c := range RubricCategories {
		v := raw[c]
		switch {
		case v < 0:
			v = 0
		case v > MaxScore:
			v = MaxScore
		}
		out[c] = v
	}
	return out
}

// Failing returns the categories scoring below their threshold, in rubric order.
func (g Gate) Failing(scores Scores) []RubricCategory {
	normalized := Normalize(scores)
	var out []RubricCategory
	for _, c := range RubricCategories {
		if normalized[c] < g.Threshold(c) {
			out = append(out, c)
		}
	}
	return out
}

// Evaluate normalizes raw scores and returns the verdict with the normalized
// breakdown.
func (g Gate) Evaluate(raw Scores) (Verdict, Scores) {
	normalized := Normalize(raw)
	if len(g.Failing(normalized)) == 0 {
		return VerdictApproved, normalized
	}
	return VerdictNeedsRevision, normalized
}

// Decision is what the loop does after scoring.
type Decision int

const (
	DecisionContinue  Decision = iota // Generate tasks and revise
	DecisionApproved                  // Terminate, quality bar met
	DecisionExhausted                 // Terminate, no iterations left
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionExhausted:
		return "exhausted"
	default:
		return "continue"
	}
}

// Decide maps a verdict and the loop position to the next step.
// Approval wins over exhaustion on the final iteration.
func Decide(v Verdict, state IterationState) Decision {
	if v == VerdictApproved {
		return DecisionApproved
	}
	if state.Iteration >= state.MaxIterations {
		return DecisionExhausted
	}
	return DecisionContinue
}
