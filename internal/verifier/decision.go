package verifier

import "github.com/knoguchi/ragsentinel/internal/domain"

// Thresholds holds the mode-dependent pass/warn cutoffs the Decision
// Maker uses, sourced from config.Config's VERIFY_* settings.
type Thresholds struct {
	PassGroundednessNormal  float64
	PassContradictionNormal float64
	PassGroundednessStrict  float64
	PassContradictionStrict float64
	WarnGroundedness        float64
	WarnContradiction       float64
	// SelfInconsistency is the cutoff below which a self-consistency
	// score contributes SELF_INCONSISTENCY regardless of mode, matching
	// original_source/verification/decision.py's literal 0.4.
	SelfInconsistency float64
}

// DecisionMaker combines groundedness, contradiction, and optional
// self-consistency signals into a pass/warn/abstain verdict.
type DecisionMaker struct {
	thresholds Thresholds
}

// NewDecisionMaker creates a DecisionMaker using the given thresholds.
func NewDecisionMaker(thresholds Thresholds) *DecisionMaker {
	return &DecisionMaker{thresholds: thresholds}
}

// Decide implements the pass/warn/abstain table from
// original_source/verification/decision.py. selfConsistency is nil when
// the stage was skipped (e.g. the latency budget ran out).
func (m *DecisionMaker) Decide(groundedness, contradictionRate float64, selfConsistency *float64, mode domain.Mode) domain.VerificationResult {
	t := m.thresholds
	passGround, passContra := t.PassGroundednessNormal, t.PassContradictionNormal
	if mode == domain.ModeStrict {
		passGround, passContra = t.PassGroundednessStrict, t.PassContradictionStrict
	}

	var reasons []string
	if groundedness < t.WarnGroundedness {
		reasons = append(reasons, domain.ReasonLowGroundedness)
	}
	if contradictionRate > t.WarnContradiction {
		reasons = append(reasons, domain.ReasonContradiction)
	}
	if selfConsistency != nil && *selfConsistency < m.thresholds.SelfInconsistency {
		reasons = append(reasons, domain.ReasonSelfInconsistent)
	}

	var decision domain.VerificationDecision
	switch {
	case groundedness >= passGround && contradictionRate <= passContra:
		decision = domain.VerificationPass
	case groundedness >= t.WarnGroundedness && contradictionRate <= t.WarnContradiction:
		decision = domain.VerificationWarn
	default:
		decision = domain.VerificationAbstain
	}

	result := domain.VerificationResult{
		Groundedness:      groundedness,
		ContradictionRate: contradictionRate,
		Decision:          decision,
		ReasonCodes:       reasons,
	}
	if selfConsistency != nil {
		result.SelfConsistency = *selfConsistency
		result.RanSelfConsistency = true
	}
	return result
}
