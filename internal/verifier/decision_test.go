package verifier

import (
	"testing"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

func testThresholds() Thresholds {
	return Thresholds{
		PassGroundednessNormal:  0.70,
		PassContradictionNormal: 0.20,
		PassGroundednessStrict:  0.85,
		PassContradictionStrict: 0.10,
		WarnGroundedness:        0.50,
		WarnContradiction:       0.40,
		SelfInconsistency:       0.40,
	}
}

func TestDecidePassesOnStrongSignals(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	result := m.Decide(0.9, 0.05, nil, domain.ModeNormal)
	if result.Decision != domain.VerificationPass {
		t.Errorf("Decision = %q, want pass", result.Decision)
	}
	if len(result.ReasonCodes) != 0 {
		t.Errorf("ReasonCodes = %v, want empty", result.ReasonCodes)
	}
}

func TestDecideWarnsInMiddleBand(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	result := m.Decide(0.6, 0.3, nil, domain.ModeNormal)
	if result.Decision != domain.VerificationWarn {
		t.Errorf("Decision = %q, want warn", result.Decision)
	}
}

func TestDecideAbstainsOnWeakSignals(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	result := m.Decide(0.2, 0.8, nil, domain.ModeNormal)
	if result.Decision != domain.VerificationAbstain {
		t.Errorf("Decision = %q, want abstain", result.Decision)
	}
	if !containsReason(result.ReasonCodes, domain.ReasonLowGroundedness) {
		t.Errorf("ReasonCodes missing LOW_GROUNDEDNESS: %v", result.ReasonCodes)
	}
	if !containsReason(result.ReasonCodes, domain.ReasonContradiction) {
		t.Errorf("ReasonCodes missing CONTRADICTION_FOUND: %v", result.ReasonCodes)
	}
}

func TestDecideStrictModeUsesStricterThresholds(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	// 0.8 groundedness / 0.15 contradiction passes normal but not strict.
	normal := m.Decide(0.8, 0.15, nil, domain.ModeNormal)
	strict := m.Decide(0.8, 0.15, nil, domain.ModeStrict)

	if normal.Decision != domain.VerificationPass {
		t.Errorf("normal Decision = %q, want pass", normal.Decision)
	}
	if strict.Decision == domain.VerificationPass {
		t.Errorf("strict Decision = pass, want warn or abstain under strict thresholds")
	}
}

func TestDecideFlagsSelfInconsistency(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	low := 0.2
	result := m.Decide(0.9, 0.05, &low, domain.ModeNormal)
	if !result.RanSelfConsistency {
		t.Errorf("RanSelfConsistency = false, want true")
	}
	if !containsReason(result.ReasonCodes, domain.ReasonSelfInconsistent) {
		t.Errorf("ReasonCodes missing SELF_INCONSISTENCY: %v", result.ReasonCodes)
	}
}

func TestDecideOmitsSelfConsistencyWhenSkipped(t *testing.T) {
	m := NewDecisionMaker(testThresholds())
	result := m.Decide(0.9, 0.05, nil, domain.ModeNormal)
	if result.RanSelfConsistency {
		t.Errorf("RanSelfConsistency = true, want false when skipped")
	}
}

func containsReason(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}
