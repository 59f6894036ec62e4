package rqscore

import "github.com/knoguchi/ragsentinel/internal/domain"

// Thresholds are the fallback/proceed cutoffs for one mode.
type Thresholds struct {
	Fallback float64
	Proceed  float64
}

// Gate maps an RQ score to a RetrievalDecision using mode-dependent
// thresholds (spec §4.6).
type Gate struct {
	Normal Thresholds
	Strict Thresholds
}

// NewGate creates a Gate with the given per-mode thresholds.
func NewGate(normal, strict Thresholds) *Gate {
	return &Gate{Normal: normal, Strict: strict}
}

// Decide returns proceed, fallback, or abstain for the given RQ score and
// mode. rq below the fallback threshold abstains immediately; rq at or
// above the proceed threshold proceeds straight to generation; anything in
// between runs the Fallback Manager.
func (g *Gate) Decide(rq float64, mode domain.Mode) domain.RetrievalDecision {
	t := g.Normal
	if mode == domain.ModeStrict {
		t = g.Strict
	}

	switch {
	case rq < t.Fallback:
		return domain.DecisionAbstain
	case rq >= t.Proceed:
		return domain.DecisionProceed
	default:
		return domain.DecisionFallback
	}
}
