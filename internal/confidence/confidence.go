// Package confidence implements the final Confidence Scorer (spec §4.11):
// a weighted combination of retrieval quality and verification signals
// into the single confidence number returned to the caller. Grounded on
// original_source/scoring/confidence.py, whose three weights map
// directly onto the config package's CONFIDENCE_WEIGHT_* settings.
package confidence

// Scorer combines retrieval quality and verification outcomes into a
// single confidence value.
type Scorer struct {
	alpha float64 // weight on retrieval quality
	beta  float64 // weight on groundedness
	gamma float64 // weight on contradiction rate (subtracted)
}

// New creates a Scorer from the configured weights.
func New(alpha, beta, gamma float64) *Scorer {
	return &Scorer{alpha: alpha, beta: beta, gamma: gamma}
}

// Score computes confidence = clamp(alpha*rq + beta*groundedness -
// gamma*contradictionRate, 0, 1).
func (s *Scorer) Score(rq, groundedness, contradictionRate float64) float64 {
	conf := s.alpha*rq + s.beta*groundedness - s.gamma*contradictionRate
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}
