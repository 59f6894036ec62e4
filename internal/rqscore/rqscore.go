// Package rqscore implements the Retrieval Quality Scorer and Decision Gate
// (spec §4.5, §4.6): it turns a reranked candidate list into a single
// [0,1] quality score plus a set of reason codes, then decides whether the
// pipeline should proceed to generation, attempt fallback, or abstain
// immediately. Grounded on
// original_source/scoring/retrieval_quality.py for the weighted-sum formula
// and threshold vocabulary.
package rqscore

import (
	"math"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

const epsilon = 1e-8

// Weights are the per-component weights of the RQ weighted sum. They must
// sum to 1 for RQ to land in [0,1] given each component is itself clamped
// to [0,1].
type Weights struct {
	Relevance   float64
	Margin      float64
	Coverage    float64
	Consistency float64
}

// Scorer computes RQ from a reranked candidate list.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer with the given component weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Score computes RQ and its reason codes from reranked candidates, ordered
// best-first. An empty candidate list yields RQ 0 and NO_RESULTS.
func (s *Scorer) Score(candidates []domain.RetrievalCandidate) (float64, []string) {
	if len(candidates) == 0 {
		return 0.0, []string{domain.ReasonNoResults}
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}

	relevance := sigmoidNormalize(scores[0])

	var margin float64
	if len(scores) > 1 {
		margin = (scores[0] - scores[1]) / (math.Abs(scores[0]) + epsilon)
		margin = clamp01(margin)
	} else {
		margin = 1.0
	}

	uniqueDocs := make(map[string]struct{})
	for _, c := range candidates {
		uniqueDocs[c.Chunk.DocumentID] = struct{}{}
	}
	coverage := float64(len(uniqueDocs)) / float64(len(candidates))
	if coverage > 1.0 {
		coverage = 1.0
	}

	topN := scores
	if len(topN) > 5 {
		topN = topN[:5]
	}
	var consistency float64
	if len(topN) > 1 {
		mean, std := meanStd(topN)
		consistency = clamp01(1.0 - std/(mean+epsilon))
	} else {
		consistency = 1.0
	}

	rq := s.weights.Relevance*relevance + s.weights.Margin*margin + s.weights.Coverage*coverage + s.weights.Consistency*consistency
	rq = clamp01(rq)

	var reasons []string
	if relevance < 0.4 {
		reasons = append(reasons, domain.ReasonLowRelevance)
	}
	if margin < 0.1 {
		reasons = append(reasons, domain.ReasonLowMargin)
	}
	if coverage < 0.3 {
		reasons = append(reasons, domain.ReasonLowCoverage)
	}
	if consistency < 0.3 {
		reasons = append(reasons, domain.ReasonLowConsistency)
	}

	return rq, reasons
}

func sigmoidNormalize(x float64) float64 {
	const midpoint = 0.5
	const steepness = 10.0
	return 1.0 / (1.0 + math.Exp(-steepness*(x-midpoint)))
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
