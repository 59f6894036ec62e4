package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

// abstainText is returned whenever the gate or fallback abstains before
// generation runs, and on the self-admitted-ignorance abstain path after it.
const abstainText = "I cannot provide a reliable answer. The retrieved evidence is insufficient for this question."

// abstainAfterVerificationText is returned when verification itself
// decides to abstain after an answer was already generated — original_
// source's query_pipeline.py uses distinct wording for the two cases, so
// this mirrors that rather than collapsing them into one string.
const abstainAfterVerificationText = "I cannot provide a reliable answer to this question. The evidence is insufficient or contradictory."

const clarifyNote = "\n\nNote: This answer has moderate uncertainty. Some claims may not be fully supported by the available evidence."

// refusalPhrases are substrings that mark an answer as self-admitting
// insufficient evidence. Only explicit refusal patterns are listed, to
// avoid false positives on legitimate phrases like "not contained in the
// model weights".
var refusalPhrases = []string{
	"do not contain information",
	"does not contain information",
	"do not contain the answer",
	"does not contain the answer",
	"do not contain the necessary",
	"do not contain the coordinates",
	"don't contain information",
	"doesn't contain information",
	"cannot answer the question",
	"cannot answer this question",
	"unable to answer",
	"i cannot provide an answer",
	"i am unable to",
	"no relevant information",
	"outside the scope of",
	"is not discussed in",
	"are not discussed in",
	"not contain any information",
	"do not address",
	"does not address",
	"not provided in the evidence",
}

func admitsIgnorance(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// mapDecision maps a VerificationDecision to the external FinalDecision.
func mapDecision(v domain.VerificationDecision) domain.FinalDecision {
	switch v {
	case domain.VerificationPass:
		return domain.FinalAnswer
	case domain.VerificationWarn:
		return domain.FinalClarify
	default:
		return domain.FinalAbstain
	}
}

func (o *Orchestrator) buildAbstainResponse(r *run, rq float64, reasons []string) domain.QueryResponse {
	resp := domain.QueryResponse{
		Answer:     abstainText,
		Citations:  []domain.Citation{},
		Confidence: 0.0,
		Decision:   domain.FinalAbstain,
		Reasons:    reasons,
		Debug: domain.DebugInfo{
			RetrievalQuality: rq,
			RerankTopScores:  []float64{},
			TraceID:          r.traceID,
			LatencyMs:        float64(time.Since(r.start).Milliseconds()),
		},
	}
	if o.metrics != nil {
		o.metrics.FinalDecisions.WithLabelValues(string(domain.FinalAbstain)).Inc()
	}
	o.persistTrace(r, rq, reasons, 0.0, domain.FinalAbstain, nil)
	return resp
}

func (o *Orchestrator) buildClarifyResponse(r *run, gen domain.GenerationResult, rq float64, reasons []string) domain.QueryResponse {
	confidence := clamp01(rq * 0.5)
	resp := domain.QueryResponse{
		Answer:     gen.Answer + clarifyNote,
		Citations:  gen.Citations,
		Confidence: confidence,
		Decision:   domain.FinalClarify,
		Reasons:    reasons,
		Debug: domain.DebugInfo{
			RetrievalQuality: rq,
			RerankTopScores:  []float64{},
			TraceID:          r.traceID,
			LatencyMs:        float64(time.Since(r.start).Milliseconds()),
		},
	}
	if o.metrics != nil {
		o.metrics.FinalDecisions.WithLabelValues(string(domain.FinalClarify)).Inc()
	}
	o.persistTrace(r, rq, reasons, confidence, domain.FinalClarify, nil)
	return resp
}

func rerankTopScores(candidates []domain.RetrievalCandidate) []float64 {
	n := len(candidates)
	if n > 5 {
		n = 5
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].Score
	}
	return out
}

func (o *Orchestrator) buildFinalResponse(r *run, gen domain.GenerationResult, verification domain.VerificationResult, confidence float64, allReasons []string) domain.QueryResponse {
	decision := mapDecision(verification.Decision)

	var answerText string
	switch decision {
	case domain.FinalAbstain:
		answerText = abstainAfterVerificationText
	case domain.FinalClarify:
		answerText = gen.Answer + clarifyNote
	default:
		answerText = gen.Answer
	}

	citations := gen.Citations
	if decision == domain.FinalAbstain {
		citations = []domain.Citation{}
	}

	resp := domain.QueryResponse{
		Answer:     answerText,
		Citations:  citations,
		Confidence: confidence,
		Decision:   decision,
		Reasons:    allReasons,
		Debug: domain.DebugInfo{
			RetrievalQuality: r.rq,
			RerankTopScores:  rerankTopScores(r.candidates),
			TraceID:          r.traceID,
			LatencyMs:        float64(time.Since(r.start).Milliseconds()),
		},
	}
	if o.metrics != nil {
		o.metrics.Confidence.Observe(confidence)
		o.metrics.FinalDecisions.WithLabelValues(string(decision)).Inc()
	}
	o.persistTrace(r, r.rq, allReasons, confidence, decision, &verification)
	return resp
}

// persistTrace saves the request trace fire-and-forget: the caller never
// waits on this, and it uses a detached context since the request's own
// context may already be canceled by the time the goroutine runs.
func (o *Orchestrator) persistTrace(r *run, rq float64, reasons []string, confidence float64, decision domain.FinalDecision, verification *domain.VerificationResult) {
	if o.traces == nil {
		return
	}
	trace := domain.Trace{
		ID:                r.traceID,
		Query:             r.processed.Raw,
		Mode:              r.mode,
		Spans:             r.spans,
		RQ:                rq,
		RQReasonCodes:     reasons,
		RetrievalDecision: r.retrievalDecision,
		FallbackOutcome:   r.fallbackOutcome,
		Verification:      verification,
		Confidence:        confidence,
		Final:             decision,
		CreatedAt:         time.Now(),
	}
	go func() {
		if err := o.traces.Save(context.Background(), trace); err != nil {
			o.logger.Warn("trace_save_failed", "trace_id", trace.ID, "error", err)
		}
	}()
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
