package orchestrator

import (
	"context"
	"time"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

// Query runs the full nine-stage pipeline (spec §2, §4) for one request
// and returns its final response. It never returns a non-nil error for a
// recoverable signal degradation (spec §7 class 1) — only for the hard
// pipeline errors of class 2 (embedding, chunk-store, or total LLM
// failure), which the caller should surface as an HTTP 500.
func (o *Orchestrator) Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResponse, error) {
	r := o.newRun(req)
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(r.mode)).Inc()
	}

	resp, done, err := o.retrieveAndGate(ctx, r, req.Query)
	if err != nil {
		return domain.QueryResponse{}, err
	}
	if done {
		o.observeDuration(r, resp.Decision)
		return resp, nil
	}

	start := time.Now()
	gen, genErr := o.generator.Generate(ctx, r.processed.Normalized, r.candidates, &r.decomposed, r.mode)
	r.span("generation", start, genErr)
	if genErr != nil {
		return domain.QueryResponse{}, genErr
	}

	if admitsIgnorance(gen.Answer) {
		resp = o.selfAdmittedIgnoranceResponse(r, gen)
		o.observeDuration(r, resp.Decision)
		return resp, nil
	}

	verification, confidence := o.verify(ctx, r, gen)
	allReasons := append(append([]string{}, r.rqReasons...), verification.ReasonCodes...)
	resp = o.buildFinalResponse(r, gen, verification, confidence, allReasons)
	o.observeDuration(r, resp.Decision)
	return resp, nil
}

// QueryStream runs the same pipeline as Query but yields the answer as
// it streams from the generator, followed by a final item carrying the
// fully decided QueryResponse. Gate abstain and fallback-failure paths
// skip straight to the terminal item. Self-admitted ignorance is detected
// only once generation has finished, so on that path the answer's tokens
// have already been sent before the terminal item; verification is
// skipped.
func (o *Orchestrator) QueryStream(ctx context.Context, req domain.QueryRequest) (<-chan domain.StreamEvent, error) {
	r := o.newRun(req)
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(string(r.mode)).Inc()
	}

	out := make(chan domain.StreamEvent)

	resp, done, err := o.retrieveAndGate(ctx, r, req.Query)
	if err != nil {
		close(out)
		return nil, err
	}
	if done {
		go func() {
			defer close(out)
			o.observeDuration(r, resp.Decision)
			out <- domain.StreamEvent{Final: &resp}
		}()
		return out, nil
	}

	gen, genErr := o.generator.GenerateStream(ctx, r.processed.Normalized, r.candidates, &r.decomposed, r.mode)
	if genErr != nil {
		close(out)
		return nil, genErr
	}

	go func() {
		defer close(out)
		var final domain.GenerationResult
		startGen := time.Now()
		for fragment := range gen {
			if fragment.Err != nil {
				r.span("generation", startGen, fragment.Err)
				return
			}
			if fragment.Done {
				final = fragment
				r.span("generation", startGen, nil)
				break
			}
			if fragment.Answer != "" {
				select {
				case out <- domain.StreamEvent{Token: fragment.Answer}:
				case <-ctx.Done():
					return
				}
			}
		}

		if admitsIgnorance(final.Answer) {
			resp := o.selfAdmittedIgnoranceResponse(r, final)
			o.observeDuration(r, resp.Decision)
			out <- domain.StreamEvent{Final: &resp}
			return
		}

		verification, confidence := o.verify(ctx, r, final)
		allReasons := append(append([]string{}, r.rqReasons...), verification.ReasonCodes...)
		resp := o.buildFinalResponse(r, final, verification, confidence, allReasons)
		o.observeDuration(r, resp.Decision)
		out <- domain.StreamEvent{Final: &resp}
	}()

	return out, nil
}

// selfAdmittedIgnoranceResponse implements spec §4.12's two-arm policy:
// when the model hedges despite good evidence, report clarify; otherwise
// abstain. Either way verification is bypassed entirely so its latency is
// never charged on an answer that has already disqualified itself.
func (o *Orchestrator) selfAdmittedIgnoranceResponse(r *run, gen domain.GenerationResult) domain.QueryResponse {
	if o.gate.Decide(r.rq, r.mode) == domain.DecisionProceed {
		return o.buildClarifyResponse(r, gen, r.rq, r.rqReasons)
	}
	return o.buildAbstainResponse(r, r.rq, r.rqReasons)
}

// verify runs the Verifier Bank (spec §4.9) and the Verification
// Decision Maker (spec §4.10), then the Confidence Scorer (spec §4.11).
// Groundedness and contradiction always run concurrently; self-
// consistency runs only if the remaining budget exceeds the configured
// floor (spec §5's "optional stages are dropped below the 1.5s floor").
func (o *Orchestrator) verify(ctx context.Context, r *run, gen domain.GenerationResult) (domain.VerificationResult, float64) {
	start := time.Now()

	type groundResult struct {
		score   float64
		reasons []string
	}
	groundCh := make(chan groundResult, 1)
	contraCh := make(chan float64, 1)

	go func() {
		score, claims := o.groundedness.Check(ctx, r.processed.Normalized, gen.Answer, r.candidates)
		groundCh <- groundResult{score: score, reasons: claims}
	}()
	go func() {
		contraCh <- o.contradiction.DetectAnswerConflicts(ctx, gen.Answer, r.candidates)
	}()

	ground := <-groundCh
	contradictionRate := <-contraCh

	var selfConsistency *float64
	remaining := time.Until(r.deadline)
	if remaining > o.cfg.SelfConsistencyMinBudget {
		sc := o.selfConsistency.Check(ctx, r.processed.Normalized, r.candidates, gen.Answer)
		selfConsistency = &sc
	}
	r.span("verification", start, nil)

	verification := o.decider.Decide(ground.score, contradictionRate, selfConsistency, r.mode)
	verification.Groundedness = ground.score
	verification.ContradictionRate = contradictionRate
	if selfConsistency != nil {
		verification.SelfConsistency = *selfConsistency
		verification.RanSelfConsistency = true
	}

	if o.metrics != nil {
		o.metrics.VerificationResult.WithLabelValues(string(r.mode), string(verification.Decision)).Inc()
	}

	confidence := o.confidence.Score(r.rq, ground.score, contradictionRate)
	return verification, confidence
}

func (o *Orchestrator) observeDuration(r *run, decision domain.FinalDecision) {
	if o.metrics == nil {
		return
	}
	o.metrics.RequestDuration.WithLabelValues(string(r.mode), string(decision)).Observe(time.Since(r.start).Seconds())
}
