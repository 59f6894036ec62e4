// Package orchestrator wires every pipeline stage — understanding,
// decomposition, hybrid retrieval, reranking, RQ scoring, the decision
// gate, fallback, generation, verification, and confidence scoring —
// into the single request/response flow spec §4 and §5 describe.
// Grounded on original_source/pipeline/query_pipeline.py for the stage
// order, the exact abstain/clarify response wording, the self-admitted-
// ignorance refusal-phrase list, and the soft latency budget check.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/fallback"
	"github.com/knoguchi/ragsentinel/internal/metrics"
	"github.com/knoguchi/ragsentinel/internal/reranker"
	"github.com/knoguchi/ragsentinel/internal/retriever"
	"github.com/knoguchi/ragsentinel/internal/tracestore"
)

// Understander is the Query Understanding stage's dependency surface.
type Understander interface {
	Process(ctx context.Context, raw string) (domain.ProcessedQuery, error)
}

// Decomposer is the Query Decomposition stage's dependency surface.
type Decomposer interface {
	Decompose(ctx context.Context, query string) domain.DecomposedQuery
}

// Retriever is the Hybrid Retrieval stage's dependency surface.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topKBM25, topKVector int) (domain.RetrievalResult, error)
}

// RQScorer is the Retrieval Quality Scorer's dependency surface.
type RQScorer interface {
	Score(candidates []domain.RetrievalCandidate) (float64, []string)
}

// Gate is the Decision Gate's dependency surface.
type Gate interface {
	Decide(rq float64, mode domain.Mode) domain.RetrievalDecision
}

// FallbackManager is the Fallback Manager's dependency surface.
type FallbackManager interface {
	Retrieve(ctx context.Context, query string, mode domain.Mode) (fallback.Outcome, error)
}

// Generator is the Answer Generator's dependency surface.
type Generator interface {
	Generate(ctx context.Context, query string, evidence []domain.RetrievalCandidate, decomposition *domain.DecomposedQuery, mode domain.Mode) (domain.GenerationResult, error)
	GenerateStream(ctx context.Context, query string, evidence []domain.RetrievalCandidate, decomposition *domain.DecomposedQuery, mode domain.Mode) (<-chan domain.GenerationResult, error)
}

// GroundednessChecker is the groundedness verifier's dependency surface.
type GroundednessChecker interface {
	Check(ctx context.Context, query, answer string, evidence []domain.RetrievalCandidate) (float64, []string)
}

// ContradictionDetector is the contradiction verifier's dependency surface.
type ContradictionDetector interface {
	DetectAnswerConflicts(ctx context.Context, answer string, evidence []domain.RetrievalCandidate) float64
}

// SelfConsistencyChecker is the self-consistency verifier's dependency surface.
type SelfConsistencyChecker interface {
	Check(ctx context.Context, query string, evidence []domain.RetrievalCandidate, originalAnswer string) float64
}

// VerificationDecider is the Verification Decision Maker's dependency surface.
type VerificationDecider interface {
	Decide(groundedness, contradictionRate float64, selfConsistency *float64, mode domain.Mode) domain.VerificationResult
}

// ConfidenceScorer is the final Confidence Scorer's dependency surface.
type ConfidenceScorer interface {
	Score(rq, groundedness, contradictionRate float64) float64
}

// Config bundles the Orchestrator's tunables, sourced from config.Config.
type Config struct {
	TopKBM25                 int
	TopKVector               int
	RerankTopN               int
	DefaultLatencyBudget     time.Duration
	SelfConsistencyMinBudget time.Duration
}

// Orchestrator runs the full query pipeline end to end (spec §4).
type Orchestrator struct {
	understanding  Understander
	decomposer     Decomposer
	retriever      Retriever
	reranker       reranker.Reranker
	rqScorer       RQScorer
	gate           Gate
	fallbackMgr    FallbackManager
	generator      Generator
	groundedness   GroundednessChecker
	contradiction  ContradictionDetector
	selfConsistency SelfConsistencyChecker
	decider        VerificationDecider
	confidence     ConfidenceScorer
	traces         tracestore.Store
	metrics        *metrics.Metrics
	cfg            Config
	logger         *slog.Logger
}

// New creates an Orchestrator from its collaborators. metrics may be nil,
// in which case no metrics are recorded.
func New(
	understanding Understander,
	decomposer Decomposer,
	retr Retriever,
	rr reranker.Reranker,
	rqScorer RQScorer,
	gate Gate,
	fallbackMgr FallbackManager,
	generator Generator,
	groundedness GroundednessChecker,
	contradiction ContradictionDetector,
	selfConsistency SelfConsistencyChecker,
	decider VerificationDecider,
	confidence ConfidenceScorer,
	traces tracestore.Store,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		understanding:   understanding,
		decomposer:      decomposer,
		retriever:       retr,
		reranker:        rr,
		rqScorer:        rqScorer,
		gate:            gate,
		fallbackMgr:     fallbackMgr,
		generator:       generator,
		groundedness:    groundedness,
		contradiction:   contradiction,
		selfConsistency: selfConsistency,
		decider:         decider,
		confidence:      confidence,
		traces:          traces,
		metrics:         m,
		cfg:             cfg,
		logger:          logger,
	}
}

// run carries the per-request mutable state threaded through every
// stage, so Query and QueryStream can share the retrieval-through-
// decision-gate logic without repeating themselves.
type run struct {
	traceID   string
	mode      domain.Mode
	start     time.Time
	deadline  time.Time
	spans     []domain.Span
	processed domain.ProcessedQuery
	decomposed domain.DecomposedQuery
	candidates []domain.RetrievalCandidate
	rq        float64
	rqReasons []string
	retrievalDecision domain.RetrievalDecision
	fallbackOutcome   domain.FallbackOutcome
}

func (o *Orchestrator) newRun(req domain.QueryRequest) *run {
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeNormal
	}
	budget := o.cfg.DefaultLatencyBudget
	if req.LatencyBudgetMs > 0 {
		budget = time.Duration(req.LatencyBudgetMs) * time.Millisecond
	}
	now := time.Now()
	return &run{
		traceID:  uuid.New().String(),
		mode:     mode,
		start:    now,
		deadline: now.Add(budget),
	}
}

func (r *run) span(name string, start time.Time, err error) {
	s := domain.Span{Name: name, Start: start, Duration: time.Since(start)}
	if err != nil {
		s.Err = err.Error()
	}
	r.spans = append(r.spans, s)
}

func toCandidates(scored []reranker.ScoredCandidate) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, len(scored))
	for i, s := range scored {
		c := s.RetrievalCandidate
		c.Score = float64(s.RerankerScore)
		out[i] = c
	}
	return out
}

// retrieveAndGate runs stages 1 through 6: understanding, decomposition,
// retrieval, reranking, RQ scoring, and the decision gate, including the
// Fallback Manager when the gate doesn't immediately proceed or abstain.
// It returns done=true once it has already produced a terminal response
// (abstain) that the caller should return without running any later
// stage.
func (o *Orchestrator) retrieveAndGate(ctx context.Context, r *run, query string) (resp domain.QueryResponse, done bool, err error) {
	start := time.Now()
	processed, procErr := o.understanding.Process(ctx, query)
	r.span("query_understanding", start, procErr)
	if procErr != nil {
		o.logger.Warn("query_understanding_failed", "error", procErr)
		processed = domain.ProcessedQuery{Raw: query, Normalized: query}
	}
	r.processed = processed

	start = time.Now()
	r.decomposed = o.decomposer.Decompose(ctx, processed.Normalized)
	r.span("decomposition", start, nil)

	start = time.Now()
	results := make([]domain.RetrievalResult, 0, len(r.decomposed.SubQuestions))
	for _, sq := range r.decomposed.SubQuestions {
		result, retrErr := o.retriever.Retrieve(ctx, sq, o.cfg.TopKBM25, o.cfg.TopKVector)
		if retrErr != nil {
			r.span("retrieval", start, retrErr)
			return domain.QueryResponse{}, false, retrErr
		}
		results = append(results, result)
	}
	merged := retriever.MergeSubQuestionResults(results)
	r.span("retrieval", start, nil)

	start = time.Now()
	reranked, rerankErr := o.reranker.Rerank(ctx, processed.Normalized, merged.Candidates, o.cfg.RerankTopN)
	if rerankErr != nil {
		r.span("reranking", start, rerankErr)
		return domain.QueryResponse{}, false, rerankErr
	}
	r.span("reranking", start, nil)
	candidates := toCandidates(reranked)

	start = time.Now()
	rq, rqReasons := o.rqScorer.Score(candidates)
	r.span("rq_scoring", start, nil)
	if o.metrics != nil {
		o.metrics.RetrievalQuality.Observe(rq)
	}

	decision := o.gate.Decide(rq, r.mode)
	r.retrievalDecision = decision
	if o.metrics != nil {
		o.metrics.GateDecisions.WithLabelValues(string(r.mode), string(decision)).Inc()
	}

	if decision == domain.DecisionAbstain {
		resp = o.buildAbstainResponse(r, rq, rqReasons)
		return resp, true, nil
	}

	if decision == domain.DecisionFallback {
		start = time.Now()
		outcome, fbErr := o.fallbackMgr.Retrieve(ctx, processed.Normalized, r.mode)
		r.span("fallback", start, fbErr)
		if fbErr != nil {
			return domain.QueryResponse{}, false, fbErr
		}
		if outcome.Decision == domain.DecisionAbstain {
			r.fallbackOutcome = domain.FallbackFailed
			if o.metrics != nil {
				o.metrics.FallbackOutcomes.WithLabelValues("failed").Inc()
			}
			reasons := append(append([]string{}, rqReasons...), domain.ReasonFallbackFailed)
			resp = o.buildAbstainResponse(r, rq, reasons)
			return resp, true, nil
		}
		r.fallbackOutcome = domain.FallbackUsed
		if o.metrics != nil {
			o.metrics.FallbackOutcomes.WithLabelValues("used").Inc()
		}
		candidates = outcome.Candidates
		rq = outcome.Score
		rqReasons = append(rqReasons, domain.ReasonFallbackUsed)
	} else {
		r.fallbackOutcome = domain.FallbackNone
	}

	r.candidates = candidates
	r.rq = rq
	r.rqReasons = rqReasons
	return domain.QueryResponse{}, false, nil
}
