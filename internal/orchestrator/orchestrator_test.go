package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragsentinel/internal/confidence"
	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/fallback"
	"github.com/knoguchi/ragsentinel/internal/reranker"
	"github.com/knoguchi/ragsentinel/internal/tracestore"
	"github.com/knoguchi/ragsentinel/internal/verifier"
)

// testThresholds mirrors the defaults in spec.md §4.10.
func testThresholds() verifier.Thresholds {
	return verifier.Thresholds{
		PassGroundednessNormal:  0.70,
		PassContradictionNormal: 0.20,
		PassGroundednessStrict:  0.85,
		PassContradictionStrict: 0.10,
		WarnGroundedness:        0.50,
		WarnContradiction:       0.40,
		SelfInconsistency:       0.40,
	}
}

// --- stub collaborators, following this repo's per-package stub style
// (see internal/fallback/fallback_test.go, internal/verifier/stub_test.go) ---

type stubUnderstander struct{}

func (stubUnderstander) Process(_ context.Context, raw string) (domain.ProcessedQuery, error) {
	return domain.ProcessedQuery{Raw: raw, Normalized: raw, Language: "en", Intent: domain.IntentFactual}, nil
}

type stubDecomposer struct{}

func (stubDecomposer) Decompose(_ context.Context, query string) domain.DecomposedQuery {
	return domain.DecomposedQuery{Original: query, SubQuestions: []string{query}}
}

type stubRetriever struct {
	candidates []domain.RetrievalCandidate
}

func (s stubRetriever) Retrieve(_ context.Context, _ string, _, _ int) (domain.RetrievalResult, error) {
	return domain.RetrievalResult{Candidates: s.candidates, UniqueDocuments: len(s.candidates)}, nil
}

type stubReranker struct{}

func (stubReranker) Rerank(_ context.Context, _ string, candidates []domain.RetrievalCandidate, topK int) ([]reranker.ScoredCandidate, error) {
	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]reranker.ScoredCandidate, topK)
	for i := 0; i < topK; i++ {
		out[i] = reranker.ScoredCandidate{RetrievalCandidate: candidates[i], RerankerScore: float32(candidates[i].Score)}
	}
	return out, nil
}

type stubRQScorer struct {
	rq      float64
	reasons []string
}

func (s stubRQScorer) Score(_ []domain.RetrievalCandidate) (float64, []string) {
	return s.rq, s.reasons
}

type stubGate struct {
	normalFallback, normalProceed float64
}

func (g stubGate) Decide(rq float64, _ domain.Mode) domain.RetrievalDecision {
	switch {
	case rq < g.normalFallback:
		return domain.DecisionAbstain
	case rq >= g.normalProceed:
		return domain.DecisionProceed
	default:
		return domain.DecisionFallback
	}
}

type stubFallbackManager struct {
	outcome fallback.Outcome
	err     error
}

func (s stubFallbackManager) Retrieve(_ context.Context, _ string, _ domain.Mode) (fallback.Outcome, error) {
	return s.outcome, s.err
}

type stubGenerator struct {
	answer    string
	citations []domain.Citation
	err       error
}

func (s stubGenerator) Generate(_ context.Context, _ string, _ []domain.RetrievalCandidate, _ *domain.DecomposedQuery, _ domain.Mode) (domain.GenerationResult, error) {
	if s.err != nil {
		return domain.GenerationResult{}, s.err
	}
	return domain.GenerationResult{Answer: s.answer, Citations: s.citations, Done: true}, nil
}

func (s stubGenerator) GenerateStream(_ context.Context, _ string, _ []domain.RetrievalCandidate, _ *domain.DecomposedQuery, _ domain.Mode) (<-chan domain.GenerationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan domain.GenerationResult, 2)
	out <- domain.GenerationResult{Answer: s.answer}
	out <- domain.GenerationResult{Answer: s.answer, Citations: s.citations, Done: true}
	close(out)
	return out, nil
}

type stubGroundedness struct {
	score float64
}

func (s stubGroundedness) Check(_ context.Context, _, _ string, _ []domain.RetrievalCandidate) (float64, []string) {
	return s.score, nil
}

type stubContradiction struct {
	rate float64
}

func (s stubContradiction) DetectAnswerConflicts(_ context.Context, _ string, _ []domain.RetrievalCandidate) float64 {
	return s.rate
}

type stubSelfConsistency struct {
	score float64
}

func (s stubSelfConsistency) Check(_ context.Context, _ string, _ []domain.RetrievalCandidate, _ string) float64 {
	return s.score
}

func candidate(id, docID string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{Chunk: domain.Chunk{ID: id, DocumentID: docID, Content: "evidence text " + id}, Score: score}
}

func newTestOrchestrator(t *testing.T, gate Gate, rq stubRQScorer, gen stubGenerator, ground stubGroundedness, contra stubContradiction) *Orchestrator {
	t.Helper()
	candidates := []domain.RetrievalCandidate{
		candidate("c1", "d1", 0.9),
		candidate("c2", "d2", 0.8),
	}
	return New(
		stubUnderstander{},
		stubDecomposer{},
		stubRetriever{candidates: candidates},
		stubReranker{},
		rq,
		gate,
		stubFallbackManager{},
		gen,
		ground,
		contra,
		stubSelfConsistency{score: 0.9},
		verifier.NewDecisionMaker(testThresholds()),
		confidence.New(0.50, 0.35, 0.15),
		tracestore.NewMemoryStore(10),
		nil,
		Config{TopKBM25: 50, TopKVector: 50, RerankTopN: 10, DefaultLatencyBudget: 5 * time.Second, SelfConsistencyMinBudget: 1500 * time.Millisecond},
		nil,
	)
}

func TestQueryGoodEvidenceAnswers(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.8}
	gen := stubGenerator{answer: "RAG reduces hallucination by grounding answers in evidence [1].", citations: []domain.Citation{{Marker: 1, ChunkID: "c1", DocID: "d1"}}}
	ground := stubGroundedness{score: 0.9}
	contra := stubContradiction{rate: 0.05}

	o := newTestOrchestrator(t, gate, rq, gen, ground, contra)
	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "What does RAG do?", Mode: domain.ModeNormal})
	require.NoError(t, err)

	assert.Equal(t, domain.FinalAnswer, resp.Decision)
	assert.NotEmpty(t, resp.Citations)
	assert.GreaterOrEqual(t, resp.Confidence, 0.5)
}

func TestQueryAbstainsOnWeakRetrieval(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.1, reasons: []string{domain.ReasonLowRelevance}}
	gen := stubGenerator{answer: "should never be called"}
	o := newTestOrchestrator(t, gate, rq, gen, stubGroundedness{}, stubContradiction{})

	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "What is the capital of France?", Mode: domain.ModeNormal})
	require.NoError(t, err)

	assert.Equal(t, domain.FinalAbstain, resp.Decision)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.Empty(t, resp.Citations)
	assert.Contains(t, resp.Reasons, domain.ReasonLowRelevance)
}

func TestQuerySelfAdmittedIgnoranceWithGoodRQClarifies(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.8}
	gen := stubGenerator{answer: "The evidence does not contain information about X.", citations: []domain.Citation{{Marker: 1, ChunkID: "c1", DocID: "d1"}}}
	o := newTestOrchestrator(t, gate, rq, gen, stubGroundedness{score: 0.9}, stubContradiction{rate: 0.0})

	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "What is X?", Mode: domain.ModeNormal})
	require.NoError(t, err)

	assert.Equal(t, domain.FinalClarify, resp.Decision)
	assert.InDelta(t, 0.8*0.5, resp.Confidence, 1e-9)
	assert.NotEmpty(t, resp.Citations) // citations preserved, per spec §4.12
}

func TestQuerySelfAdmittedIgnoranceWithPoorRQAbstains(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.4} // fallback zone, but fallback manager returns none useful below
	gen := stubGenerator{answer: "I am unable to answer this question."}
	fb := stubFallbackManager{outcome: fallback.Outcome{Decision: domain.DecisionProceed, Candidates: []domain.RetrievalCandidate{candidate("c1", "d1", 0.5)}, Score: 0.4}}

	candidates := []domain.RetrievalCandidate{candidate("c1", "d1", 0.9), candidate("c2", "d2", 0.8)}
	o := New(
		stubUnderstander{}, stubDecomposer{}, stubRetriever{candidates: candidates}, stubReranker{},
		rq, gate, fb, gen, stubGroundedness{score: 0.9}, stubContradiction{rate: 0.0}, stubSelfConsistency{score: 0.9},
		verifier.NewDecisionMaker(testThresholds()), confidence.New(0.50, 0.35, 0.15), tracestore.NewMemoryStore(10), nil,
		Config{TopKBM25: 50, TopKVector: 50, RerankTopN: 10, DefaultLatencyBudget: 5 * time.Second, SelfConsistencyMinBudget: 1500 * time.Millisecond},
		nil,
	)

	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "Obscure question", Mode: domain.ModeNormal})
	require.NoError(t, err)
	assert.Equal(t, domain.FinalAbstain, resp.Decision)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestQueryFallbackFailureAbstains(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.4}
	gen := stubGenerator{answer: "should never be called"}
	fb := stubFallbackManager{outcome: fallback.Outcome{Decision: domain.DecisionAbstain}}

	candidates := []domain.RetrievalCandidate{candidate("c1", "d1", 0.9)}
	o := New(
		stubUnderstander{}, stubDecomposer{}, stubRetriever{candidates: candidates}, stubReranker{},
		rq, gate, fb, gen, stubGroundedness{}, stubContradiction{}, stubSelfConsistency{},
		verifier.NewDecisionMaker(testThresholds()), confidence.New(0.50, 0.35, 0.15), tracestore.NewMemoryStore(10), nil,
		Config{TopKBM25: 50, TopKVector: 50, RerankTopN: 10, DefaultLatencyBudget: 5 * time.Second, SelfConsistencyMinBudget: 1500 * time.Millisecond},
		nil,
	)

	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "Obscure question", Mode: domain.ModeNormal})
	require.NoError(t, err)
	assert.Equal(t, domain.FinalAbstain, resp.Decision)
	assert.Contains(t, resp.Reasons, domain.ReasonFallbackFailed)
}

func TestQueryStreamEmitsTokensThenFinal(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.8}
	gen := stubGenerator{answer: "Grounded answer [1].", citations: []domain.Citation{{Marker: 1, ChunkID: "c1", DocID: "d1"}}}
	o := newTestOrchestrator(t, gate, rq, gen, stubGroundedness{score: 0.9}, stubContradiction{rate: 0.0})

	events, err := o.QueryStream(context.Background(), domain.QueryRequest{Query: "question", Mode: domain.ModeNormal})
	require.NoError(t, err)

	var sawToken bool
	var final *domain.QueryResponse
	for ev := range events {
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		sawToken = true
	}
	require.NotNil(t, final)
	assert.True(t, sawToken)
	assert.Equal(t, domain.FinalAnswer, final.Decision)
}

func TestQueryStreamEarlyExitAbstainSkipsTokens(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.55}
	rq := stubRQScorer{rq: 0.1, reasons: []string{domain.ReasonNoResults}}
	gen := stubGenerator{answer: "should never be streamed"}
	o := newTestOrchestrator(t, gate, rq, gen, stubGroundedness{}, stubContradiction{})

	events, err := o.QueryStream(context.Background(), domain.QueryRequest{Query: "out of domain", Mode: domain.ModeNormal})
	require.NoError(t, err)

	count := 0
	var final *domain.QueryResponse
	for ev := range events {
		count++
		if ev.Final != nil {
			final = ev.Final
		}
	}
	assert.Equal(t, 1, count) // only the terminal item, no token fragments
	require.NotNil(t, final)
	assert.Equal(t, domain.FinalAbstain, final.Decision)
}

func TestQueryStrictModeTightensDecision(t *testing.T) {
	gate := stubGate{normalFallback: 0.25, normalProceed: 0.70} // strict proceed threshold
	rq := stubRQScorer{rq: 0.75}
	gen := stubGenerator{answer: "Grounded answer [1].", citations: []domain.Citation{{Marker: 1, ChunkID: "c1", DocID: "d1"}}}
	// groundedness below strict pass (0.85) but above warn (0.50): expect clarify, not answer.
	o := newTestOrchestrator(t, gate, rq, gen, stubGroundedness{score: 0.75}, stubContradiction{rate: 0.05})

	resp, err := o.Query(context.Background(), domain.QueryRequest{Query: "question", Mode: domain.ModeStrict})
	require.NoError(t, err)
	assert.Contains(t, []domain.FinalDecision{domain.FinalAnswer, domain.FinalClarify}, resp.Decision)
	assert.NotEqual(t, domain.FinalAnswer, resp.Decision)
}
