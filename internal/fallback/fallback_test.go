package fallback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/llm"
	"github.com/knoguchi/ragsentinel/internal/reranker"
)

// stubScorer maps a candidate list's first chunk ID to a canned RQ score,
// so tests can control fallback outcomes without depending on the exact
// RQ weighted-sum formula.
type stubScorer struct {
	byFirstChunkID map[string]float64
	fallbackScore  float64
}

func (s *stubScorer) Score(candidates []domain.RetrievalCandidate) (float64, []string) {
	if len(candidates) == 0 {
		return 0, []string{domain.ReasonNoResults}
	}
	if score, ok := s.byFirstChunkID[candidates[0].Chunk.ID]; ok {
		return score, nil
	}
	return s.fallbackScore, nil
}

type stubRetriever struct {
	byQuery map[string]domain.RetrievalResult
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, topKBM25, topKVector int) (domain.RetrievalResult, error) {
	if s.err != nil {
		return domain.RetrievalResult{}, s.err
	}
	return s.byQuery[query], nil
}

type stubReranker struct {
	out []reranker.ScoredCandidate
	err error
}

func (s *stubReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]reranker.ScoredCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	scored := make([]reranker.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = reranker.ScoredCandidate{RetrievalCandidate: c, RerankerScore: float32(c.Score)}
	}
	return scored, nil
}

type stubLLM struct {
	structuredErr  error
	structuredFill func(out any)
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not used")
}

func (s *stubLLM) GenerateStructured(ctx context.Context, prompt string, opts llm.GenerateOptions, out any) error {
	if s.structuredErr != nil {
		return s.structuredErr
	}
	if s.structuredFill != nil {
		s.structuredFill(out)
	}
	return nil
}

func candidateSet(id string, n int, score float64) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, n)
	for i := range out {
		chunkID := id
		if i > 0 {
			chunkID = fmt.Sprintf("%s-%d", id, i)
		}
		out[i] = domain.RetrievalCandidate{
			Chunk: domain.Chunk{ID: chunkID, DocumentID: "d"},
			Score: score,
		}
	}
	return out
}

func testConfig() Config {
	return Config{ExpandK: 150, RerankTopN: 10, MaxRewrites: 3, ProceedRQ: 0.55, FallbackRQ: 0.25}
}

func TestRetrieveSucceedsOnExpandedRetrieval(t *testing.T) {
	strong := candidateSet("strong", 5, 0.95)
	ret := &stubRetriever{byQuery: map[string]domain.RetrievalResult{"query": {Candidates: strong}}}
	rr := &stubReranker{}
	scorer := &stubScorer{byFirstChunkID: map[string]float64{"strong": 0.9}}
	llmClient := &stubLLM{}

	m := New(ret, rr, scorer, llmClient, "test-model", testConfig(), nil)

	outcome, err := m.Retrieve(context.Background(), "query", domain.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Decision != domain.DecisionProceed {
		t.Errorf("Decision = %q, want proceed", outcome.Decision)
	}
}

func TestRetrieveFallsBackToRewritesWhenExpansionWeak(t *testing.T) {
	weak := candidateSet("weak", 1, 0.1)
	strong := candidateSet("strong", 5, 0.95)

	ret := &stubRetriever{byQuery: map[string]domain.RetrievalResult{
		"query":           {Candidates: weak},
		"better phrasing": {Candidates: strong},
	}}
	rr := &stubReranker{}
	scorer := &stubScorer{byFirstChunkID: map[string]float64{"weak": 0.1, "strong": 0.9}}
	llmClient := &stubLLM{structuredFill: func(out any) {
		resp := out.(*rewriteResponse)
		resp.Rewrites = []string{"better phrasing"}
	}}

	m := New(ret, rr, scorer, llmClient, "test-model", testConfig(), nil)

	outcome, err := m.Retrieve(context.Background(), "query", domain.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Decision != domain.DecisionProceed {
		t.Errorf("Decision = %q, want proceed after successful rewrite", outcome.Decision)
	}
	found := false
	for _, r := range outcome.ReasonCodes {
		if r == domain.ReasonFallbackUsed {
			found = true
		}
	}
	if !found {
		t.Errorf("ReasonCodes = %v, want FALLBACK_USED", outcome.ReasonCodes)
	}
}

func TestRetrieveAbstainsWhenNothingWorks(t *testing.T) {
	weak := candidateSet("weak", 1, 0.05)
	ret := &stubRetriever{byQuery: map[string]domain.RetrievalResult{"query": {Candidates: weak}}}
	rr := &stubReranker{}
	scorer := &stubScorer{byFirstChunkID: map[string]float64{"weak": 0.1}}
	llmClient := &stubLLM{structuredErr: errors.New("rewrite unavailable")}

	m := New(ret, rr, scorer, llmClient, "test-model", testConfig(), nil)

	outcome, err := m.Retrieve(context.Background(), "query", domain.ModeNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Decision != domain.DecisionAbstain {
		t.Errorf("Decision = %q, want abstain", outcome.Decision)
	}
	found := false
	for _, r := range outcome.ReasonCodes {
		if r == domain.ReasonFallbackFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("ReasonCodes = %v, want FALLBACK_FAILED", outcome.ReasonCodes)
	}
}
