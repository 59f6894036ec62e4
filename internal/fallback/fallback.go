// Package fallback implements the Fallback Manager (spec §4.7): when the
// Decision Gate doesn't immediately proceed or abstain, it first retries
// retrieval with a much wider k, then — if that's still not enough —
// asks the LLM for up to three alternative phrasings of the query and
// retries each, keeping whichever attempt scored the best RQ. Grounded
// on original_source/retrieval/fallback.py.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/llm"
	"github.com/knoguchi/ragsentinel/internal/reranker"
)

const queryRewritePrompt = `The following query didn't retrieve good results. Generate 3 alternative versions of this query that might retrieve better results. Use synonyms, rephrasings, and different angles.

Original query: %s

Return a JSON object:
- "rewrites": list of 3 alternative query strings`

type rewriteResponse struct {
	Rewrites []string `json:"rewrites"`
}

// Retriever is the subset of the hybrid retriever the Fallback Manager
// needs: a plain re-retrieve at the given per-backend widths.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topKBM25, topKVector int) (domain.RetrievalResult, error)
}

// RQScorer is the subset of rqscore.Scorer the Fallback Manager needs.
type RQScorer interface {
	Score(candidates []domain.RetrievalCandidate) (float64, []string)
}

// Outcome is the result of a fallback attempt: the best candidate set
// found plus the RQ score and reason codes for that set, and whether the
// caller should proceed to generation or abstain.
type Outcome struct {
	Candidates  []domain.RetrievalCandidate
	Score       float64
	ReasonCodes []string
	Decision    domain.RetrievalDecision
}

// Manager runs the widen-then-rewrite fallback cascade.
type Manager struct {
	retriever   Retriever
	reranker    reranker.Reranker
	scorer      RQScorer
	llmClient   llm.LLM
	model       string
	expandK     int
	rerankTopN  int
	maxRewrites int
	proceedRQ   float64
	fallbackRQ  float64
	logger      *slog.Logger
}

// Config bundles the Fallback Manager's tunables.
type Config struct {
	ExpandK     int
	RerankTopN  int
	MaxRewrites int
	ProceedRQ   float64
	FallbackRQ  float64
}

// New creates a Manager from its collaborators and tunables.
func New(retriever Retriever, rr reranker.Reranker, scorer RQScorer, llmClient llm.LLM, model string, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		retriever:   retriever,
		reranker:    rr,
		scorer:      scorer,
		llmClient:   llmClient,
		model:       model,
		expandK:     cfg.ExpandK,
		rerankTopN:  cfg.RerankTopN,
		maxRewrites: cfg.MaxRewrites,
		proceedRQ:   cfg.ProceedRQ,
		fallbackRQ:  cfg.FallbackRQ,
		logger:      logger,
	}
}

// Retrieve executes the fallback cascade for query: widen-K retrieval
// first, then, if that's still below the proceed threshold, up to
// maxRewrites LLM query rewrites, keeping the best-scoring attempt
// overall. mode is accepted but not consulted: the single ProceedRQ /
// FallbackRQ pair from Config gates the outcome in every mode.
func (m *Manager) Retrieve(ctx context.Context, query string, mode domain.Mode) (Outcome, error) {
	candidates, err := m.expandedRetrieval(ctx, query)
	if err != nil {
		return Outcome{}, err
	}
	rq, reasons := m.scorer.Score(candidates)

	if rq >= m.proceedRQ {
		m.logger.Info("fallback_expanded_retrieval_sufficient", "rq", rq)
		return Outcome{Candidates: candidates, Score: rq, ReasonCodes: reasons, Decision: domain.DecisionProceed}, nil
	}

	best := candidates
	bestRQ := rq
	bestReasons := reasons

	rewrites := m.queryRewrite(ctx, query)
	for _, rewrite := range rewrites {
		newCandidates, err := m.retriever.Retrieve(ctx, rewrite, 0, 0)
		if err != nil {
			m.logger.Warn("fallback_rewrite_retrieve_failed", "rewrite", rewrite, "error", err)
			continue
		}
		reranked, err := m.reranker.Rerank(ctx, query, newCandidates.Candidates, m.rerankTopN)
		if err != nil {
			m.logger.Warn("fallback_rewrite_rerank_failed", "rewrite", rewrite, "error", err)
			continue
		}
		plain := toRetrievalCandidates(reranked)
		newRQ, newReasons := m.scorer.Score(plain)
		if newRQ > bestRQ {
			best = plain
			bestRQ = newRQ
			bestReasons = newReasons
		}
	}

	if bestRQ >= m.fallbackRQ {
		m.logger.Info("fallback_succeeded", "rq", bestRQ, "rewrites_tried", len(rewrites))
		return Outcome{Candidates: best, Score: bestRQ, ReasonCodes: append(bestReasons, domain.ReasonFallbackUsed), Decision: domain.DecisionProceed}, nil
	}

	m.logger.Info("fallback_exhausted", "rq", bestRQ, "rewrites_tried", len(rewrites))
	return Outcome{Candidates: best, Score: bestRQ, ReasonCodes: append(bestReasons, domain.ReasonFallbackFailed), Decision: domain.DecisionAbstain}, nil
}

func (m *Manager) expandedRetrieval(ctx context.Context, query string) ([]domain.RetrievalCandidate, error) {
	result, err := m.retriever.Retrieve(ctx, query, m.expandK, m.expandK)
	if err != nil {
		return nil, err
	}
	reranked, err := m.reranker.Rerank(ctx, query, result.Candidates, m.rerankTopN)
	if err != nil {
		return nil, err
	}
	m.logger.Info("expanded_retrieval", "candidates", len(reranked))
	return toRetrievalCandidates(reranked), nil
}

// queryRewrite asks the LLM for up to maxRewrites alternative phrasings
// of query. Any failure degrades to an empty list — the widen-K result
// already computed still stands.
func (m *Manager) queryRewrite(ctx context.Context, query string) []string {
	prompt := fmt.Sprintf(queryRewritePrompt, query)

	var resp rewriteResponse
	err := m.llmClient.GenerateStructured(ctx, prompt, llm.GenerateOptions{Model: m.model, Temperature: 0.7}, &resp)
	if err != nil {
		raw, genErr := m.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: m.model, Temperature: 0.7})
		if genErr != nil {
			m.logger.Warn("query_rewrite_failed", "error", genErr)
			return nil
		}
		if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr != nil {
			m.logger.Warn("query_rewrite_failed", "error", jsonErr)
			return nil
		}
	}

	rewrites := resp.Rewrites
	if len(rewrites) > m.maxRewrites {
		rewrites = rewrites[:m.maxRewrites]
	}
	m.logger.Info("query_rewrites", "count", len(rewrites))
	return rewrites
}

func toRetrievalCandidates(scored []reranker.ScoredCandidate) []domain.RetrievalCandidate {
	out := make([]domain.RetrievalCandidate, len(scored))
	for i, s := range scored {
		c := s.RetrievalCandidate
		c.Score = float64(s.RerankerScore)
		out[i] = c
	}
	return out
}
