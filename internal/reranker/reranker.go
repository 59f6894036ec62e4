// Package reranker provides re-ranking capabilities for the Hybrid
// Retriever's fused candidate list (spec §4.4). Re-ranking uses
// cross-encoder-style scoring to improve precision by evaluating the query
// and each candidate together rather than independently.
//
// # Trade-offs
//
//   - Latency: adds noticeable per-query cost (an extra model pass scoring
//     every candidate).
//   - Quality: most valuable when the top candidates from hybrid retrieval
//     have similar fused scores and ordinary ranking can't tell them apart.
//   - Cost: roughly doubles model usage for the candidates it scores.
//
// Reranking is CPU/GPU bound work and spec §5 requires it be offloaded to a
// worker pool rather than run inline on the request goroutine; see
// WorkerPoolReranker.
package reranker

import (
	"context"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

// ScoredCandidate pairs a retrieval candidate with its cross-encoder score.
type ScoredCandidate struct {
	domain.RetrievalCandidate
	RerankerScore float32
}

// Reranker re-orders retrieval candidates by relevance.
type Reranker interface {
	// Rerank takes a query and candidates, and returns them re-ordered by
	// relevance with updated scores. topK limits the output length.
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]ScoredCandidate, error)
}
