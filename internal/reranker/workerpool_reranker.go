package reranker

import (
	"context"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/workerpool"
)

// WorkerPoolReranker wraps a Reranker so that at most N rerank calls run
// concurrently across all in-flight queries, bounding the load a burst of
// requests places on the reranking backend (spec §5).
type WorkerPoolReranker struct {
	inner Reranker
	pool  *workerpool.Pool
}

// NewWorkerPoolReranker wraps inner with a pool sized workers.
func NewWorkerPoolReranker(inner Reranker, workers int) *WorkerPoolReranker {
	return &WorkerPoolReranker{inner: inner, pool: workerpool.New(workers)}
}

// Rerank blocks until a worker slot is free, then delegates to the wrapped
// Reranker.
func (w *WorkerPoolReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]ScoredCandidate, error) {
	var out []ScoredCandidate
	err := w.pool.Submit(ctx, func(ctx context.Context) error {
		scored, err := w.inner.Rerank(ctx, query, candidates, topK)
		if err != nil {
			return err
		}
		out = scored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Reranker = (*WorkerPoolReranker)(nil)
