package retriever

import "github.com/knoguchi/ragsentinel/internal/domain"

// MergeSubQuestionResults combines the per-sub-question RetrievalResults
// produced by running Retrieve once per decomposed sub-question (spec §3:
// "Per sub-question: lexical top-K + dense top-K, RRF-merge, dedup").
// Candidates are deduplicated by chunk id, keeping the one with the highest
// score; first-seen order is otherwise preserved, which is stable because
// each input list already arrives in fused-rank order.
func MergeSubQuestionResults(results []domain.RetrievalResult) domain.RetrievalResult {
	best := make(map[string]domain.RetrievalCandidate)
	order := make([]string, 0)
	uniqueDocs := make(map[string]struct{})

	for _, r := range results {
		for _, c := range r.Candidates {
			id := c.Chunk.ID
			existing, ok := best[id]
			if !ok {
				order = append(order, id)
				best[id] = c
			} else if c.Score > existing.Score {
				best[id] = c
			}
			uniqueDocs[c.Chunk.DocumentID] = struct{}{}
		}
	}

	merged := make([]domain.RetrievalCandidate, 0, len(order))
	for _, id := range order {
		merged = append(merged, best[id])
	}

	return domain.RetrievalResult{
		Candidates:      merged,
		UniqueDocuments: len(uniqueDocs),
	}
}
