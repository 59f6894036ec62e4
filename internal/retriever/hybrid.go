package retriever

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/ragsentinel/internal/chunkstore"
	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/embedder"
	"github.com/knoguchi/ragsentinel/internal/lexical"
	"github.com/knoguchi/ragsentinel/internal/vector"
)

// DefaultTopKBM25 and DefaultTopKVector are the per-backend fan-out widths
// used when a caller doesn't override them (spec §4.1).
const (
	DefaultTopKBM25   = 50
	DefaultTopKVector = 50
	DefaultRRFConstant = 60
)

// HybridRetriever blends lexical (BM25) and dense (vector) recall for a
// single query string, merging the two ranked lists with Reciprocal Rank
// Fusion and resolving fused ids against the chunk store in one batched
// lookup.
type HybridRetriever struct {
	lexical  *lexical.Index
	vectors  *vector.Index
	chunks   chunkstore.Store
	embedder embedder.Embedder
	rrfK     int
}

// New creates a HybridRetriever from its collaborators. rrfK is the RRF
// constant; 0 selects DefaultRRFConstant.
func New(lex *lexical.Index, vecs *vector.Index, chunks chunkstore.Store, emb embedder.Embedder, rrfK int) *HybridRetriever {
	if rrfK <= 0 {
		rrfK = DefaultRRFConstant
	}
	return &HybridRetriever{lexical: lex, vectors: vecs, chunks: chunks, embedder: emb, rrfK: rrfK}
}

// Retrieve embeds the query once, then runs the lexical and dense searches
// concurrently, fuses their results with RRF, and resolves the fused ids
// against the chunk store. Either backend returning nothing is fine; if
// both are empty the result is an empty, error-free list. A chunk id with
// no corresponding chunk store entry is dropped silently rather than
// failing the whole retrieval.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topKBM25, topKVector int) (domain.RetrievalResult, error) {
	if topKBM25 <= 0 {
		topKBM25 = DefaultTopKBM25
	}
	if topKVector <= 0 {
		topKVector = DefaultTopKVector
	}

	queryVec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return domain.RetrievalResult{}, fmt.Errorf("embedding query: %w", err)
	}

	var lexResults []lexical.Result
	var vecResults []vector.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexResults = h.lexical.Search(query, topKBM25)
		return nil
	})
	g.Go(func() error {
		results, err := h.vectors.Search(gctx, queryVec, topKVector)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		vecResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.RetrievalResult{}, err
	}

	lists := make([][]RankedID, 0, 2)
	lists = append(lists, toRankedIDs(vecResults), toRankedIDsFromLexical(lexResults))

	fused := ReciprocalRankFusion(lists, h.rrfK)
	if len(fused) == 0 {
		return domain.RetrievalResult{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	resolved, err := h.chunks.GetBatch(ctx, ids)
	if err != nil {
		return domain.RetrievalResult{}, fmt.Errorf("resolving chunks: %w", err)
	}
	chunksByID := make(map[string]domain.Chunk, len(resolved))
	for _, c := range resolved {
		chunksByID[c.ID] = c
	}

	lexSet := toIDSet(lexResults)
	vecSet := toIDSetFromVector(vecResults)

	uniqueDocs := make(map[string]struct{})
	candidates := make([]domain.RetrievalCandidate, 0, len(fused))
	for _, f := range fused {
		chunk, ok := chunksByID[f.ID]
		if !ok {
			continue
		}
		_, fromLex := lexSet[f.ID]
		_, fromDense := vecSet[f.ID]
		candidates = append(candidates, domain.RetrievalCandidate{
			Chunk:       chunk,
			Score:       f.Score,
			FromLexical: fromLex,
			FromDense:   fromDense,
		})
		uniqueDocs[chunk.DocumentID] = struct{}{}
	}

	return domain.RetrievalResult{
		Candidates:      candidates,
		UniqueDocuments: len(uniqueDocs),
	}, nil
}

func toRankedIDsFromLexical(results []lexical.Result) []RankedID {
	out := make([]RankedID, len(results))
	for i, r := range results {
		out[i] = RankedID{ID: r.ID, Score: r.Score}
	}
	return out
}

func toRankedIDs(results []vector.Result) []RankedID {
	out := make([]RankedID, len(results))
	for i, r := range results {
		out[i] = RankedID{ID: r.ID, Score: r.Score}
	}
	return out
}

func toIDSet(results []lexical.Result) map[string]struct{} {
	set := make(map[string]struct{}, len(results))
	for _, r := range results {
		set[r.ID] = struct{}{}
	}
	return set
}

func toIDSetFromVector(results []vector.Result) map[string]struct{} {
	set := make(map[string]struct{}, len(results))
	for _, r := range results {
		set[r.ID] = struct{}{}
	}
	return set
}
