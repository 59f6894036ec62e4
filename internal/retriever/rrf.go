// Package retriever implements the Hybrid Retriever (spec §4.1): it fans a
// query out to the lexical and dense indexes concurrently, merges the two
// ranked lists with Reciprocal Rank Fusion, and resolves the fused chunk ids
// against the chunk store in one batched lookup.
package retriever

import "sort"

// RankedID is a single (id, score) entry from a ranked result list, as
// returned by the lexical or dense backend.
type RankedID struct {
	ID    string
	Score float64
}

// FusedID is a merged result from ReciprocalRankFusion.
type FusedID struct {
	ID    string
	Score float64
}

// ReciprocalRankFusion merges ranked result lists using RRF: each item's
// fused score is the sum of 1/(k + rank + 1) across every list it appears
// in, where rank is its 0-based position in that list. Lists are assumed
// sorted by score descending; fusion itself ignores the raw scores and
// only uses rank. The result is sorted by fused score descending, with a
// stable secondary key (id) so fusion is deterministic regardless of input
// list order when scores tie.
func ReciprocalRankFusion(lists [][]RankedID, k int) []FusedID {
	scores := make(map[string]float64)
	order := make([]string, 0)
	seen := make(map[string]bool)

	for _, list := range lists {
		for rank, item := range list {
			if _, ok := scores[item.ID]; !ok {
				scores[item.ID] = 0
			}
			scores[item.ID] += 1.0 / float64(k+rank+1)
			if !seen[item.ID] {
				seen[item.ID] = true
				order = append(order, item.ID)
			}
		}
	}

	fused := make([]FusedID, 0, len(order))
	for _, id := range order {
		fused = append(fused, FusedID{ID: id, Score: scores[id]})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}
