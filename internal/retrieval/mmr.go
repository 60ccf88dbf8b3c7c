package retrieval

import (
	"github.com/hyperjump/kensaku/internal/store"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// maximalMarginalRelevance selects up to k hits balancing query relevance
// against redundancy: each round picks the candidate maximizing
//
//	lambda*score - (1-lambda)*maxSimilarityToSelected
//
// lambda=1 is pure relevance, lambda=0 pure diversity. Candidates arrive
// sorted by score descending, so the first selection is always the top hit.
// The selected set is re-sorted by score so that rank ordering stays
// monotonic in similarity.
func maximalMarginalRelevance(hits []*store.Hit, lambda float64, k int) []*store.Hit {
	if k <= 0 || len(hits) == 0 {
		return nil
	}
	if k > len(hits) {
		k = len(hits)
	}

	selected := make([]*store.Hit, 0, k)
	remaining := make([]*store.Hit, len(hits))
	copy(remaining, hits)

	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	// Track each candidate's max similarity to the selected set incrementally:
	// only the newest selection can raise it.
	maxSim := make(map[*store.Hit]float64, len(remaining))
	for _, c := range remaining {
		maxSim[c] = utils.CosineSimilarity(c.Vector, selected[0].Vector)
	}

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, c := range remaining {
			mmr := lambda*c.Score - (1-lambda)*maxSim[c]
			if bestIdx == -1 || mmr > bestScore {
				bestIdx = i
				bestScore = mmr
			}
		}
		picked := remaining[bestIdx]
		selected = append(selected, picked)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		for _, c := range remaining {
			if sim := utils.CosineSimilarity(c.Vector, picked.Vector); sim > maxSim[c] {
				maxSim[c] = sim
			}
		}
	}

	sortByScore(selected)
	return selected
}
