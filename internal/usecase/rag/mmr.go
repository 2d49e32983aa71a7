package rag

import (
	"math"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// MMR selects up to k candidates by maximal marginal relevance: each step picks the
// candidate maximising lambda·sim(query, d) − (1−lambda)·max sim(d, selected).
// The first pick is the candidate most similar to the query. Candidates without a
// vector are scored by their store score and count as dissimilar to everything.
// Ties keep the input order.
func MMR(query []float32, candidates []domain.ScoredChunk, k int, lambda float64) []domain.ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	k = min(k, len(candidates))

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = c.Score
		if len(c.Vector) > 0 && len(query) > 0 {
			relevance[i] = domain.Cosine(query, c.Vector)
		}
	}

	// maxSim[i] is the highest similarity of candidate i to anything selected so far,
	// zero until a comparable pick exists.
	maxSim := make([]float64, len(candidates))
	compared := make([]bool, len(candidates))
	taken := make([]bool, len(candidates))
	out := make([]domain.ScoredChunk, 0, k)

	for len(out) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			score := relevance[i]
			if len(out) > 0 {
				score = lambda*relevance[i] - (1-lambda)*maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		taken[best] = true
		picked := candidates[best]
		out = append(out, picked)

		for i, c := range candidates {
			if taken[i] || len(c.Vector) == 0 || len(picked.Vector) == 0 {
				continue
			}
			if sim := domain.Cosine(c.Vector, picked.Vector); !compared[i] || sim > maxSim[i] {
				maxSim[i], compared[i] = sim, true
			}
		}
	}
	return out
}
