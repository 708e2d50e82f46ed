package core

import "sort"

// DefaultRRFConstant is the spec's reference smoothing constant (k=60),
// the same empirically-validated value the teacher's own RRFFusion uses.
const DefaultRRFConstant = 60

// RRFFusion combines ranked BM25 and vector result lists via Reciprocal
// Rank Fusion, grounded on the teacher's internal/search.RRFFusion. Unlike
// the teacher, Fuse sums 1/(k+rank) only over the lists a candidate
// actually appears in — the teacher additionally credits a missing-rank
// contribution to candidates present in only one list, which spec §4.8
// step 3 ("for each list the doc appears in, add 1/(k+rank) to its
// score") does not call for; see DESIGN.md.
type RRFFusion struct {
	K int
}

// NewRRFFusion constructs an RRFFusion with the spec's reference k=60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// rankedHit is the minimal shape Fuse needs from either result list: an
// id and its 1-indexed rank in that list.
type rankedHit struct {
	id   string
	rank int
}

// Fuse scores every id appearing in either list by summing 1/(k+rank)
// over the lists it appears in, and returns the fused score of each id
// as an unordered map; sortFusedIDs turns it into a ranking.
func (f *RRFFusion) Fuse(bm25Ranks, vectorRanks []rankedHit) map[string]float64 {
	scores := make(map[string]float64, len(bm25Ranks)+len(vectorRanks))
	for _, h := range bm25Ranks {
		scores[h.id] += 1.0 / float64(f.K+h.rank)
	}
	for _, h := range vectorRanks {
		scores[h.id] += 1.0 / float64(f.K+h.rank)
	}
	return scores
}

// sortFusedIDs returns ids sorted by descending score in scores, ties
// broken lexicographically for deterministic output.
func sortFusedIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
