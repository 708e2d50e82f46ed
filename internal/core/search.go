package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
	"github.com/knowhost/corekit/internal/remotesearch"
	"github.com/knowhost/corekit/internal/rerank"
	"github.com/knowhost/corekit/internal/store"
	"github.com/knowhost/corekit/internal/telemetry"
)

// defaultSearchLimit is Search's limit when neither SearchOptions.Limit nor
// settings.SearchTopK is positive.
const defaultSearchLimit = 5

// candidateOversample is how many times limit each of BM25/vector search
// requests, since RRF needs the ranked candidate pool before dedup and
// truncation shrink it back down.
const candidateOversample = 2

// dedupPrefixLen is the trimmed-content prefix length two results must
// share to be treated as duplicates (spec §4.8 step 4).
const dedupPrefixLen = 100

// SearchResultMetadata carries a hit's filter-relevant and display fields.
type SearchResultMetadata struct {
	Filename    string
	HostID      string
	Tags        []string
	StartOffset int
	EndOffset   int
}

// SearchResult is a single ranked hit returned by Core.Search.
type SearchResult struct {
	ID       string
	DocID    string
	Content  string
	Score    float64
	Source   string // "local" or "remote"
	Metadata SearchResultMetadata
}

// SearchOptions narrows and configures a single Search call.
type SearchOptions struct {
	Limit        int
	HostID       string
	Tags         []string
	EnableRerank *bool // nil defers to Settings.EnableRerank
}

// Search runs hybrid retrieval (spec §4.8 search): BM25 and vector
// candidates are fetched concurrently alongside an optional remote
// search fan-out, fused by RRF, deduplicated, optionally reranked, and
// decrypted where applicable.
func (c *Core) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, corekiterrors.New(corekiterrors.ErrCodeQueryEmpty, "search query must not be empty", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = c.settings.SearchTopK
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	fanout := limit * candidateOversample
	filter := store.Filter{HostID: opts.HostID, Tags: opts.Tags}

	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	var bm25Hits []*store.BM25Result
	var vecHits []*store.FilteredResult
	var remoteHits []remotesearch.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := c.bm25.Search(gctx, query, fanout, filter)
		if err != nil {
			return err
		}
		bm25Hits = hits
		return nil
	})
	g.Go(func() error {
		if !c.embedder.Available(gctx) {
			return nil
		}
		qvec, err := c.embedder.Embed(gctx, query)
		if err != nil {
			return nil // embedding failure degrades to lexical-only search
		}
		hits, err := vs.FilteredSearch(gctx, qvec, fanout, filter)
		if err != nil {
			return err
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		if !c.remote.Available() {
			return nil
		}
		hits, err := c.remote.Search(gctx, query, fanout)
		if err != nil {
			c.logger.Warn("remote search adapter failed", "error", err)
			return nil // spec §6: failures from the adapter are logged and swallowed
		}
		remoteHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bm25Ranks := make([]rankedHit, len(bm25Hits))
	for i, h := range bm25Hits {
		bm25Ranks[i] = rankedHit{id: h.DocID, rank: i + 1} // BM25Result.DocID is the chunk id
	}
	vecRanks := make([]rankedHit, len(vecHits))
	for i, h := range vecHits {
		vecRanks[i] = rankedHit{id: h.Record.ID, rank: i + 1}
	}
	scores := c.fusion.Fuse(bm25Ranks, vecRanks)

	results := make([]SearchResult, 0, len(scores)+len(remoteHits))
	for _, id := range sortFusedIDs(scores) {
		rec, ok := vs.GetByID(id)
		if !ok {
			continue // chunk was removed between the search and this lookup
		}
		results = append(results, SearchResult{
			ID:      rec.ID,
			DocID:   rec.DocID,
			Content: rec.Content,
			Score:   scores[id],
			Source:  "local",
			Metadata: SearchResultMetadata{
				Filename:    rec.Filename,
				HostID:      rec.HostID,
				Tags:        rec.Tags,
				StartOffset: rec.StartOffset,
				EndOffset:   rec.EndOffset,
			},
		})
	}
	for _, r := range remoteHits {
		results = append(results, SearchResult{
			ID:      r.ID,
			Content: r.Content,
			Score:   r.Score,
			Source:  "remote",
			Metadata: SearchResultMetadata{
				Filename: r.Filename,
				HostID:   r.HostID,
				Tags:     r.Tags,
			},
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = dedupeByContentPrefix(results)

	enableRerank := c.settings.EnableRerank
	if opts.EnableRerank != nil {
		enableRerank = *opts.EnableRerank
	}
	if enableRerank {
		results = c.rerankResults(ctx, query, results, limit)
	} else if len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		if c.crypto.IsEncrypted(results[i].Content) {
			if plain, err := c.crypto.Decrypt(results[i].Content); err == nil {
				results[i].Content = plain
			}
			// On decrypt failure the ciphertext is left in place (spec §7).
		}
	}

	if c.metrics != nil {
		c.metrics.Record(telemetry.SearchEvent{
			Query:       query,
			Mode:        classifyRetrievalMode(len(bm25Hits), len(vecHits)),
			ResultCount: len(results),
			Latency:     time.Since(start),
			Timestamp:   start,
		})
	}

	return results, nil
}

// dedupeByContentPrefix drops results whose trimmed content shares its
// first dedupPrefixLen characters with an earlier (higher-scored) result.
func dedupeByContentPrefix(results []SearchResult) []SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		key := strings.TrimSpace(r.Content)
		if len(key) > dedupPrefixLen {
			key = key[:dedupPrefixLen]
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// rerankResults hands results to the configured Reranker, preserving each
// SearchResult's full metadata by id and only taking back score/order.
func (c *Core) rerankResults(ctx context.Context, query string, results []SearchResult, limit int) []SearchResult {
	candidates := make([]rerank.Candidate, len(results))
	byID := make(map[string]SearchResult, len(results))
	for i, r := range results {
		candidates[i] = rerank.Candidate{ID: r.ID, Content: r.Content, Score: r.Score}
		byID[r.ID] = r
	}

	reranked, err := c.reranker.Rerank(ctx, query, candidates, limit)
	if err != nil {
		if len(results) > limit {
			return results[:limit]
		}
		return results
	}

	out := make([]SearchResult, 0, len(reranked))
	for _, cand := range reranked {
		r, ok := byID[cand.ID]
		if !ok {
			continue
		}
		r.Score = cand.Score
		out = append(out, r)
	}
	return out
}

func classifyRetrievalMode(bm25Count, vecCount int) telemetry.RetrievalMode {
	switch {
	case bm25Count > 0 && vecCount > 0:
		return telemetry.RetrievalModeHybrid
	case vecCount > 0:
		return telemetry.RetrievalModeVector
	default:
		return telemetry.RetrievalModeBM25
	}
}
