// Package store provides the two search indexes C4 VectorStore (HNSW) and
// C5 BM25Index (bleve), plus the shared hostId/tags filter semantics spec
// §4.4/§4.5 require on top of them.
package store

import (
	"context"
	"fmt"
)

// Filter narrows a search to chunks visible under hostId/tags semantics
// (spec §4.7): an empty HostID matches every query (no host scoping was
// requested); a non-empty HostID matches chunks tagged with that exact
// host plus chunks with no HostID. Tags match with OR semantics — a chunk matches if it carries
// any of the requested tags; an empty Tags list applies no tag filter.
type Filter struct {
	HostID string
	Tags   []string
}

// Document is a single retrievable unit indexed into both the BM25 index
// and (once embedded) the vector store. ID is the chunk ID produced by
// internal/chunk.
type Document struct {
	ID       string
	Content  string
	Filename string
	HostID   string
	Tags     []string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using the BM25 algorithm, filtered by
// hostId/tags (spec §4.5, §4.7).
type BM25Index interface {
	// Index adds or replaces documents in the index.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25 and
	// restricted to chunks visible under filter.
	Search(ctx context.Context, query string, limit int, filter Filter) ([]*BM25Result, error)

	// Delete removes documents from index.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index. K1/B are carried as documented
// reference values (spec §4.5: k1=1.5, b=0.75); bleve's scorer doesn't
// expose these as tunable knobs (see DESIGN.md), so they're validated and
// surfaced to callers but not literally plumbed into the scoring formula.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (spec reference: 1.5).
	K1 float64

	// B is the length normalization parameter (spec reference: 0.75).
	B float64

	// MinTokenLength is the minimum token length to index (default: 1 —
	// CJK unigrams are one rune and must still be indexed).
	MinTokenLength int
}

// DefaultBM25Config returns the spec's reference BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.5,
		B:              0.75,
		MinTokenLength: 1,
	}
}

// VectorHit represents a single vector search result, keyed by the numeric
// key its caller assigned at insert time. The raw ANN graph only speaks
// uint64 keys; translating those to chunk IDs and enforcing hostId/tags
// visibility is ChunkStore's job (chunkstore.go), not the graph's.
type VectorHit struct {
	Key      uint64
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the active embedding tier's output dimensionality.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfConstruction is HNSW build-time search width.
	EfConstruction int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store
// at the given dimensionality.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       20,
	}
}

// VectorStore is a bare ANN graph: it knows nothing about chunk IDs,
// hostId/tags filters, or which of its keys are still live after a reload
// — that bookkeeping belongs to ChunkStore (spec §4.4/§4.7), which is the
// only caller and owns the string-ID<->key mapping. Filtering by
// hostId/tags via oversample-then-post-filter happens one layer up, in
// ChunkStore.FilteredSearch, since coder/hnsw has no native metadata
// filtering.
type VectorStore interface {
	// Add inserts vectors under caller-assigned keys. Keys are expected to
	// be fresh; reusing a key is undefined (coder/hnsw has no supported
	// update-in-place path, only lazy delete).
	Add(ctx context.Context, keys []uint64, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector, restricted to keys
	// last passed to SyncLiveKeys or Add.
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)

	// Delete lazily removes keys: they stop appearing in Search/Count but
	// their nodes remain in the underlying graph (coder/hnsw has no safe
	// way to physically delete a node once the graph is non-trivial).
	Delete(ctx context.Context, keys []uint64) error

	// SyncLiveKeys replaces the store's liveness set after Load, since an
	// imported graph file can carry orphaned nodes left over from a lazy
	// delete before the last Save. The caller (ChunkStore) is the
	// authority on which keys are still live.
	SyncLiveKeys(keys []uint64)

	// Count returns the number of live vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch between a
// query/insert and the store's configured dimensionality, which forces a
// VectorStore rebuild and re-embed (spec §4.3/§4.8).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the vector store)", e.Expected, e.Got)
}
