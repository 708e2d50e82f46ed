package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ChunkRecord is the full C4 VectorStore record (spec §3's Chunk): the
// vector plus the flattened filename/hostId/tags of its parent Document
// that `vector_search`'s hostId/tags predicates run against, and the
// content returned to callers. coder/hnsw's graph only knows vectors and
// opaque string IDs, so ChunkStore keeps this side table alongside it.
type ChunkRecord struct {
	ID          string
	DocID       string
	ChunkIndex  int
	Content     string
	Vector      []float32
	Filename    string
	HostID      string
	Tags        []string
	StartOffset int
	EndOffset   int

	// VectorKey is the uint64 key this record's vector was inserted under
	// in the inner ANN store. ChunkStore assigns it and is the only thing
	// that ever translates between it and ID; the ANN store itself never
	// sees a string ID.
	VectorKey uint64
}

// ChunkStoreStats mirrors spec §4.4's stats() contract.
type ChunkStoreStats struct {
	ChunkCount  int
	DocCount    int
	LastUpdated time.Time
}

// CompactionPolicy governs when ChunkStore.ShouldCompact reports true, so
// that Compact rebuilds the underlying graph (spec §4.4: "after every N deletions... or every T
// seconds... of elapsed wall-clock since the last compaction").
type CompactionPolicy struct {
	DeletionThreshold int
	Interval          time.Duration
}

// DefaultCompactionPolicy returns the spec's reference values (N=10, T=300s).
func DefaultCompactionPolicy() CompactionPolicy {
	return CompactionPolicy{DeletionThreshold: 10, Interval: 300 * time.Second}
}

// ChunkStore implements the full spec §4.4 VectorStore contract: it wraps
// a bare ANN index (HNSWStore, or any VectorStore) with the metadata
// sidecar needed for hostId/tags filtering, docId-scoped removal, and
// periodic compaction. Filtering runs as oversample-then-post-filter
// (coder/hnsw has no native predicate pushdown): FilteredSearch asks the
// inner store for more neighbors than requested and discards any whose
// metadata fails the filter, matching the doc comment on the VectorStore
// interface in types.go.
type ChunkStore struct {
	mu sync.RWMutex

	inner  VectorStore
	dims   int
	policy CompactionPolicy

	records map[string]*ChunkRecord
	byDoc   map[string]map[string]struct{}
	byKey   map[uint64]string

	// nextKey hands out fresh ANN keys. It only ever increases, even
	// across Save/Load, so a key retired by a deletion is never reissued
	// to a different record while its node is still a lazy-deleted orphan
	// sitting in the inner store's on-disk graph.
	nextKey uint64

	deletionsSinceCompact int
	lastCompact           time.Time
	lastUpdated           time.Time
}

// oversampleFactor is how many extra candidates FilteredSearch requests
// per the post-filter discard rate; generous enough that a single-host
// filter over a modestly sized store still returns `limit` results.
const oversampleFactor = 4

// NewChunkStore wraps inner (already initialized to dims) with the
// metadata/filter/compaction layer.
func NewChunkStore(inner VectorStore, dims int, policy CompactionPolicy) *ChunkStore {
	if policy.DeletionThreshold <= 0 {
		policy.DeletionThreshold = DefaultCompactionPolicy().DeletionThreshold
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultCompactionPolicy().Interval
	}
	return &ChunkStore{
		inner:       inner,
		dims:        dims,
		policy:      policy,
		records:     make(map[string]*ChunkRecord),
		byDoc:       make(map[string]map[string]struct{}),
		byKey:       make(map[uint64]string),
		lastCompact: time.Time{},
	}
}

// Dimensions reports the configured dimensionality D.
func (c *ChunkStore) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

// AddRecords inserts a batch of fully-formed ChunkRecords (spec §4.4
// add_records). Every vector must be len == Dimensions(); a mismatch is
// ErrDimensionMismatch and the whole batch is rejected so the index never
// holds partially-inserted mixed-dimension state.
func (c *ChunkStore) AddRecords(ctx context.Context, recs []*ChunkRecord) error {
	if len(recs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]uint64, len(recs))
	vecs := make([][]float32, len(recs))
	for i, r := range recs {
		if len(r.Vector) != c.dims {
			return ErrDimensionMismatch{Expected: c.dims, Got: len(r.Vector)}
		}
		keys[i] = c.nextKey
		c.nextKey++
		vecs[i] = r.Vector
	}

	if err := c.inner.Add(ctx, keys, vecs); err != nil {
		return fmt.Errorf("chunk store: add vectors: %w", err)
	}

	for i, r := range recs {
		cp := *r
		cp.VectorKey = keys[i]
		c.records[r.ID] = &cp
		c.byKey[keys[i]] = r.ID
		if c.byDoc[r.DocID] == nil {
			c.byDoc[r.DocID] = make(map[string]struct{})
		}
		c.byDoc[r.DocID][r.ID] = struct{}{}
	}
	c.lastUpdated = time.Now()
	return nil
}

// RemoveByChunkID deletes a single chunk (spec §4.4 remove_by_chunk_id).
func (c *ChunkStore) RemoveByChunkID(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(ctx, []string{id})
}

// RemoveByDocID deletes every chunk belonging to docID and returns the
// number removed (spec §4.4 remove_by_doc_id).
func (c *ChunkStore) RemoveByDocID(ctx context.Context, docID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.byDoc[docID]
	if !ok || len(set) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	if err := c.removeLocked(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *ChunkStore) removeLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if rec, ok := c.records[id]; ok {
			keys = append(keys, rec.VectorKey)
		}
	}
	if err := c.inner.Delete(ctx, keys); err != nil {
		return fmt.Errorf("chunk store: delete vectors: %w", err)
	}
	for _, id := range ids {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		delete(c.records, id)
		delete(c.byKey, rec.VectorKey)
		if set, ok := c.byDoc[rec.DocID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.byDoc, rec.DocID)
			}
		}
	}
	c.deletionsSinceCompact += len(ids)
	c.lastUpdated = time.Now()
	return nil
}

// UpdateContent rewrites the stored Content for an existing chunk record
// without touching its vector, used by crypto.Manager.ChangePassword's
// reencrypt callback to rewrap every host-memory chunk under the new key
// in place (spec §4.1).
func (c *ChunkStore) UpdateContent(id, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("chunk store: unknown chunk id %s", id)
	}
	rec.Content = content
	c.lastUpdated = time.Now()
	return nil
}

// GetByID returns the single chunk record for id, if present. Callers
// (core.Core) use this to resolve full content/metadata for a BM25-only
// hit, since every chunk is always added to both indexes under the same
// id at ingest time.
func (c *ChunkStore) GetByID(id string) (*ChunkRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// All returns every chunk record in the store, in no particular order.
// Used by dimension-migration rebuilds that must re-embed every chunk
// under a new model before the swap.
func (c *ChunkStore) All() []*ChunkRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ChunkRecord, 0, len(c.records))
	for _, rec := range c.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// GetByDocID returns every chunk record belonging to docID (spec §4.4
// get_by_doc_id).
func (c *ChunkStore) GetByDocID(docID string) []*ChunkRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.byDoc[docID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*ChunkRecord, 0, len(set))
	for id := range set {
		if rec, ok := c.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// FilteredResult pairs a ChunkRecord with its raw vector distance/score.
type FilteredResult struct {
	Record   *ChunkRecord
	Distance float32
	Score    float32
}

// FilteredSearch runs a k-NN query and returns up to limit results whose
// metadata passes filter, implementing spec §4.4's hostId/tags predicate
// semantics (empty hostId on a record is visible to every query; a tag
// filter matches on set intersection).
func (c *ChunkStore) FilteredSearch(ctx context.Context, query []float32, limit int, filter Filter) ([]*FilteredResult, error) {
	c.mu.RLock()
	recordsSnapshot := c.records
	keySnapshot := c.byKey
	c.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	request := limit * oversampleFactor
	if request < limit {
		request = limit
	}

	var hits []*VectorHit
	var err error
	// A store can hold more filtered-out candidates than a single
	// oversampled request reaches; widen the net a few times before
	// giving up, never exceeding the store's total size.
	for attempt := 0; attempt < 3; attempt++ {
		hits, err = c.inner.Search(ctx, query, request)
		if err != nil {
			return nil, err
		}
		matched := filterRecords(hits, keySnapshot, recordsSnapshot, filter, limit)
		if len(matched) >= limit || request >= c.inner.Count() {
			return matched, nil
		}
		request *= oversampleFactor
	}
	return filterRecords(hits, keySnapshot, recordsSnapshot, filter, limit), nil
}

func filterRecords(hits []*VectorHit, byKey map[uint64]string, records map[string]*ChunkRecord, filter Filter, limit int) []*FilteredResult {
	out := make([]*FilteredResult, 0, limit)
	for _, h := range hits {
		id, ok := byKey[h.Key]
		if !ok {
			continue
		}
		rec, ok := records[id]
		if !ok {
			continue
		}
		if !matchesFilter(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &FilteredResult{Record: &cp, Distance: h.Distance, Score: h.Score})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// matchesFilter implements spec §4.4/§4.7's hostId/tags predicate: an
// empty record HostID is visible to all queries; a non-empty one only to
// an exact match. Tags use OR (set-intersection) semantics, and an empty
// filter tag list applies no tag restriction.
func matchesFilter(rec *ChunkRecord, filter Filter) bool {
	if filter.HostID != "" && rec.HostID != "" && rec.HostID != filter.HostID {
		return false
	}
	if len(filter.Tags) > 0 {
		want := make(map[string]struct{}, len(filter.Tags))
		for _, t := range filter.Tags {
			want[t] = struct{}{}
		}
		matched := false
		for _, t := range rec.Tags {
			if _, ok := want[t]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Stats returns chunk/document counts (spec §4.4 stats()).
func (c *ChunkStore) Stats() ChunkStoreStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChunkStoreStats{
		ChunkCount:  len(c.records),
		DocCount:    len(c.byDoc),
		LastUpdated: c.lastUpdated,
	}
}

// Clear drops every record (spec §4.4 clear()), used when the embedding
// tier changes and the store is rebuilt from scratch.
func (c *ChunkStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inner.Close(); err != nil {
		return err
	}
	c.records = make(map[string]*ChunkRecord)
	c.byDoc = make(map[string]map[string]struct{})
	c.byKey = make(map[uint64]string)
	c.nextKey = 0
	return nil
}

// ShouldCompact reports whether the deletion-count or time-elapsed
// threshold from CompactionPolicy has been crossed (spec §4.4).
func (c *ChunkStore) ShouldCompact() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deletionsSinceCompact >= c.policy.DeletionThreshold {
		return true
	}
	if !c.lastCompact.IsZero() && time.Since(c.lastCompact) >= c.policy.Interval {
		return len(c.records) > 0 || c.deletionsSinceCompact > 0
	}
	return false
}

// Compact rebuilds the underlying ANN graph from the live record set,
// discarding coder/hnsw's lazy-deleted orphan nodes (spec §4.4: "idempotent
// and must not block live reads" — readers observe either the pre- or
// post-compaction graph, never a half-rebuilt one, because the swap is a
// single pointer assignment under the write lock).
func (c *ChunkStore) Compact(ctx context.Context, rebuild func(dims int) (VectorStore, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh, err := rebuild(c.dims)
	if err != nil {
		return fmt.Errorf("chunk store: compact rebuild: %w", err)
	}

	keys := make([]uint64, 0, len(c.records))
	vecs := make([][]float32, 0, len(c.records))
	for _, rec := range c.records {
		keys = append(keys, rec.VectorKey)
		vecs = append(vecs, rec.Vector)
	}
	if len(keys) > 0 {
		if err := fresh.Add(ctx, keys, vecs); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("chunk store: compact repopulate: %w", err)
		}
	}

	old := c.inner
	c.inner = fresh
	c.deletionsSinceCompact = 0
	c.lastCompact = time.Now()
	_ = old.Close()
	return nil
}

// chunkStoreSnapshot is the on-disk shape for the metadata sidecar,
// persisted next to the inner store's own native files (spec §6's
// vectors/ directory).
type chunkStoreSnapshot struct {
	Dims int `json:"dims"`
	// NextKey must be persisted explicitly rather than recomputed from
	// the live records' max VectorKey: a key retired by a deletion can
	// still be the highest key physically present as a lazy-deleted
	// orphan in the inner store's on-disk graph, and reissuing it to a
	// new record would collide with that orphan node.
	NextKey uint64                  `json:"nextKey"`
	Records map[string]*ChunkRecord `json:"records"`
}

// Save persists the inner vector store and the metadata sidecar under dir.
func (c *ChunkStore) Save(dir string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chunk store: create dir: %w", err)
	}
	if err := c.inner.Save(filepath.Join(dir, "vectors.hnsw")); err != nil {
		return fmt.Errorf("chunk store: save vectors: %w", err)
	}

	snap := chunkStoreSnapshot{Dims: c.dims, NextKey: c.nextKey, Records: c.records}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("chunk store: marshal metadata: %w", err)
	}
	metaPath := filepath.Join(dir, "chunks.json")
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("chunk store: write metadata: %w", err)
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chunk store: rename metadata: %w", err)
	}
	return nil
}

// Load restores the inner vector store and metadata sidecar from dir. A
// missing metadata file is treated as an empty store (fresh install).
func (c *ChunkStore) Load(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vecPath := filepath.Join(dir, "vectors.hnsw")
	if _, err := os.Stat(vecPath); err == nil {
		if err := c.inner.Load(vecPath); err != nil {
			return fmt.Errorf("chunk store: load vectors: %w", err)
		}
	}

	metaPath := filepath.Join(dir, "chunks.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("chunk store: read metadata: %w", err)
	}
	var snap chunkStoreSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("chunk store: parse metadata: %w", err)
	}

	c.records = snap.Records
	if c.records == nil {
		c.records = make(map[string]*ChunkRecord)
	}
	c.nextKey = snap.NextKey
	c.byDoc = make(map[string]map[string]struct{})
	c.byKey = make(map[uint64]string, len(c.records))
	liveKeys := make([]uint64, 0, len(c.records))
	for id, rec := range c.records {
		if c.byDoc[rec.DocID] == nil {
			c.byDoc[rec.DocID] = make(map[string]struct{})
		}
		c.byDoc[rec.DocID][id] = struct{}{}
		c.byKey[rec.VectorKey] = id
		liveKeys = append(liveKeys, rec.VectorKey)
	}
	c.inner.SyncLiveKeys(liveKeys)
	return nil
}

// Close releases the inner store's resources.
func (c *ChunkStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Close()
}
