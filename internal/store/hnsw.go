package store

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore using coder/hnsw's pure Go HNSW graph.
// It is a thin geometric search engine: callers own string chunk IDs, the
// mapping to the uint64 keys the graph speaks, and persistence of that
// mapping. ChunkStore is the sole caller and owns all of that bookkeeping
// (chunkstore.go).
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// live is the set of keys that should still appear in Search/Count.
	// Deleted keys are dropped from live but their nodes stay in the
	// graph (lazy delete, see Delete). After Load, live starts empty
	// until the caller restores it via SyncLiveKeys.
	live map[uint64]struct{}

	closed bool
}

// NewHNSWStore creates a new HNSW-based vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // coder/hnsw's default level generation factor

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		live:   make(map[uint64]struct{}),
	}, nil
}

// Add inserts vectors under caller-assigned keys.
func (s *HNSWStore) Add(ctx context.Context, keys []uint64, vectors [][]float32) error {
	if len(keys) == 0 {
		return nil
	}

	if len(keys) != len(vectors) {
		return fmt.Errorf("keys and vectors length mismatch: %d vs %d", len(keys), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	for i, key := range keys {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)
		s.live[key] = struct{}{}
	}

	return nil
}

// Search finds k nearest neighbors to query vector, restricted to live keys.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if s.graph.Len() == 0 {
		return []*VectorHit{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	nodes := s.graph.Search(normalizedQuery, k)

	hits := make([]*VectorHit, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := s.live[node.Key]; !ok {
			// orphaned by a prior lazy delete, or never synced after Load
			continue
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		score := distanceToScore(distance, s.config.Metric)

		hits = append(hits, &VectorHit{
			Key:      node.Key,
			Distance: distance,
			Score:    score,
		})
	}

	return hits, nil
}

// Delete lazily removes keys: the node stays in the graph but is excluded
// from Search/Count. coder/hnsw has no supported way to physically remove
// a node from a non-trivial graph.
func (s *HNSWStore) Delete(ctx context.Context, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, key := range keys {
		delete(s.live, key)
	}

	return nil
}

// SyncLiveKeys replaces the store's liveness set, used right after Load to
// restore which of the imported graph's nodes are still live according to
// the caller's own record of the id<->key mapping.
func (s *HNSWStore) SyncLiveKeys(keys []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = make(map[uint64]struct{}, len(keys))
	for _, k := range keys {
		s.live[k] = struct{}{}
	}
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.live)
}

// GraphStats reports the graph's raw node count alongside the live count,
// so a caller deciding whether to compact can see how many lazily deleted
// orphans are weighing the graph down.
type GraphStats struct {
	Live       int // keys that still appear in Search/Count
	GraphNodes int // total nodes physically in the graph, including orphans
	Orphans    int // GraphNodes - Live
}

// Stats reports live/orphan counts for compaction decisions.
func (s *HNSWStore) Stats() GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return GraphStats{}
	}

	live := len(s.live)
	nodes := s.graph.Len()

	return GraphStats{
		Live:       live,
		GraphNodes: nodes,
		Orphans:    nodes - live,
	}
}

// Save persists the graph to disk using an atomic write (temp file +
// rename). It carries no ID mapping or liveness metadata of its own — that
// lives in ChunkStore's own sidecar file.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return nil
}

// Load imports the graph from disk. The live set starts empty; the caller
// must call SyncLiveKeys afterward to make any keys visible again.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.live = make(map[uint64]struct{})

	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil

	return nil
}

// Verify interface implementation
var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score.
// For cosine distance: score = 1 - distance/2 (distance ranges 0-2)
// For L2 distance: score = 1 / (1 + distance)
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos":
		return 1.0 - distance/2.0
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
