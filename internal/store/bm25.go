package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// knowledgeTokenizerName is the name of the CJK-aware tokenizer.
	knowledgeTokenizerName = "knowledge_tokenizer"

	// knowledgeAnalyzerName wraps knowledgeTokenizerName with no further
	// token filters: no stemming, no stopwords (spec §4.5).
	knowledgeAnalyzerName = "knowledge_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(knowledgeTokenizerName, knowledgeTokenizerConstructor)
}

// BleveBM25Index wraps bleve for BM25 keyword search, restricted by
// hostId/tags filters on two auxiliary keyword fields (spec §4.7).
//
// Note on persistence: spec §6 describes the BM25 index as a single
// "bm25/index.bin" file; bleve's scorch backend persists as a directory
// of segment files instead and has no single-file mode. Save/Load here
// keep bleve's native directory layout at the configured path (this
// deviation is inherited directly from the teacher's own bleve usage,
// not introduced here — see DESIGN.md).
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config BM25Config
	closed bool
}

// bleveDocument is the document shape indexed into bleve.
type bleveDocument struct {
	Content    string   `json:"content"`
	HostID     string   `json:"host_id"`
	HostPublic bool     `json:"host_public"`
	Tags       []string `json:"tags"`
}

// validateIndexIntegrity checks a bleve index directory for the telltale
// signs of an interrupted write before opening it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveBM25Index creates a new BM25 index. If path is empty, creates an
// in-memory index. Auto-recovers from a corrupted on-disk index by
// clearing it and starting fresh, logging the recovery.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bm25_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("bm25_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bm25_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("BM25 index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("bm25_index_cleared", slog.String("path", path), slog.String("reason", "open failed with corruption"))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path, config: config}, nil
}

// createIndexMapping builds the bleve mapping: "content" uses the
// CJK-aware tokenizer, "host_id"/"tags" use bleve's built-in keyword
// analyzer (indexed verbatim, exact match only), "host_public" is boolean.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	if err := indexMapping.AddCustomAnalyzer(knowledgeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": knowledgeTokenizerName,
	}); err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = knowledgeAnalyzerName
	docMapping.AddFieldMappingsAt("content", contentField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("host_id", keywordField)
	docMapping.AddFieldMappingsAt("tags", keywordField)

	boolField := bleve.NewBooleanFieldMapping()
	docMapping.AddFieldMappingsAt("host_public", boolField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = knowledgeAnalyzerName

	return indexMapping, nil
}

// Index adds or replaces documents in the index.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		bd := bleveDocument{
			Content:    doc.Content,
			HostID:     doc.HostID,
			HostPublic: doc.HostID == "",
			Tags:       doc.Tags,
		}
		if err := batch.Index(doc.ID, bd); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	return b.index.Batch(batch)
}

// Search returns documents matching query, scored by BM25 and restricted
// to chunks visible under filter (spec §4.7).
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int, filter Filter) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(matchQuery)

	if filter.HostID != "" {
		hostQuery := bleve.NewBooleanQuery()
		publicQuery := bleve.NewBoolFieldQuery(true)
		publicQuery.SetField("host_public")
		exactQuery := bleve.NewTermQuery(filter.HostID)
		exactQuery.SetField("host_id")
		hostQuery.AddShould(publicQuery, exactQuery)
		hostQuery.SetMinShould(1)
		boolQuery.AddMust(hostQuery)
	}

	if len(filter.Tags) > 0 {
		tagQuery := bleve.NewBooleanQuery()
		for _, tag := range filter.Tags {
			tq := bleve.NewTermQuery(tag)
			tq.SetField("tags")
			tagQuery.AddShould(tq)
		}
		tagQuery.SetMinShould(1)
		boolQuery.AddMust(tagQuery)
	}

	searchRequest := bleve.NewSearchRequest(boolQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// AllIDs returns all document IDs in the index.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	docCount, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns index statistics.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Save is a no-op: bleve persists to its on-disk directory automatically
// as documents are indexed.
func (b *BleveBM25Index) Save(path string) error {
	return nil
}

// Load opens an existing index from disk, replacing the current one.
func (b *BleveBM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	b.index = idx
	b.path = path
	b.closed = false
	return nil
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

var _ BM25Index = (*BleveBM25Index)(nil)

// knowledgeTokenizerConstructor builds the bleve tokenizer adapter around
// Tokenize.
func knowledgeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveTokenizer{}, nil
}

type bleveTokenizer struct{}

// Tokenize implements analysis.Tokenizer, reusing Tokenize and recovering
// approximate byte offsets by scanning forward from the last match.
func (t *bleveTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	lowerText := strings.ToLower(text)

	for _, token := range tokens {
		start := strings.Index(lowerText[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.Ideographic,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}
