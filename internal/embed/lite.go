package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// LiteEmbedder is the "lite" tier: a deterministic, hash-based embedder
// that needs no model download or network access. It trades semantic
// quality for zero setup cost, grounded on the teacher's StaticEmbedder
// (the same FNV-hash-into-buckets + token/n-gram blend), generalized
// from code-identifier tokenization to arbitrary prose.
type LiteEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches runs of letters/digits in any script, so CJK text
// contributes tokens too (a maximal Han/Hiragana/Katakana/Hangul run
// becomes one token here; BM25's tokenizer additionally breaks those
// into unigrams/bigrams, per spec §4.5 — this embedder only needs a
// coarser signal).
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewLiteEmbedder constructs a LiteEmbedder.
func NewLiteEmbedder() *LiteEmbedder {
	return &LiteEmbedder{}
}

// Embed generates a deterministic embedding for a single text.
func (e *LiteEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, corekiterrors.ModelUnavailable("lite embedder is closed", nil)
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, DimensionsLite), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *LiteEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, DimensionsLite)

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, DimensionsLite)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, DimensionsLite)] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase tokens, additionally splitting
// camelCase/snake_case compounds so identifiers embedded in prose (API
// names, config keys) still contribute sub-tokens.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCompound(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCompound(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// normalizeForNgrams lowercases and strips everything but letters and
// digits, keeping multi-byte runes intact for CJK n-grams.
func normalizeForNgrams(text string) []rune {
	var result []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result = append(result, r)
		}
	}
	return result
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (e *LiteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, corekiterrors.ModelUnavailable("lite embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns DimensionsLite.
func (e *LiteEmbedder) Dimensions() int { return DimensionsLite }

// ModelName identifies this tier.
func (e *LiteEmbedder) ModelName() string { return "lite" }

// Available is always true until Close.
func (e *LiteEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *LiteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*LiteEmbedder)(nil)
