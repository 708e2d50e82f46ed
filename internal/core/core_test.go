package core

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/crypto"
	"github.com/knowhost/corekit/internal/docindex"
	"github.com/knowhost/corekit/internal/embed"
	"github.com/knowhost/corekit/internal/store"
)

// stubEmbedder is a deterministic, non-semantic embedder: two texts
// collide iff they share their first word, which is all the hybrid
// search/memory-dedup tests need from "similarity".
type stubEmbedder struct {
	dims      int
	maxTokens int
	calls     int
}

func newStubEmbedder(dims int) *stubEmbedder {
	return &stubEmbedder{dims: dims, maxTokens: 2000}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	return s.vector(text), nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

// angleMarker lets a test pin the exact cosine similarity between two
// embedded texts by encoding it as an angle: cosine(v1, v2) ==
// cos(angle1 - angle2) when both texts carry a "~A<degrees>~" prefix.
var angleMarker = regexp.MustCompile(`^~A(-?[0-9.]+)~`)

// angleText prepends an angle marker to body, for tests that need
// precise control over embedding cosine similarity.
func angleText(degrees float64, body string) string {
	return fmt.Sprintf("~A%g~%s", degrees, body)
}

// vector embeds text as a 2D direction (angle marker) when present,
// falling back to a bag-of-words count vector otherwise — enough for
// BM25-adjacent tests that only need "not identical" embeddings, without
// pulling in a real embedding model.
func (s *stubEmbedder) vector(text string) []float32 {
	v := make([]float32, s.dims)
	if m := angleMarker.FindStringSubmatch(text); m != nil {
		deg, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			rad := deg * math.Pi / 180
			v[0] = float32(math.Cos(rad))
			v[1] = float32(math.Sin(rad))
			return v
		}
	}
	for _, w := range strings.Fields(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%s.dims]++
	}
	return v
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) MaxTokens() int  { return s.maxTokens }
func (s *stubEmbedder) SwitchModel(_ context.Context, tier embed.Tier) (embed.ModelInfo, error) {
	switch tier {
	case embed.TierStandard:
		s.dims = embed.DimensionsStandard
	case embed.TierLarge:
		s.dims = embed.DimensionsLarge
	default:
		s.dims = embed.DimensionsLite
	}
	return s.CurrentModel(), nil
}
func (s *stubEmbedder) CurrentModel() embed.ModelInfo {
	return embed.ModelInfo{Tier: embed.TierLite, ModelName: "stub", Dimensions: s.dims, MaxTokens: s.maxTokens}
}
func (s *stubEmbedder) Available(_ context.Context) bool { return true }

var _ EmbeddingService = (*stubEmbedder)(nil)

// stubChat is a scriptable chatmodel.Completer for conflict-resolution
// tests.
type stubChat struct {
	reply     string
	err       error
	available bool
}

func (s *stubChat) Complete(_ context.Context, _, _ string) (string, error) { return s.reply, s.err }
func (s *stubChat) Available() bool                                         { return s.available }

// testCore builds a fully wired Core over in-memory stores and a tmp-dir
// crypto manager, unlocked with a fixed test password.
func testCore(t *testing.T) *Core {
	t.Helper()
	dims := embed.DimensionsLite

	factory := func(d int) (store.VectorStore, error) {
		return store.NewHNSWStore(store.DefaultVectorStoreConfig(d))
	}
	inner, err := factory(dims)
	require.NoError(t, err)
	vectors := store.NewChunkStore(inner, dims, store.CompactionPolicy{DeletionThreshold: 1000})

	bm25, err := store.NewBleveBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)

	docs, err := docindex.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, docs.Load())

	cm, err := crypto.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cm.SetPassword("correct horse battery staple"))

	c, err := New(Dependencies{
		Documents:     docs,
		Chunker:       chunk.NewTextChunker(),
		Embedder:      newStubEmbedder(dims),
		Vectors:       vectors,
		BM25:          bm25,
		Crypto:        cm,
		VectorFactory: factory,
	})
	require.NoError(t, err)
	return c
}

func uniqueText(label string, n int) string {
	return fmt.Sprintf("%s paragraph number %d with some distinguishing filler content.", label, n)
}
