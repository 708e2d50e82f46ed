package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	inner Embedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string               { return c.inner.ModelName() }
func (c *countingEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *countingEmbedder) Close() error                    { return c.inner.Close() }

func TestCachedEmbedderHitsCache(t *testing.T) {
	inner := &countingEmbedder{inner: NewLiteEmbedder()}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "repeat me")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "repeat me")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "second call should be served from cache")
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	inner := &countingEmbedder{inner: NewLiteEmbedder()}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "already cached")
	require.NoError(t, err)
	inner.calls = 0

	vecs, err := cached.EmbedBatch(context.Background(), []string{"already cached", "new text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 1, inner.calls, "only the uncached text should trigger a call")
}

func TestCachedEmbedderPassthroughs(t *testing.T) {
	inner := NewLiteEmbedder()
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
	require.NoError(t, cached.Close())
}
