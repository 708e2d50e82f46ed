package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowhost/corekit/internal/embed"
)

func TestSwitchEmbeddingModelRebuildsOnDimensionChange(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	id, _, err := c.AddDocument(ctx, AddDocumentInput{Filename: "a.md", Content: uniqueText("kappa", 1)})
	require.NoError(t, err)
	require.Equal(t, embed.DimensionsLite, c.vectors.Dimensions())

	info, err := c.SwitchEmbeddingModel(ctx, embed.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, embed.DimensionsStandard, info.Dimensions)
	assert.Equal(t, embed.DimensionsStandard, c.vectors.Dimensions())

	// The migrated chunk is still retrievable under the new store.
	chunks := c.vectors.GetByDocID(id)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Vector, embed.DimensionsStandard)
}

func TestSwitchEmbeddingModelNoRebuildWhenDimensionsMatch(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	before := c.vectors
	info, err := c.SwitchEmbeddingModel(ctx, embed.TierLite)
	require.NoError(t, err)
	assert.Equal(t, embed.DimensionsLite, info.Dimensions)
	assert.Same(t, before, c.vectors)
}
