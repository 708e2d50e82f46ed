package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDocumentIndexesAndDeduplicates(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	in := AddDocumentInput{Filename: "notes.md", Content: uniqueText("alpha", 1), FileSize: 42}
	id1, dup1, err := c.AddDocument(ctx, in)
	require.NoError(t, err)
	assert.False(t, dup1)
	assert.NotEmpty(t, id1)

	id2, dup2, err := c.AddDocument(ctx, in)
	require.NoError(t, err)
	assert.True(t, dup2)
	assert.Equal(t, id1, id2)

	doc, ok := c.docs.Get(id1)
	require.True(t, ok)
	assert.Equal(t, 1, doc.ChunkCount)
}

func TestRemoveDocumentClearsBothIndexes(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	id, _, err := c.AddDocument(ctx, AddDocumentInput{Filename: "a.md", Content: uniqueText("beta", 1)})
	require.NoError(t, err)

	require.NoError(t, c.RemoveDocument(ctx, id))

	_, ok := c.docs.Get(id)
	assert.False(t, ok)
	assert.Empty(t, c.vectors.GetByDocID(id))

	ids, err := c.bm25.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
