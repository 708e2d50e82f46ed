package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileReindexesDriftedDocument(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	id, _, err := c.AddDocument(ctx, AddDocumentInput{Filename: "a.md", Content: uniqueText("theta", 1)})
	require.NoError(t, err)

	// Simulate a crash between indexing and the chunk count landing on
	// disk: wipe the vector/BM25 side without touching the Document.
	ids := make([]string, 0)
	for _, rec := range c.vectors.GetByDocID(id) {
		ids = append(ids, rec.ID)
	}
	_, err = c.vectors.RemoveByDocID(ctx, id)
	require.NoError(t, err)
	require.NoError(t, c.bm25.Delete(ctx, ids))

	require.NoError(t, c.Reconcile(ctx))

	assert.NotEmpty(t, c.vectors.GetByDocID(id))
	bm25IDs, err := c.bm25.AllIDs()
	require.NoError(t, err)
	assert.NotEmpty(t, bm25IDs)
}

func TestReconcileIsNoOpWhenConsistent(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	_, _, err := c.AddDocument(ctx, AddDocumentInput{Filename: "a.md", Content: uniqueText("iota", 1)})
	require.NoError(t, err)

	before, err := c.bm25.AllIDs()
	require.NoError(t, err)

	require.NoError(t, c.Reconcile(ctx))

	after, err := c.bm25.AllIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}
