package docindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, idx.Load())
	return idx
}

func TestLoadMissingFileIsEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)
	assert.Equal(t, 0, idx.Count())
	assert.Empty(t, idx.List())
}

func TestPutGetDelete(t *testing.T) {
	idx := newTestIndex(t)
	doc := &Document{
		ID:          NewID(),
		Filename:    "notes.md",
		FileType:    FileTypeFile,
		ContentHash: "abc123",
		Content:     "alpha beta gamma",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		ChunkCount:  1,
	}
	require.NoError(t, idx.Put(doc))

	got, ok := idx.Get(doc.ID)
	require.True(t, ok)
	assert.Equal(t, "notes.md", got.Filename)
	assert.Equal(t, 1, idx.Count())

	require.NoError(t, idx.Delete(doc.ID))
	_, ok = idx.Get(doc.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Count())
}

func TestFindByHash(t *testing.T) {
	idx := newTestIndex(t)
	doc := &Document{ID: NewID(), ContentHash: "hash1", FileType: FileTypeFile}
	require.NoError(t, idx.Put(doc))

	found, ok := idx.FindByHash("hash1")
	require.True(t, ok)
	assert.Equal(t, doc.ID, found.ID)

	_, ok = idx.FindByHash("nonexistent")
	assert.False(t, ok)
}

func TestByHostAndByTag(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Put(&Document{ID: NewID(), ContentHash: "h1", HostID: "host-a", Tags: []string{"host-memory", "host-a"}}))
	require.NoError(t, idx.Put(&Document{ID: NewID(), ContentHash: "h2", HostID: "host-b", Tags: []string{"host-memory", "host-b"}}))
	require.NoError(t, idx.Put(&Document{ID: NewID(), ContentHash: "h3", Tags: []string{"misc"}}))

	assert.Len(t, idx.ByHost("host-a"), 1)
	assert.Len(t, idx.ByTag("host-memory"), 2)
	assert.Len(t, idx.ByTag("misc"), 1)
}

func TestPutTwiceReplacesDropsOldHash(t *testing.T) {
	idx := newTestIndex(t)
	doc := &Document{ID: "doc1", ContentHash: "h1", FileType: FileTypeFile}
	require.NoError(t, idx.Put(doc))

	doc.ContentHash = "h2"
	require.NoError(t, idx.Put(doc))

	_, ok := idx.FindByHash("h1")
	assert.False(t, ok)
	found, ok := idx.FindByHash("h2")
	require.True(t, ok)
	assert.Equal(t, "doc1", found.ID)
}

func TestSaveLoadRoundTripPreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	idx, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Load())
	require.NoError(t, idx.Put(&Document{ID: "doc1", ContentHash: "h1", FileType: FileTypeFile, Filename: "a.txt"}))

	// Simulate a future schema field appearing on disk that this
	// version of Document doesn't know about.
	path := filepath.Join(dir, documentsFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var f map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &f))
	docs := f["documents"].([]interface{})
	docMap := docs[0].(map[string]interface{})
	docMap["futureField"] = "keep-me"
	patched, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, patched, 0o644))

	idx2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, idx2.Load())
	got, ok := idx2.Get("doc1")
	require.True(t, ok)
	require.Equal(t, json.RawMessage(`"keep-me"`), got.Extra["futureField"])

	require.NoError(t, idx2.Save())
	raw2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw2), "futureField")
}
