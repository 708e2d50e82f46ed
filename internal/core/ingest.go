package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/docindex"
	corekiterrors "github.com/knowhost/corekit/internal/errors"
	"github.com/knowhost/corekit/internal/store"
)

// AddDocumentInput describes a generic file ingest (spec §4.8
// addDocument).
type AddDocumentInput struct {
	Filename string
	Content  string
	FileSize int64
	HostID   string
	Tags     []string
}

// contentHash returns the spec's content-addressable dedup key: an md5
// digest of the plaintext, hex-encoded. This is a fingerprint for
// deduplication, not a confidentiality boundary — crypto.Manager.Encrypt
// is what protects host-memory content at rest (see DESIGN.md).
func contentHash(plaintext string) string {
	sum := md5.Sum([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// AddDocument ingests a generic file (spec §4.8 addDocument): hash-dedup,
// chunk, embed, index, and record. duplicate is true (with the existing
// docID) when content with the same hash was already ingested.
func (c *Core) AddDocument(ctx context.Context, in AddDocumentInput) (docID string, duplicate bool, err error) {
	hash := contentHash(in.Content)
	if existing, found := c.docs.FindByHash(hash); found {
		return existing.ID, true, nil
	}

	docID = docindex.NewID()
	meta := chunk.Meta{Filename: in.Filename, HostID: in.HostID, Tags: in.Tags}
	n, err := c.ingestChunks(ctx, docID, in.Content, meta, false)
	if err != nil {
		return "", false, err
	}

	doc := &docindex.Document{
		ID:          docID,
		Filename:    in.Filename,
		FileType:    docindex.FileTypeFile,
		FileSize:    in.FileSize,
		ContentHash: hash,
		Content:     in.Content,
		HostID:      in.HostID,
		Tags:        in.Tags,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		ChunkCount:  n,
	}
	if err := c.docs.Put(doc); err != nil {
		return "", false, err
	}
	return docID, false, nil
}

// ingestChunks splits plaintext, embeds every chunk, and adds the
// resulting records to the vector and BM25 indexes under freshly
// allocated chunk ids. When encryptChunks is true (host-memory ingest)
// each chunk's stored Content is wrapped with crypto.Manager.Encrypt
// after the plaintext has already been used to compute its embedding
// (spec §4.8: the vector comes from the plaintext, the stored content is
// the ciphertext). It returns the number of chunks produced.
func (c *Core) ingestChunks(ctx context.Context, docID, plaintext string, meta chunk.Meta, encryptChunks bool) (int, error) {
	opts := wrapChunkOptions(c.settings, c.embedder.MaxTokens())
	chunks := c.chunker.Chunk(plaintext, docID, meta, opts)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, corekiterrors.Internal("embedder returned a mismatched vector count", nil)
	}

	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	records := make([]*store.ChunkRecord, len(chunks))
	bm25Docs := make([]*store.Document, len(chunks))
	for i, ch := range chunks {
		content := ch.Content
		if encryptChunks {
			ct, err := c.crypto.Encrypt(content)
			if err != nil {
				return 0, err
			}
			content = ct
		}
		id := uuid.NewString()
		records[i] = &store.ChunkRecord{
			ID:          id,
			DocID:       docID,
			ChunkIndex:  ch.ChunkIndex,
			Content:     content,
			Vector:      vectors[i],
			Filename:    ch.Filename,
			HostID:      ch.HostID,
			Tags:        ch.Tags,
			StartOffset: ch.StartOffset,
			EndOffset:   ch.EndOffset,
		}
		bm25Docs[i] = &store.Document{
			ID:       id,
			Content:  content,
			Filename: ch.Filename,
			HostID:   ch.HostID,
			Tags:     ch.Tags,
		}
	}

	if err := vs.AddRecords(ctx, records); err != nil {
		return 0, err
	}
	if err := c.bm25.Index(ctx, bm25Docs); err != nil {
		return 0, err
	}
	if vs.ShouldCompact() && c.factory != nil {
		_ = vs.Compact(ctx, c.factory) // best-effort; unmet threshold retries on the next ingest
	}
	return len(chunks), nil
}

// RemoveDocument deletes a Document and every chunk derived from it (spec
// §4.8 removeDocument). Steps run in order and are not rolled back on a
// partial failure; the next Reconcile repairs any resulting
// inconsistency (spec §4.8/§7).
func (c *Core) RemoveDocument(ctx context.Context, docID string) error {
	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	chunkIDs := make([]string, 0)
	for _, rec := range vs.GetByDocID(docID) {
		chunkIDs = append(chunkIDs, rec.ID)
	}

	if _, err := vs.RemoveByDocID(ctx, docID); err != nil {
		return err
	}
	if len(chunkIDs) > 0 {
		if err := c.bm25.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	return c.docs.Delete(docID)
}
