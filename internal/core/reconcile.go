package core

import (
	"context"

	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/docindex"
)

// Reconcile walks every Document in the DocumentIndex and repairs any
// drift against the vector/BM25 indexes (spec §4.8's startup sequence,
// run after docs.Load). A document whose chunk count doesn't match either
// index, or that is entirely missing from one, has its chunks removed
// from both indexes and freshly reingested — cheaper to reinsert than to
// diff at the chunk level, and safe since ingestChunks assigns new chunk
// ids every time.
func (c *Core) Reconcile(ctx context.Context) error {
	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	bm25IDs, err := c.bm25.AllIDs()
	if err != nil {
		return err
	}
	bm25Set := make(map[string]struct{}, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = struct{}{}
	}

	for _, doc := range c.docs.List() {
		vecChunks := vs.GetByDocID(doc.ID)
		bm25Count := 0
		for _, rec := range vecChunks {
			if _, ok := bm25Set[rec.ID]; ok {
				bm25Count++
			}
		}

		drifted := len(vecChunks) != doc.ChunkCount || bm25Count != len(vecChunks)
		if !drifted {
			continue
		}
		if err := c.reindexDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// reindexDocument removes doc's existing chunks from both indexes (if
// any) and reingests its stored Content from scratch.
func (c *Core) reindexDocument(ctx context.Context, doc *docindex.Document) error {
	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	existing := vs.GetByDocID(doc.ID)
	ids := make([]string, len(existing))
	for i, rec := range existing {
		ids[i] = rec.ID
	}
	if _, err := vs.RemoveByDocID(ctx, doc.ID); err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := c.bm25.Delete(ctx, ids); err != nil {
			return err
		}
	}

	content := doc.Content
	encrypted := c.crypto.IsEncrypted(content)
	plaintext := content
	if encrypted {
		plain, err := c.crypto.Decrypt(content)
		if err != nil {
			// Can't recover plaintext without the passphrase unlocked; leave
			// the document unindexed until the next Reconcile after Unlock.
			return nil
		}
		plaintext = plain
	}

	meta := chunk.Meta{Filename: doc.Filename, HostID: doc.HostID, Tags: doc.Tags}
	n, err := c.ingestChunks(ctx, doc.ID, plaintext, meta, encrypted)
	if err != nil {
		return err
	}
	doc.ChunkCount = n
	return c.docs.Put(doc)
}
