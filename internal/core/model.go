package core

import (
	"context"

	"github.com/knowhost/corekit/internal/embed"
	"github.com/knowhost/corekit/internal/store"
)

// SwitchEmbeddingModel hot-swaps the active embedding tier (spec §4.3
// switch_model). When the new tier's dimensionality matches the current
// vector store's, only the embedder itself changes. When it differs,
// every existing chunk is decrypted (where applicable), re-embedded under
// the new model, and loaded into a freshly built VectorStore, which then
// replaces the old one under the write lock in a single pointer swap so
// concurrent Search calls never observe a half-migrated index.
func (c *Core) SwitchEmbeddingModel(ctx context.Context, tier embed.Tier) (embed.ModelInfo, error) {
	c.mu.RLock()
	oldVS := c.vectors
	c.mu.RUnlock()
	oldDims := oldVS.Dimensions()

	info, err := c.embedder.SwitchModel(ctx, tier)
	if err != nil {
		return embed.ModelInfo{}, err
	}
	if info.Dimensions == oldDims {
		return info, nil
	}
	if c.factory == nil {
		return info, nil // no rebuild path configured; caller re-ingests manually
	}

	records := oldVS.All()
	texts := make([]string, len(records))
	for i, rec := range records {
		plaintext := rec.Content
		if c.crypto.IsEncrypted(plaintext) {
			if plain, err := c.crypto.Decrypt(plaintext); err == nil {
				plaintext = plain
			}
		}
		texts[i] = plaintext
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return info, err
	}

	inner, err := c.factory(info.Dimensions)
	if err != nil {
		return info, err
	}
	newVS := store.NewChunkStore(inner, info.Dimensions, store.DefaultCompactionPolicy())

	fresh := make([]*store.ChunkRecord, len(records))
	for i, rec := range records {
		cp := *rec
		cp.Vector = vectors[i]
		fresh[i] = &cp
	}
	if len(fresh) > 0 {
		if err := newVS.AddRecords(ctx, fresh); err != nil {
			return info, err
		}
	}

	c.mu.Lock()
	c.vectors = newVS
	c.mu.Unlock()
	_ = oldVS.Close()

	return info, nil
}
