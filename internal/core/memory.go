package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/docindex"
	"github.com/knowhost/corekit/internal/embed"
	corekiterrors "github.com/knowhost/corekit/internal/errors"
	"github.com/knowhost/corekit/internal/store"
)

const (
	hostMemoryTag = "host-memory"

	// exactDuplicateSimilarity is the cosine-similarity floor above which
	// a candidate memory is treated as the same fact already stored
	// (spec §4.8: "skip outright").
	exactDuplicateSimilarity = 0.95

	// conflictSimilarityFloor is the cosine-similarity floor above which
	// a candidate memory is close enough to an existing one to warrant
	// conflict resolution rather than an unconditional add.
	conflictSimilarityFloor = 0.75
)

// MemoryAction names the outcome of AddHostMemorySmart's dedup/conflict
// resolution (spec §4.8).
type MemoryAction string

const (
	MemoryActionAdded    MemoryAction = "added"
	MemoryActionSkipped  MemoryAction = "skip"
	MemoryActionUpdated  MemoryAction = "update"
	MemoryActionReplaced MemoryAction = "replace"
	MemoryActionKeptBoth MemoryAction = "keep_both"
)

// MemoryDecision reports what AddHostMemorySmart did with a candidate
// memory and why.
type MemoryDecision struct {
	Action MemoryAction
	DocID  string
	Reason string
}

// AddHostMemorySmart implements spec §4.8's three-tier host-memory dedup:
// an exact content-hash match is skipped outright; a near-duplicate
// (cosine similarity >= 0.95 against an existing host memory for the same
// host) is skipped; a mid-similarity match (in [0.75, 0.95)) is escalated
// to the chat model for a skip/update/replace/keep_both decision,
// defaulting to keep_both on any resolver failure so a transient network
// or parse error never silently discards a memory.
func (c *Core) AddHostMemorySmart(ctx context.Context, hostID, memory string) (MemoryDecision, error) {
	hash := contentHash(memory)
	if _, found := c.docs.FindByHash(hash); found {
		return MemoryDecision{Action: MemoryActionSkipped, Reason: "exact content match"}, nil
	}

	qvec, err := c.embedder.Embed(ctx, memory)
	if err != nil {
		// No embedding means similarity can't be compared; fall back to a
		// plain add rather than failing the whole call.
		docID, addErr := c.AddHostMemory(ctx, hostID, memory)
		if addErr != nil {
			return MemoryDecision{}, addErr
		}
		return MemoryDecision{Action: MemoryActionAdded, DocID: docID}, nil
	}

	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	var best *docindex.Document
	var bestSim float64
	for _, doc := range c.docs.ByHost(hostID) {
		if doc.FileType != docindex.FileTypeHostMemory {
			continue
		}
		if sim := maxChunkSimilarity(vs, doc.ID, qvec); sim > bestSim {
			bestSim = sim
			best = doc
		}
	}

	switch {
	case best != nil && bestSim >= exactDuplicateSimilarity:
		return MemoryDecision{Action: MemoryActionSkipped, DocID: best.ID, Reason: "near-duplicate of existing memory"}, nil

	case best != nil && bestSim >= conflictSimilarityFloor:
		return c.resolveMemoryConflict(ctx, hostID, memory, best, bestSim)

	default:
		docID, err := c.AddHostMemory(ctx, hostID, memory)
		if err != nil {
			return MemoryDecision{}, err
		}
		return MemoryDecision{Action: MemoryActionAdded, DocID: docID}, nil
	}
}

// maxChunkSimilarity returns the highest cosine similarity between qvec
// and any chunk vector stored for docID.
func maxChunkSimilarity(vs *store.ChunkStore, docID string, qvec []float32) float64 {
	var best float64
	for _, rec := range vs.GetByDocID(docID) {
		if sim := embed.CosineSimilarity(qvec, rec.Vector); sim > best {
			best = sim
		}
	}
	return best
}

// conflictDecision is the JSON shape the conflict-resolution prompt asks
// the chat model to reply with.
type conflictDecision struct {
	Action        string `json:"action"`
	MergedContent string `json:"mergedContent,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

const conflictSystemPrompt = `You resolve conflicts between a newly observed fact about a user and an
existing stored memory that is semantically similar. Decide exactly one
action: "skip" (the new memory adds nothing beyond the existing one),
"update" (the existing memory's content should be rewritten to the merged
text given in "mergedContent"), "replace" (the new memory supersedes the
old one outright), or "keep_both" (the two are related but distinct and
both should be kept).
Respond with ONLY a JSON object: {"action": "...", "mergedContent": "...", "reason": "..."}.`

// resolveMemoryConflict asks the conflict resolver to adjudicate between
// memory and an existing similar Document, applying whichever action it
// returns. A resolver that is unavailable, errors, or returns an
// unparsable reply defaults to keep_both.
func (c *Core) resolveMemoryConflict(ctx context.Context, hostID, memory string, existing *docindex.Document, similarity float64) (MemoryDecision, error) {
	existingPlain := existing.Content
	if c.crypto.IsEncrypted(existingPlain) {
		if plain, err := c.crypto.Decrypt(existingPlain); err == nil {
			existingPlain = plain
		}
	}

	decision := conflictDecision{Action: "keep_both", Reason: "conflict resolver unavailable"}
	if c.conflictResolver != nil && c.conflictResolver.Available() {
		prompt := buildConflictPrompt(existingPlain, existing.UpdatedAt, memory, time.Now(), similarity)
		if reply, err := c.conflictResolver.Complete(ctx, conflictSystemPrompt, prompt); err == nil {
			if parsed, perr := parseConflictDecision(reply); perr == nil {
				decision = parsed
			}
		}
	}

	switch decision.Action {
	case "skip":
		return MemoryDecision{Action: MemoryActionSkipped, DocID: existing.ID, Reason: decision.Reason}, nil

	case "update":
		// The resolver's merged text wins; without one, the new memory
		// itself becomes the existing memory's content.
		merged := decision.MergedContent
		if merged == "" {
			merged = memory
		}
		if err := c.UpdateMemory(ctx, existing.ID, merged); err != nil {
			return MemoryDecision{}, err
		}
		return MemoryDecision{Action: MemoryActionUpdated, DocID: existing.ID, Reason: decision.Reason}, nil

	case "replace":
		if err := c.RemoveDocument(ctx, existing.ID); err != nil {
			return MemoryDecision{}, err
		}
		docID, err := c.AddHostMemory(ctx, hostID, memory)
		if err != nil {
			return MemoryDecision{}, err
		}
		return MemoryDecision{Action: MemoryActionReplaced, DocID: docID, Reason: decision.Reason}, nil

	default: // keep_both, or any unrecognized action fails safe to keep_both
		docID, err := c.AddHostMemory(ctx, hostID, memory)
		if err != nil {
			return MemoryDecision{}, err
		}
		return MemoryDecision{Action: MemoryActionKeptBoth, DocID: docID, Reason: decision.Reason}, nil
	}
}

func buildConflictPrompt(existing string, existingAt time.Time, candidate string, candidateAt time.Time, similarity float64) string {
	return fmt.Sprintf(
		"Existing memory (stored %s):\n%s\n\nNew memory (observed %s):\n%s\n\nCosine similarity: %.0f%%",
		existingAt.Format(time.RFC3339), existing,
		candidateAt.Format(time.RFC3339), candidate,
		similarity*100,
	)
}

var conflictJSONPattern = regexp.MustCompile(`\{[\s\S]*\}`)

func parseConflictDecision(reply string) (conflictDecision, error) {
	match := conflictJSONPattern.FindString(reply)
	if match == "" {
		return conflictDecision{}, corekiterrors.Validation("conflict resolver reply contained no JSON object")
	}
	var d conflictDecision
	if err := json.Unmarshal([]byte(match), &d); err != nil {
		return conflictDecision{}, corekiterrors.Wrap(corekiterrors.ErrCodeInvalidInput, err)
	}
	switch d.Action {
	case "skip", "update", "replace", "keep_both":
	default:
		return conflictDecision{}, corekiterrors.Validation("conflict resolver returned an unrecognized action")
	}
	return d, nil
}

// AddHostMemory ingests memory as a new host-memory Document for hostID,
// unconditionally (spec §4.8 addHostMemory). Most callers want
// AddHostMemorySmart's dedup/conflict handling instead; this is the
// primitive it (and the conflict resolver's replace/keep_both branches)
// builds on.
func (c *Core) AddHostMemory(ctx context.Context, hostID, memory string) (string, error) {
	hash := contentHash(memory)
	docID := docindex.NewID()
	tags := []string{hostMemoryTag, hostID}
	meta := chunk.Meta{HostID: hostID, Tags: tags}

	n, err := c.ingestChunks(ctx, docID, memory, meta, true)
	if err != nil {
		return "", err
	}

	ciphertext, err := c.crypto.Encrypt(memory)
	if err != nil {
		return "", err
	}

	doc := &docindex.Document{
		ID:          docID,
		FileType:    docindex.FileTypeHostMemory,
		FileSize:    int64(len(memory)),
		ContentHash: hash,
		Content:     ciphertext,
		HostID:      hostID,
		Tags:        tags,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		ChunkCount:  n,
	}
	if err := c.docs.Put(doc); err != nil {
		return "", err
	}
	return docID, nil
}

// UpdateMemory replaces an existing host-memory Document's content in
// place: its old chunks/BM25 entries are deleted and fresh ones inserted
// from newContent, and the Document's content/hash/updatedAt are
// rewritten (spec §4.8 updateMemory).
func (c *Core) UpdateMemory(ctx context.Context, docID, newContent string) error {
	doc, ok := c.docs.Get(docID)
	if !ok {
		return corekiterrors.Validation("unknown memory document id")
	}

	c.mu.RLock()
	vs := c.vectors
	c.mu.RUnlock()

	oldChunks := vs.GetByDocID(docID)
	oldIDs := make([]string, len(oldChunks))
	for i, rec := range oldChunks {
		oldIDs[i] = rec.ID
	}
	if _, err := vs.RemoveByDocID(ctx, docID); err != nil {
		return err
	}
	if len(oldIDs) > 0 {
		if err := c.bm25.Delete(ctx, oldIDs); err != nil {
			return err
		}
	}

	meta := chunk.Meta{HostID: doc.HostID, Tags: doc.Tags}
	n, err := c.ingestChunks(ctx, docID, newContent, meta, true)
	if err != nil {
		return err
	}

	ciphertext, err := c.crypto.Encrypt(newContent)
	if err != nil {
		return err
	}

	doc.Content = ciphertext
	doc.ContentHash = contentHash(newContent)
	doc.UpdatedAt = time.Now()
	doc.ChunkCount = n
	return c.docs.Put(doc)
}
