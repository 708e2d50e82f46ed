// Package rerank implements C6: an optional LLM-scored reordering of
// candidate hits (spec §4.6). A NoOp null object and an LLM-judge
// implementation share one Reranker interface, grounded on the teacher's
// internal/search.Reranker/NoOpReranker shape, so `search` never branches
// on "is rerank enabled".
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/knowhost/corekit/internal/chatmodel"
	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// Candidate is the narrow view of a search hit the reranker judges:
// enough to build a prompt and to carry back an updated score. Reranker
// implementations must not mutate Content or Metadata fields (spec
// §4.6: "must not mutate content or metadata; only score and order may
// change").
type Candidate struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]string
}

// Reranker reorders candidates by relevance to query, truncating to topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}

// NoOp returns candidates unchanged (truncated to topK), the null object
// used when spec §3 Settings.enableRerank is false or no chat model is
// configured.
type NoOp struct{}

var _ Reranker = NoOp{}

func (NoOp) Rerank(_ context.Context, _ string, candidates []Candidate, topK int) ([]Candidate, error) {
	return truncate(candidates, topK), nil
}

// maxPromptContentChars bounds how much of each candidate's content
// enters the rerank prompt (spec §4.6: "content truncated to a bounded
// length").
const maxPromptContentChars = 500

// systemPrompt asks the judge for a JSON permutation of candidate indices.
const systemPrompt = `You are a relevance judge for a local search engine. You will be given a
query and a numbered list of candidate passages. Return a JSON array of
the candidate indices (0-based), reordered from most to least relevant
to the query. Include every index exactly once. Respond with ONLY the
JSON array, no commentary.`

// LLM reranks candidates by asking a chatmodel.Completer for a
// permutation of candidate indices (spec §4.6). On any parse or
// transport failure it fails open, returning candidates in their
// original order (spec: "the reranker returns the candidates unchanged").
type LLM struct {
	chat chatmodel.Completer
}

var _ Reranker = (*LLM)(nil)

// New constructs an LLM reranker over chat. Pass chatmodel.Disabled{} to
// get NoOp-equivalent fail-open behavior without a special case.
func New(chat chatmodel.Completer) *LLM {
	return &LLM{chat: chat}
}

func (r *LLM) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	if r.chat == nil || !r.chat.Available() {
		return truncate(candidates, topK), nil
	}

	prompt := buildPrompt(query, candidates)
	reply, err := r.chat.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return truncate(candidates, topK), nil //nolint:nilerr // fail-open per spec §4.6
	}

	order, err := parsePermutation(reply, len(candidates))
	if err != nil {
		return truncate(candidates, topK), nil //nolint:nilerr // fail-open per spec §4.6
	}

	reordered := make([]Candidate, 0, len(candidates))
	for i, idx := range order {
		c := candidates[idx]
		c.Score = 1.0 - float64(i)*(1.0/float64(len(order)+1))
		reordered = append(reordered, c)
	}
	return truncate(reordered, topK), nil
}

func buildPrompt(query string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		content := c.Content
		if len(content) > maxPromptContentChars {
			content = content[:maxPromptContentChars] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s\n", i, content)
	}
	return b.String()
}

var jsonArrayPattern = regexp.MustCompile(`\[[\s\S]*\]`)

// parsePermutation extracts a JSON array of ints from reply and validates
// it is a permutation of 0..n-1.
func parsePermutation(reply string, n int) ([]int, error) {
	match := jsonArrayPattern.FindString(reply)
	if match == "" {
		return nil, corekiterrors.Validation("reranker reply contained no JSON array")
	}
	var order []int
	if err := json.Unmarshal([]byte(match), &order); err != nil {
		return nil, corekiterrors.Wrap(corekiterrors.ErrCodeInvalidInput, err)
	}
	if len(order) != n {
		return nil, corekiterrors.Validation("reranker permutation length mismatch")
	}
	seen := make(map[int]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return nil, corekiterrors.Validation("reranker permutation is not valid")
		}
		seen[idx] = true
	}
	return order, nil
}

func truncate(candidates []Candidate, topK int) []Candidate {
	if topK > 0 && topK < len(candidates) {
		return candidates[:topK]
	}
	return candidates
}
