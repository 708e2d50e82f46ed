// Package chatmodel provides the external chat-completion collaborator used
// by the reranker's LLM judge (§4.6) and the host-memory conflict resolver
// (§4.8). Both callers only ever need a single system+user turn and a plain
// text answer back, so the capability is modeled as the narrowest interface
// that serves them rather than a general multi-turn chat client.
package chatmodel

import "context"

// Completer is the capability every chat-backed component depends on. A
// single call sends a system instruction and a user prompt and returns the
// model's text reply verbatim; callers are responsible for parsing it
// (JSON for the conflict resolver, a permutation list for the reranker).
type Completer interface {
	// Complete sends one turn and returns the model's raw text response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Available reports whether this Completer is configured to serve
	// requests. The Anthropic implementation returns true for any
	// constructed client (New already rejected a missing API key) and
	// does not probe the endpoint. The Disabled null object always
	// returns false.
	Available() bool
}
