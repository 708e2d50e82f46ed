// Package remotesearch implements the optional remote-search collaborator
// (spec §6): a companion MCP server that `search` fans queries out to
// alongside local BM25/vector retrieval. Results it returns are tagged
// source=remote and merged into the candidate pool before dedup/rerank.
package remotesearch

import "context"

// Result mirrors the subset of SearchResult fields a remote collaborator can
// supply. The core package adapts this into a full SearchResult, stamping
// Source="remote".
type Result struct {
	ID       string
	Content  string
	Score    float64
	Filename string
	HostID   string
	Tags     []string
}

// Adapter is the capability `search` depends on. Disabled satisfies it as a
// null object when no remote server is configured, so the search path never
// branches on "is remote search enabled".
type Adapter interface {
	// Search forwards a query to the remote collaborator and returns up to
	// topK results. Failures are the caller's to log and swallow (spec
	// §6: "Failures from the adapter are logged and swallowed").
	Search(ctx context.Context, query string, topK int) ([]Result, error)

	// Available reports whether this adapter is configured and reachable.
	Available() bool
}
