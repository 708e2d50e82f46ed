package chatmodel

import (
	"context"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// Disabled is the null-object Completer used when no chat-model API key is
// configured. Reranker and the host-memory conflict resolver both depend
// only on the Completer interface, so neither needs a branch to special-case
// "no model configured" — they call Complete and handle the returned error
// the same way they would handle a timed-out remote model (fail-open).
type Disabled struct{}

var _ Completer = Disabled{}

func (Disabled) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", corekiterrors.ModelUnavailable("no chat model configured", nil)
}

func (Disabled) Available() bool { return false }
