package remotesearch

import "context"

// Disabled is the null-object Adapter used when no mcpServerId is
// configured (spec §3 Settings, §6). Search returns an empty slice and no
// error so callers can merge it into the candidate pool unconditionally.
type Disabled struct{}

var _ Adapter = Disabled{}

func (Disabled) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	return nil, nil
}

func (Disabled) Available() bool { return false }
