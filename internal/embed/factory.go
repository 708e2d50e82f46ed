package embed

import (
	"context"
	"fmt"
	"sync"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// maxTokensForTier is each tier's context window in tokens. Service.MaxTokens
// reports it; Chunker callers multiply by four (one token roughly four
// characters) to get chunk.Options' character budget.
var maxTokensForTier = map[Tier]int{
	TierLite:     2048,
	TierStandard: 4096,
	TierLarge:    8192,
}

// NewEmbedder constructs the Embedder for a single tier, wrapped in an
// LRU cache. Lite runs locally; standard/large call out to cfg's remote
// endpoint. cacheSize <= 0 uses DefaultEmbeddingCacheSize.
func NewEmbedder(tier Tier, remote RemoteConfig, cacheSize int) (Embedder, error) {
	var inner Embedder
	var err error

	switch tier {
	case TierLite:
		inner = NewLiteEmbedder()
	case TierStandard, TierLarge:
		inner, err = NewRemoteEmbedder(tier, remote)
	default:
		return nil, corekiterrors.Validation(fmt.Sprintf("unknown embedding tier %q", tier))
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cacheSize), nil
}

// ModelInfo describes the currently active embedder (spec §4.3's
// current_model()).
type ModelInfo struct {
	Tier       Tier
	ModelName  string
	Dimensions int
	MaxTokens  int
}

// Service is the C3 EmbeddingService contract: a single active tier that
// can be hot-switched, with reads safe for concurrent callers and writes
// (Initialize/SwitchModel) serialized, matching the single-writer /
// multi-reader concurrency model the rest of the core follows (spec §5).
type Service struct {
	mu     sync.RWMutex
	embed  Embedder
	tier   Tier
	remote RemoteConfig
	cache  int
}

// NewService constructs an uninitialized Service; call Initialize before
// using it.
func NewService() *Service {
	return &Service{}
}

// Initialize builds the embedder for the given tier. It is safe to call
// again later (equivalent to SwitchModel) but SwitchModel is the named
// entry point for that.
func (s *Service) Initialize(tier Tier, remote RemoteConfig, cacheSize int) error {
	embedder, err := NewEmbedder(tier, remote, cacheSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embed != nil {
		_ = s.embed.Close()
	}
	s.embed = embedder
	s.tier = tier
	s.remote = remote
	s.cache = cacheSize
	return nil
}

// SwitchModel replaces the active embedder with one for newTier. Callers
// (KnowledgeCore) are responsible for detecting the resulting dimension
// change and rebuilding the VectorStore, per spec §4.3/§4.8.
func (s *Service) SwitchModel(ctx context.Context, newTier Tier) (ModelInfo, error) {
	s.mu.RLock()
	remote, cache := s.remote, s.cache
	s.mu.RUnlock()

	if err := s.Initialize(newTier, remote, cache); err != nil {
		return ModelInfo{}, err
	}
	return s.CurrentModel(), nil
}

// Embed embeds a single text with the active tier's embedder.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	e := s.embed
	s.mu.RUnlock()
	if e == nil {
		return nil, corekiterrors.NotInitialized("embedding service not initialized")
	}
	return e.Embed(ctx, text)
}

// EmbedBatch embeds multiple texts with the active tier's embedder.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.RLock()
	e := s.embed
	s.mu.RUnlock()
	if e == nil {
		return nil, corekiterrors.NotInitialized("embedding service not initialized")
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions returns the active tier's output dimensionality.
func (s *Service) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.embed == nil {
		return 0
	}
	return s.embed.Dimensions()
}

// MaxTokens returns the active tier's approximate context window, used by
// callers to size chunk.Options.MaxChunkSize.
func (s *Service) MaxTokens() int {
	s.mu.RLock()
	tier := s.tier
	s.mu.RUnlock()
	if n, ok := maxTokensForTier[tier]; ok {
		return n
	}
	return maxTokensForTier[TierLite]
}

// CurrentModel reports the active tier's identity.
func (s *Service) CurrentModel() ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := ModelInfo{Tier: s.tier, MaxTokens: s.MaxTokens()}
	if s.embed != nil {
		info.ModelName = s.embed.ModelName()
		info.Dimensions = s.embed.Dimensions()
	}
	return info
}

// Available reports whether the active embedder can currently serve
// requests.
func (s *Service) Available(ctx context.Context) bool {
	s.mu.RLock()
	e := s.embed
	s.mu.RUnlock()
	if e == nil {
		return false
	}
	return e.Available(ctx)
}

// Close releases the active embedder's resources.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embed == nil {
		return nil
	}
	err := s.embed.Close()
	s.embed = nil
	return err
}
