// Package core implements C8: the KnowledgeCore orchestrator that wires
// every other component into addDocument/removeDocument/search plus the
// host-memory dedup/conflict flow (spec §4.8). The dependency-injected
// constructor with required-dependency nil checks and functional options
// is grounded on the teacher's internal/search.NewEngine/EngineOption
// shape; disablement of optional collaborators (reranker, remote search,
// chat model) follows the null-object pattern already used by
// rerank.NoOp, remotesearch.Disabled, and chatmodel's Disabled type
// rather than branching on "is X enabled" throughout this package.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/knowhost/corekit/internal/chatmodel"
	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/config"
	"github.com/knowhost/corekit/internal/crypto"
	"github.com/knowhost/corekit/internal/docindex"
	"github.com/knowhost/corekit/internal/embed"
	"github.com/knowhost/corekit/internal/remotesearch"
	"github.com/knowhost/corekit/internal/rerank"
	"github.com/knowhost/corekit/internal/store"
	"github.com/knowhost/corekit/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil, mirroring
// the teacher's own search.ErrNilDependency sentinel.
var ErrNilDependency = errors.New("nil dependency")

// EmbeddingService is the narrow view of embed.Service that Core depends
// on, so tests can substitute a stub without standing up a real tier.
// *embed.Service satisfies this interface as-is.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxTokens() int
	SwitchModel(ctx context.Context, tier embed.Tier) (embed.ModelInfo, error)
	CurrentModel() embed.ModelInfo
	Available(ctx context.Context) bool
}

// VectorStoreFactory builds a fresh, empty VectorStore at the given
// dimensionality, used both by ChunkStore.Compact and by
// SwitchEmbeddingModel's full rebuild when the tier change alters D.
type VectorStoreFactory func(dims int) (store.VectorStore, error)

// Dependencies are the required collaborators a Core is built from. All
// fields must be non-nil; New returns ErrNilDependency otherwise.
type Dependencies struct {
	Documents     *docindex.Index
	Chunker       chunk.Chunker
	Embedder      EmbeddingService
	Vectors       *store.ChunkStore
	BM25          store.BM25Index
	Crypto        *crypto.Manager
	VectorFactory VectorStoreFactory
}

// Option configures optional Core collaborators.
type Option func(*Core)

// WithReranker sets the C6 Reranker used by Search when enabled.
func WithReranker(r rerank.Reranker) Option {
	return func(c *Core) { c.reranker = r }
}

// WithRemoteSearch sets the remote search collaborator Search fans out to
// alongside local retrieval.
func WithRemoteSearch(a remotesearch.Adapter) Option {
	return func(c *Core) { c.remote = a }
}

// WithConflictResolver sets the chat model AddHostMemorySmart consults
// when a mid-similarity conflict is detected.
func WithConflictResolver(cm chatmodel.Completer) Option {
	return func(c *Core) { c.conflictResolver = cm }
}

// WithMetrics attaches query telemetry recording to Search.
func WithMetrics(m *telemetry.SearchTelemetry) Option {
	return func(c *Core) { c.metrics = m }
}

// WithSettings overrides the default config.Settings.
func WithSettings(s *config.Settings) Option {
	return func(c *Core) { c.settings = s }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) { c.logger = l }
}

// Core is the C8 KnowledgeCore: the single entry point for ingest, search,
// and host-memory management, composing every other component (spec
// §4.8). All exported methods are safe for concurrent use; document
// mutation is serialized by docindex.Index's own lock, and vector/BM25
// mutation by their respective locks, so Core itself holds no lock around
// multi-step operations — a crash mid-operation leaves partial state that
// the next Startup's Reconcile repairs (spec §4.8: "errors from a step do
// not roll back prior steps").
type Core struct {
	mu sync.RWMutex // guards vectors (swapped wholesale on tier switch/compaction rebuild)

	docs     *docindex.Index
	chunker  chunk.Chunker
	embedder EmbeddingService
	vectors  *store.ChunkStore
	bm25     store.BM25Index
	crypto   *crypto.Manager
	factory  VectorStoreFactory

	reranker         rerank.Reranker
	remote           remotesearch.Adapter
	conflictResolver chatmodel.Completer
	metrics          *telemetry.SearchTelemetry

	settings *config.Settings
	logger   *slog.Logger

	fusion *RRFFusion
}

// New constructs a Core from deps, applying opts. Every optional
// collaborator defaults to its null object so Core's methods never branch
// on "is X configured".
func New(deps Dependencies, opts ...Option) (*Core, error) {
	if deps.Documents == nil {
		return nil, fmt.Errorf("%w: document index is required", ErrNilDependency)
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("%w: chunker is required", ErrNilDependency)
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("%w: embedding service is required", ErrNilDependency)
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	if deps.Crypto == nil {
		return nil, fmt.Errorf("%w: crypto manager is required", ErrNilDependency)
	}

	c := &Core{
		docs:             deps.Documents,
		chunker:          deps.Chunker,
		embedder:         deps.Embedder,
		vectors:          deps.Vectors,
		bm25:             deps.BM25,
		crypto:           deps.Crypto,
		factory:          deps.VectorFactory,
		reranker:         rerank.NoOp{},
		remote:           remotesearch.Disabled{},
		conflictResolver: chatmodel.Disabled{},
		settings:         config.NewSettings(),
		logger:           slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fusion = NewRRFFusion(c.settings.Search.RRFConstant)
	return c, nil
}

// Startup loads the DocumentIndex from disk and reconciles it against the
// search indexes (spec §4.8's startup sequence). Call once before any
// other method.
func (c *Core) Startup(ctx context.Context) error {
	if err := c.docs.Load(); err != nil {
		return err
	}
	return c.Reconcile(ctx)
}

func wrapChunkOptions(s *config.Settings, maxTokens int) chunk.Options {
	strategy := chunk.Strategy(s.ChunkStrategy)
	size := s.Search.ChunkSize
	if maxTokens > 0 {
		// The embedding model's own token budget caps how large a chunk
		// can be, independent of the configured chunk_size (spec §4.3:
		// MaxTokens sizes Chunker.Options.MaxChunkSize).
		if budget := maxTokens * 4; budget < size || size <= 0 {
			size = budget
		}
	}
	return chunk.Options{
		Strategy:     strategy,
		MaxChunkSize: size,
		Overlap:      s.Search.ChunkOverlap,
	}
}
