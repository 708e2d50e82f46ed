// Package cmd provides the CLI commands for knowledgectl, a thin
// command-line harness over the knowledge core (chunk/embed/index/search,
// host-memory dedup) for local exercising and scripting. The application
// shell described in SPEC_FULL.md §Out-of-scope owns the real UI; this is
// the operator-facing surface the core itself ships with, grounded on the
// teacher's cmd/amanmcp/cmd package.
package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	_ "modernc.org/sqlite"

	"github.com/knowhost/corekit/internal/chatmodel"
	"github.com/knowhost/corekit/internal/chunk"
	"github.com/knowhost/corekit/internal/config"
	"github.com/knowhost/corekit/internal/core"
	"github.com/knowhost/corekit/internal/crypto"
	"github.com/knowhost/corekit/internal/docindex"
	"github.com/knowhost/corekit/internal/embed"
	"github.com/knowhost/corekit/internal/logging"
	"github.com/knowhost/corekit/internal/remotesearch"
	"github.com/knowhost/corekit/internal/rerank"
	"github.com/knowhost/corekit/internal/store"
	"github.com/knowhost/corekit/internal/telemetry"
)

// vectorsDirName and bm25FileName mirror spec §6's on-disk layout under the
// knowledge/ directory.
const (
	vectorsDirName = "vectors"
	bm25FileName   = "index.bin"
)

// App bundles every component New wires together plus the closers each
// command needs to release on exit.
type App struct {
	Settings *config.Settings
	DataDir  string

	Crypto   *crypto.Manager
	Docs     *docindex.Index
	Vectors  *store.ChunkStore
	BM25     store.BM25Index
	Embedder *embed.Service
	Core     *core.Core
	Metrics  *telemetry.SearchTelemetry

	bm25Path   string
	vectorsDir string
	telemetry  *sql.DB
	logCleanup func()
}

func vectorFactory(s *config.Settings) core.VectorStoreFactory {
	return func(dims int) (store.VectorStore, error) {
		cfg := store.DefaultVectorStoreConfig(dims)
		cfg.EfSearch = s.Performance.VectorEfSearch
		return store.NewHNSWStore(cfg)
	}
}

// resolveTier maps Settings.LocalModel onto an embed.Tier. "auto" (the
// default) picks the lite tier so a fresh install never blocks on a
// remote embedding endpoint (spec §4.3: lite needs no download).
func resolveTier(localModel string) embed.Tier {
	switch embed.Tier(localModel) {
	case embed.TierStandard:
		return embed.TierStandard
	case embed.TierLarge:
		return embed.TierLarge
	default:
		return embed.TierLite
	}
}

// isTTY reports whether w is a terminal, mirroring the teacher's
// ui.IsTTY: commands use it to decide between a decorated, human-facing
// line and a single bare token a script can pipe onward.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// autoUnlock tries to unlock cm without an interactive prompt: first the
// COREKIT_PASSWORD env var, then whatever the OS credential store holds
// from a previous `password set`/`unlock`/`change` (spec §4.1's "process
// may persist the password ... so the next launch can auto-unlock").
// Both are best-effort; a command that needs encryption and finds itself
// still locked surfaces that as a normal error from Core/crypto.
func autoUnlock(cm *crypto.Manager) {
	if !cm.HasPassword() || cm.IsUnlocked() {
		return
	}
	if pw := os.Getenv("COREKIT_PASSWORD"); pw != "" {
		if cm.Unlock(pw) == nil {
			return
		}
	}
	if pw, err := crypto.NewKeychain().Recover(); err == nil {
		_ = cm.Unlock(pw)
	}
}

// openTelemetry opens (creating if needed) the SQLite-backed search
// telemetry store (ambient bm25/vector/hybrid latency and zero-result
// logging) and wraps it in a SearchTelemetry collector ready for
// core.WithMetrics.
func openTelemetry(dataDir string) (*sql.DB, *telemetry.SearchTelemetry, error) {
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry db: %w", err)
	}
	if err := telemetry.InitTelemetrySchema(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init telemetry schema: %w", err)
	}
	metricsStore, err := telemetry.NewSQLiteSearchTelemetryStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, telemetry.NewSearchTelemetry(metricsStore), nil
}

// setupLogging configures a file-backed slog.Logger under dataDir/logs,
// mirroring the teacher's logging.Setup (rotating writer + JSON handler)
// rather than Core's bare stderr text logger. Level follows --verbose.
// Logging failures never block the CLI: they fall back to Core's default.
func setupLogging(dataDir string) (*slog.Logger, func()) {
	cfg := logging.DefaultConfig()
	cfg.FilePath = filepath.Join(dataDir, "logs", "core.log")
	cfg.WriteToStderr = false
	if verboseFlag {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return nil, func() {}
	}
	return logger, cleanup
}

// buildApp loads Settings, opens every on-disk store under dataDir, and
// assembles a Core ready for Startup. Callers must call App.Close when
// done and, for commands that mutate the vector/BM25 indexes, App.Save
// before exit (the vector store is written to disk only by Save; the bleve
// BM25 index writes each indexed batch to disk itself).
func buildApp(ctx context.Context, dataDir string) (*App, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if dataDir == "" {
		dataDir = config.KnowledgeDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cm, err := crypto.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("init crypto: %w", err)
	}
	autoUnlock(cm)

	docs, err := docindex.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("init document index: %w", err)
	}

	embedder := embed.NewService()
	remote := embed.RemoteConfig{Endpoint: settings.Embeddings.RemoteEndpoint, Timeout: embed.DefaultRemoteTimeout}
	if err := embedder.Initialize(resolveTier(settings.LocalModel), remote, settings.Embeddings.CacheSize); err != nil {
		return nil, fmt.Errorf("init embedding service: %w", err)
	}

	vectorsDir := filepath.Join(dataDir, vectorsDirName)
	innerVS, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	vectors := store.NewChunkStore(innerVS, embedder.Dimensions(), store.DefaultCompactionPolicy())
	if err := vectors.Load(vectorsDir); err != nil {
		return nil, fmt.Errorf("load vector store: %w", err)
	}
	if vectors.Dimensions() != embedder.Dimensions() && vectors.Stats().ChunkCount > 0 {
		// spec §4.4: stored dimensionality no longer matches the active
		// model; drop and let Core.Reconcile re-embed everything.
		_ = vectors.Clear()
	}

	bm25Path := filepath.Join(dataDir, "bm25", bm25FileName)
	bm25, err := store.NewBleveBM25Index(bm25Path, store.DefaultBM25Config())
	if err != nil {
		return nil, fmt.Errorf("init bm25 index: %w", err)
	}

	telemetryDB, metrics, err := openTelemetry(dataDir)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	logger, logCleanup := setupLogging(dataDir)

	deps := core.Dependencies{
		Documents:     docs,
		Chunker:       chunk.NewTextChunker(),
		Embedder:      embedder,
		Vectors:       vectors,
		BM25:          bm25,
		Crypto:        cm,
		VectorFactory: vectorFactory(settings),
	}

	opts := []core.Option{core.WithSettings(settings), core.WithMetrics(metrics)}
	if logger != nil {
		opts = append(opts, core.WithLogger(logger))
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		chat, err := chatmodel.New(chatmodel.Config{APIKey: apiKey})
		if err == nil {
			if settings.EnableRerank {
				opts = append(opts, core.WithReranker(rerank.New(chat)))
			}
			opts = append(opts, core.WithConflictResolver(chat))
		}
	}
	if settings.MCPServerID != "" {
		if adapter, err := remotesearch.New(remotesearch.Config{URL: settings.MCPServerID}); err == nil {
			opts = append(opts, core.WithRemoteSearch(adapter))
		}
	}

	c, err := core.New(deps, opts...)
	if err != nil {
		return nil, fmt.Errorf("init knowledge core: %w", err)
	}

	app := &App{
		Settings:   settings,
		DataDir:    dataDir,
		Crypto:     cm,
		Docs:       docs,
		Vectors:    vectors,
		BM25:       bm25,
		Embedder:   embedder,
		Core:       c,
		Metrics:    metrics,
		bm25Path:   bm25Path,
		vectorsDir: vectorsDir,
		telemetry:  telemetryDB,
		logCleanup: logCleanup,
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.Startup(startCtx); err != nil {
		return nil, fmt.Errorf("core startup: %w", err)
	}
	return app, nil
}

// Save persists the vector and BM25 indexes to disk. DocumentIndex saves
// itself on every Put/Delete, so it isn't repeated here.
func (a *App) Save() error {
	if err := a.Vectors.Save(a.vectorsDir); err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}
	if err := a.BM25.Save(a.bm25Path); err != nil {
		return fmt.Errorf("save bm25 index: %w", err)
	}
	return nil
}

// Close releases every collaborator's resources. Call after Save.
func (a *App) Close() error {
	var firstErr error
	for _, closeFn := range []func() error{a.BM25.Close, a.Vectors.Close, a.Embedder.Close, a.Metrics.Close, a.telemetry.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
	return firstErr
}
