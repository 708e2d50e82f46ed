// Package config loads and persists the knowledge core's Settings: the
// user-facing options named in the spec (embedding mode, chunk strategy,
// search defaults) plus the ambient knobs every component reads at
// construction time (logging level, RRF constant, BM25 tuning, worker
// count, cache size, compaction thresholds).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmbeddingMode selects where the active embedding model runs.
type EmbeddingMode string

const (
	EmbeddingModeLocal  EmbeddingMode = "local"
	EmbeddingModeRemote EmbeddingMode = "remote"
)

// ChunkStrategy selects how Document content is split into Chunks.
type ChunkStrategy string

const (
	ChunkStrategyFixed     ChunkStrategy = "fixed"
	ChunkStrategyParagraph ChunkStrategy = "paragraph"
	ChunkStrategySemantic  ChunkStrategy = "semantic"
)

// Settings is the complete configuration for a knowledge core instance.
// It mirrors spec §3's Settings block plus the ambient stack every
// component needs (logging, RRF, BM25, performance, compaction).
type Settings struct {
	Version int `yaml:"version" json:"version"`

	// Spec §3 Settings.
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	EmbeddingMode EmbeddingMode `yaml:"embedding_mode" json:"embedding_mode"`
	LocalModel    string        `yaml:"local_model" json:"local_model"` // tier id, or "auto"
	ChunkStrategy ChunkStrategy `yaml:"chunk_strategy" json:"chunk_strategy"`
	SearchTopK    int           `yaml:"search_top_k" json:"search_top_k"`
	EnableRerank  bool          `yaml:"enable_rerank" json:"enable_rerank"`
	HybridWeight  float64       `yaml:"hybrid_weight" json:"hybrid_weight"` // reserved, see DESIGN.md
	MCPServerID   string        `yaml:"mcp_server_id" json:"mcp_server_id"`

	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Compaction  CompactionConfig  `yaml:"compaction" json:"compaction"`
}

// SearchConfig configures hybrid search fusion and chunking defaults.
type SearchConfig struct {
	RRFConstant  int     `yaml:"rrf_constant" json:"rrf_constant"`
	BM25K1       float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B        float64 `yaml:"bm25_b" json:"bm25_b"`
	ChunkSize    int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	Similarity   float64 `yaml:"similarity" json:"similarity"`
}

// EmbeddingsConfig configures the tiered embedding backends.
type EmbeddingsConfig struct {
	// RemoteEndpoint is the HTTP base URL used by the "standard"/"large"
	// tiers when EmbeddingMode is "remote".
	RemoteEndpoint string `yaml:"remote_endpoint" json:"remote_endpoint"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	CacheSize      int    `yaml:"cache_size" json:"cache_size"`
}

// PerformanceConfig configures worker/resource tuning.
type PerformanceConfig struct {
	Workers       int `yaml:"workers" json:"workers"`
	VectorEfSearch int `yaml:"vector_ef_search" json:"vector_ef_search"`
}

// LoggingConfig configures the ambient slog setup.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// CompactionConfig holds compaction settings read from the config file
// (§4.4, SPEC_FULL §3). They are parsed but not applied: the CLI builds its
// ChunkStore with store.DefaultCompactionPolicy, and IdleTimeout is not read.
type CompactionConfig struct {
	DeletionThreshold int    `yaml:"deletion_threshold" json:"deletion_threshold"` // reference: 10
	IntervalSeconds   int    `yaml:"interval_seconds" json:"interval_seconds"`     // reference: 300
	IdleTimeout       string `yaml:"idle_timeout" json:"idle_timeout"`
}

// NewSettings returns Settings populated with the spec's reference
// defaults.
func NewSettings() *Settings {
	return &Settings{
		Version:       1,
		Enabled:       true,
		EmbeddingMode: EmbeddingModeLocal,
		LocalModel:    "auto",
		ChunkStrategy: ChunkStrategyParagraph,
		SearchTopK:    5,
		EnableRerank:  false,
		HybridWeight:  0.7,
		MCPServerID:   "",
		Search: SearchConfig{
			RRFConstant:  60,
			BM25K1:       1.5,
			BM25B:        0.75,
			ChunkSize:    1000,
			ChunkOverlap: 100,
			Similarity:   0.7,
		},
		Embeddings: EmbeddingsConfig{
			RemoteEndpoint: "",
			BatchSize:      32,
			CacheSize:      1000,
		},
		Performance: PerformanceConfig{
			Workers:        runtime.NumCPU(),
			VectorEfSearch: 20,
		},
		Logging: LoggingConfig{
			Level:         "info",
			FilePath:      DefaultLogPath(),
			WriteToStderr: false,
		},
		Compaction: CompactionConfig{
			DeletionThreshold: 10,
			IntervalSeconds:   300,
			IdleTimeout:       "30s",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory spec:
//   - $XDG_CONFIG_HOME/corekit/config.yaml (if set)
//   - ~/.config/corekit/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "corekit", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "corekit", "config.yaml")
	}
	return filepath.Join(home, ".config", "corekit", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// DataRoot returns the per-user data root under which `knowledge/` (spec
// §6's on-disk layout) lives.
func DataRoot() string {
	if v := os.Getenv("COREKIT_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".corekit")
	}
	return filepath.Join(home, ".corekit")
}

// KnowledgeDir returns the `knowledge/` directory described in spec §6.
func KnowledgeDir() string {
	return filepath.Join(DataRoot(), "knowledge")
}

// loadUserConfig loads the user/global configuration file if present.
// A missing file is not an error.
func loadUserConfig() (*Settings, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	s := NewSettings()
	if err := s.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return s, nil
}

// Load loads Settings from the user config path, applying environment
// overrides, validating the result.
func Load() (*Settings, error) {
	s := NewSettings()

	if user, err := loadUserConfig(); err != nil {
		return nil, err
	} else if user != nil {
		s.mergeWith(user)
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// loadYAML reads and merges a YAML file's fields into s.
func (s *Settings) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Settings
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	s.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero fields from other into s.
func (s *Settings) mergeWith(other *Settings) {
	if other.Version != 0 {
		s.Version = other.Version
	}
	if other.EmbeddingMode != "" {
		s.EmbeddingMode = other.EmbeddingMode
	}
	if other.LocalModel != "" {
		s.LocalModel = other.LocalModel
	}
	if other.ChunkStrategy != "" {
		s.ChunkStrategy = other.ChunkStrategy
	}
	if other.SearchTopK != 0 {
		s.SearchTopK = other.SearchTopK
	}
	if other.HybridWeight != 0 {
		s.HybridWeight = other.HybridWeight
	}
	if other.MCPServerID != "" {
		s.MCPServerID = other.MCPServerID
	}

	if other.Search.RRFConstant != 0 {
		s.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.BM25K1 != 0 {
		s.Search.BM25K1 = other.Search.BM25K1
	}
	if other.Search.BM25B != 0 {
		s.Search.BM25B = other.Search.BM25B
	}
	if other.Search.ChunkSize != 0 {
		s.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		s.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.Similarity != 0 {
		s.Search.Similarity = other.Search.Similarity
	}

	if other.Embeddings.RemoteEndpoint != "" {
		s.Embeddings.RemoteEndpoint = other.Embeddings.RemoteEndpoint
	}
	if other.Embeddings.BatchSize != 0 {
		s.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		s.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Performance.Workers != 0 {
		s.Performance.Workers = other.Performance.Workers
	}
	if other.Performance.VectorEfSearch != 0 {
		s.Performance.VectorEfSearch = other.Performance.VectorEfSearch
	}

	if other.Logging.Level != "" {
		s.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		s.Logging.FilePath = other.Logging.FilePath
	}

	if other.Compaction.DeletionThreshold != 0 {
		s.Compaction.DeletionThreshold = other.Compaction.DeletionThreshold
	}
	if other.Compaction.IntervalSeconds != 0 {
		s.Compaction.IntervalSeconds = other.Compaction.IntervalSeconds
	}
	if other.Compaction.IdleTimeout != "" {
		s.Compaction.IdleTimeout = other.Compaction.IdleTimeout
	}

	// Booleans: merging "is set" state would need pointer fields; in
	// practice the loaded file always carries the caller's intent for
	// these (enabled/rerank are always written on Save).
	s.Enabled = other.Enabled
	s.EnableRerank = other.EnableRerank
}

// applyEnvOverrides applies COREKIT_* environment variable overrides,
// the highest-precedence layer.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("COREKIT_EMBEDDING_MODE"); v != "" {
		s.EmbeddingMode = EmbeddingMode(v)
	}
	if v := os.Getenv("COREKIT_LOCAL_MODEL"); v != "" {
		s.LocalModel = v
	}
	if v := os.Getenv("COREKIT_SEARCH_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.SearchTopK = n
		}
	}
	if v := os.Getenv("COREKIT_ENABLE_RERANK"); v != "" {
		s.EnableRerank = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("COREKIT_HYBRID_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			s.HybridWeight = w
		}
	}
	if v := os.Getenv("COREKIT_REMOTE_EMBED_ENDPOINT"); v != "" {
		s.Embeddings.RemoteEndpoint = v
	}
	if v := os.Getenv("COREKIT_LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv("COREKIT_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			s.Search.RRFConstant = k
		}
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks the configuration for obviously invalid values.
func (s *Settings) Validate() error {
	switch s.EmbeddingMode {
	case EmbeddingModeLocal, EmbeddingModeRemote:
	default:
		return fmt.Errorf("embedding_mode must be 'local' or 'remote', got %q", s.EmbeddingMode)
	}
	switch s.ChunkStrategy {
	case ChunkStrategyFixed, ChunkStrategyParagraph, ChunkStrategySemantic:
	default:
		return fmt.Errorf("chunk_strategy must be 'fixed', 'paragraph', or 'semantic', got %q", s.ChunkStrategy)
	}
	if s.SearchTopK <= 0 {
		return fmt.Errorf("search_top_k must be positive, got %d", s.SearchTopK)
	}
	if s.HybridWeight < 0 || s.HybridWeight > 1 {
		return fmt.Errorf("hybrid_weight must be between 0 and 1, got %f", s.HybridWeight)
	}
	if s.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", s.Search.RRFConstant)
	}
	if s.Search.BM25K1 <= 0 {
		return fmt.Errorf("search.bm25_k1 must be positive, got %f", s.Search.BM25K1)
	}
	if s.Search.BM25B < 0 || s.Search.BM25B > 1 {
		return fmt.Errorf("search.bm25_b must be between 0 and 1, got %f", s.Search.BM25B)
	}
	if s.Search.ChunkSize <= 0 {
		return fmt.Errorf("search.chunk_size must be positive, got %d", s.Search.ChunkSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(s.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", s.Logging.Level)
	}
	return nil
}

// WriteYAML writes Settings to a YAML file at path.
func (s *Settings) WriteYAML(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig exposes loadUserConfig for callers (e.g. the CLI) that
// want to inspect the user config independent of env overrides.
func LoadUserConfig() (*Settings, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
