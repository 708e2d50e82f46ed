package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettingsDefaults(t *testing.T) {
	s := NewSettings()
	assert.True(t, s.Enabled)
	assert.Equal(t, EmbeddingModeLocal, s.EmbeddingMode)
	assert.Equal(t, ChunkStrategyParagraph, s.ChunkStrategy)
	assert.Equal(t, 5, s.SearchTopK)
	assert.Equal(t, 0.7, s.HybridWeight)
	assert.Equal(t, 60, s.Search.RRFConstant)
	assert.Equal(t, 1.5, s.Search.BM25K1)
	assert.Equal(t, 0.75, s.Search.BM25B)
	require.NoError(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid defaults", func(s *Settings) {}, false},
		{"bad embedding mode", func(s *Settings) { s.EmbeddingMode = "bogus" }, true},
		{"bad chunk strategy", func(s *Settings) { s.ChunkStrategy = "bogus" }, true},
		{"zero top k", func(s *Settings) { s.SearchTopK = 0 }, true},
		{"negative top k", func(s *Settings) { s.SearchTopK = -1 }, true},
		{"hybrid weight too high", func(s *Settings) { s.HybridWeight = 1.5 }, true},
		{"hybrid weight negative", func(s *Settings) { s.HybridWeight = -0.1 }, true},
		{"rrf constant zero", func(s *Settings) { s.Search.RRFConstant = 0 }, true},
		{"bm25 b out of range", func(s *Settings) { s.Search.BM25B = 1.5 }, true},
		{"bad log level", func(s *Settings) { s.Logging.Level = "verbose" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSettings()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingsMergeWith(t *testing.T) {
	base := NewSettings()
	other := NewSettings()
	other.SearchTopK = 20
	other.Search.BM25K1 = 2.0
	other.Embeddings.RemoteEndpoint = "http://example.invalid/embed"

	base.mergeWith(other)

	assert.Equal(t, 20, base.SearchTopK)
	assert.Equal(t, 2.0, base.Search.BM25K1)
	assert.Equal(t, "http://example.invalid/embed", base.Embeddings.RemoteEndpoint)
}

func TestSettingsYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	s := NewSettings()
	s.SearchTopK = 42
	s.EnableRerank = true
	require.NoError(t, s.WriteYAML(path))

	loaded := NewSettings()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 42, loaded.SearchTopK)
	assert.True(t, loaded.EnableRerank)
}

func TestGetUserConfigPathRespectsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	assert.Equal(t, "/tmp/xdg-test/corekit/config.yaml", GetUserConfigPath())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COREKIT_SEARCH_TOP_K", "15")
	t.Setenv("COREKIT_ENABLE_RERANK", "true")
	s := NewSettings()
	s.applyEnvOverrides()
	assert.Equal(t, 15, s.SearchTopK)
	assert.True(t, s.EnableRerank)
}
