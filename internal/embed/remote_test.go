package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
			return
		case "/embed":
			var req remoteEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := remoteEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[0] = 1.0
				resp.Embeddings[i] = vec
			}
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRemoteEmbedderEmbedBatch(t *testing.T) {
	srv := fakeEmbedServer(t, DimensionsStandard)
	defer srv.Close()

	e, err := NewRemoteEmbedder(TierStandard, RemoteConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, DimensionsStandard)
	}
}

func TestRemoteEmbedderNoEndpoint(t *testing.T) {
	_, err := NewRemoteEmbedder(TierStandard, RemoteConfig{})
	assert.Error(t, err)
}

func TestRemoteEmbedderUnreachable(t *testing.T) {
	e, err := NewRemoteEmbedder(TierLarge, RemoteConfig{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestRemoteEmbedderDimensionMismatchIsRejected(t *testing.T) {
	srv := fakeEmbedServer(t, DimensionsLite) // wrong size for TierStandard
	defer srv.Close()

	e, err := NewRemoteEmbedder(TierStandard, RemoteConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestRemoteEmbedderAvailable(t *testing.T) {
	srv := fakeEmbedServer(t, DimensionsStandard)
	defer srv.Close()

	e, err := NewRemoteEmbedder(TierStandard, RemoteConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}

func TestRemoteEmbedderBatchesLargeInput(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req remoteEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := remoteEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = make([]float32, DimensionsStandard)
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e, err := NewRemoteEmbedder(TierStandard, RemoteConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	defer e.Close()

	texts := make([]string, MaxBatchSize+10)
	for i := range texts {
		texts[i] = "x"
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, 2, calls)
}
