package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// RemoteEmbedder is the "standard"/"large" tier: a thin HTTP client over a
// locally-reachable embedding endpoint (e.g. a model server listening on
// localhost, same shape as the teacher's own local-HTTP-service clients).
// Model lifecycle (pulling/loading weights) belongs to a separate model
// manager, out of scope here; RemoteEmbedder only ever calls an endpoint
// that's already serving.
type RemoteEmbedder struct {
	mu         sync.RWMutex
	endpoint   string
	model      string
	tier       Tier
	dimensions int
	httpClient *http.Client
	closed     bool
}

// RemoteConfig configures a RemoteEmbedder.
type RemoteConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// DefaultRemoteTimeout mirrors the teacher's own default HTTP client timeout
// for local model servers.
const DefaultRemoteTimeout = 30 * time.Second

// NewRemoteEmbedder constructs a RemoteEmbedder for the given tier. The
// tier fixes the advertised dimensionality; the server is trusted to
// return vectors of that length (EmbedBatch validates it).
func NewRemoteEmbedder(tier Tier, cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, corekiterrors.ModelUnavailable(fmt.Sprintf("no remote endpoint configured for %q tier", tier), nil)
	}
	dims, err := dimensionsForTier(tier)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	model := cfg.Model
	if model == "" {
		model = string(tier)
	}
	return &RemoteEmbedder{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      model,
		tier:       tier,
		dimensions: dims,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func dimensionsForTier(tier Tier) (int, error) {
	switch tier {
	case TierLite:
		return DimensionsLite, nil
	case TierStandard:
		return DimensionsStandard, nil
	case TierLarge:
		return DimensionsLarge, nil
	default:
		return 0, corekiterrors.Validation(fmt.Sprintf("unknown embedding tier %q", tier))
	}
}

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed embeds a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch posts texts to the remote endpoint in chunks of at most
// MaxBatchSize and returns their embeddings in input order.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, corekiterrors.ModelUnavailable("remote embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (e *RemoteEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(remoteEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, corekiterrors.Internal("failed to encode embedding request", err)
	}

	url := e.endpoint + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, corekiterrors.Internal("failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, corekiterrors.RemoteFailure(fmt.Sprintf("remote embedder %q unreachable", e.endpoint), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, corekiterrors.RemoteFailure("failed to read embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, corekiterrors.RemoteFailure(fmt.Sprintf("remote embedder returned status %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var parsed remoteEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, corekiterrors.RemoteFailure("failed to decode embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, corekiterrors.RemoteFailure(fmt.Sprintf("remote embedder returned %d vectors for %d inputs", len(parsed.Embeddings), len(texts)), nil)
	}

	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dimensions {
			return nil, corekiterrors.DimensionMismatch(len(vec), e.dimensions)
		}
		parsed.Embeddings[i] = normalizeVector(vec)
	}
	return parsed.Embeddings, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Dimensions returns this tier's fixed dimensionality.
func (e *RemoteEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the configured remote model identifier.
func (e *RemoteEmbedder) ModelName() string { return e.model }

// Available probes the endpoint's health check.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	client := e.httpClient
	endpoint := e.endpoint
	e.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases the HTTP client's idle connections.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.httpClient.CloseIdleConnections()
	return nil
}

var _ Embedder = (*RemoteEmbedder)(nil)
