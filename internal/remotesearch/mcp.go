package remotesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
	"github.com/knowhost/corekit/pkg/version"
)

// DefaultToolName is the tool a companion MCP server is expected to expose
// when Config.ToolName is left empty.
const DefaultToolName = "search"

// DefaultTimeout bounds a single remote search call.
const DefaultTimeout = 10 * time.Second

// Config configures a companion MCP server reached over Streamable HTTP.
type Config struct {
	// URL is the companion server's MCP endpoint.
	URL string
	// ToolName is the tool invoked for a search request. Defaults to
	// DefaultToolName.
	ToolName string
	// BearerToken is sent as an Authorization header, if non-empty.
	BearerToken string
	Timeout     time.Duration
}

// toolArgs is the JSON payload sent to the remote search tool.
type toolArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

// MCP is an Adapter backed by a single companion MCP server's search tool.
type MCP struct {
	mu       sync.Mutex
	cfg      Config
	client   *mcppkg.Client
	session  *mcppkg.ClientSession
	toolName string
	breaker  *corekiterrors.CircuitBreaker
}

var _ Adapter = (*MCP)(nil)

// New builds an MCP-backed Adapter. The session is established lazily on
// the first Search call so a misconfigured or unreachable server never
// blocks startup.
func New(cfg Config) (*MCP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, corekiterrors.Validation("remote search adapter requires a URL")
	}
	toolName := strings.TrimSpace(cfg.ToolName)
	if toolName == "" {
		toolName = DefaultToolName
	}
	return &MCP{
		cfg:      cfg,
		toolName: toolName,
		client:   mcppkg.NewClient(&mcppkg.Implementation{Name: "corekit", Version: version.Version}, nil),
		breaker:  corekiterrors.NewCircuitBreaker("remote-search-" + toolName),
	}, nil
}

func (m *MCP) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *MCP) connectLocked(ctx context.Context) (*mcppkg.ClientSession, error) {
	if m.session != nil {
		return m.session, nil
	}

	httpClient := &http.Client{}
	if m.cfg.Timeout > 0 {
		httpClient.Timeout = m.cfg.Timeout
	} else {
		httpClient.Timeout = DefaultTimeout
	}
	if m.cfg.BearerToken != "" {
		httpClient.Transport = &bearerRoundTripper{
			base:  http.DefaultTransport,
			token: m.cfg.BearerToken,
		}
	}

	transport := &mcppkg.StreamableClientTransport{Endpoint: m.cfg.URL, HTTPClient: httpClient}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	m.session = session
	return session, nil
}

// Search calls the companion server's search tool and adapts its response
// into Results. A connection or protocol failure is returned to the caller,
// who is responsible for logging and swallowing it (spec §6). A companion
// server that keeps failing trips the circuit breaker so repeated Search
// calls fail fast instead of each paying the full connect/call timeout.
func (m *MCP) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	results, err := corekiterrors.CircuitExecuteWithResult(m.breaker,
		func() ([]Result, error) { return m.searchOnce(ctx, query, topK) },
		func() ([]Result, error) { return nil, corekiterrors.ErrCircuitOpen },
	)
	if err != nil {
		return nil, corekiterrors.RemoteFailure("remote search failed", err)
	}
	return results, nil
}

func (m *MCP) searchOnce(ctx context.Context, query string, topK int) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := m.connectLocked(callCtx)
	if err != nil {
		return nil, fmt.Errorf("remote search connect failed: %w", err)
	}

	res, err := session.CallTool(callCtx, &mcppkg.CallToolParams{
		Name:      m.toolName,
		Arguments: toolArgs{Query: query, TopK: topK},
	})
	if err != nil {
		m.session = nil
		return nil, fmt.Errorf("remote search call failed: %w", err)
	}
	if res.IsError {
		return nil, fmt.Errorf("remote search tool returned an error")
	}

	results, err := decodeResults(res)
	if err != nil {
		return nil, fmt.Errorf("remote search returned an unparsable response: %w", err)
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close shuts down the underlying MCP session, if one was established.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

func decodeResults(res *mcppkg.CallToolResult) ([]Result, error) {
	if res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			var results []Result
			if json.Unmarshal(b, &results) == nil && len(results) > 0 {
				return results, nil
			}
		}
	}

	for _, c := range res.Content {
		text, ok := c.(*mcppkg.TextContent)
		if !ok {
			continue
		}
		var results []Result
		if err := json.Unmarshal([]byte(text.Text), &results); err == nil {
			return results, nil
		}
	}
	return nil, nil
}

type bearerRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(r)
}
