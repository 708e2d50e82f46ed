package chatmodel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	corekiterrors "github.com/knowhost/corekit/internal/errors"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-haiku-latest"

// DefaultMaxTokens bounds replies for the reranker's permutation and the
// conflict resolver's JSON verdict; neither needs more than a short answer.
const DefaultMaxTokens = 1024

// DefaultTimeout bounds a single chat-completion call (§4.6/§4.8 timeout
// behavior: treat a timed-out call the same as a remote failure).
const DefaultTimeout = 15 * time.Second

// Config configures an Anthropic-backed Completer.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Anthropic is a Completer backed by the Anthropic Messages API. It serves
// both the reranker's LLM judge and the host-memory conflict resolver; both
// only need a single system+user turn and the raw text reply.
type Anthropic struct {
	sdk      anthropic.Client
	model    string
	retryCfg corekiterrors.RetryConfig
	breaker  *corekiterrors.CircuitBreaker
}

var _ Completer = (*Anthropic)(nil)

// New builds an Anthropic-backed Completer. Returns an error if cfg.APIKey
// is empty; callers without a key should use Disabled instead.
func New(cfg Config) (*Anthropic, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, corekiterrors.Validation("anthropic chat model requires an API key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	return &Anthropic{
		sdk:   anthropic.NewClient(opts...),
		model: model,
		retryCfg: corekiterrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		breaker: corekiterrors.NewCircuitBreaker("anthropic-chat"),
	}, nil
}

func (a *Anthropic) Available() bool { return a != nil }

// Complete sends a single system+user turn and returns the concatenated
// text of every text block in the reply. Transient failures are retried
// with backoff; the caller is responsible for fail-open behavior once the
// error is finally returned (§4.6, §4.8 step 4).
func (a *Anthropic) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: DefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := corekiterrors.CircuitExecuteWithResult(a.breaker,
		func() (*anthropic.Message, error) {
			return corekiterrors.RetryWithResult(ctx, a.retryCfg, func() (*anthropic.Message, error) {
				return a.sdk.Messages.New(ctx, params)
			})
		},
		func() (*anthropic.Message, error) {
			return nil, corekiterrors.ErrCircuitOpen
		},
	)
	if err != nil {
		return "", corekiterrors.RemoteFailure("anthropic chat completion failed", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}
