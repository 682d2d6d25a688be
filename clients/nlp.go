package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/taar/callqa-pipeline/evaluation"
)

var _ evaluation.Completer = (*OpenAICompleter)(nil)

// --- Rubric evaluation (/chat/completions) ---

// OpenAICompleter runs single-turn chat completions with deterministic
// decoding and a JSON-object reply format.
type OpenAICompleter struct {
	client oai.Client
	model  string
}

type completerConfig struct {
	baseURL string
	timeout time.Duration
}

type CompleterOption func(*completerConfig)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) CompleterOption {
	return func(c *completerConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) CompleterOption {
	return func(c *completerConfig) { c.timeout = d }
}

func NewOpenAICompleter(apiKey, model string, opts ...CompleterOption) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &completerConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &OpenAICompleter{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (p *OpenAICompleter) params(system, user string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature: param.NewOpt(0.0),
		TopP:        param.NewOpt(1.0),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
}

// Complete returns the content of the first choice.
func (p *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(system, user))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
