package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/minios-linux/doctrans/gateway"
)

// OpenAIConfig configures an OpenAI-compatible backend (OpenAI, Groq,
// Ollama, any proxy speaking chat/completions).
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
	Model   string // defaults to gpt-4o-mini
	Proxy   string
	Timeout time.Duration
	// SystemPrompt overrides the default prompt.
	SystemPrompt string
	Temperature  float32
	Logger       *zap.Logger
}

// OpenAI translates through the chat completions API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.Logger
}

// NewOpenAI returns an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = gateway.NewHTTPClient(cfg.Proxy, cfg.Timeout)

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg, log: log}, nil
}

// Translate implements gateway.Translator.
func (o *OpenAI) Translate(ctx context.Context, req gateway.Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	system, user, err := Prompt(o.cfg.SystemPrompt, req)
	if err != nil {
		return nil, gateway.Invalid(0, err.Error())
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return nil, classifyOpenAI(ctx, err)
	}
	o.log.Debug("openai chat completion",
		zap.String("model", o.cfg.Model),
		zap.Int("texts", len(req.Texts)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	if len(resp.Choices) == 0 {
		return nil, gateway.Transient(0, "no choices returned", nil)
	}
	return ParseTranslations(resp.Choices[0].Message.Content, len(req.Texts))
}

func classifyOpenAI(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := gateway.FromStatus(apiErr.HTTPStatusCode, apiErr.Message)
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests && apiErr.Type == "insufficient_quota" {
			e = gateway.Quota(apiErr.HTTPStatusCode, apiErr.Message)
		}
		e.Err = err
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := gateway.FromStatus(reqErr.HTTPStatusCode, "request failed")
		e.Err = err
		return e
	}
	return gateway.Transient(0, "openai request failed", err)
}
