package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/minios-linux/doctrans/gateway"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // overrides the API endpoint, used by tests
	Proxy   string
	Timeout time.Duration
	// SystemPrompt overrides the default prompt.
	SystemPrompt string
	Temperature  float32
	Logger       *zap.Logger
}

// Gemini translates through the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
	log    *zap.Logger
}

// NewGemini returns a Gemini backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: gateway.NewHTTPClient(cfg.Proxy, cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gemini{client: client, cfg: cfg, log: log}, nil
}

// Translate implements gateway.Translator.
func (g *Gemini) Translate(ctx context.Context, req gateway.Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	system, user, err := Prompt(g.cfg.SystemPrompt, req)
	if err != nil {
		return nil, gateway.Invalid(0, err.Error())
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, classifyGemini(ctx, err)
	}
	g.log.Debug("gemini generate content",
		zap.String("model", g.cfg.Model),
		zap.Int("texts", len(req.Texts)),
		zap.Duration("elapsed", time.Since(start)))

	text := resp.Text()
	if text == "" {
		return nil, gateway.Transient(0, "empty reply", nil)
	}
	return ParseTranslations(text, len(req.Texts))
}

func classifyGemini(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == 0 {
		return gateway.Transient(0, "gemini request failed", err)
	}
	e := gateway.FromStatus(code, "gemini request failed")
	if code == http.StatusTooManyRequests {
		// Gemini reports both rate limits and exhausted free-tier quota as
		// 429; back off a full minute either way.
		e.RetryAfter = 65 * time.Second
	}
	e.Err = err
	return e
}
