// Package deepl is a client for the DeepL REST API v2: text translation
// with XML tag handling, glossary management and usage reporting.
//
// Client implements gateway.Translator. Tagged strings are sent with
// tag_handling=xml; since marker names like <1> are not valid XML element
// names, markers are renamed to <x1> on the wire and back on return.
package deepl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/glossary"
)

// Endpoints. Keys of the free plan end in ":fx".
const (
	ProBaseURL  = "https://api.deepl.com/v2"
	FreeBaseURL = "https://api-free.deepl.com/v2"
)

// Formality values accepted by the API.
var Formalities = []string{"default", "more", "less", "prefer_more", "prefer_less"}

// Config holds the client settings. It is passed explicitly; the client
// reads no global state.
type Config struct {
	APIKey string
	// BaseURL overrides the endpoint chosen from the key.
	BaseURL string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy   string
	Timeout time.Duration
	// HTTPClient replaces the default client entirely.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to one DeepL account.
type Client struct {
	key  string
	base string
	http *http.Client
	log  *zap.Logger
}

// BaseURLForKey picks the free or pro endpoint.
func BaseURLForKey(key string) string {
	if strings.HasSuffix(key, ":fx") {
		return FreeBaseURL
	}
	return ProBaseURL
}

// New returns a client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepl: API key is required")
	}
	c := &Client{
		key:  cfg.APIKey,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: cfg.HTTPClient,
		log:  cfg.Logger,
	}
	if c.base == "" {
		c.base = BaseURLForKey(cfg.APIKey)
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		c.http = gateway.NewHTTPClient(cfg.Proxy, timeout)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

// ValidFormality reports whether f is accepted by the API.
func ValidFormality(f string) bool {
	for _, v := range Formalities {
		if f == v {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Translation
// ---------------------------------------------------------------------------

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate implements gateway.Translator.
func (c *Client) Translate(ctx context.Context, req gateway.Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	if req.TargetLang == "" {
		return nil, gateway.Invalid(0, "target language is required")
	}
	if req.Formality != "" && !ValidFormality(req.Formality) {
		return nil, gateway.Invalid(0, fmt.Sprintf("unknown formality %q", req.Formality))
	}

	form := url.Values{}
	form.Set("target_lang", strings.ToUpper(req.TargetLang))
	if req.SourceLang != "" {
		form.Set("source_lang", strings.ToUpper(req.SourceLang))
	}
	form.Set("tag_handling", "xml")
	form.Set("preserve_formatting", "1")
	// Each text is one unit; sentence splitting on markers would only
	// risk moving them across sentence boundaries.
	form.Set("outline_detection", "0")
	if req.Formality != "" && req.Formality != "default" {
		form.Set("formality", req.Formality)
	}
	if req.GlossaryID != "" {
		form.Set("glossary_id", req.GlossaryID)
	}
	if req.Context != "" {
		form.Set("context", req.Context)
	}
	for _, t := range req.Texts {
		form.Add("text", ToWire(t))
	}

	var resp translateResponse
	start := time.Now()
	if err := c.do(ctx, http.MethodPost, "/translate", form, &resp); err != nil {
		return nil, err
	}
	c.log.Debug("deepl translate",
		zap.Int("texts", len(req.Texts)),
		zap.String("target", req.TargetLang),
		zap.Duration("elapsed", time.Since(start)))

	if len(resp.Translations) != len(req.Texts) {
		return nil, gateway.Invalid(http.StatusOK,
			fmt.Sprintf("response has %d translations, request had %d", len(resp.Translations), len(req.Texts)))
	}
	out := make([]string, len(resp.Translations))
	for i, t := range resp.Translations {
		out[i] = FromWire(t.Text)
	}
	return out, nil
}

var (
	markerRe = regexp.MustCompile(`<(/?)(\d+)(\s*/)?>`)
	wireRe   = regexp.MustCompile(`<(/?)x(\d+)\s*(/)?>`)
)

// ToWire renames markers to XML element names: <1> -> <x1>, </1> -> </x1>,
// <2/> -> <x2/>. Literal '<' is always escaped in tagged strings, so only
// markers match.
func ToWire(s string) string {
	return markerRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		if sub[3] != "" {
			return "<x" + sub[2] + "/>"
		}
		return "<" + sub[1] + "x" + sub[2] + ">"
	})
}

// FromWire reverses ToWire.
func FromWire(s string) string {
	return wireRe.ReplaceAllString(s, "<$1$2$3>")
}

// ---------------------------------------------------------------------------
// Glossaries
// ---------------------------------------------------------------------------

// Glossary describes a registered glossary.
type Glossary struct {
	ID           string `json:"glossary_id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	CreationTime string `json:"creation_time"`
	EntryCount   int    `json:"entry_count"`
}

// RegisterGlossary uploads entries as a new glossary.
func (c *Client) RegisterGlossary(ctx context.Context, name, from, to string, entries []glossary.Entry) (*Glossary, error) {
	if len(entries) == 0 {
		return nil, gateway.Invalid(0, "glossary has no entries")
	}
	form := url.Values{}
	form.Set("name", name)
	form.Set("source_lang", strings.ToLower(from))
	form.Set("target_lang", strings.ToLower(to))
	form.Set("entries_format", "tsv")
	form.Set("entries", glossary.TSV(entries))

	var g Glossary
	if err := c.do(ctx, http.MethodPost, "/glossaries", form, &g); err != nil {
		return nil, fmt.Errorf("registering glossary %q: %w", name, err)
	}
	c.log.Info("glossary registered", zap.String("id", g.ID), zap.Int("entries", g.EntryCount))
	return &g, nil
}

// ListGlossaries returns all glossaries of the account.
func (c *Client) ListGlossaries(ctx context.Context) ([]Glossary, error) {
	var resp struct {
		Glossaries []Glossary `json:"glossaries"`
	}
	if err := c.do(ctx, http.MethodGet, "/glossaries", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing glossaries: %w", err)
	}
	return resp.Glossaries, nil
}

// DeleteGlossary removes a glossary by id.
func (c *Client) DeleteGlossary(ctx context.Context, id string) error {
	if id == "" {
		return gateway.Invalid(0, "glossary id is required")
	}
	if err := c.do(ctx, http.MethodDelete, "/glossaries/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting glossary %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// Usage is the character count of the current billing period.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Usage returns the account usage.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	if err := c.do(ctx, http.MethodGet, "/usage", nil, &u); err != nil {
		return nil, fmt.Errorf("fetching usage: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// StatusQuotaExceeded is DeepL's non-standard quota status.
const StatusQuotaExceeded = 456

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.key)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return gateway.Transient(0, method+" "+path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Transient(resp.StatusCode, "reading response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return gateway.Transient(resp.StatusCode,
			"decoding response: "+gateway.Truncate(string(respBody), 200), err)
	}
	return nil
}

func statusError(resp *http.Response, body []byte) error {
	msg := errorMessage(body)
	switch resp.StatusCode {
	case StatusQuotaExceeded:
		return gateway.Quota(resp.StatusCode, msg)
	case http.StatusForbidden:
		return gateway.Invalid(resp.StatusCode, "authorization failed: "+msg)
	case http.StatusTooManyRequests:
		e := gateway.Transient(resp.StatusCode, msg, nil)
		e.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return e
	}
	return gateway.FromStatus(resp.StatusCode, msg)
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		if e.Detail != "" {
			return e.Message + ": " + e.Detail
		}
		return e.Message
	}
	return gateway.Truncate(strings.TrimSpace(string(body)), 300)
}

// retryAfter parses a Retry-After header in seconds or HTTP date form.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
