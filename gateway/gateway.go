// Package gateway defines the boundary to an external translation service
// and the error taxonomy shared by every backend.
//
// A backend receives a batch of tagged strings and returns the translated
// strings in the same order. Backends report failures as *Error values whose
// kind is one of ErrTransient, ErrQuotaExceeded or ErrInvalidRequest, so the
// retry layer and the pipeline can classify them with errors.Is.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Error kinds.
var (
	// ErrTransient marks failures worth retrying: timeouts, connection
	// errors, rate limiting and 5xx responses.
	ErrTransient = errors.New("transient service error")
	// ErrQuotaExceeded marks an exhausted account quota.
	ErrQuotaExceeded = errors.New("translation quota exceeded")
	// ErrInvalidRequest marks requests the service will never accept:
	// bad credentials, unsupported languages, oversized payloads or a
	// response that does not match the request.
	ErrInvalidRequest = errors.New("invalid translation request")
)

// Request is one batch sent to the service.
type Request struct {
	SourceLang string // empty lets the service detect it
	TargetLang string
	Texts      []string
	// Formality is one of default, more, less, prefer_more, prefer_less.
	Formality  string
	GlossaryID string
	// Context is extra text that influences the translation but is not
	// translated itself.
	Context string
}

// Translator translates a batch of tagged strings. The result has the same
// length and order as req.Texts.
type Translator interface {
	Translate(ctx context.Context, req Request) ([]string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, req Request) ([]string, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, req Request) ([]string, error) {
	return f(ctx, req)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a classified service failure.
type Error struct {
	// Kind is ErrTransient, ErrQuotaExceeded or ErrInvalidRequest.
	Kind       error
	StatusCode int // 0 when no HTTP response was received
	Message    string
	// RetryAfter is a server supplied delay before the next attempt.
	RetryAfter time.Duration
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Transient returns a retryable error.
func Transient(status int, msg string, cause error) *Error {
	return &Error{Kind: ErrTransient, StatusCode: status, Message: msg, Err: cause}
}

// Invalid returns a non-retryable request error.
func Invalid(status int, msg string) *Error {
	return &Error{Kind: ErrInvalidRequest, StatusCode: status, Message: msg}
}

// Quota returns a quota error.
func Quota(status int, msg string) *Error {
	return &Error{Kind: ErrQuotaExceeded, StatusCode: status, Message: msg}
}

// FromStatus classifies an unsuccessful HTTP status code. Services that use
// non-standard codes (DeepL's 456) map those themselves first.
func FromStatus(status int, msg string) *Error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return Transient(status, msg, nil)
	case status == http.StatusPaymentRequired:
		return Quota(status, msg)
	default:
		return Invalid(status, msg)
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// CheckResponse verifies that a backend returned one string per input.
func CheckResponse(req Request, out []string) error {
	if len(out) != len(req.Texts) {
		return Invalid(0, fmt.Sprintf("response has %d texts, request had %d", len(out), len(req.Texts)))
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

// NewHTTPClient returns a client for service backends. An empty proxyURL
// falls back to HTTP_PROXY/HTTPS_PROXY from the environment.
func NewHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Truncate shortens s for inclusion in error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
