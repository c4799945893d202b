// Package llm hides chat-completion backends behind one Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

var ErrMissingAPIKey = errors.New("llm: missing API key")

// Options tune a single completion. Zero values fall back to provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string
	System      string
}

type Provider interface {
	Name() string
	DefaultModel() string
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Kind buckets provider failures by what the caller should do about them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers 429, 5xx, timeouts and network errors.
	KindTransient
	// KindAuth covers 401/403 and missing credentials. Never retried.
	KindAuth
	// KindPermanent covers other 4xx, empty responses and budget exhaustion.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is returned by every provider in this package.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

// Classify reports the failure kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return KindAuth
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable is the retry predicate for provider calls.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}

// IsAuth reports configuration or credential failures that must reach the operator.
func IsAuth(err error) bool {
	return Classify(err) == KindAuth
}

// Config selects and configures a backend.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

var defaultModels = map[string]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderAnthropic:  "claude-3-5-haiku-latest",
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderGemini:     "gemini-1.5-flash",
}

var defaultBaseURLs = map[string]string{
	ProviderAnthropic:  "https://api.anthropic.com/v1/",
	ProviderOpenRouter: "https://openrouter.ai/api/v1/",
}

// New builds the provider named in cfg.
func New(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderOpenAI
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, name)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[name]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch name {
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}
		return NewOpenAICompatible(name, cfg.APIKey, baseURL, model, timeout), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, model, timeout)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// StripCodeFences removes a surrounding ```json ... ``` wrapper if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
