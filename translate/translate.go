// Package translate implements the single-request translation client used by
// the scheduler. It talks to HTTP API-based AI providers: Google AI (Gemini),
// Groq, Ollama and any OpenAI-compatible endpoint.
//
// The client performs exactly one HTTP attempt per call. Retries, pacing and
// quota bookkeeping belong to the caller; the client only classifies what
// went wrong so the caller can decide.
package translate

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/minios-linux/pagetrans/langmeta"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderGoogle       = "google"
	ProviderGroq         = "groq"
	ProviderCustomOpenAI = "custom-openai"
	ProviderOllama       = "ollama"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (google, groq, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 120 * time.Second,
		},
	}
}

// NeedsAPIKey reports whether the provider refuses anonymous requests.
func (p Provider) NeedsAPIKey() bool {
	switch p.ID {
	case ProviderGoogle, ProviderGroq:
		return true
	}
	return false
}

func (p Provider) format() apiFormat {
	if p.ID == ProviderGoogle {
		return formatGeminiNative
	}
	return formatOpenAIChat
}

// ---------------------------------------------------------------------------
// Results and errors
// ---------------------------------------------------------------------------

// Result is the outcome of one translation request.
type Result struct {
	// Success is false when the API answered but produced no usable text
	// (for example a blocked prompt).
	Success bool
	// TranslatedText is the model output with wrapping code fences removed.
	TranslatedText string
	// TokensUsed is the usage reported by the API, or an estimate.
	TokensUsed int
	// Provider is the ID of the provider that served the request.
	Provider string
}

// ErrConfiguration marks failures that retrying cannot fix: missing
// credentials, a missing model, rejected keys or invalid input.
var ErrConfiguration = errors.New("translation provider misconfigured")

// RateLimitError is returned when the API rejects a request with 429.
type RateLimitError struct {
	// RetryAfter is how long the API asked the caller to back off.
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v: %s", e.RetryAfter, truncate(e.Body, 200))
}

// StatusError is returned for non-200 responses other than 429.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, truncate(e.Body, 500))
}

// Unwrap exposes ErrConfiguration for authentication failures, which no
// amount of retrying will fix.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrConfiguration
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Options controls how the client builds prompts.
type Options struct {
	// Language is the target language code (e.g., "ru", "de").
	Language string
	// LanguageName is the human-readable name; resolved from Language if empty.
	LanguageName string
	// SystemPrompt overrides the prompt selected by PromptType.
	SystemPrompt string
	// PromptType selects a built-in or user prompt: "page" or "markdown".
	PromptType string
	// OnLog emits debug messages for each request.
	OnLog func(format string, args ...any)
}

// Client sends one text at a time to a provider.
type Client struct {
	prov   Provider
	prompt string
	http   *http.Client
	onLog  func(format string, args ...any)
}

// NewClient validates the provider configuration and returns a client.
// Missing credentials are reported as ErrConfiguration.
func NewClient(prov Provider, opts Options) (*Client, error) {
	if prov.Model == "" {
		return nil, fmt.Errorf("%w: no model set for provider %q", ErrConfiguration, prov.ID)
	}
	if prov.BaseURL == "" {
		return nil, fmt.Errorf("%w: no base URL set for provider %q", ErrConfiguration, prov.ID)
	}
	if prov.NeedsAPIKey() && prov.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required for provider %q", ErrConfiguration, prov.ID)
	}
	if opts.Language == "" {
		return nil, fmt.Errorf("%w: no target language", ErrConfiguration)
	}
	if prov.Timeout <= 0 {
		prov.Timeout = 120 * time.Second
	}

	return &Client{
		prov:   prov,
		prompt: resolvedPrompt(opts),
		http:   makeHTTPClient(prov.Proxy, prov.Timeout),
		onLog:  opts.OnLog,
	}, nil
}

// Provider returns the client's provider configuration.
func (c *Client) Provider() Provider {
	return c.prov
}

// Fingerprint identifies what shapes the client's output: provider, model,
// endpoint and the resolved system prompt. Equal fingerprints translate the
// same text the same way.
func (c *Client) Fingerprint() string {
	h := md5.New()
	for _, part := range []string{c.prov.ID, c.prov.Model, c.prov.BaseURL, c.prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// resolvedPrompt returns the system prompt with {{targetLang}} replaced.
func resolvedPrompt(opts Options) string {
	prompt := opts.SystemPrompt
	if prompt == "" {
		promptType := opts.PromptType
		if promptType == "" {
			promptType = PromptPage
		}
		prompt = getPrompt(promptType)
	}
	langName := opts.LanguageName
	if langName == "" {
		langName = langmeta.Resolve(opts.Language).Name
	}
	return strings.ReplaceAll(prompt, "{{targetLang}}", langName)
}

func (c *Client) log(format string, args ...any) {
	if c.onLog != nil {
		c.onLog(format, args...)
	}
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Translate sends text to the provider in a single attempt.
func (c *Client) Translate(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrConfiguration)
	}

	endpoint, headers, body, err := buildHTTPRequest(c.prov, c.prompt, text, c.prov.format())
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log("%s: POST %s (%d runes)", c.prov.Name, endpoint, utf8.RuneCountInString(text))

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &RateLimitError{
			RetryAfter: retryDelay(resp.Header, respBody),
			Body:       string(respBody),
		}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	comp, err := extractCompletion(respBody)
	if err != nil {
		return Result{}, err
	}

	translated := cleanTranslation(comp.Text)
	tokens := comp.Tokens
	if tokens <= 0 {
		tokens = EstimateTokens(c.prompt) + EstimateTokens(text) + EstimateTokens(translated)
	}

	return Result{
		Success:        translated != "",
		TranslatedText: translated,
		TokensUsed:     tokens,
		Provider:       c.prov.ID,
	}, nil
}

// EstimateTokens approximates the token count of s (about four runes per
// token). It is only used when the API does not report usage.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s)/4 + 1
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// Support both --proxy flag and HTTP_PROXY/HTTPS_PROXY env vars
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
