// Package translate contains tests for the translation client.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, id string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prov := DefaultProviders()[id]
	prov.BaseURL = srv.URL
	prov.Model = "test-model"
	prov.APIKey = "test-key"
	c, err := NewClient(prov, Options{Language: "ru"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// ---------------------------------------------------------------------------
// NewClient validation
// ---------------------------------------------------------------------------

func TestNewClientConfigurationErrors(t *testing.T) {
	google := DefaultProviders()[ProviderGoogle]
	google.Model = "gemini-2.0-flash"

	cases := []struct {
		name string
		prov Provider
		opts Options
	}{
		{name: "missing api key", prov: google, opts: Options{Language: "de"}},
		{name: "missing model", prov: Provider{ID: ProviderOllama, BaseURL: "http://localhost"}, opts: Options{Language: "de"}},
		{name: "missing base url", prov: Provider{ID: ProviderCustomOpenAI, Model: "m"}, opts: Options{Language: "de"}},
		{name: "missing language", prov: Provider{ID: ProviderOllama, BaseURL: "http://localhost", Model: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(tc.prov, tc.opts)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("NewClient error = %v, want ErrConfiguration", err)
			}
		})
	}

	google.APIKey = "key"
	if _, err := NewClient(google, Options{Language: "de"}); err != nil {
		t.Fatalf("NewClient with key: %v", err)
	}
}

func TestResolvedPromptSubstitutesLanguage(t *testing.T) {
	got := resolvedPrompt(Options{Language: "ru"})
	if !strings.Contains(got, "Русский") || strings.Contains(got, "{{targetLang}}") {
		t.Fatalf("prompt not resolved: %q", got)
	}
	custom := resolvedPrompt(Options{Language: "de", LanguageName: "German", SystemPrompt: "To {{targetLang}}."})
	if custom != "To German." {
		t.Fatalf("custom prompt = %q", custom)
	}
}

func TestFingerprintTracksPromptAndModel(t *testing.T) {
	prov := Provider{ID: ProviderOllama, BaseURL: "http://localhost:11434/v1", Model: "llama3.2"}
	fp := func(prov Provider, opts Options) string {
		t.Helper()
		c, err := NewClient(prov, opts)
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		return c.Fingerprint()
	}

	base := fp(prov, Options{Language: "de"})
	if again := fp(prov, Options{Language: "de"}); again != base {
		t.Fatalf("fingerprint not stable: %q vs %q", base, again)
	}
	if fp(prov, Options{Language: "de", PromptType: PromptMarkdown}) == base {
		t.Error("prompt type did not change the fingerprint")
	}
	if fp(prov, Options{Language: "de", SystemPrompt: "Translate to {{targetLang}}."}) == base {
		t.Error("custom prompt did not change the fingerprint")
	}
	other := prov
	other.Model = "qwen2.5"
	if fp(other, Options{Language: "de"}) == base {
		t.Error("model did not change the fingerprint")
	}
}

// ---------------------------------------------------------------------------
// Translate
// ---------------------------------------------------------------------------

func TestTranslateGeminiSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	c := newTestClient(t, ProviderGoogle, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "Привет, "}, {"text": "мир."}]}}],
			"usageMetadata": {"totalTokenCount": 42}
		}`))
	})

	res, err := c.Translate(context.Background(), "Hello, world.")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("x-goog-api-key = %q", gotKey)
	}
	if gotBody["systemInstruction"] == nil {
		t.Errorf("systemInstruction missing from request body")
	}
	if !res.Success || res.TranslatedText != "Привет, мир." {
		t.Errorf("result = %#v", res)
	}
	if res.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", res.TokensUsed)
	}
	if res.Provider != ProviderGoogle {
		t.Errorf("Provider = %q", res.Provider)
	}
}

func TestTranslateOpenAIStripsCodeFence(t *testing.T) {
	c := newTestClient(t, ProviderGroq, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```text\\nHallo Welt\\n```" + `"}}],"usage":{"total_tokens":17}}`))
	})

	res, err := c.Translate(context.Background(), "Hello world")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TranslatedText != "Hallo Welt" || res.TokensUsed != 17 {
		t.Fatalf("result = %#v", res)
	}
}

func TestTranslateEstimatesTokensWhenUsageMissing(t *testing.T) {
	c := newTestClient(t, ProviderOllama, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Bonjour"}}]}`))
	})
	res, err := c.Translate(context.Background(), "Good morning")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.TokensUsed <= 0 {
		t.Fatalf("TokensUsed = %d, want an estimate > 0", res.TokensUsed)
	}
}

func TestTranslateBlockedPromptIsUnsuccessful(t *testing.T) {
	c := newTestClient(t, ProviderGoogle, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"},"usageMetadata":{"totalTokenCount":5}}`))
	})
	res, err := c.Translate(context.Background(), "Some text here")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Success {
		t.Fatalf("blocked prompt should not succeed: %#v", res)
	}
}

func TestTranslateRateLimited(t *testing.T) {
	c := newTestClient(t, ProviderGoogle, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"12s"}]}}`))
	})
	_, err := c.Translate(context.Background(), "Hello there")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rle.RetryAfter != 17*time.Second {
		t.Fatalf("RetryAfter = %v, want 17s", rle.RetryAfter)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Fatalf("429 must not be a configuration error")
	}
}

func TestTranslateAuthFailureIsConfiguration(t *testing.T) {
	c := newTestClient(t, ProviderGroq, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	})
	_, err := c.Translate(context.Background(), "Hello there")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want *StatusError 401", err)
	}
}

func TestTranslateServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, ProviderGroq, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Translate(context.Background(), "Hello there")
	if err == nil || errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want transient status error", err)
	}
}

func TestTranslateEmptyTextRejected(t *testing.T) {
	c := newTestClient(t, ProviderGroq, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for empty text")
	})
	if _, err := c.Translate(context.Background(), "   "); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

// ---------------------------------------------------------------------------
// Retry delay parsing
// ---------------------------------------------------------------------------

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		name   string
		header http.Header
		body   string
		want   time.Duration
	}{
		{
			name: "google retry info",
			body: `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30.5s"}]}}`,
			want: 35500 * time.Millisecond,
		},
		{
			name:   "retry-after header",
			header: http.Header{"Retry-After": []string{"7"}},
			body:   `rate limited`,
			want:   7 * time.Second,
		},
		{
			name: "default",
			body: `{}`,
			want: defaultRetryDelay,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.header
			if h == nil {
				h = http.Header{}
			}
			if got := retryDelay(h, []byte(tc.body)); got != tc.want {
				t.Fatalf("retryDelay = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtractCompletionAPIError(t *testing.T) {
	_, err := extractCompletion([]byte(`{"error":{"message":"model not found"}}`))
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("error = %v", err)
	}
	if _, err := extractCompletion([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
