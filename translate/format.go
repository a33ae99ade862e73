package translate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// API format types
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat   apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                  // Google Gemini generateContent
)

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

// buildHTTPRequest constructs the endpoint, headers, and body for a provider.
func buildHTTPRequest(prov Provider, systemPrompt, userPrompt string, format apiFormat) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var endpoint string
	var body []byte
	var err error

	switch format {
	case formatGeminiNative:
		// Google AI: POST /v1beta/models/{model}:generateContent
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent",
			strings.TrimRight(prov.BaseURL, "/"), prov.Model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.3)

	default: // formatOpenAIChat
		baseURL := strings.TrimRight(prov.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/chat/completions") {
			endpoint = baseURL + "/chat/completions"
		} else {
			endpoint = baseURL
		}
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIChatRequest(prov.Model, systemPrompt, userPrompt, 0.3)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Response parsing (multi-format)
// ---------------------------------------------------------------------------

// completion is the text and token usage extracted from a response.
type completion struct {
	Text   string
	Tokens int
}

// extractCompletion tries all known response formats. A well-formed response
// without any candidate text (e.g. a blocked prompt) yields an empty Text and
// no error.
func extractCompletion(body []byte) (completion, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return completion{}, fmt.Errorf("invalid JSON response: %w", err)
	}

	// Check for API error
	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return completion{}, fmt.Errorf("API error: %s", msg)
			}
		}
		return completion{}, fmt.Errorf("API error: %v", errObj)
	}

	// 1. OpenAI chat format: choices[0].message.content, usage.total_tokens
	if choices, ok := raw["choices"].([]any); ok {
		var c completion
		if len(choices) > 0 {
			if choice, ok := choices[0].(map[string]any); ok {
				if message, ok := choice["message"].(map[string]any); ok {
					c.Text, _ = message["content"].(string)
				}
			}
		}
		if usage, ok := raw["usage"].(map[string]any); ok {
			c.Tokens = intField(usage, "total_tokens")
		}
		return c, nil
	}

	// 2. Gemini format: candidates[0].content.parts[].text,
	//    usageMetadata.totalTokenCount
	if _, hasCandidates := raw["candidates"]; hasCandidates || raw["promptFeedback"] != nil {
		var c completion
		if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
			if candidate, ok := candidates[0].(map[string]any); ok {
				if content, ok := candidate["content"].(map[string]any); ok {
					if parts, ok := content["parts"].([]any); ok {
						var sb strings.Builder
						for _, p := range parts {
							if part, ok := p.(map[string]any); ok {
								if text, ok := part["text"].(string); ok {
									sb.WriteString(text)
								}
							}
						}
						c.Text = sb.String()
					}
				}
			}
		}
		if usage, ok := raw["usageMetadata"].(map[string]any); ok {
			c.Tokens = intField(usage, "totalTokenCount")
		}
		return c, nil
	}

	// 3. Simple response field
	if resp, ok := raw["response"].(string); ok {
		return completion{Text: resp}, nil
	}

	return completion{}, fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

// markdownCodeBlock matches a response wrapped in a fenced code block.
var markdownCodeBlock = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\s*```$")

// cleanTranslation strips a wrapping code fence that some models add.
func cleanTranslation(text string) string {
	text = strings.TrimSpace(text)
	if m := markdownCodeBlock.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	return text
}

// ---------------------------------------------------------------------------
// Rate limit: parse 429 response for retry delay
// ---------------------------------------------------------------------------

// defaultRetryDelay is used when the API gives no hint (60s + 5s buffer).
const defaultRetryDelay = 65 * time.Second

// retryDelay extracts the back-off requested by a 429 response. It prefers
// Google's RetryInfo detail, then the Retry-After header, then the default.
func retryDelay(header http.Header, body []byte) time.Duration {
	if d, ok := parseRetryInfo(body); ok {
		return d
	}
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryDelay
}

// parseRetryInfo looks for Google's RetryInfo detail with a retryDelay field
// such as "30s" or "45.123s" and adds a 5s buffer.
func parseRetryInfo(body []byte) (time.Duration, bool) {
	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0, false
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second, true
			}
		}
	}

	return 0, false
}
