package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/minios-linux/pagetrans/settings"
)

// Prompt types.
const (
	PromptPage     = "page"
	PromptMarkdown = "markdown"
)

// PromptsConfig holds all system prompts loaded from prompts.json.
type PromptsConfig struct {
	Prompts map[string]string `json:"prompts"`
}

var (
	promptsMu     sync.RWMutex
	globalPrompts *PromptsConfig
)

// LoadPromptsFromFile loads system prompts from a JSON file.
// A missing file is not an error; the built-in prompts stay in effect.
func LoadPromptsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var config PromptsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}

	promptsMu.Lock()
	globalPrompts = &config
	promptsMu.Unlock()
	return nil
}

// defaultPromptsMap returns all built-in system prompts as a map.
func defaultPromptsMap() map[string]string {
	return map[string]string{
		PromptPage:     PageSystemPrompt,
		PromptMarkdown: MarkdownSystemPrompt,
	}
}

// createDefaultPromptsFile writes the built-in prompts to path as a formatted JSON file.
func createDefaultPromptsFile(path string) error {
	data, err := json.MarshalIndent(PromptsConfig{Prompts: defaultPromptsMap()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

// LoadPromptsFromDefaultLocations loads prompts from the user data directory
// ($XDG_DATA_HOME/pagetrans/prompts.json), creating the file with the
// built-in prompts when it does not exist. Returns the path it loaded.
func LoadPromptsFromDefaultLocations() (string, error) {
	path, err := settings.PromptsFilePath()
	if err != nil {
		return "", fmt.Errorf("cannot determine prompts file path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultPromptsFile(path); err != nil {
			return "", fmt.Errorf("creating default prompts file: %w", err)
		}
	}

	if err := LoadPromptsFromFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// getPrompt returns the system prompt for a given content type, preferring
// user-supplied prompts over the built-in ones.
func getPrompt(promptType string) string {
	promptsMu.RLock()
	defer promptsMu.RUnlock()

	if globalPrompts != nil {
		if prompt, ok := globalPrompts.Prompts[promptType]; ok && prompt != "" {
			return prompt
		}
	}
	if promptType == PromptMarkdown {
		return MarkdownSystemPrompt
	}
	return PageSystemPrompt
}

// ---------------------------------------------------------------------------
// Built-in prompts
// ---------------------------------------------------------------------------

// PageSystemPrompt is used for plain page text.
const PageSystemPrompt = `You are a professional translator. You are translating text taken from a web page into {{targetLang}}.

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in {{targetLang}}, not word-for-word
- Use idiomatic expressions natural to {{targetLang}}
- Keep the original meaning, tone and register
- Keep brand names, product names, URLs and code identifiers unchanged

TECHNICAL REQUIREMENTS:
- The text may be a fragment of a longer paragraph; translate only what is given.
- Preserve numbers, punctuation patterns and line breaks.
- Return ONLY the translated text, no explanations, quotes or code blocks.`

// MarkdownSystemPrompt is used for Markdown documents.
const MarkdownSystemPrompt = `You are a professional translator specializing in technical writing. You are translating a fragment of a Markdown document into {{targetLang}}.

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in {{targetLang}}, not word-for-word
- Use established technical terminology in {{targetLang}}
- Keep brand names and proper nouns unchanged

CRITICAL MARKUP PRESERVATION RULES:
- Preserve Markdown syntax exactly: heading markers (#), emphasis (*, _), lists, tables, links and images
- Translate link text but NEVER link targets or image paths
- Do NOT translate inline code (` + "`...`" + `), HTML tags or attribute values

TECHNICAL REQUIREMENTS:
- Return ONLY the translated Markdown fragment, no explanations and no wrapping code block.`
