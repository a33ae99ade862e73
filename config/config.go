// Package config — .pagetrans.yaml configuration file support.
//
// The file lives in the project root. Every field is optional: a missing file
// yields the defaults, and command-line flags override whatever the file
// sets. Targets describe which documents to translate when `pagetrans
// translate` runs without arguments.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .pagetrans.yaml structure.
type File struct {
	// Provider is the translation provider ID (google, groq, ollama, custom-openai).
	Provider string `yaml:"provider,omitempty"`
	// Model is the provider's model identifier.
	Model string `yaml:"model,omitempty"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string `yaml:"proxy,omitempty"`
	// SourceLang is the source language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// Languages is the default list of target languages.
	Languages []string `yaml:"languages,omitempty"`
	// Prompt is a custom system prompt or a prompt type ("page", "markdown").
	Prompt string `yaml:"prompt,omitempty"`

	Limits   Limits   `yaml:"limits,omitempty"`
	Chunking Chunking `yaml:"chunking,omitempty"`
	Cache    Cache    `yaml:"cache,omitempty"`
	Metrics  Metrics  `yaml:"metrics,omitempty"`

	// Targets is the list of documents to translate.
	Targets []Target `yaml:"targets,omitempty"`

	// Path is the file the values were loaded from; empty for defaults.
	Path string `yaml:"-"`
}

// Limits are the API quotas.
type Limits struct {
	RPM int `yaml:"rpm,omitempty"`
	TPM int `yaml:"tpm,omitempty"`
	RPD int `yaml:"rpd,omitempty"`
	// MaxRetries is the number of retries per segment; negative disables them.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Chunking controls how paragraphs become requests.
type Chunking struct {
	MaxParagraphLength int `yaml:"max_paragraph_length,omitempty"`
	MinParagraphLength int `yaml:"min_paragraph_length,omitempty"`
}

// Cache configures the translation cache.
type Cache struct {
	// Path overrides the default cache file in the data directory.
	Path string `yaml:"path,omitempty"`
	// Disabled turns the cache off.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `yaml:"addr,omitempty"`
}

// Target describes one set of documents.
type Target struct {
	// Name is a human-readable label shown in logs.
	Name string `yaml:"name"`
	// Input is a file path or glob relative to the project root.
	Input string `yaml:"input"`
	// Output is the output path pattern. It may use {lang}, {name}, {stem},
	// {ext} and {dir}. Default: "{dir}/{stem}.{lang}{ext}".
	Output string `yaml:"output,omitempty"`
	// Languages overrides the global language list for this target.
	Languages []string `yaml:"languages,omitempty"`
	// Prompt overrides the global prompt for this target.
	Prompt string `yaml:"prompt,omitempty"`
}

// Default values.
const (
	DefaultRPM                = 15
	DefaultTPM                = 250000
	DefaultRPD                = 1000
	DefaultMaxRetries         = 2
	DefaultMaxParagraphLength = 1500
	DefaultMinParagraphLength = 10
	DefaultOutputPattern      = "{dir}/{stem}.{lang}{ext}"
)

// Default returns the configuration used when no file exists.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Provider == "" {
		f.Provider = "google"
	}
	if f.SourceLang == "" {
		f.SourceLang = "en"
	}
	if f.Limits.RPM == 0 {
		f.Limits.RPM = DefaultRPM
	}
	if f.Limits.TPM == 0 {
		f.Limits.TPM = DefaultTPM
	}
	if f.Limits.RPD == 0 {
		f.Limits.RPD = DefaultRPD
	}
	if f.Limits.MaxRetries == 0 {
		f.Limits.MaxRetries = DefaultMaxRetries
	}
	if f.Chunking.MaxParagraphLength == 0 {
		f.Chunking.MaxParagraphLength = DefaultMaxParagraphLength
	}
	if f.Chunking.MinParagraphLength == 0 {
		f.Chunking.MinParagraphLength = DefaultMinParagraphLength
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// FileName is the default config file name.
const FileName = ".pagetrans.yaml"

// Load reads and validates .pagetrans.yaml from the given directory.
// Returns the defaults if no file exists.
func Load(rootDir string) (*File, error) {
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.Path = path
	f.applyDefaults()

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Validate checks value ranges and targets.
func (f *File) Validate() error {
	switch {
	case f.Limits.RPM < 0:
		return fmt.Errorf("limits.rpm must be positive, got %d", f.Limits.RPM)
	case f.Limits.TPM < 0:
		return fmt.Errorf("limits.tpm must be positive, got %d", f.Limits.TPM)
	case f.Limits.RPD < 0:
		return fmt.Errorf("limits.rpd must be positive, got %d", f.Limits.RPD)
	case f.Chunking.MaxParagraphLength < 0:
		return fmt.Errorf("chunking.max_paragraph_length must be positive, got %d", f.Chunking.MaxParagraphLength)
	case f.Chunking.MinParagraphLength < 0:
		return fmt.Errorf("chunking.min_paragraph_length must not be negative, got %d", f.Chunking.MinParagraphLength)
	case f.Chunking.MinParagraphLength > f.Chunking.MaxParagraphLength:
		return fmt.Errorf("chunking.min_paragraph_length (%d) exceeds max_paragraph_length (%d)",
			f.Chunking.MinParagraphLength, f.Chunking.MaxParagraphLength)
	}

	for i, t := range f.Targets {
		if t.Name == "" {
			return fmt.Errorf("target #%d has no name", i+1)
		}
		if t.Input == "" {
			return fmt.Errorf("target %q has no input", t.Name)
		}
		if t.Output != "" && !strings.Contains(t.Output, "{lang}") {
			return fmt.Errorf("target %q: output pattern %q must contain {lang}", t.Name, t.Output)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolving targets to jobs
// ---------------------------------------------------------------------------

// Job is one input file translated into one language.
type Job struct {
	Target string
	Input  string
	Output string
	Lang   string
	Prompt string
}

// Jobs expands the targets' globs relative to rootDir. Languages fall back to
// the global list, then to defaultLangs. Output patterns that do not start
// from {dir} are resolved against rootDir as well.
func (f *File) Jobs(rootDir string, defaultLangs []string) ([]Job, error) {
	var jobs []Job
	for _, t := range f.Targets {
		matches, err := filepath.Glob(filepath.Join(rootDir, t.Input))
		if err != nil {
			return nil, fmt.Errorf("target %q: bad input pattern: %w", t.Name, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("target %q: no files match %s", t.Name, t.Input)
		}
		sort.Strings(matches)

		langs := t.Languages
		if len(langs) == 0 {
			langs = f.Languages
		}
		if len(langs) == 0 {
			langs = defaultLangs
		}
		if len(langs) == 0 {
			return nil, fmt.Errorf("target %q: no target languages", t.Name)
		}

		prompt := t.Prompt
		if prompt == "" {
			prompt = f.Prompt
		}

		for _, in := range matches {
			for _, lang := range langs {
				out := OutputPath(t.Output, in, lang)
				if t.Output != "" && !strings.Contains(t.Output, "{dir}") && !filepath.IsAbs(out) {
					out = filepath.Join(rootDir, out)
				}
				jobs = append(jobs, Job{
					Target: t.Name,
					Input:  in,
					Output: out,
					Lang:   lang,
					Prompt: prompt,
				})
			}
		}
	}
	return jobs, nil
}

// OutputPath expands an output pattern for input and lang.
func OutputPath(pattern, input, lang string) string {
	if pattern == "" {
		pattern = DefaultOutputPattern
	}
	name := filepath.Base(input)
	ext := filepath.Ext(name)
	r := strings.NewReplacer(
		"{lang}", lang,
		"{name}", name,
		"{stem}", strings.TrimSuffix(name, ext),
		"{ext}", ext,
		"{dir}", filepath.Dir(input),
	)
	return filepath.Clean(r.Replace(pattern))
}
