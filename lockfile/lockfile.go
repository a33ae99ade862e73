// Package lockfile implements .pagetrans.lock, a record of which source
// document every translated output was rendered from. A document whose
// source, language, prompt and model are unchanged since a complete run is
// skipped on the next run without parsing or queueing anything.
//
// The lock file lives next to .pagetrans.yaml. Output paths are stored
// relative to the project root with forward slashes.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the lock file name.
const FileName = ".pagetrans.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Entry describes one rendered output.
type Entry struct {
	// Source is the input document, relative to the project root.
	Source string `yaml:"source"`
	// Lang is the target language.
	Lang string `yaml:"lang"`
	// Checksum covers the source bytes, the language and the translation
	// variant (prompt, provider and model).
	Checksum string `yaml:"checksum"`
	// Translated and Total count translatable blocks in the output.
	Translated int       `yaml:"translated"`
	Total      int       `yaml:"total"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

// Complete reports whether every translatable block was translated.
func (e Entry) Complete() bool {
	return e.Translated >= e.Total
}

// LockFile is the .pagetrans.lock structure.
type LockFile struct {
	Version int              `yaml:"version"`
	Outputs map[string]Entry `yaml:"outputs"`

	mu   sync.Mutex
	path string
	root string
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the lock file from dir. A missing file yields an empty lock.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, FileName)
	lf := &LockFile{
		Version: Version,
		Outputs: make(map[string]Entry),
		path:    path,
		root:    dir,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if lf.Version > Version {
		return nil, fmt.Errorf("%s: unsupported version %d (this build reads up to %d)", path, lf.Version, Version)
	}
	if lf.Outputs == nil {
		lf.Outputs = make(map[string]Entry)
	}
	lf.Version = Version
	return lf, nil
}

// Save writes the lock file through a temporary file and a rename.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	tmp := lf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, lf.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", lf.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksums
// ---------------------------------------------------------------------------

// Checksum computes the MD5 hex digest of a document for a language and a
// translation variant. Changing any of the three invalidates the output.
func Checksum(source []byte, lang, variant string) string {
	h := md5.New()
	h.Write(source)
	h.Write([]byte{0})
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write([]byte(variant))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Key returns the map key for an output path: relative to the project root
// when possible, always with forward slashes.
func (lf *LockFile) Key(output string) string {
	if lf.root != "" {
		if rel, err := filepath.Rel(lf.root, output); err == nil && filepath.IsLocal(rel) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(output)
}

// IsCurrent reports whether output was completely rendered from a source
// with the given checksum.
func (lf *LockFile) IsCurrent(output, checksum string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	e, ok := lf.Outputs[lf.Key(output)]
	return ok && e.Checksum == checksum && e.Complete()
}

// Record stores the state of output after a run.
func (lf *LockFile) Record(output string, e Entry) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	e.Source = lf.Key(e.Source)
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	}
	lf.Outputs[lf.Key(output)] = e
}

// Get returns the entry for output.
func (lf *LockFile) Get(output string) (Entry, bool) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	e, ok := lf.Outputs[lf.Key(output)]
	return e, ok
}

// Prune removes entries whose output or source file no longer exists and
// returns how many were dropped.
func (lf *LockFile) Prune() int {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	removed := 0
	for key, e := range lf.Outputs {
		if !lf.exists(key) || !lf.exists(e.Source) {
			delete(lf.Outputs, key)
			removed++
		}
	}
	return removed
}

func (lf *LockFile) exists(key string) bool {
	path := filepath.FromSlash(key)
	if !filepath.IsAbs(path) {
		path = filepath.Join(lf.root, path)
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of recorded outputs and how many are complete.
func (lf *LockFile) Stats() (outputs, complete int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	for _, e := range lf.Outputs {
		outputs++
		if e.Complete() {
			complete++
		}
	}
	return
}

// Keys returns the recorded output keys in order.
func (lf *LockFile) Keys() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	keys := make([]string, 0, len(lf.Outputs))
	for k := range lf.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
