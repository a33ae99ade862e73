// Package cache stores finished translations so re-running pagetrans on a
// changed document only sends the segments that are new.
//
// The cache is a single bbolt file (cache.db in the pagetrans data directory)
// with one bucket per target language. Keys are segment.Key identities, so
// whitespace-only changes to a paragraph still hit the cache. A variant
// (see translate.Client.Fingerprint) prefixes the key, so translations made
// with another prompt or model are never served for the current one.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/minios-linux/pagetrans/segment"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache: closed")

// Entry is the stored value for one segment.
type Entry struct {
	Source      string    `json:"source"`
	Translation string    `json:"translation"`
	Provider    string    `json:"provider,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Cache is a bbolt-backed translation cache. All methods are safe for
// concurrent use.
type Cache struct {
	mu sync.RWMutex
	db *bbolt.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	// A second pagetrans process holding the file makes Open fail fast
	// instead of hanging.
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func bucketName(lang string) []byte {
	return []byte("lang:" + lang)
}

func entryKey(variant, text string) []byte {
	if variant == "" {
		return []byte(segment.Key(text))
	}
	return []byte(variant + "/" + segment.Key(text))
}

// Get returns the translation of text into lang cached for variant.
func (c *Cache) Get(lang, variant, text string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return Entry{}, false, ErrClosed
	}

	var entry Entry
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(lang))
		if b == nil {
			return nil
		}
		val := b.Get(entryKey(variant, text))
		if val == nil {
			return nil
		}
		if err := json.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("cache: decode entry: %w", err)
		}
		found = segment.Normalize(entry.Source) == segment.Normalize(text)
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put stores the translation of text into lang for variant, replacing any
// older entry.
func (c *Cache) Put(lang, variant, text, translation, provider string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return ErrClosed
	}

	val, err := json.Marshal(Entry{
		Source:      text,
		Translation: translation,
		Provider:    provider,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(lang))
		if err != nil {
			return err
		}
		return b.Put(entryKey(variant, text), val)
	})
}

// Count returns the number of cached segments for lang over all variants.
func (c *Cache) Count(lang string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return 0, ErrClosed
	}

	n := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketName(lang)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Languages returns the target languages present in the cache.
func (c *Cache) Languages() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrClosed
	}

	var langs []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if len(name) > 5 && string(name[:5]) == "lang:" {
				langs = append(langs, string(name[5:]))
			}
			return nil
		})
	})
	return langs, err
}

// Size returns the size of the cache file in bytes.
func (c *Cache) Size() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return 0, ErrClosed
	}
	info, err := os.Stat(c.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying database. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
