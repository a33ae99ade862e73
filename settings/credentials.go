package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const authFile = "auth.json"

// EnvAPIKey is the environment variable consulted for any provider's key.
const EnvAPIKey = "PAGETRANS_API_KEY"

// Credential is what auth.json stores for one provider.
type Credential struct {
	Key     string    `json:"key,omitempty"`
	BaseURL string    `json:"baseUrl,omitempty"`
	SavedAt time.Time `json:"savedAt,omitzero"`
}

// Credentials maps provider IDs to their stored credential.
type Credentials map[string]Credential

// ---------------------------------------------------------------------------
// auth.json
// ---------------------------------------------------------------------------

// Load reads auth.json. A missing or unreadable file yields an empty set so
// that a damaged file never blocks flag or environment keys.
func Load() Credentials {
	creds := make(Credentials)
	path, err := inDataDir(authFile)
	if err != nil {
		return creds
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return creds
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return make(Credentials)
	}
	return creds
}

// Save replaces auth.json with creds. The file is only ever readable by its
// owner.
func Save(creds Credentials) error {
	path, err := inDataDir(authFile)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Get returns the stored credential for providerID, or nil.
func Get(providerID string) *Credential {
	c, ok := Load()[providerID]
	if !ok {
		return nil
	}
	return &c
}

// SetAPIKey stores key and an optional endpoint for providerID.
func SetAPIKey(providerID, key, baseURL string) error {
	creds := Load()
	creds[providerID] = Credential{Key: key, BaseURL: baseURL, SavedAt: time.Now().UTC().Truncate(time.Second)}
	return Save(creds)
}

// Remove forgets providerID. Unknown providers are not an error.
func Remove(providerID string) error {
	creds := Load()
	if _, ok := creds[providerID]; !ok {
		return nil
	}
	delete(creds, providerID)
	return Save(creds)
}

// RemoveAll deletes auth.json.
func RemoveAll() error {
	path, err := inDataDir(authFile)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// GetAPIKey returns the stored key for providerID, or "".
func GetAPIKey(providerID string) string {
	return Load()[providerID].Key
}

// GetBaseURL returns the stored endpoint for providerID, or "".
func GetBaseURL(providerID string) string {
	return Load()[providerID].BaseURL
}

// ---------------------------------------------------------------------------
// Key resolution
// ---------------------------------------------------------------------------

// providerEnv lists the conventional key variables of each provider.
var providerEnv = map[string]string{
	"google":        "GOOGLE_API_KEY",
	"groq":          "GROQ_API_KEY",
	"custom-openai": "OPENAI_API_KEY",
}

// EnvVarForProvider returns the provider's own key variable, or "".
func EnvVarForProvider(providerID string) string {
	return providerEnv[providerID]
}

// ResolveAPIKey picks the key to use for providerID, first match wins:
//
//  1. flagValue (--api-key)
//  2. PAGETRANS_API_KEY
//  3. the provider's own variable (GOOGLE_API_KEY, GROQ_API_KEY, OPENAI_API_KEY)
//  4. auth.json
func ResolveAPIKey(providerID, flagValue string) string {
	candidates := []string{flagValue, os.Getenv(EnvAPIKey)}
	if name := EnvVarForProvider(providerID); name != "" {
		candidates = append(candidates, os.Getenv(name))
	}
	for _, k := range candidates {
		if k != "" {
			return k
		}
	}
	return GetAPIKey(providerID)
}

// MaskKey shortens a key for display, keeping four characters at each end.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
