// Package settings stores per-user doctrans state outside any project:
// translation service credentials and the translation memory location.
//
// Credentials live in the XDG data directory:
//
//	$XDG_DATA_HOME/doctrans/auth.json  (default: ~/.local/share/doctrans/)
//
// auth.json is a JSON object keyed by provider ID ("deepl", "openai",
// "gemini"). File permissions are 0600.
//
// Lookup order for API keys:
//  1. --api-key flag, DOCTRANS_<PROVIDER>_API_KEY or the config file
//  2. The provider's own environment variable (DEEPL_AUTH_KEY, ...)
//  3. This credential store
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"
)

const (
	dataDirName = "doctrans"
	fileName    = "auth.json"
)

// Providers that can hold credentials.
var Providers = []string{"deepl", "openai", "gemini"}

// Info is the credential entry stored per provider.
type Info struct {
	Key string `json:"key"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible servers,
	// DeepL proxies).
	BaseURL string    `json:"baseUrl,omitempty"`
	Added   time.Time `json:"added,omitempty"`
}

// Store holds all provider credentials, keyed by provider ID.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// dataDir respects $XDG_DATA_HOME and falls back to ~/.local/share.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the doctrans data directory path.
func DataDir() (string, error) {
	return dataDir()
}

// CachePath returns the default translation memory location:
// $XDG_CACHE_HOME/doctrans/memory.db, or the platform cache directory.
func CachePath() (string, error) {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserCacheDir(); err != nil {
			return "", fmt.Errorf("cannot determine cache directory: %w", err)
		}
	}
	return filepath.Join(dir, dataDirName, "memory.db"), nil
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}
	var store Store
	if err := json.Unmarshal(data, &store); err != nil || store == nil {
		return make(Store)
	}
	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// ValidProvider reports whether id names a known provider.
func ValidProvider(id string) bool {
	return slices.Contains(Providers, id)
}

// Get returns the entry for a provider, or nil if not found.
func Get(providerID string) *Info {
	return Load()[providerID]
}

// SetAPIKey stores an API key, and optionally an endpoint, for a provider.
func SetAPIKey(providerID, key, baseURL string) error {
	if !ValidProvider(providerID) {
		return fmt.Errorf("unknown provider %q (valid: %v)", providerID, Providers)
	}
	if key == "" {
		return fmt.Errorf("empty API key for %s", providerID)
	}
	store := Load()
	store[providerID] = &Info{Key: key, BaseURL: baseURL, Added: time.Now().UTC()}
	return Save(store)
}

// GetAPIKey returns the stored API key for a provider, or "".
func GetAPIKey(providerID string) string {
	if info := Get(providerID); info != nil {
		return info.Key
	}
	return ""
}

// GetBaseURL returns the stored endpoint for a provider, or "".
func GetBaseURL(providerID string) string {
	if info := Get(providerID); info != nil {
		return info.BaseURL
	}
	return ""
}

// Remove deletes credentials for a provider.
func Remove(providerID string) error {
	store := Load()
	if _, ok := store[providerID]; !ok {
		return nil
	}
	delete(store, providerID)
	return Save(store)
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}

// Stored returns the IDs of providers with credentials, sorted.
func (s Store) Stored() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnvVarForProvider returns the environment variable the provider's own
// tools read the key from.
func EnvVarForProvider(providerID string) string {
	switch providerID {
	case "deepl":
		return "DEEPL_AUTH_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}

// ResolveAPIKey returns the first key found: explicit (flag or config),
// the provider environment variable, then the store.
func ResolveAPIKey(providerID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := EnvVarForProvider(providerID); env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return GetAPIKey(providerID)
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
