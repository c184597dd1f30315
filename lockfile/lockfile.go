// Package lockfile implements doctrans.lock, which records a checksum of
// every source document per target language. A directory run skips
// documents whose source and translation settings have not changed since
// they were last translated successfully.
//
// The lock file is stored in the output directory.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "doctrans.lock"

// Version is the lock file format version.
const Version = 2

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// LockFile represents the doctrans.lock file structure.
type LockFile struct {
	Version int                `yaml:"version"`
	Targets map[string]*Target `yaml:"targets"` // language -> target

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// Target holds the state of one target language.
type Target struct {
	// Settings is a hash of the options that shape the output (provider,
	// formality, glossary). A change invalidates every file.
	Settings string            `yaml:"settings,omitempty"`
	Files    map[string]string `yaml:"files"` // relative path -> checksum
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version: Version,
		Targets: make(map[string]*Target),
		path:    path,
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
	if lf.Version != Version {
		// Older formats are discarded; everything is translated again.
		lf.Version = Version
		lf.Targets = nil
	}
	lf.path = path

	if lf.Targets == nil {
		lf.Targets = make(map[string]*Target)
	}
	for _, t := range lf.Targets {
		if t.Files == nil {
			t.Files = make(map[string]string)
		}
	}

	return lf, nil
}

// Save writes the lock file to disk.
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

	if err := os.MkdirAll(filepath.Dir(lf.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(lf.path), err)
	}
	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}

	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksum operations
// ---------------------------------------------------------------------------

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SettingsHash hashes the output-shaping options. Order matters.
func SettingsHash(parts ...string) string {
	return Hash([]byte(strings.Join(parts, "\x00")))[:16]
}

// FileKey normalizes a path relative to the input directory.
func FileKey(relPath string) string {
	return filepath.ToSlash(filepath.Clean(relPath))
}

// target returns the target for lang, creating it. Caller holds mu.
func (lf *LockFile) target(lang string) *Target {
	t := lf.Targets[lang]
	if t == nil {
		t = &Target{Files: make(map[string]string)}
		lf.Targets[lang] = t
	}
	return t
}

// UseSettings records the settings hash for lang. When it differs from the
// stored one, every file of the target is forgotten and true is returned.
func (lf *LockFile) UseSettings(lang, settings string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	t := lf.target(lang)
	if t.Settings == settings {
		return false
	}
	reset := t.Settings != "" || len(t.Files) > 0
	t.Settings = settings
	t.Files = make(map[string]string)
	return reset
}

// IsChanged reports whether the source document is new or its content has
// changed since it was last recorded for lang.
func (lf *LockFile) IsChanged(lang, relPath string, source []byte) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	t, ok := lf.Targets[lang]
	if !ok {
		return true
	}
	old, ok := t.Files[FileKey(relPath)]
	if !ok {
		return true
	}
	return old != Hash(source)
}

// Update records the checksum of a source document after it was translated
// successfully.
func (lf *LockFile) Update(lang, relPath string, source []byte) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	lf.target(lang).Files[FileKey(relPath)] = Hash(source)
}

// Forget removes a document, so the next run translates it again.
func (lf *LockFile) Forget(lang, relPath string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if t, ok := lf.Targets[lang]; ok {
		delete(t.Files, FileKey(relPath))
	}
}

// Clean removes entries for documents no longer present in the input.
// It returns the number of entries removed.
func (lf *LockFile) Clean(lang string, current []string) int {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	t, ok := lf.Targets[lang]
	if !ok {
		return 0
	}

	valid := make(map[string]bool, len(current))
	for _, p := range current {
		valid[FileKey(p)] = true
	}

	removed := 0
	for k := range t.Files {
		if !valid[k] {
			delete(t.Files, k)
			removed++
		}
	}
	return removed
}

// RemoveTarget removes all checksums for a language.
func (lf *LockFile) RemoveTarget(lang string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	delete(lf.Targets, lang)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of targets and total files in the lock file.
func (lf *LockFile) Stats() (targets, files int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	targets = len(lf.Targets)
	for _, t := range lf.Targets {
		files += len(t.Files)
	}
	return
}

// Languages returns the sorted target languages.
func (lf *LockFile) Languages() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	langs := make([]string, 0, len(lf.Targets))
	for l := range lf.Targets {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	targets, files := lf.Stats()
	if targets == 0 {
		return "empty"
	}

	var parts []string
	for _, l := range lf.Languages() {
		lf.mu.Lock()
		n := len(lf.Targets[l].Files)
		lf.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d files", l, n))
	}
	return fmt.Sprintf("%d targets, %d files (%s)", targets, files, strings.Join(parts, ", "))
}
