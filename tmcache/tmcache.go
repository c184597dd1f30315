// Package tmcache is a translation memory: a SQLite store of previously
// translated tagged strings that sits in front of a gateway.Translator so
// unchanged units are not paid for twice.
package tmcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/tagcodec"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory (
	key         TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	source_lang TEXT NOT NULL,
	target_lang TEXT NOT NULL,
	source      TEXT NOT NULL,
	target      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	used_at     INTEGER NOT NULL,
	hits        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS memory_used_at ON memory(used_at);
`

// Cache is an open translation memory.
type Cache struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Open opens or creates the memory at path. ":memory:" gives a private
// in-process store.
func Open(path string, opts ...Option) (*Cache, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening translation memory: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing translation memory: %w", err)
	}
	c := &Cache{db: db, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key identifies a translation: the same text under the same request
// settings always maps to the same key.
func Key(provider string, req gateway.Request, text string) string {
	h := sha256.New()
	for _, part := range []string{
		provider,
		strings.ToUpper(req.SourceLang),
		strings.ToUpper(req.TargetLang),
		req.Formality,
		req.GlossaryID,
		req.Context,
		text,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored translation of text, if any.
func (c *Cache) Lookup(ctx context.Context, provider string, req gateway.Request, text string) (string, bool, error) {
	key := Key(provider, req, text)
	var target string
	err := c.db.QueryRowContext(ctx, `SELECT target FROM memory WHERE key = ?`, key).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up translation: %w", err)
	}
	if _, err := c.db.ExecContext(ctx,
		`UPDATE memory SET hits = hits + 1, used_at = ? WHERE key = ?`, c.now().Unix(), key); err != nil {
		return "", false, fmt.Errorf("updating translation memory: %w", err)
	}
	return target, true, nil
}

// Store records translations of texts in one transaction. Translations
// whose markers differ from the source are skipped, so a garbled reply is
// never served again.
func (c *Cache) Store(ctx context.Context, provider string, req gateway.Request, texts, translations []string) (int, error) {
	if len(texts) != len(translations) {
		return 0, fmt.Errorf("storing %d translations for %d texts", len(translations), len(texts))
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory (key, provider, source_lang, target_lang, source, target, created_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET target = excluded.target, used_at = excluded.used_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := c.now().Unix()
	stored := 0
	for i, text := range texts {
		if !tagcodec.SameMarkers(text, translations[i]) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, Key(provider, req, text), provider,
			strings.ToUpper(req.SourceLang), strings.ToUpper(req.TargetLang),
			text, translations[i], now, now); err != nil {
			return 0, fmt.Errorf("storing translation: %w", err)
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing translations: %w", err)
	}
	return stored, nil
}

// Stats summarizes the memory.
type Stats struct {
	Entries int64
	Hits    int64
}

// Stats returns entry and hit counts.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(hits), 0) FROM memory`).Scan(&s.Entries, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}

// Prune deletes entries not used since before cutoff and returns how many
// were removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM memory WHERE used_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning translation memory: %w", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Translator decorator
// ---------------------------------------------------------------------------

// Translator serves cached translations and forwards only the misses.
type Translator struct {
	cache    *Cache
	next     gateway.Translator
	provider string
}

// Wrap returns a Translator in front of next. provider namespaces the
// entries so that switching services does not reuse another's output.
func (c *Cache) Wrap(next gateway.Translator, provider string) *Translator {
	return &Translator{cache: c, next: next, provider: provider}
}

// Translate implements gateway.Translator. Cache failures are logged and
// treated as misses; they never fail a batch.
func (t *Translator) Translate(ctx context.Context, req gateway.Request) ([]string, error) {
	out := make([]string, len(req.Texts))
	var missIdx []int
	var missTexts []string
	for i, text := range req.Texts {
		hit, ok, err := t.cache.Lookup(ctx, t.provider, req, text)
		if err != nil {
			t.cache.log.Warn("translation memory lookup failed", zap.Error(err))
		}
		if ok {
			out[i] = hit
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	t.cache.log.Debug("translation memory",
		zap.Int("hits", len(req.Texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)))
	if len(missTexts) == 0 {
		return out, nil
	}

	sub := req
	sub.Texts = missTexts
	translated, err := t.next.Translate(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := gateway.CheckResponse(sub, translated); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = translated[j]
	}
	if _, err := t.cache.Store(ctx, t.provider, req, missTexts, translated); err != nil {
		t.cache.log.Warn("translation memory store failed", zap.Error(err))
	}
	return out, nil
}
