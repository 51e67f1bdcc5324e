package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/zealscott/autoprofiler/internal/embeddings"
)

// Cache stores embedding vectors keyed by model and a BLAKE2b digest of
// the text, so a corpus is embedded once per model across runs.
type Cache struct {
	db *sql.DB
}

// NewCache creates the cache table in db if needed.
func NewCache(db *sql.DB) (*Cache, error) {
	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate embedding cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS embedding_cache (
		model      TEXT NOT NULL,
		key        TEXT NOT NULL,
		vector     TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (model, key)
	);
	`)
	return err
}

// CacheKey returns the hex BLAKE2b-256 digest of text.
func CacheKey(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text. ok is false on a miss.
func (c *Cache) Get(model, text string) (vec []float32, ok bool, err error) {
	var raw string
	err = c.db.QueryRow(
		`SELECT vector FROM embedding_cache WHERE model = ? AND key = ?`,
		model, CacheKey(text),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, true, nil
}

// Put stores vec for text, replacing any previous value.
func (c *Cache) Put(model, text string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = c.db.Exec(`
		INSERT INTO embedding_cache (model, key, vector, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (model, key) DO UPDATE SET vector = excluded.vector, updated_at = excluded.updated_at`,
		model, CacheKey(text), string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put cached embedding: %w", err)
	}
	return nil
}

// Count returns the number of vectors cached for model.
func (c *Cache) Count(model string) (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM embedding_cache WHERE model = ?`, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cached embeddings: %w", err)
	}
	return n, nil
}

// CachedEmbedder consults a Cache before delegating to the wrapped
// embedder. A failed cache write is logged and otherwise ignored.
type CachedEmbedder struct {
	base   embeddings.Embedder
	cache  *Cache
	logger *slog.Logger
}

// NewCachedEmbedder wraps base with cache.
func NewCachedEmbedder(base embeddings.Embedder, cache *Cache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{base: base, cache: cache, logger: logger.With("component", "embedding_cache")}
}

// Model returns the wrapped embedder's model.
func (e *CachedEmbedder) Model() string { return e.base.Model() }

// Generate returns a cached vector or embeds text and caches the result.
func (e *CachedEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	model := e.base.Model()
	vec, ok, err := e.cache.Get(model, text)
	if err != nil {
		e.logger.Warn("embedding cache read failed", "error", err)
	} else if ok {
		return vec, nil
	}

	vec, err = e.base.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(model, text, vec); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

// GenerateBatch serves cached vectors and embeds the distinct misses in
// one pass through the wrapped embedder.
func (e *CachedEmbedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.base.Model()
	out := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var misses []string

	for i, text := range texts {
		vec, ok, err := e.cache.Get(model, text)
		if err != nil {
			e.logger.Warn("embedding cache read failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		if _, seen := missing[text]; !seen {
			misses = append(misses, text)
		}
		missing[text] = append(missing[text], i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := embeddings.Batch(ctx, e.base, misses, embeddings.DefaultConcurrency)
	if err != nil {
		return nil, err
	}
	for j, text := range misses {
		for _, i := range missing[text] {
			out[i] = vecs[j]
		}
		if err := e.cache.Put(model, text, vecs[j]); err != nil {
			e.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	e.logger.Debug("embedded cache misses", "model", model, "texts", len(texts), "misses", len(misses))
	return out, nil
}
