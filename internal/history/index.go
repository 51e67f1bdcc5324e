package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zealscott/autoprofiler/internal/embeddings"
)

// Index ranks corpus items against a query by embedding similarity.
type Index struct {
	corpus      *Corpus
	embedder    embeddings.Embedder
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	vectors [][]float32
}

// NewIndex creates an index over corpus. Vectors are computed on the
// first Warm or Related call.
func NewIndex(corpus *Corpus, embedder embeddings.Embedder, concurrency int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		corpus:      corpus,
		embedder:    embedder,
		concurrency: concurrency,
		logger:      logger.With("component", "history_index"),
	}
}

// Warm embeds every corpus item with bounded concurrency.
func (ix *Index) Warm(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.warmLocked(ctx)
}

func (ix *Index) warmLocked(ctx context.Context) error {
	if ix.vectors != nil {
		return nil
	}
	vecs, err := embeddings.Batch(ctx, ix.embedder, ix.corpus.Items, ix.concurrency)
	if err != nil {
		return fmt.Errorf("embed corpus for %s: %w", ix.corpus.User, err)
	}
	ix.vectors = vecs
	ix.logger.Info("corpus embedded",
		"user", ix.corpus.User,
		"items", len(vecs),
		"model", ix.embedder.Model(),
	)
	return nil
}

// Related returns the k items most similar to query, best first.
func (ix *Index) Related(ctx context.Context, query string, k int) ([]string, error) {
	ix.mu.Lock()
	if err := ix.warmLocked(ctx); err != nil {
		ix.mu.Unlock()
		return nil, err
	}
	vectors := ix.vectors
	ix.mu.Unlock()

	qv, err := ix.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx := embeddings.TopK(qv, vectors, k)
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = ix.corpus.Items[j]
	}
	return out, nil
}
