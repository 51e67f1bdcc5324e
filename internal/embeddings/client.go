// Package embeddings generates text embeddings through Ollama and ranks
// vectors by cosine similarity.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// Defaults for Config.
const (
	DefaultModel       = "nomic-embed-text"
	DefaultConcurrency = 4
	DefaultBatchSize   = 16
)

// Embedder turns text into a vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// BatchEmbedder embeds many texts at once. Results keep input order.
type BatchEmbedder interface {
	Embedder
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config for the Ollama client.
type Config struct {
	BaseURL     string // e.g. http://localhost:11434
	Model       string // default nomic-embed-text
	Concurrency int    // requests in flight during GenerateBatch
	BatchSize   int    // texts per request
}

// Client calls Ollama's /api/embed, which accepts several inputs per
// request.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates an embedding client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Client{
		cfg: cfg,
		client: httpkit.NewClient(
			httpkit.WithTimeout(2*time.Minute),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.cfg.Model }

// Generate embeds a single text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatch splits texts into requests of BatchSize inputs and runs
// up to Concurrency of them at once. The first failure cancels the rest.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{c.cfg.Model, inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs (model %s)", len(out.Embeddings), len(inputs), c.cfg.Model)
	}
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("ollama embed: empty vector for input %d (model %s)", i, c.cfg.Model)
		}
	}
	return out.Embeddings, nil
}

// Batch embeds texts through e. A BatchEmbedder handles the whole slice
// itself; any other embedder is called once per text with at most limit
// calls in flight.
func Batch(ctx context.Context, e Embedder, texts []string, limit int) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.GenerateBatch(ctx, texts)
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, text := range texts {
		g.Go(func() error {
			emb, err := e.Generate(gctx, text)
			if err != nil {
				return fmt.Errorf("embed text %d: %w", i, err)
			}
			results[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero. Sums are kept in
// float64 so long vectors do not lose precision.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i, x := range a {
		y := float64(b[i])
		dot += float64(x) * y
		na += float64(x) * float64(x)
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / math.Sqrt(na*nb))
}

// TopK returns the indices of the k vectors most similar to query, best
// first. Nil vectors are skipped; ties keep the lower index first.
func TopK(query []float32, vectors [][]float32, k int) []int {
	type scored struct {
		idx   int
		score float32
	}

	scores := make([]scored, 0, len(vectors))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		scores = append(scores, scored{idx: i, score: CosineSimilarity(query, v)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	k = min(k, len(scores))
	result := make([]int, k)
	for i := range k {
		result[i] = scores[i].idx
	}
	return result
}
