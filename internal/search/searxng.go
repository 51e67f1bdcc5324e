package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// SearXNG queries a self-hosted SearXNG instance's JSON API. The
// instance must have the json format enabled in its settings.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

// NewSearXNG creates a provider for the instance rooted at baseURL.
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

// Name implements Provider.
func (s *SearXNG) Name() string { return "searxng" }

// Search implements Provider. SearXNG ignores page size and aggregates
// several engines, so results are deduplicated by URL and cut to the
// requested count here.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, s.client, s.Name(), s.baseURL+"/search?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	want := opts.count()
	seen := make(map[string]bool, want)
	results := make([]Result, 0, want)
	for _, r := range body.Results {
		if len(results) == want {
			break
		}
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		results = append(results, Result{Title: plainText(r.Title), URL: r.URL, Snippet: plainText(r.Content)})
	}
	return results, nil
}
