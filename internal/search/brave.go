package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave's free plan allows one query per second.
const braveInterval = time.Second

// Brave queries the Brave Search API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrave creates a Brave provider. Requests are paced to the free
// plan's quota and 429s are retried.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		apiKey:   apiKey,
		endpoint: braveEndpoint,
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRateLimit(braveInterval, 1),
			httpkit.WithRetry(2, braveInterval),
		),
	}
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

// Search implements Provider.
func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "count": {strconv.Itoa(opts.count())}}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	header := http.Header{"X-Subscription-Token": {b.apiKey}}
	if err := getJSON(ctx, b.client, b.Name(), b.endpoint+"?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{Title: plainText(r.Title), URL: r.URL, Snippet: plainText(r.Description)})
	}
	return results, nil
}
