// Package fetch downloads web pages and reduces them to readable text
// for the digest_webpage tool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// Limits applied to every fetch.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxBytes int64 = 5 << 20
	DefaultMaxChars       = 20000
)

// Page is the readable form of a fetched document.
type Page struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
	Truncated  bool
}

// Fetcher downloads pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads rawURL and extracts its text, cut to maxChars runes
// (DefaultMaxChars when zero). A scheme-less URL is fetched over https.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d: %s", rawURL, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 256))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	page := &Page{URL: rawURL, StatusCode: resp.StatusCode}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		page.Title, page.Text = extractHTML(string(body))
	case utf8.Valid(body):
		page.Text = strings.TrimSpace(string(body))
	default:
		return nil, fmt.Errorf("fetch %s: binary content (%s)", rawURL, ct)
	}

	if utf8.RuneCountInString(page.Text) > maxChars {
		page.Text = truncateRunes(page.Text, maxChars)
		page.Truncated = true
	}
	return page, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
