// Package search backs the web_search tool the retriever uses to check
// facts a subject mentions (places, employers, schools) against the web.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultCount is the number of results returned when a call does not
// ask for a specific count.
const DefaultCount = 5

// MaxCount caps results per query; Brave rejects larger counts.
const MaxCount = 20

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options narrow a query.
type Options struct {
	Count    int    // zero means DefaultCount; capped at MaxCount
	Language string // ISO 639-1, optional
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return min(o.Count, MaxCount)
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to the configured primary provider.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a manager whose default backend is primary.
func NewManager(primary string) *Manager {
	return &Manager{providers: make(map[string]Provider), primary: primary}
}

// Register adds p, keyed by its name.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search queries the primary provider and, if it fails, each other
// registered provider in name order. The error lists every failure.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	order := []string{m.primary}
	for _, name := range m.Providers() {
		if name != m.primary {
			order = append(order, name)
		}
	}

	var errs []error
	for _, name := range order {
		if _, ok := m.providers[name]; !ok {
			continue
		}
		results, err := m.SearchWith(ctx, name, query, opts)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no search provider configured")
	}
	return nil, errors.Join(errs...)
}

// SearchWith queries the named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns registered provider names, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Configured reports whether any provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders results as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(r.Title)
		sb.WriteString("\n   ")
		sb.WriteString(r.URL)
		if r.Snippet != "" {
			sb.WriteString("\n   ")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String()
}
