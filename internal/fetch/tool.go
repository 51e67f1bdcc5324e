package fetch

import (
	"context"
	"strings"

	"github.com/zealscott/autoprofiler/internal/tools"
)

// Register adds the digest_webpage tool backed by f.
func Register(r *tools.Registry, f *Fetcher) {
	r.Register(&tools.Tool{
		Name:        "digest_webpage",
		Description: "Fetch a web page and return its readable text.",
		Parameters: tools.Object(
			tools.Param{Name: "url", Type: "string", Description: "The page URL", Required: true},
		),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			page, err := f.Fetch(ctx, tools.StringArg(args, "url"), 0)
			if err != nil {
				return "", err
			}
			return digest(page), nil
		},
	})
}

// digest renders a page for the model: title, text, and a marker when
// the text was cut.
func digest(p *Page) string {
	parts := make([]string, 0, 3)
	if p.Title != "" {
		parts = append(parts, "Title: "+p.Title)
	}
	parts = append(parts, p.Text)
	if p.Truncated {
		parts = append(parts, "[truncated]")
	}
	return strings.Join(parts, "\n\n")
}
