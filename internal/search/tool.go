package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/zealscott/autoprofiler/internal/tools"
)

// Register adds the web_search tool backed by mgr.
func Register(r *tools.Registry, mgr *Manager) {
	r.Register(&tools.Tool{
		Name: "web_search",
		Description: "Search the web. Use it to look up places, organizations or events " +
			"mentioned in the user's comments.",
		Parameters: tools.Object(
			tools.Param{Name: "query", Type: "string", Description: "The search query", Required: true},
			tools.Param{Name: "count", Type: "integer", Description: fmt.Sprintf("Maximum number of results (default %d)", DefaultCount)},
		),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := tools.StringArg(args, "query")
			if query == "" {
				return "", errors.New("query must not be empty")
			}
			results, err := mgr.Search(ctx, query, Options{Count: tools.IntArg(args, "count", DefaultCount)})
			if err != nil {
				return "", err
			}
			return FormatResults(results), nil
		},
	})
}
