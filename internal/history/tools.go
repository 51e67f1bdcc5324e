package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/zealscott/autoprofiler/internal/tools"
)

// AllVisitedMessage is returned by get_new_history once the corpus is
// exhausted.
const AllVisitedMessage = "All histories have been visited. No new history to retrieve."

// Source bundles what the history tools read from.
type Source struct {
	Corpus    *Corpus
	Tracker   *Tracker
	Index     *Index // nil disables get_related_history
	ChunkSize int
	TopK      int
}

// Register adds get_new_history, get_all_history and, when an index is
// configured, get_related_history to r.
func Register(r *tools.Registry, src *Source) {
	chunk := src.ChunkSize
	if chunk <= 0 {
		chunk = 5
	}
	topK := src.TopK
	if topK <= 0 {
		topK = 5
	}

	r.Register(&tools.Tool{
		Name: "get_new_history",
		Description: "Retrieve the next unread comments from the user's history in order. " +
			"This is the default way to read more history when no specific need is given.",
		Parameters: tools.Object(
			tools.Param{Name: "n", Type: "integer", Description: fmt.Sprintf("Number of comments to retrieve (default %d)", chunk)},
		),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return newHistory(src, tools.IntArg(args, "n", chunk)), nil
		},
	})

	if src.Index != nil {
		r.Register(&tools.Tool{
			Name:        "get_related_history",
			Description: "Retrieve the comments most semantically related to a query.",
			Parameters: tools.Object(
				tools.Param{Name: "query", Type: "string", Description: "What the comments should be about", Required: true},
			),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				query := tools.StringArg(args, "query")
				if query == "" {
					return "", fmt.Errorf("query is required")
				}
				items, err := src.Index.Related(ctx, query, topK)
				if err != nil {
					return "", err
				}
				return strings.Join(items, "\n"), nil
			},
		})
	}

	r.Register(&tools.Tool{
		Name:        "get_all_history",
		Description: "Retrieve ALL comments in the user's history. Only use this when explicitly asked for everything.",
		Parameters:  tools.Object(),
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			src.Tracker.MarkAll()
			return joinItems(src.Corpus.Items), nil
		},
	})
}

func newHistory(src *Source, n int) string {
	start, end, ok := src.Tracker.Next(n)
	if !ok {
		return AllVisitedMessage
	}
	return joinItems(src.Corpus.Items[start:end])
}

func joinItems(items []string) string {
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString(it)
		sb.WriteString("\n")
	}
	return sb.String()
}
