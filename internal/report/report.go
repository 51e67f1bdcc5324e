// Package report writes the artifacts of a finished profiling session:
// the inferred attributes, the prose summary and, for partial results,
// a line in the model's incomplete list.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zealscott/autoprofiler/internal/profile"
)

// NoSummary is written when the summarizer returned nothing.
const NoSummary = "No summary available"

// Writer lays files out under a data directory:
//
//	<dir>/<model>/pii/<user>.json
//	<dir>/<model>/summary/<user>.txt
//	<dir>/incomplete_<model>.txt
type Writer struct {
	dir string
}

// New returns a Writer rooted at dir.
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// Paths of one session's artifacts.
type Paths struct {
	Attributes string `json:"attributes"`
	Summary    string `json:"summary"`
	Incomplete string `json:"incomplete,omitempty"`
}

// AttributesPath returns where the attribute list for user is stored.
func (w *Writer) AttributesPath(model, user string) string {
	return filepath.Join(w.dir, safeName(model), "pii", user+".json")
}

// SummaryPath returns where the summary for user is stored.
func (w *Writer) SummaryPath(model, user string) string {
	return filepath.Join(w.dir, safeName(model), "summary", user+".txt")
}

// IncompletePath returns the list of users whose result was partial.
func (w *Writer) IncompletePath(model string) string {
	return filepath.Join(w.dir, "incomplete_"+safeName(model)+".txt")
}

// Write stores attrs and summary for user. When partial is set the user
// is appended to the incomplete list.
func (w *Writer) Write(model, user string, attrs []profile.Inference, summary string, partial bool) (Paths, error) {
	paths := Paths{
		Attributes: w.AttributesPath(model, user),
		Summary:    w.SummaryPath(model, user),
	}

	if attrs == nil {
		attrs = []profile.Inference{}
	}
	data, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("marshal attributes: %w", err)
	}
	if err := writeFile(paths.Attributes, data); err != nil {
		return paths, err
	}

	if strings.TrimSpace(summary) == "" {
		summary = NoSummary
	}
	if err := writeFile(paths.Summary, []byte(summary)); err != nil {
		return paths, err
	}

	if partial {
		paths.Incomplete = w.IncompletePath(model)
		if err := appendLine(paths.Incomplete, user); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// LoadAttributes reads a previously written attribute list.
func (w *Writer) LoadAttributes(model, user string) ([]profile.Inference, error) {
	data, err := os.ReadFile(w.AttributesPath(model, user))
	if err != nil {
		return nil, err
	}
	var attrs []profile.Inference
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", w.AttributesPath(model, user), err)
	}
	return attrs, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// safeName keeps model names such as "meta-llama/Llama-3-70b" from
// creating nested directories.
func safeName(model string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(model)
}
